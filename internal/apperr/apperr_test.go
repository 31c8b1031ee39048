package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "direct", err: New(KindNotFound, "missing"), want: KindNotFound},
		{name: "wrapped with fmt", err: fmt.Errorf("outer: %w", New(KindForbidden, "no")), want: KindForbidden},
		{name: "plain error", err: errors.New("boom"), want: KindUnknown},
		{name: "nil", err: nil, want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsKind(t *testing.T) {
	err := Wrap(KindUnavailable, "store unavailable", errors.New("connection reset"))
	assert.True(t, IsKind(err, KindUnavailable))
	assert.False(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(nil, KindUnknown))
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindUnavailable, "store unavailable", cause)

	assert.Equal(t, "store unavailable: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store unavailable", Message(fmt.Errorf("ctx: %w", err)))
	assert.Equal(t, "plain", Message(errors.New("plain")))
}

func TestNewf(t *testing.T) {
	err := Newf(KindInvalidArgument, "unknown status %q", "bogus")
	assert.Equal(t, `unknown status "bogus"`, err.Error())
}
