package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is a Store backed by a single-connection SQLite database opened
// with an immediate transaction lock.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryOptions
}

// NewSQLiteStore constructs a SQLiteStore. The database is expected to be
// migrated already.
func NewSQLiteStore(db *sql.DB, retry RetryOptions) *SQLiteStore {
	return &SQLiteStore{db: db, retry: retry}
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return withRetry(ctx, s.retry, isSQLiteBusy, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(ctx, sqliteRepos(tx)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteRepos(q sqlQuerier) Repos {
	return Repos{
		Activities:    sqliteActivities{q},
		Registrations: sqliteRegistrations{q},
		Comments:      sqliteComments{q},
		Users:         sqliteUsers{q},
	}
}

func isSQLiteBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ─── Activities ──────────────────────────────────────────────────────────────

type sqliteActivities struct{ db sqlQuerier }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteActivity(row rowScanner) (*model.Activity, error) {
	var (
		a                            model.Activity
		start, end, created, updated int64
		activityType, status         string
	)
	err := row.Scan(&a.ID, &a.Title, &a.Description, &activityType, &a.Location, &a.Price, &a.ImageURL,
		&start, &end, &a.MaxParticipants, &a.CurrentParticipants, &status, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.Type = model.ActivityType(activityType)
	a.Status = model.ActivityStatus(status)
	a.StartTime = fromMillis(start)
	a.EndTime = fromMillis(end)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

func (r sqliteActivities) Create(ctx context.Context, a *model.Activity) error {
	a.ID = uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activities (`+activityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Description, string(a.Type), a.Location, a.Price, a.ImageURL,
		toMillis(a.StartTime), toMillis(a.EndTime), a.MaxParticipants, a.CurrentParticipants,
		string(a.Status), toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r sqliteActivities) GetByID(ctx context.Context, id string) (*model.Activity, error) {
	a, err := scanSQLiteActivity(r.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

// GetForUpdate is a plain read: the transaction already holds SQLite's
// single write lock.
func (r sqliteActivities) GetForUpdate(ctx context.Context, id string) (*model.Activity, error) {
	return r.GetByID(ctx, id)
}

func (r sqliteActivities) List(ctx context.Context, f model.ActivityFilter) ([]model.Activity, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Keyword != "" {
		conds = append(conds, "title LIKE ?")
		args = append(args, "%"+f.Keyword+"%")
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StartFrom != nil {
		conds = append(conds, "start_time >= ?")
		args = append(args, toMillis(*f.StartFrom))
	}
	if f.StartTo != nil {
		conds = append(conds, "start_time <= ?")
		args = append(args, toMillis(*f.StartTo))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities`+where+
			` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		a, err := scanSQLiteActivity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, *a)
	}
	return activities, total, rows.Err()
}

func (r sqliteActivities) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM activities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list activity ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan activity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r sqliteActivities) Update(ctx context.Context, a *model.Activity) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE activities
		 SET title = ?, description = ?, type = ?, location = ?, price = ?, image_url = ?,
		     start_time = ?, end_time = ?, max_participants = ?, updated_at = ?
		 WHERE id = ?`,
		a.Title, a.Description, string(a.Type), a.Location, a.Price, a.ImageURL,
		toMillis(a.StartTime), toMillis(a.EndTime), a.MaxParticipants, toMillis(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return requireOne(res)
}

func (r sqliteActivities) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	return requireOne(res)
}

func (r sqliteActivities) CompareAndSetStatus(ctx context.Context, id string, from, to model.ActivityStatus, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE activities SET status = ?, updated_at = ?
		 WHERE id = ? AND (? = '' OR status = ?)`,
		string(to), toMillis(now), id, string(from), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("set activity status: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r sqliteActivities) IncrementParticipants(ctx context.Context, id string, by int, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE activities
		 SET current_participants = current_participants + ?, updated_at = ?
		 WHERE id = ? AND status = 'open' AND current_participants + ? <= max_participants`,
		by, toMillis(now), id, by,
	)
	if err != nil {
		return false, fmt.Errorf("increment current_participants: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r sqliteActivities) DecrementParticipants(ctx context.Context, id string, by, floor int, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE activities
		 SET current_participants = MAX(current_participants - ?, ?), updated_at = ?
		 WHERE id = ?`,
		by, floor, toMillis(now), id,
	)
	if err != nil {
		return fmt.Errorf("decrement current_participants: %w", err)
	}
	return requireOne(res)
}

func (r sqliteActivities) SetParticipants(ctx context.Context, id string, n int, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE activities SET current_participants = ?, updated_at = ? WHERE id = ?`,
		n, toMillis(now), id,
	)
	if err != nil {
		return fmt.Errorf("set current_participants: %w", err)
	}
	return requireOne(res)
}

func requireOne(res sql.Result) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Registrations ───────────────────────────────────────────────────────────

type sqliteRegistrations struct{ db sqlQuerier }

func scanSQLiteRegistration(row rowScanner) (*model.Registration, error) {
	var (
		reg              model.Registration
		status           string
		created, updated int64
	)
	if err := row.Scan(&reg.ID, &reg.UserID, &reg.ActivityID, &status, &reg.Notes, &created, &updated); err != nil {
		return nil, err
	}
	reg.Status = model.RegistrationStatus(status)
	reg.CreatedAt = fromMillis(created)
	reg.UpdatedAt = fromMillis(updated)
	return &reg, nil
}

func (r sqliteRegistrations) one(ctx context.Context, query string, args ...any) (*model.Registration, error) {
	reg, err := scanSQLiteRegistration(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func (r sqliteRegistrations) Create(ctx context.Context, reg *model.Registration) error {
	reg.ID = uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO registrations (`+registrationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.UserID, reg.ActivityID, string(reg.Status), reg.Notes,
		toMillis(reg.CreatedAt), toMillis(reg.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (r sqliteRegistrations) GetByID(ctx context.Context, id string) (*model.Registration, error) {
	return r.one(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id)
}

func (r sqliteRegistrations) FindActive(ctx context.Context, userID, activityID string) (*model.Registration, error) {
	return r.one(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE user_id = ? AND activity_id = ? AND status <> 'CANCELLED'`,
		userID, activityID)
}

func (r sqliteRegistrations) FindLatest(ctx context.Context, userID, activityID string) (*model.Registration, error) {
	return r.one(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE user_id = ? AND activity_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		userID, activityID)
}

func (r sqliteRegistrations) Exists(ctx context.Context, userID, activityID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE user_id = ? AND activity_id = ?)`,
		userID, activityID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return exists, nil
}

func (r sqliteRegistrations) UpdateNotes(ctx context.Context, id, notes string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE registrations SET notes = ?, updated_at = ? WHERE id = ?`, notes, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("update registration notes: %w", err)
	}
	return requireOne(res)
}

func (r sqliteRegistrations) TransitionStatus(ctx context.Context, id string, from, to model.RegistrationStatus, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE registrations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), toMillis(now), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update registration status: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r sqliteRegistrations) list(ctx context.Context, column, id string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	filter := ` WHERE r.` + column + ` = ? AND (? = '' OR r.status = ?)`
	status := string(f.Status)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations r`+filter, id, status, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		registrationViewQuery+filter+` ORDER BY r.created_at DESC, r.rowid DESC LIMIT ? OFFSET ?`,
		id, status, status, f.Limit, f.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var views []model.RegistrationView
	for rows.Next() {
		var (
			v                            model.RegistrationView
			regStatus, activityType      string
			created, updated, start, end int64
		)
		if err := rows.Scan(&v.ID, &regStatus, &v.Notes, &created, &updated,
			&v.Activity.ID, &v.Activity.Title, &activityType, &start, &end,
			&v.Activity.Location, &v.Activity.ImageURL,
			&v.User.ID, &v.User.Username, &v.User.RealName, &v.User.Phone, &v.User.Email,
		); err != nil {
			return nil, 0, fmt.Errorf("scan registration: %w", err)
		}
		v.Status = model.RegistrationStatus(regStatus)
		v.Activity.Type = model.ActivityType(activityType)
		v.CreatedAt = fromMillis(created)
		v.UpdatedAt = fromMillis(updated)
		v.Activity.StartTime = fromMillis(start)
		v.Activity.EndTime = fromMillis(end)
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func (r sqliteRegistrations) ListByUser(ctx context.Context, userID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	return r.list(ctx, "user_id", userID, f)
}

func (r sqliteRegistrations) ListByActivity(ctx context.Context, activityID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	return r.list(ctx, "activity_id", activityID, f)
}

func (r sqliteRegistrations) CountActive(ctx context.Context, activityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE activity_id = ? AND status <> 'CANCELLED'`,
		activityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
}

func (r sqliteRegistrations) CountByActivity(ctx context.Context, activityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE activity_id = ?`, activityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

// ─── Comments ────────────────────────────────────────────────────────────────

type sqliteComments struct{ db sqlQuerier }

func (r sqliteComments) Upsert(ctx context.Context, c *model.Comment) error {
	var created int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO comments (id, user_id, activity_id, rating, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, activity_id) DO UPDATE
		 SET rating = excluded.rating, content = excluded.content, updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		uuid.New().String(), c.UserID, c.ActivityID, c.Rating, c.Content,
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	).Scan(&c.ID, &created)
	if err != nil {
		return fmt.Errorf("upsert comment: %w", err)
	}
	c.CreatedAt = fromMillis(created)
	return nil
}

func (r sqliteComments) FindByUserAndActivity(ctx context.Context, userID, activityID string) (*model.Comment, error) {
	var (
		c                model.Comment
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, activity_id, rating, content, created_at, updated_at
		 FROM comments WHERE user_id = ? AND activity_id = ?`,
		userID, activityID,
	).Scan(&c.ID, &c.UserID, &c.ActivityID, &c.Rating, &c.Content, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (r sqliteComments) ListByActivity(ctx context.Context, activityID string, p model.Page) ([]model.CommentView, int, error) {
	total, err := r.CountByActivity(ctx, activityID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.rating, c.content, c.created_at, c.updated_at, u.id, u.username, u.avatar
		 FROM comments c JOIN users u ON u.id = c.user_id
		 WHERE c.activity_id = ?
		 ORDER BY c.created_at DESC, c.rowid DESC LIMIT ? OFFSET ?`,
		activityID, p.Limit, p.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var views []model.CommentView
	for rows.Next() {
		var (
			v                model.CommentView
			created, updated int64
		)
		if err := rows.Scan(&v.ID, &v.Rating, &v.Content, &created, &updated,
			&v.User.ID, &v.User.Username, &v.User.Avatar); err != nil {
			return nil, 0, fmt.Errorf("scan comment: %w", err)
		}
		v.CreatedAt = fromMillis(created)
		v.UpdatedAt = fromMillis(updated)
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func (r sqliteComments) CountByActivity(ctx context.Context, activityID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE activity_id = ?`, activityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

func (r sqliteComments) AverageRating(ctx context.Context, activityID string) (float64, error) {
	var avg float64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(rating), 0.0) FROM comments WHERE activity_id = ?`,
		activityID).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average rating: %w", err)
	}
	return avg, nil
}

// ─── Users ───────────────────────────────────────────────────────────────────

type sqliteUsers struct{ db sqlQuerier }

func (r sqliteUsers) Create(ctx context.Context, u *model.User) error {
	u.ID = uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.RealName, u.Phone, u.Avatar,
		u.CreditPoints, string(u.Role), toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r sqliteUsers) one(ctx context.Context, where string, arg any) (*model.User, error) {
	var (
		u                model.User
		role             string
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RealName, &u.Phone, &u.Avatar,
		&u.CreditPoints, &role, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func (r sqliteUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.one(ctx, `id = ?`, id)
}

func (r sqliteUsers) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.one(ctx, `username = ?`, username)
}

// GetByEmail matches case-insensitively through the column's NOCASE collation.
func (r sqliteUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.one(ctx, `email = ?`, email)
}
