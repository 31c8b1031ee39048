package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	db    *pgxpool.Pool
	retry RetryOptions
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, retry RetryOptions) *PostgresStore {
	return &PostgresStore{db: db, retry: retry}
}

// InTx runs fn inside a READ COMMITTED transaction. Conditional updates
// re-evaluate their WHERE clause against the latest committed row, which is
// what makes the capacity and status guards race-free.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return withRetry(ctx, s.retry, isTransientPG, func() error {
		return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			return fn(ctx, pgRepos(tx))
		})
	})
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func pgRepos(q pgQuerier) Repos {
	return Repos{
		Activities:    pgActivities{q},
		Registrations: pgRegistrations{q},
		Comments:      pgComments{q},
		Users:         pgUsers{q},
	}
}

// isTransientPG reports serialization failures, deadlocks, lock timeouts and
// connection errors that are safe to retry.
func isTransientPG(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func isUniqueViolationPG(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ─── Activities ──────────────────────────────────────────────────────────────

const activityColumns = `id, title, description, type, location, price, image_url,
	start_time, end_time, max_participants, current_participants, status, created_at, updated_at`

type pgActivities struct{ db pgQuerier }

func scanPGActivity(row pgx.Row) (*model.Activity, error) {
	var a model.Activity
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.Type, &a.Location, &a.Price, &a.ImageURL,
		&a.StartTime, &a.EndTime, &a.MaxParticipants, &a.CurrentParticipants, &a.Status,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new activity and returns it with a generated UUID.
func (r pgActivities) Create(ctx context.Context, a *model.Activity) error {
	a.ID = uuid.New().String()
	_, err := r.db.Exec(ctx,
		`INSERT INTO activities (`+activityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.Title, a.Description, a.Type, a.Location, a.Price, a.ImageURL,
		a.StartTime, a.EndTime, a.MaxParticipants, a.CurrentParticipants, a.Status,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// GetByID returns a single activity or ErrNotFound.
func (r pgActivities) GetByID(ctx context.Context, id string) (*model.Activity, error) {
	a, err := scanPGActivity(r.db.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

// GetForUpdate acquires an exclusive row-level lock on the activity. Any
// other transaction that locks or conditionally updates the same row blocks
// until this one commits or rolls back.
func (r pgActivities) GetForUpdate(ctx context.Context, id string) (*model.Activity, error) {
	a, err := scanPGActivity(r.db.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock activity row: %w", err)
	}
	return a, nil
}

// List returns activities matching f in creation order.
func (r pgActivities) List(ctx context.Context, f model.ActivityFilter) ([]model.Activity, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Keyword != "" {
		add("title ILIKE $%d", "%"+f.Keyword+"%")
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.StartFrom != nil {
		add("start_time >= $%d", *f.StartFrom)
	}
	if f.StartTo != nil {
		add("start_time <= $%d", *f.StartTo)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM activities`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	args = append(args, f.Limit, f.Offset())
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM activities%s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d`,
			activityColumns, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		a, err := scanPGActivity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, *a)
	}
	return activities, total, rows.Err()
}

func (r pgActivities) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM activities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list activity ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r pgActivities) Update(ctx context.Context, a *model.Activity) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE activities
		 SET title = $2, description = $3, type = $4, location = $5, price = $6, image_url = $7,
		     start_time = $8, end_time = $9, max_participants = $10, updated_at = $11
		 WHERE id = $1`,
		a.ID, a.Title, a.Description, a.Type, a.Location, a.Price, a.ImageURL,
		a.StartTime, a.EndTime, a.MaxParticipants, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgActivities) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM activities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgActivities) CompareAndSetStatus(ctx context.Context, id string, from, to model.ActivityStatus, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE activities SET status = $3, updated_at = $4
		 WHERE id = $1 AND ($2::text = '' OR status = $2::text)`,
		id, string(from), string(to), now,
	)
	if err != nil {
		return false, fmt.Errorf("set activity status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementParticipants admits `by` participants in one statement. The
// affected-row count is the admission signal.
func (r pgActivities) IncrementParticipants(ctx context.Context, id string, by int, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE activities
		 SET current_participants = current_participants + $2, updated_at = $3
		 WHERE id = $1 AND status = 'open' AND current_participants + $2 <= max_participants`,
		id, by, now,
	)
	if err != nil {
		return false, fmt.Errorf("increment current_participants: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r pgActivities) DecrementParticipants(ctx context.Context, id string, by, floor int, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE activities
		 SET current_participants = GREATEST(current_participants - $2, $3), updated_at = $4
		 WHERE id = $1`,
		id, by, floor, now,
	)
	if err != nil {
		return fmt.Errorf("decrement current_participants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgActivities) SetParticipants(ctx context.Context, id string, n int, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE activities SET current_participants = $2, updated_at = $3 WHERE id = $1`,
		id, n, now,
	)
	if err != nil {
		return fmt.Errorf("set current_participants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Registrations ───────────────────────────────────────────────────────────

const registrationColumns = `id, user_id, activity_id, status, notes, created_at, updated_at`

type pgRegistrations struct{ db pgQuerier }

func scanPGRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	if err := row.Scan(&reg.ID, &reg.UserID, &reg.ActivityID, &reg.Status, &reg.Notes,
		&reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r pgRegistrations) one(ctx context.Context, query string, args ...any) (*model.Registration, error) {
	reg, err := scanPGRegistration(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// Create inserts the registration. The partial unique index on active
// (user_id, activity_id) pairs turns a concurrent duplicate into ErrDuplicate.
func (r pgRegistrations) Create(ctx context.Context, reg *model.Registration) error {
	reg.ID = uuid.New().String()
	_, err := r.db.Exec(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reg.ID, reg.UserID, reg.ActivityID, reg.Status, reg.Notes, reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolationPG(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (r pgRegistrations) GetByID(ctx context.Context, id string) (*model.Registration, error) {
	return r.one(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
}

func (r pgRegistrations) FindActive(ctx context.Context, userID, activityID string) (*model.Registration, error) {
	return r.one(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE user_id = $1 AND activity_id = $2 AND status <> 'CANCELLED'`,
		userID, activityID)
}

func (r pgRegistrations) FindLatest(ctx context.Context, userID, activityID string) (*model.Registration, error) {
	return r.one(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE user_id = $1 AND activity_id = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, activityID)
}

func (r pgRegistrations) Exists(ctx context.Context, userID, activityID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE user_id = $1 AND activity_id = $2)`,
		userID, activityID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return exists, nil
}

func (r pgRegistrations) UpdateNotes(ctx context.Context, id, notes string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET notes = $2, updated_at = $3 WHERE id = $1`, id, notes, now)
	if err != nil {
		return fmt.Errorf("update registration notes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgRegistrations) TransitionStatus(ctx context.Context, id string, from, to model.RegistrationStatus, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), now)
	if err != nil {
		return false, fmt.Errorf("update registration status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const registrationViewQuery = `
	SELECT r.id, r.status, r.notes, r.created_at, r.updated_at,
	       a.id, a.title, a.type, a.start_time, a.end_time, a.location, a.image_url,
	       u.id, u.username, u.real_name, u.phone, u.email
	FROM registrations r
	JOIN activities a ON a.id = r.activity_id
	JOIN users u ON u.id = r.user_id`

func (r pgRegistrations) list(ctx context.Context, column, id string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	filter := ` WHERE r.` + column + ` = $1 AND ($2::text = '' OR r.status = $2::text)`

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations r`+filter, id, string(f.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}

	rows, err := r.db.Query(ctx,
		registrationViewQuery+filter+` ORDER BY r.created_at DESC, r.id DESC LIMIT $3 OFFSET $4`,
		id, string(f.Status), f.Limit, f.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var views []model.RegistrationView
	for rows.Next() {
		var v model.RegistrationView
		if err := rows.Scan(&v.ID, &v.Status, &v.Notes, &v.CreatedAt, &v.UpdatedAt,
			&v.Activity.ID, &v.Activity.Title, &v.Activity.Type, &v.Activity.StartTime,
			&v.Activity.EndTime, &v.Activity.Location, &v.Activity.ImageURL,
			&v.User.ID, &v.User.Username, &v.User.RealName, &v.User.Phone, &v.User.Email,
		); err != nil {
			return nil, 0, fmt.Errorf("scan registration: %w", err)
		}
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func (r pgRegistrations) ListByUser(ctx context.Context, userID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	return r.list(ctx, "user_id", userID, f)
}

func (r pgRegistrations) ListByActivity(ctx context.Context, activityID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	return r.list(ctx, "activity_id", activityID, f)
}

func (r pgRegistrations) CountActive(ctx context.Context, activityID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE activity_id = $1 AND status <> 'CANCELLED'`,
		activityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
}

func (r pgRegistrations) CountByActivity(ctx context.Context, activityID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE activity_id = $1`, activityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

// ─── Comments ────────────────────────────────────────────────────────────────

type pgComments struct{ db pgQuerier }

// Upsert relies on the (user_id, activity_id) unique constraint so that two
// concurrent first comments collapse into one row.
func (r pgComments) Upsert(ctx context.Context, c *model.Comment) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO comments (id, user_id, activity_id, rating, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, activity_id) DO UPDATE
		 SET rating = EXCLUDED.rating, content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		uuid.New().String(), c.UserID, c.ActivityID, c.Rating, c.Content, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert comment: %w", err)
	}
	return nil
}

func (r pgComments) FindByUserAndActivity(ctx context.Context, userID, activityID string) (*model.Comment, error) {
	var c model.Comment
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, activity_id, rating, content, created_at, updated_at
		 FROM comments WHERE user_id = $1 AND activity_id = $2`,
		userID, activityID,
	).Scan(&c.ID, &c.UserID, &c.ActivityID, &c.Rating, &c.Content, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &c, nil
}

func (r pgComments) ListByActivity(ctx context.Context, activityID string, p model.Page) ([]model.CommentView, int, error) {
	total, err := r.CountByActivity(ctx, activityID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT c.id, c.rating, c.content, c.created_at, c.updated_at, u.id, u.username, u.avatar
		 FROM comments c JOIN users u ON u.id = c.user_id
		 WHERE c.activity_id = $1
		 ORDER BY c.created_at DESC, c.id DESC LIMIT $2 OFFSET $3`,
		activityID, p.Limit, p.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var views []model.CommentView
	for rows.Next() {
		var v model.CommentView
		if err := rows.Scan(&v.ID, &v.Rating, &v.Content, &v.CreatedAt, &v.UpdatedAt,
			&v.User.ID, &v.User.Username, &v.User.Avatar); err != nil {
			return nil, 0, fmt.Errorf("scan comment: %w", err)
		}
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func (r pgComments) CountByActivity(ctx context.Context, activityID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM comments WHERE activity_id = $1`, activityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

func (r pgComments) AverageRating(ctx context.Context, activityID string) (float64, error) {
	var avg float64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(AVG(rating), 0)::float8 FROM comments WHERE activity_id = $1`,
		activityID).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average rating: %w", err)
	}
	return avg, nil
}

// ─── Users ───────────────────────────────────────────────────────────────────

const userColumns = `id, username, email, password_hash, real_name, phone, avatar,
	credit_points, role, created_at, updated_at`

type pgUsers struct{ db pgQuerier }

func (r pgUsers) Create(ctx context.Context, u *model.User) error {
	u.ID = uuid.New().String()
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.RealName, u.Phone, u.Avatar,
		u.CreditPoints, u.Role, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolationPG(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r pgUsers) one(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RealName, &u.Phone, &u.Avatar,
		&u.CreditPoints, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r pgUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.one(ctx, `id = $1`, id)
}

func (r pgUsers) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.one(ctx, `username = $1`, username)
}

func (r pgUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.one(ctx, `lower(email) = lower($1)`, email)
}
