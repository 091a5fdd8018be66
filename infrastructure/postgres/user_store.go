package postgres

import (
	"context"
	"database/sql"
	"dm-relay/domain"
	"dm-relay/errors"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const userColumns = `id, username, email, password_hash, roles, status, created_at, sequence`

type UserStore struct {
	db  *sql.DB
	log *slog.Logger
}

func NewUserStore(db *sql.DB, log *slog.Logger) *UserStore {
	return &UserStore{db: db, log: log}
}

func (s *UserStore) CreateUser(ctx context.Context, username, email, hashedPassword string) (domain.User, error) {
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		Roles:        []string{"user"},
		Status:       domain.StatusOffline,
		CreatedAt:    time.Now().UTC(),
	}
	query := `
		INSERT INTO users (id, username, email, password_hash, roles, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING sequence
	`
	var sequence int64
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, pq.Array(user.Roles), string(user.Status), user.CreatedAt,
	).Scan(&sequence)
	if isUniqueViolation(err) {
		return domain.User{}, errors.ErrUserAlreadyExists
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	user.Sequence = uint64(sequence)
	s.log.Debug("User created", "user_id", user.ID)
	return user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if stderrors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("%w: no user with email %s", errors.ErrNotFound, email)
	}
	return user, err
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("%w: user %s", errors.ErrNotFound, id)
	}
	return user, err
}

func (s *UserStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *UserStore) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", errors.ErrValidation, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status = $2 WHERE id = $1`, userID, string(status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", errors.ErrNotFound, userID)
	}
	return nil
}

// GetPresenceSnapshot reads the persisted status of userIDs, of every user when empty.
func (s *UserStore) GetPresenceSnapshot(ctx context.Context, userIDs []string) (map[string]domain.Status, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(userIDs) == 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT id, status FROM users`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, status FROM users WHERE id = ANY($1)`, pq.Array(userIDs))
	}
	if err != nil {
		return nil, fmt.Errorf("select statuses: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]domain.Status)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		snapshot[id] = domain.Status(status)
	}
	return snapshot, rows.Err()
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		user     domain.User
		roles    pq.StringArray
		status   string
		sequence int64
	)
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&roles, &status, &user.CreatedAt, &sequence)
	if err != nil {
		return domain.User{}, err
	}
	user.Roles = roles
	user.Status = domain.Status(status)
	user.CreatedAt = user.CreatedAt.UTC()
	user.Sequence = uint64(sequence)
	return user, nil
}
