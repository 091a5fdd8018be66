package storage

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	userPrefix      = "user:"
	userEmailPrefix = "user_email:"
	userOrderPrefix = "user_order:"
	userSequenceKey = "seq:user"
)

// UserRepository keeps "user:{id}" records with two indexes,
// "user_email:{email}" for login and "user_order:{sequence}" for listing.
type UserRepository struct {
	db       *badger.DB
	log      *slog.Logger
	sequence *badger.Sequence
}

func NewUserRepository(db *badger.DB, log *slog.Logger) (*UserRepository, error) {
	sequence, err := db.GetSequence([]byte(userSequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("user sequence: %w", err)
	}
	return &UserRepository{db: db, log: log, sequence: sequence}, nil
}

func (r *UserRepository) Close() error {
	return r.sequence.Release()
}

// CreateUser persists a new offline user with the default role.
func (r *UserRepository) CreateUser(ctx context.Context, username, email, hashedPassword string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	sequence, err := r.sequence.Next()
	if err != nil {
		return domain.User{}, fmt.Errorf("next user sequence: %w", err)
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		Roles:        []string{"user"},
		Status:       domain.StatusOffline,
		CreatedAt:    time.Now().UTC(),
		Sequence:     sequence + 1,
	}

	err = update(r.db, func(txn *badger.Txn) error {
		emailKey := []byte(userEmailPrefix + email)
		if _, err := txn.Get(emailKey); err == nil {
			return errors.ErrUserAlreadyExists
		} else if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set([]byte(userPrefix+user.ID), encodeUser(user)); err != nil {
			return err
		}
		if err := txn.Set(emailKey, []byte(user.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(fmt.Sprintf("%s%020d", userOrderPrefix, user.Sequence)), []byte(user.ID))
	})
	if err != nil {
		return domain.User{}, err
	}
	r.log.Debug("User created", "user_id", user.ID)
	return user, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userEmailPrefix + email))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: no user with email %s", errors.ErrNotFound, email)
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		user, err = getUser(txn, string(id))
		return err
	})
	return user, err
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, id)
		return err
	})
	return user, err
}

// ListUsers returns every user in registration order.
func (r *UserRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userOrderPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			user, err := getUser(txn, string(id))
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", errors.ErrValidation, status)
	}
	return update(r.db, func(txn *badger.Txn) error {
		user, err := getUser(txn, userID)
		if err != nil {
			return err
		}
		if user.Status == status {
			return nil
		}
		user.Status = status
		return txn.Set([]byte(userPrefix+user.ID), encodeUser(user))
	})
}

// GetPresenceSnapshot returns the persisted status of the given users,
// of every user when userIDs is empty. Unknown ids are left out.
func (r *UserRepository) GetPresenceSnapshot(ctx context.Context, userIDs []string) (map[string]domain.Status, error) {
	snapshot := make(map[string]domain.Status)
	if len(userIDs) == 0 {
		users, err := r.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			snapshot[user.ID] = user.Status
		}
		return snapshot, nil
	}

	err := r.db.View(func(txn *badger.Txn) error {
		for _, id := range userIDs {
			user, err := getUser(txn, id)
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			snapshot[id] = user.Status
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func getUser(txn *badger.Txn, id string) (domain.User, error) {
	item, err := txn.Get([]byte(userPrefix + id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, fmt.Errorf("%w: user %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err = item.Value(func(val []byte) error {
		user, err = decodeUser(val)
		return err
	})
	return user, err
}
