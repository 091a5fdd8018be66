package workers

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"log/slog"
	"time"
)

// PresenceWriterWorker persists coarse status changes off the hot path.
// A failed write is logged and forgotten: live presence stays authoritative.
type PresenceWriterWorker struct {
	log            *slog.Logger
	userRepository contract.IUserRepository
	changes        <-chan domain.PresenceChange
	storeTimeout   time.Duration
}

func NewPresenceWriterWorker(log *slog.Logger, userRepository contract.IUserRepository,
	changes <-chan domain.PresenceChange, storeTimeout time.Duration) *PresenceWriterWorker {
	return &PresenceWriterWorker{
		log:            log,
		userRepository: userRepository,
		changes:        changes,
		storeTimeout:   storeTimeout,
	}
}

func (w *PresenceWriterWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping presence writer")
			return nil
		case change, ok := <-w.changes:
			if !ok {
				return nil
			}
			w.write(ctx, change)
		}
	}
}

func (w *PresenceWriterWorker) write(ctx context.Context, change domain.PresenceChange) {
	ctx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()
	if err := w.userRepository.SetStatus(ctx, change.UserID, change.Status); err != nil {
		w.log.Warn("Unable to persist presence",
			"user_id", change.UserID,
			"status", change.Status,
			"error", err)
	}
}
