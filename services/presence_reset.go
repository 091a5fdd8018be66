package services

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"fmt"
	"log/slog"
)

// ResetStaleStatuses marks offline every user the store still believes
// online. At boot no session exists yet, so any online status is left over
// from a previous process.
func ResetStaleStatuses(ctx context.Context, log *slog.Logger, userRepository contract.IUserRepository) (int, error) {
	snapshot, err := userRepository.GetPresenceSnapshot(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	reset := 0
	for userID, status := range snapshot {
		if status != domain.StatusOnline {
			continue
		}
		if err := userRepository.SetStatus(ctx, userID, domain.StatusOffline); err != nil {
			return reset, fmt.Errorf("%w: reset %s: %v", errors.ErrStorage, userID, err)
		}
		reset++
	}
	if reset > 0 {
		log.Info("Stale online statuses reset", "count", reset)
	}
	return reset, nil
}
