package workers

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/mocks"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPresenceWriterWorker_Persists_Changes_In_Order(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	userRepository := mocks.NewMockIUserRepository(ctrl)
	changes := make(chan domain.PresenceChange, 2)
	written := make(chan struct{})

	gomock.InOrder(
		userRepository.EXPECT().SetStatus(gomock.Any(), "alice", domain.StatusOnline).Return(nil),
		userRepository.EXPECT().SetStatus(gomock.Any(), "alice", domain.StatusOffline).
			DoAndReturn(func(context.Context, string, domain.Status) error {
				close(written)
				return nil
			}),
	)

	worker := NewPresenceWriterWorker(log, userRepository, changes, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// When two transitions are queued
	changes <- domain.PresenceChange{UserID: "alice", Status: domain.StatusOnline}
	changes <- domain.PresenceChange{UserID: "alice", Status: domain.StatusOffline}

	// Then both are written in order
	select {
	case <-written:
	case <-time.After(time.Second):
		req.Fail("statuses were not persisted")
	}
	cancel()
	req.NoError(<-done)
}

func TestPresenceWriterWorker_Failure_Does_Not_Stop_The_Worker(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	userRepository := mocks.NewMockIUserRepository(ctrl)
	changes := make(chan domain.PresenceChange, 2)
	written := make(chan struct{})

	gomock.InOrder(
		userRepository.EXPECT().SetStatus(gomock.Any(), "bob", domain.StatusOnline).Return(errors.ErrStorage),
		userRepository.EXPECT().SetStatus(gomock.Any(), "bob", domain.StatusOffline).
			DoAndReturn(func(context.Context, string, domain.Status) error {
				close(written)
				return nil
			}),
	)

	worker := NewPresenceWriterWorker(log, userRepository, changes, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	changes <- domain.PresenceChange{UserID: "bob", Status: domain.StatusOnline}
	changes <- domain.PresenceChange{UserID: "bob", Status: domain.StatusOffline}

	select {
	case <-written:
	case <-time.After(time.Second):
		req.Fail("second status was not persisted")
	}
	cancel()
	req.NoError(<-done)
}

func TestChannelCapacityWorker_Reports_Length_And_Capacity(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	queue := make(chan int, 4)
	queue <- 1
	queue <- 2

	samples := make(chan [2]int, 10)
	worker := NewChannelCapacityWorker(log,
		[]NamedChannel{{Name: "queue", Channel: queue}, {Name: "not-a-channel", Channel: 42}},
		func(name string, length, capacity int) { samples <- [2]int{length, capacity} },
		10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	select {
	case sample := <-samples:
		req.Equal([2]int{2, 4}, sample)
	case <-time.After(time.Second):
		req.Fail("no sample reported")
	}
}
