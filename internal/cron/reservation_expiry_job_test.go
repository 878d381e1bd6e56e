package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridianops/stockflow-backend/pkg/logger"
)

func TestReservationExpiryJobSweepsWithConfiguredLimit(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	sweeper := &fakeSweeper{released: 9}
	job := newReservationExpiryJob(t, sweeper, 50)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sweeper.called != 1 {
		t.Fatalf("expected sweeper called once, got %d", sweeper.called)
	}
	if sweeper.lastLimit != 50 {
		t.Fatalf("expected limit 50, got %d", sweeper.lastLimit)
	}
	if !sweeper.lastNow.Equal(now) {
		t.Fatalf("expected now %s, got %s", now, sweeper.lastNow)
	}
}

func TestReservationExpiryJobDefaultsBatchLimit(t *testing.T) {
	sweeper := &fakeSweeper{}
	job := newReservationExpiryJob(t, sweeper, 0)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.lastLimit != expiryBatchLimit {
		t.Fatalf("expected default limit %d, got %d", expiryBatchLimit, sweeper.lastLimit)
	}
}

func TestReservationExpiryJobPropagatesErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("boom")}
	job := newReservationExpiryJob(t, sweeper, 10)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func newReservationExpiryJob(t *testing.T, sweeper *fakeSweeper, limit int) *reservationExpiryJob {
	t.Helper()
	jobIface, err := NewReservationExpiryJob(ReservationExpiryJobParams{
		Logger:       logger.New(logger.Options{ServiceName: "test"}),
		Reservations: sweeper,
		BatchLimit:   limit,
	})
	if err != nil {
		t.Fatalf("NewReservationExpiryJob: %v", err)
	}
	job, ok := jobIface.(*reservationExpiryJob)
	if !ok {
		t.Fatalf("expected reservationExpiryJob, got %T", jobIface)
	}
	return job
}

type fakeSweeper struct {
	released  int
	err       error
	called    int
	lastLimit int
	lastNow   time.Time
}

func (f *fakeSweeper) ExpireStaleReservations(ctx context.Context, limit int, now time.Time) (int, error) {
	f.called++
	f.lastLimit = limit
	f.lastNow = now
	if f.err != nil {
		return 0, f.err
	}
	return f.released, nil
}
