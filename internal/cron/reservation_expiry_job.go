package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianops/stockflow-backend/pkg/logger"
	"github.com/meridianops/stockflow-backend/pkg/metrics"
)

const expiryBatchLimit = 200

// ReservationExpiryJobParams configure the reservation expiry job.
type ReservationExpiryJobParams struct {
	Logger       *logger.Logger
	Reservations reservationSweeper
	BatchLimit   int
	Metrics      *metrics.WorkerJobMetrics
}

type reservationSweeper interface {
	ExpireStaleReservations(ctx context.Context, limit int, now time.Time) (int, error)
}

// NewReservationExpiryJob builds the job that releases lapsed holds and
// returns their reserved quantities to stock.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations service required")
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = expiryBatchLimit
	}
	return &reservationExpiryJob{
		logg:    params.Logger,
		sweeper: params.Reservations,
		limit:   limit,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

type reservationExpiryJob struct {
	logg    *logger.Logger
	sweeper reservationSweeper
	limit   int
	metrics *metrics.WorkerJobMetrics
	now     func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	released, err := j.sweeper.ExpireStaleReservations(ctx, j.limit, j.now().UTC())
	if err != nil {
		return fmt.Errorf("reservation expiry: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddReleased(j.Name(), released)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batch_limit": j.limit,
		"released":    released,
	})
	j.logg.Info(logCtx, "reservation expiry sweep complete")
	return nil
}
