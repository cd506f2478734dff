package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/adtrail-backend/pkg/logger"
)

// OutboxRetentionJobName identifies the outbox cleanup job.
const OutboxRetentionJobName = "outbox-retention"

const (
	defaultOutboxRetentionDays = 30
	defaultDLQRetentionDays    = 90
	defaultRetentionBatch      = 1000
	defaultParkedAttempts      = 5
)

type outboxPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time, minAttempts, limit int) (int64, error)
}

type dlqPruner interface {
	DeleteFailedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// OutboxRetentionJobParams configures cleanup. Zero values fall back to 30 days of
// outbox history, 90 days of dead letters and batches of 1000 rows. DLQ may be nil.
type OutboxRetentionJobParams struct {
	Logger         *logger.Logger
	Repository     outboxPruner
	DLQ            dlqPruner
	Retention      int
	DLQRetention   int
	BatchSize      int
	ParkedAttempts int
}

type outboxRetentionJob struct {
	logg           *logger.Logger
	outbox         outboxPruner
	dlq            dlqPruner
	retention      time.Duration
	dlqRetention   time.Duration
	batch          int
	parkedAttempts int
	now            func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	return &outboxRetentionJob{
		logg:           params.Logger,
		outbox:         params.Repository,
		dlq:            params.DLQ,
		retention:      days(positiveOr(params.Retention, defaultOutboxRetentionDays)),
		dlqRetention:   days(positiveOr(params.DLQRetention, defaultDLQRetentionDays)),
		batch:          positiveOr(params.BatchSize, defaultRetentionBatch),
		parkedAttempts: positiveOr(params.ParkedAttempts, defaultParkedAttempts),
		now:            time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

// Run deletes in batches until a short batch shows nothing is left, or ctx ends. A
// cancelled run keeps whatever it already deleted.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-j.retention)
	deleted, err := j.drain(ctx, func(ctx context.Context) (int64, error) {
		return j.outbox.DeleteFinishedBefore(ctx, outboxCutoff, j.parkedAttempts, j.batch)
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	fields := map[string]any{
		"outbox_cutoff":       outboxCutoff,
		"outbox_rows_deleted": deleted,
	}

	if j.dlq != nil {
		dlqCutoff := now.Add(-j.dlqRetention)
		dead, err := j.drain(ctx, func(ctx context.Context) (int64, error) {
			return j.dlq.DeleteFailedBefore(ctx, dlqCutoff, j.batch)
		})
		if err != nil {
			return fmt.Errorf("dlq retention: %w", err)
		}
		fields["dlq_cutoff"] = dlqCutoff
		fields["dlq_rows_deleted"] = dead
	}

	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention cleanup complete")
	return nil
}

func (j *outboxRetentionJob) drain(ctx context.Context, deleteBatch func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := deleteBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(j.batch) {
			return total, nil
		}
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
