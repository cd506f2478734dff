package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/adtrail-backend/internal/ingestion"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
)

// OrderSyncJobName identifies the scheduled order sync.
const OrderSyncJobName = "order-sync"

type syncRunner interface {
	Run(ctx context.Context, req ingestion.RunRequest) (*ingestion.Summary, error)
}

type orderSyncJob struct {
	logg   *logger.Logger
	runner syncRunner
}

// NewOrderSyncJob syncs every connected storefront with the default lookback.
func NewOrderSyncJob(logg *logger.Logger, runner syncRunner) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("sync runner required")
	}
	return &orderSyncJob{logg: logg, runner: runner}, nil
}

func (j *orderSyncJob) Name() string { return OrderSyncJobName }

func (j *orderSyncJob) Run(ctx context.Context) error {
	summary, err := j.runner.Run(ctx, ingestion.RunRequest{Trigger: enums.SyncTriggerScheduled})
	if summary != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"run_id":             summary.RunID,
			"synced":             summary.Synced,
			"matched":            summary.Matched,
			"errors":             summary.Errors,
			"reconnect_required": len(summary.ReconnectRequired),
		}), "scheduled order sync finished")
	}
	if err != nil {
		return fmt.Errorf("order sync: %w", err)
	}
	return nil
}
