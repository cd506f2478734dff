package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/adtrail-backend/internal/settlement"
)

// SettlementJobName identifies the nightly settlement reconciliation.
const SettlementJobName = "settlement-reconcile"

type reconciler interface {
	Run(ctx context.Context) (settlement.ReconcileSummary, error)
}

type settlementJob struct {
	reconciler reconciler
}

func NewSettlementJob(r reconciler) (Job, error) {
	if r == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &settlementJob{reconciler: r}, nil
}

func (j *settlementJob) Name() string { return SettlementJobName }

// Run relies on the reconciler's own summary log.
func (j *settlementJob) Run(ctx context.Context) error {
	if _, err := j.reconciler.Run(ctx); err != nil {
		return fmt.Errorf("settlement reconcile: %w", err)
	}
	return nil
}
