package controllers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/api/middleware"
	"github.com/angelmondragon/adtrail-backend/api/responses"
	"github.com/angelmondragon/adtrail-backend/api/validators"
	"github.com/angelmondragon/adtrail-backend/internal/ingestion"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/pagination"
)

// SyncSecretHeader carries the scheduler's shared secret on /internal/sync.
const SyncSecretHeader = "X-Sync-Secret"

type syncService interface {
	Run(ctx context.Context, req ingestion.RunRequest) (*ingestion.Summary, error)
	ListRuns(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ingestion.RunsPage, error)
}

// SyncRequest is the optional body of a manual sync.
type SyncRequest struct {
	ConnectionID string `json:"connection_id" validate:"omitempty,uuid"`
	LookbackDays int    `json:"lookback_days" validate:"omitempty,min=1,max=90"`
}

// ScheduledSyncRequest is the optional body of a scheduler-triggered sync.
type ScheduledSyncRequest struct {
	LookbackDays int `json:"lookback_days" validate:"omitempty,min=1,max=90"`
}

// TriggerSync runs ingestion for the caller's connections and answers with the run
// summary. Partial failures still answer 200; a targeted connection that needs
// re-authorization answers RECONNECT_REQUIRED.
func TriggerSync(svc syncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body SyncRequest
		if err := validators.DecodeJSONBody(r, &body, true); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		req := ingestion.RunRequest{
			UserID:       &userID,
			Trigger:      enums.SyncTriggerManual,
			LookbackDays: body.LookbackDays,
		}
		if body.ConnectionID != "" {
			id, err := uuid.Parse(body.ConnectionID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid connection_id"))
				return
			}
			req.ConnectionID = &id
		}

		summary, err := svc.Run(ctx, req)
		if summary == nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "manual sync finished with errors")
		}
		if req.ConnectionID != nil && slices.Contains(summary.ReconnectRequired, *req.ConnectionID) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeReconnectRequired, "connection must be reconnected before it can sync").
				WithDetails(map[string]any{"connection_id": req.ConnectionID.String()}))
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// ScheduledSync runs ingestion for every user. It is called by the external scheduler,
// which authenticates with a shared secret instead of a user session.
func ScheduledSync(svc syncService, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !validSecret(secret, r.Header.Get(SyncSecretHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid scheduler secret"))
			return
		}

		var body ScheduledSyncRequest
		if err := validators.DecodeJSONBody(r, &body, true); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		summary, err := svc.Run(ctx, ingestion.RunRequest{
			Trigger:      enums.SyncTriggerScheduled,
			LookbackDays: body.LookbackDays,
		})
		if summary == nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "scheduled sync finished with errors")
		}
		responses.WriteSuccess(w, summary)
	}
}

// SyncRunView is the public shape of a recorded sync run.
type SyncRunView struct {
	ID                 uuid.UUID         `json:"id"`
	Trigger            enums.SyncTrigger `json:"trigger"`
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
	Synced             int               `json:"synced"`
	Matched            int               `json:"matched"`
	Errors             int               `json:"errors"`
	SkippedConnections int               `json:"skipped_connections"`
}

// SyncRunsPage wraps one page of runs. NextCursor is empty on the last page.
type SyncRunsPage struct {
	Runs       []SyncRunView `json:"runs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ListSyncRuns returns the caller's sync runs, newest first, one cursor page at a time.
func ListSyncRuns(svc syncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListRuns(ctx, userID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		views := make([]SyncRunView, 0, len(page.Runs))
		for _, run := range page.Runs {
			views = append(views, SyncRunView{
				ID:                 run.ID,
				Trigger:            run.Trigger,
				StartedAt:          run.StartedAt,
				FinishedAt:         run.FinishedAt,
				Synced:             run.Synced,
				Matched:            run.Matched,
				Errors:             run.Errors,
				SkippedConnections: run.SkippedConnections,
			})
		}
		responses.WriteSuccess(w, SyncRunsPage{Runs: views, NextCursor: page.NextCursor})
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

func validSecret(expected, provided string) bool {
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
