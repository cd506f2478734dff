package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/api/middleware"
	"github.com/angelmondragon/adtrail-backend/internal/ingestion"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/pagination"
	"github.com/angelmondragon/adtrail-backend/pkg/types"
)

type stubSyncService struct {
	runFn   func(ctx context.Context, req ingestion.RunRequest) (*ingestion.Summary, error)
	runs    []models.SyncRun
	gotReq  ingestion.RunRequest
	gotUser uuid.UUID
	params  pagination.Params
	next    string
	calls   int
}

func (s *stubSyncService) Run(ctx context.Context, req ingestion.RunRequest) (*ingestion.Summary, error) {
	s.calls++
	s.gotReq = req
	if s.runFn != nil {
		return s.runFn(ctx, req)
	}
	return &ingestion.Summary{RunID: uuid.New()}, nil
}

func (s *stubSyncService) ListRuns(_ context.Context, userID uuid.UUID, params pagination.Params) (*ingestion.RunsPage, error) {
	s.gotUser = userID
	s.params = params
	return &ingestion.RunsPage{Runs: s.runs, NextCursor: s.next}, nil
}

func authedRequest(method, target, body string, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func decodeSummary(t *testing.T, resp *httptest.ResponseRecorder) ingestion.Summary {
	t.Helper()
	var env struct {
		Data ingestion.Summary `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return env.Data
}

func TestTriggerSyncScopesToCaller(t *testing.T) {
	userID := uuid.New()
	connID := uuid.New()
	svc := &stubSyncService{runFn: func(context.Context, ingestion.RunRequest) (*ingestion.Summary, error) {
		return &ingestion.Summary{Synced: 4, Matched: 2, Errors: 1}, nil
	}}

	resp := httptest.NewRecorder()
	body := `{"connection_id":"` + connID.String() + `","lookback_days":14}`
	TriggerSync(svc, logger.Nop())(resp, authedRequest(http.MethodPost, "/api/v1/sync", body, userID))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotReq.UserID == nil || *svc.gotReq.UserID != userID {
		t.Fatalf("expected caller scope, got %+v", svc.gotReq)
	}
	if svc.gotReq.ConnectionID == nil || *svc.gotReq.ConnectionID != connID {
		t.Fatalf("expected connection scope, got %+v", svc.gotReq)
	}
	if svc.gotReq.Trigger != enums.SyncTriggerManual || svc.gotReq.LookbackDays != 14 {
		t.Fatalf("unexpected request %+v", svc.gotReq)
	}
	summary := decodeSummary(t, resp)
	if summary.Synced != 4 || summary.Matched != 2 || summary.Errors != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestTriggerSyncEmptyBodyUsesDefaults(t *testing.T) {
	svc := &stubSyncService{}
	resp := httptest.NewRecorder()
	TriggerSync(svc, logger.Nop())(resp, authedRequest(http.MethodPost, "/api/v1/sync", "", uuid.New()))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.gotReq.ConnectionID != nil || svc.gotReq.LookbackDays != 0 {
		t.Fatalf("expected defaults, got %+v", svc.gotReq)
	}
}

func TestTriggerSyncRejectsInvalidBody(t *testing.T) {
	svc := &stubSyncService{}
	for name, body := range map[string]string{
		"lookback":   `{"lookback_days":120}`,
		"connection": `{"connection_id":"abc"}`,
		"unknown":    `{"site":"x"}`,
	} {
		resp := httptest.NewRecorder()
		TriggerSync(svc, logger.Nop())(resp, authedRequest(http.MethodPost, "/api/v1/sync", body, uuid.New()))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", name, resp.Code)
		}
	}
	if svc.calls != 0 {
		t.Fatal("invalid requests must not start a sync")
	}
}

func TestTriggerSyncPartialFailureStillReturnsSummary(t *testing.T) {
	svc := &stubSyncService{runFn: func(context.Context, ingestion.RunRequest) (*ingestion.Summary, error) {
		return &ingestion.Summary{Synced: 3, Errors: 2}, errors.New("connection x: provider 503")
	}}
	resp := httptest.NewRecorder()
	TriggerSync(svc, logger.Nop())(resp, authedRequest(http.MethodPost, "/api/v1/sync", "", uuid.New()))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if summary := decodeSummary(t, resp); summary.Synced != 3 || summary.Errors != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestTriggerSyncReconnectRequiredForTargetedConnection(t *testing.T) {
	connID := uuid.New()
	svc := &stubSyncService{runFn: func(context.Context, ingestion.RunRequest) (*ingestion.Summary, error) {
		return &ingestion.Summary{SkippedConnections: 1, ReconnectRequired: []uuid.UUID{connID}}, nil
	}}
	resp := httptest.NewRecorder()
	TriggerSync(svc, logger.Nop())(resp, authedRequest(http.MethodPost, "/api/v1/sync", `{"connection_id":"`+connID.String()+`"}`, uuid.New()))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var env types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if env.Error.Code != string(pkgerrors.CodeReconnectRequired) {
		t.Fatalf("unexpected code %s", env.Error.Code)
	}
}

func TestTriggerSyncRequiresUser(t *testing.T) {
	resp := httptest.NewRecorder()
	TriggerSync(&stubSyncService{}, logger.Nop())(resp, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestTriggerSyncServiceErrorWithoutSummary(t *testing.T) {
	svc := &stubSyncService{runFn: func(context.Context, ingestion.RunRequest) (*ingestion.Summary, error) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "connection not found")
	}}
	resp := httptest.NewRecorder()
	TriggerSync(svc, logger.Nop())(resp, authedRequest(http.MethodPost, "/api/v1/sync", "", uuid.New()))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestScheduledSyncChecksSecret(t *testing.T) {
	svc := &stubSyncService{}
	handler := ScheduledSync(svc, "s3cret", logger.Nop())

	for _, provided := range []string{"", "wrong", "s3cret-but-longer"} {
		req := httptest.NewRequest(http.MethodPost, "/internal/sync", nil)
		if provided != "" {
			req.Header.Set(SyncSecretHeader, provided)
		}
		resp := httptest.NewRecorder()
		handler(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("secret %q: expected 401 got %d", provided, resp.Code)
		}
	}
	if svc.calls != 0 {
		t.Fatal("sync must not run without the secret")
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/sync", strings.NewReader(`{"lookback_days":3}`))
	req.Header.Set(SyncSecretHeader, "s3cret")
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.gotReq.UserID != nil || svc.gotReq.Trigger != enums.SyncTriggerScheduled || svc.gotReq.LookbackDays != 3 {
		t.Fatalf("expected all-user scheduled run, got %+v", svc.gotReq)
	}
}

func TestScheduledSyncEmptySecretNeverMatches(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/internal/sync", nil)
	req.Header.Set(SyncSecretHeader, "")
	resp := httptest.NewRecorder()
	ScheduledSync(&stubSyncService{}, "", logger.Nop())(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestListSyncRuns(t *testing.T) {
	userID := uuid.New()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubSyncService{runs: []models.SyncRun{{
		ID:         uuid.New(),
		UserID:     &userID,
		Trigger:    enums.SyncTriggerManual,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Synced:     10,
		Matched:    4,
	}}, next: "next-token"}

	resp := httptest.NewRecorder()
	ListSyncRuns(svc, logger.Nop())(resp, authedRequest(http.MethodGet, "/api/v1/sync/runs?limit=5&cursor=abc", "", userID))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.gotUser != userID || svc.params.Limit != 5 || svc.params.Cursor != "abc" {
		t.Fatalf("unexpected scope %s/%+v", svc.gotUser, svc.params)
	}
	var env struct {
		Data SyncRunsPage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(env.Data.Runs) != 1 || env.Data.Runs[0].Synced != 10 || env.Data.Runs[0].Trigger != enums.SyncTriggerManual {
		t.Fatalf("unexpected runs %+v", env.Data)
	}
	if env.Data.NextCursor != "next-token" {
		t.Fatalf("expected next cursor, got %q", env.Data.NextCursor)
	}

	resp = httptest.NewRecorder()
	ListSyncRuns(svc, logger.Nop())(resp, authedRequest(http.MethodGet, "/api/v1/sync/runs", "", userID))
	if svc.params.Limit != pagination.DefaultLimit {
		t.Fatalf("expected default limit, got %d", svc.params.Limit)
	}

	resp = httptest.NewRecorder()
	ListSyncRuns(svc, logger.Nop())(resp, authedRequest(http.MethodGet, "/api/v1/sync/runs?limit=0", "", userID))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range limit, got %d", resp.Code)
	}
}
