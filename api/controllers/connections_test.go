package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
)

type stubConnections struct {
	views []connections.ConnectionView
	user  uuid.UUID
}

func (s *stubConnections) List(_ context.Context, userID uuid.UUID) ([]connections.ConnectionView, error) {
	s.user = userID
	return s.views, nil
}

func TestListConnectionsFlagsReconnect(t *testing.T) {
	userID := uuid.New()
	svc := &stubConnections{views: []connections.ConnectionView{{
		ID:                uuid.New(),
		Provider:          enums.ProviderSmartstore,
		Status:            enums.ConnectionStatusNeedsReconnect,
		ReconnectRequired: true,
	}}}

	resp := httptest.NewRecorder()
	ListConnections(svc, logger.Nop())(resp, authedRequest(http.MethodGet, "/api/v1/connections", "", userID))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.user != userID {
		t.Fatalf("expected caller scope, got %s", svc.user)
	}

	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 1 || env.Data[0]["reconnect_required"] != true {
		t.Fatalf("unexpected payload %+v", env.Data)
	}
}

func TestListConnectionsEmptyIsArray(t *testing.T) {
	resp := httptest.NewRecorder()
	ListConnections(&stubConnections{}, logger.Nop())(resp, authedRequest(http.MethodGet, "/api/v1/connections", "", uuid.New()))
	if body := resp.Body.String(); body != "{\"data\":[]}\n" {
		t.Fatalf("expected empty array, got %s", body)
	}
}
