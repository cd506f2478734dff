package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/internal/orders"
	"github.com/angelmondragon/adtrail-backend/internal/providers"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db/dbtest"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
)

type stubTokens struct {
	conns  map[uuid.UUID]*models.ExternalConnection
	dead   map[uuid.UUID]bool
	forced int
}

func (s *stubTokens) EnsureFresh(_ context.Context, id uuid.UUID, rejected string) (*models.ExternalConnection, error) {
	if s.dead[id] {
		return nil, fmt.Errorf("%w: connection %s", connections.ErrNeedsReconnect, id)
	}
	conn := *s.conns[id]
	if rejected != "" && conn.AccessToken == rejected {
		s.forced++
		conn.AccessToken = "refreshed"
		s.conns[id] = &conn
	}
	return &conn, nil
}

type stubSource struct {
	records     map[string][]providers.Settlement
	rejectWith  string
	unavailable int
	calls       [][]string
}

func (s *stubSource) Provider() enums.Provider { return enums.ProviderSmartstore }

func (s *stubSource) ListOrders(context.Context, string, time.Time, string) (*providers.OrderPage, error) {
	return &providers.OrderPage{}, nil
}

func (s *stubSource) FetchSettlements(_ context.Context, token string, ids []string) ([]providers.Settlement, error) {
	s.calls = append(s.calls, append([]string(nil), ids...))
	if s.rejectWith != "" && token == s.rejectWith {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "provider rejected credentials")
	}
	if s.unavailable > 0 {
		s.unavailable--
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("status 503: upstream unavailable"), "fetch settlements failed")
	}
	var out []providers.Settlement
	for _, id := range ids {
		out = append(out, s.records[id]...)
	}
	return out, nil
}

func (s *stubSource) Refresh(context.Context, string) (*providers.TokenSet, error) {
	return nil, nil
}

type stubSources struct{ source providers.Source }

func (s stubSources) Source(enums.Provider) (providers.Source, error) { return s.source, nil }

func seedConnection(t *testing.T, db *gorm.DB, site string) *models.ExternalConnection {
	t.Helper()
	conn := &models.ExternalConnection{UserID: uuid.New(), Provider: enums.ProviderSmartstore, Status: enums.ConnectionStatusConnected, AccessToken: "token-1", SiteID: site}
	require.NoError(t, db.Create(conn).Error)
	return conn
}

func seedOrder(t *testing.T, db *gorm.DB, conn *models.ExternalConnection, orderID, lineID string, status enums.OrderStatus) models.Order {
	t.Helper()
	order := models.Order{
		UserID:             conn.UserID,
		SiteID:             conn.SiteID,
		ConnectionID:       conn.ID,
		Provider:           conn.Provider,
		ExternalOrderID:    orderID,
		ExternalLineItemID: lineID,
		Quantity:           1,
		TotalAmount:        decimal.NewFromInt(10000),
		MarketplaceStatus:  string(status),
		Status:             status,
		OrderedAt:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestReconcilerWritesSettlementColumnsOnly(t *testing.T) {
	gdb := dbtest.Open(t).DB()
	conn := seedConnection(t, gdb, "site-1")

	lineA := seedOrder(t, gdb, conn, "O-1", "PO-1", enums.OrderStatusDelivered)
	lineB := seedOrder(t, gdb, conn, "O-1", "PO-2", enums.OrderStatusDelivered)
	wholeOrder := seedOrder(t, gdb, conn, "O-2", "O-2", enums.OrderStatusDelivered)
	notEligible := seedOrder(t, gdb, conn, "O-3", "PO-3", enums.OrderStatusShipping)
	unsettled := seedOrder(t, gdb, conn, "O-4", "PO-4", enums.OrderStatusDelivered)

	linkID := uuid.New()
	require.NoError(t, gdb.Model(&models.Order{}).Where("id = ?", lineA.ID).Update("tracking_link_id", linkID).Error)

	settledAt := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	source := &stubSource{records: map[string][]providers.Settlement{
		"O-1": {{ExternalOrderID: "O-1", ExternalLineItemID: "PO-1", Commission: amount(550), SettlementAmount: amount(9450), Status: "NORMAL_SETTLE", SettledAt: &settledAt}},
		"O-2": {{ExternalOrderID: "O-2", Commission: amount(300), SettlementAmount: amount(9700)}},
		"O-3": {{ExternalOrderID: "O-3", ExternalLineItemID: "PO-3", Status: "NORMAL_SETTLE"}},
	}}
	tokens := &stubTokens{conns: map[uuid.UUID]*models.ExternalConnection{conn.ID: conn}}

	rec, err := NewReconciler(orders.NewRepository(gdb), tokens, stubSources{source: source}, config.SyncConfig{SettlementBatchSize: 2}, nil)
	require.NoError(t, err)

	summary, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Checked)
	assert.Equal(t, 2, summary.Settled)
	assert.Zero(t, summary.Errors)
	assert.Len(t, source.calls, 2, "three distinct order ids in batches of two")

	load := func(id uuid.UUID) models.Order {
		var row models.Order
		require.NoError(t, gdb.First(&row, "id = ?", id).Error)
		return row
	}

	a := load(lineA.ID)
	require.NotNil(t, a.SettlementStatus)
	assert.Equal(t, "NORMAL_SETTLE", *a.SettlementStatus)
	assert.True(t, decimal.NewFromInt(550).Equal(*a.CommissionAmount))
	require.NotNil(t, a.SettledAt)
	require.NotNil(t, a.TrackingLinkID)
	assert.Equal(t, linkID, *a.TrackingLinkID)

	assert.Nil(t, load(lineB.ID).SettlementStatus, "per-line records settle only their line")

	w := load(wholeOrder.ID)
	require.NotNil(t, w.SettlementStatus)
	assert.Equal(t, "settled", *w.SettlementStatus)

	assert.Nil(t, load(notEligible.ID).SettlementStatus)
	assert.Nil(t, load(unsettled.ID).SettlementStatus)

	again, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Checked)
	assert.Zero(t, again.Settled)
}

func TestReconcilerSkipsReconnectRequiredConnections(t *testing.T) {
	gdb := dbtest.Open(t).DB()
	live := seedConnection(t, gdb, "site-1")
	dead := seedConnection(t, gdb, "site-2")
	seedOrder(t, gdb, live, "O-1", "PO-1", enums.OrderStatusDelivered)
	seedOrder(t, gdb, dead, "O-2", "PO-2", enums.OrderStatusDelivered)
	seedOrder(t, gdb, dead, "O-3", "PO-3", enums.OrderStatusDelivered)

	source := &stubSource{
		records:    map[string][]providers.Settlement{"O-1": {{ExternalOrderID: "O-1", ExternalLineItemID: "PO-1", Status: "NORMAL_SETTLE"}}},
		rejectWith: "token-1",
	}
	tokens := &stubTokens{
		conns: map[uuid.UUID]*models.ExternalConnection{live.ID: live, dead.ID: dead},
		dead:  map[uuid.UUID]bool{dead.ID: true},
	}
	rec, err := NewReconciler(orders.NewRepository(gdb), tokens, stubSources{source: source}, config.SyncConfig{}, nil)
	require.NoError(t, err)

	summary, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Settled)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, tokens.forced, "a rejected token is refreshed once")
}

func TestReconcilerRetriesTransientProviderFailure(t *testing.T) {
	gdb := dbtest.Open(t).DB()
	conn := seedConnection(t, gdb, "site-1")
	seedOrder(t, gdb, conn, "O-1", "PO-1", enums.OrderStatusDelivered)

	source := &stubSource{
		records:     map[string][]providers.Settlement{"O-1": {{ExternalOrderID: "O-1", ExternalLineItemID: "PO-1", Status: "NORMAL_SETTLE"}}},
		unavailable: 2,
	}
	tokens := &stubTokens{conns: map[uuid.UUID]*models.ExternalConnection{conn.ID: conn}}
	rec, err := NewReconciler(orders.NewRepository(gdb), tokens, stubSources{source: source}, config.SyncConfig{
		ProviderRetries:    3,
		ProviderBackoff:    time.Millisecond,
		ProviderMaxBackoff: 2 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	summary, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Settled)
	assert.Zero(t, summary.Errors)
	assert.Len(t, source.calls, 3)
	assert.Zero(t, tokens.forced, "an upstream outage is not a credential problem")
}

func TestReconcilerReportsPersistentProviderFailure(t *testing.T) {
	gdb := dbtest.Open(t).DB()
	conn := seedConnection(t, gdb, "site-1")
	seedOrder(t, gdb, conn, "O-1", "PO-1", enums.OrderStatusDelivered)

	source := &stubSource{unavailable: 10}
	tokens := &stubTokens{conns: map[uuid.UUID]*models.ExternalConnection{conn.ID: conn}}
	rec, err := NewReconciler(orders.NewRepository(gdb), tokens, stubSources{source: source}, config.SyncConfig{
		ProviderRetries:    2,
		ProviderBackoff:    time.Millisecond,
		ProviderMaxBackoff: time.Millisecond,
	}, nil)
	require.NoError(t, err)

	summary, err := rec.Run(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 1, summary.Errors)
	assert.Len(t, source.calls, 2)
}
