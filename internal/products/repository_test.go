package products

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/adtrail-backend/pkg/db/dbtest"
)

func TestUpsertKeepsIdentityAndKnownValues(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	connID := uuid.New()
	price := decimal.NewFromInt(15900)

	first, err := repo.Upsert(ctx, Snapshot{SiteID: "site-1", ConnectionID: connID, ExternalProductID: " 777 ", Name: "Linen shirt", Price: &price})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "777", first.ExternalProductID)

	second, err := repo.Upsert(ctx, Snapshot{SiteID: "site-1", ConnectionID: connID, ExternalProductID: "777"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Linen shirt", second.Name)
	require.NotNil(t, second.Price)
	assert.True(t, price.Equal(*second.Price))

	newPrice := decimal.NewFromInt(12900)
	third, err := repo.Upsert(ctx, Snapshot{SiteID: "site-1", ConnectionID: connID, ExternalProductID: "777", Name: "Linen shirt v2", Price: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "Linen shirt v2", third.Name)
	assert.True(t, newPrice.Equal(*third.Price))

	other, err := repo.Upsert(ctx, Snapshot{SiteID: "site-2", ConnectionID: connID, ExternalProductID: "777"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestUpsertRequiresKey(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	_, err := repo.Upsert(context.Background(), Snapshot{SiteID: "site-1", ExternalProductID: "  "})
	require.Error(t, err)

	missing, err := repo.FindByExternalID(context.Background(), "site-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
