package aggregates

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/adtrail-backend/pkg/db/dbtest"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

func TestROAS(t *testing.T) {
	cases := []struct {
		revenue, spent int64
		want           int64
	}{
		{revenue: 300000, spent: 100000, want: 300},
		{revenue: 300000, spent: 0, want: 0},
		{revenue: 0, spent: 5000, want: 0},
		{revenue: 1, spent: 3, want: 33},
		{revenue: 2, spent: 3, want: 67},
		{revenue: 12345, spent: 10000, want: 123},
	}
	for _, tc := range cases {
		got := ROAS(decimal.NewFromInt(tc.revenue), decimal.NewFromInt(tc.spent))
		assert.Equal(t, tc.want, got, "revenue=%d spent=%d", tc.revenue, tc.spent)
	}
	assert.Zero(t, ROAS(decimal.NewFromInt(10), decimal.NewFromInt(-1)))
}

type fixture struct {
	link     models.TrackingLink
	campaign models.Campaign
	click    models.ClickEvent
}

func seed(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	userID := uuid.New()
	campaign := models.Campaign{UserID: userID, Name: "spring", Spent: decimal.NewFromInt(100000)}
	require.NoError(t, db.Create(&campaign).Error)

	link := models.TrackingLink{
		UserID:         userID,
		CampaignID:     &campaign.ID,
		DestinationURL: "https://shop.example.com",
		Status:         enums.LinkStatusActive,
	}
	require.NoError(t, db.Create(&link).Error)

	click := models.ClickEvent{
		TrackingLinkID: link.ID,
		ClickID:        "clk_test_1",
		CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&click).Error)
	return fixture{link: link, campaign: campaign, click: click}
}

func TestConvertCreditsOnceUnderRetry(t *testing.T) {
	client := dbtest.Open(t)
	db := client.DB()
	fx := seed(t, db)
	updater := NewUpdater()
	ctx := context.Background()

	conv := Conversion{
		ClickEventID: fx.click.ID,
		LinkID:       fx.link.ID,
		CampaignID:   &fx.campaign.ID,
		OrderID:      uuid.New(),
		Amount:       decimal.NewFromInt(300000),
		At:           time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	ok, err := updater.Convert(ctx, db, conv)
	require.NoError(t, err)
	assert.True(t, ok)

	retry := conv
	retry.OrderID = uuid.New()
	ok, err = updater.Convert(ctx, db, retry)
	require.NoError(t, err)
	assert.False(t, ok, "a converted click never converts again")

	var click models.ClickEvent
	require.NoError(t, db.First(&click, "id = ?", fx.click.ID).Error)
	assert.True(t, click.IsConverted)
	require.NotNil(t, click.ConvertedOrderID)
	assert.Equal(t, conv.OrderID, *click.ConvertedOrderID)

	var link models.TrackingLink
	require.NoError(t, db.First(&link, "id = ?", fx.link.ID).Error)
	assert.EqualValues(t, 1, link.Conversions)
	assert.True(t, decimal.NewFromInt(300000).Equal(link.Revenue))

	var campaign models.Campaign
	require.NoError(t, db.First(&campaign, "id = ?", fx.campaign.ID).Error)
	assert.EqualValues(t, 1, campaign.Conversions)
	assert.EqualValues(t, 300, campaign.ROAS)
}

func TestConvertWithoutCampaign(t *testing.T) {
	client := dbtest.Open(t)
	db := client.DB()
	fx := seed(t, db)

	ok, err := NewUpdater().Convert(context.Background(), db, Conversion{
		ClickEventID: fx.click.ID,
		LinkID:       fx.link.ID,
		OrderID:      uuid.New(),
		Amount:       decimal.NewFromInt(5000),
		At:           time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	var campaign models.Campaign
	require.NoError(t, db.First(&campaign, "id = ?", fx.campaign.ID).Error)
	assert.Zero(t, campaign.Conversions)
	assert.Zero(t, campaign.ROAS)
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestConvertIssuesConditionalUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	conv := Conversion{ClickEventID: uuid.New(), LinkID: uuid.New(), OrderID: uuid.New(), Amount: decimal.NewFromInt(10), At: time.Now().UTC()}

	mock.ExpectExec(`UPDATE "click_events" SET .*"is_converted"=\$\d+ WHERE id = \$\d+ AND is_converted = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "tracking_links" SET "conversions"=conversions \+ \$1,"revenue"=revenue \+ \$2,.*WHERE id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := NewUpdater().Convert(context.Background(), db, conv)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConvertLostRaceTouchesNothingElse(t *testing.T) {
	db, mock := newMockDB(t)
	campaignID := uuid.New()
	conv := Conversion{ClickEventID: uuid.New(), LinkID: uuid.New(), CampaignID: &campaignID, OrderID: uuid.New(), Amount: decimal.NewFromInt(10), At: time.Now().UTC()}

	mock.ExpectExec(`UPDATE "click_events" SET .* WHERE id = \$\d+ AND is_converted = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewUpdater().Convert(context.Background(), db, conv)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet(), "no counter update may follow a lost race")
}
