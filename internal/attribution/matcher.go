package attribution

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

const (
	syntheticClickPattern = "bot\\_%"
	defaultWindow         = 30 * 24 * time.Hour
)

// Input is a normalized order not yet attributed.
type Input struct {
	UserID      uuid.UUID
	ProductID   *uuid.UUID
	CampaignTag string
	OrderedAt   time.Time
	// Exclude holds clicks lost to a concurrent converter on an earlier pass.
	Exclude []uuid.UUID
}

// Result is the winning (link, click, campaign) tuple. A zero Result means unattributed,
// which is a valid terminal state.
type Result struct {
	Link     *models.TrackingLink
	Click    *models.ClickEvent
	Campaign *models.Campaign
	Strategy enums.MatchStrategy
}

func (r Result) Matched() bool {
	return r.Click != nil
}

// Matcher evaluates the strategies in strict priority; the first hit wins and strategies
// are never combined.
type Matcher struct {
	window time.Duration
}

// NewMatcher builds a matcher with the recency attribution window.
func NewMatcher(window time.Duration) *Matcher {
	if window <= 0 {
		window = defaultWindow
	}
	return &Matcher{window: window}
}

type strategyFunc func(ctx context.Context, tx *gorm.DB, in Input) (*models.TrackingLink, *models.ClickEvent, error)

// Match finds the single best unconverted click for the order. Every candidate click is
// unconverted, real (never a crawler id), not excluded and no later than the order.
func (m *Matcher) Match(ctx context.Context, tx *gorm.DB, in Input) (Result, error) {
	strategies := map[enums.MatchStrategy]strategyFunc{
		enums.MatchStrategyProduct: m.byProduct,
		enums.MatchStrategyUTM:     m.byUTM,
		enums.MatchStrategyRecency: m.byRecency,
	}

	for _, strategy := range enums.MatchStrategyOrder {
		link, click, err := strategies[strategy](ctx, tx, in)
		if err != nil {
			return Result{}, err
		}
		if click == nil {
			continue
		}

		result := Result{Link: link, Click: click, Strategy: strategy}
		if link.CampaignID != nil {
			campaign, err := findCampaign(ctx, tx, *link.CampaignID)
			if err != nil {
				return Result{}, err
			}
			result.Campaign = campaign
		}
		return result, nil
	}
	return Result{}, nil
}

// byProduct: the user's most recently created active link for the product, then that
// link's most recent eligible click.
func (m *Matcher) byProduct(ctx context.Context, tx *gorm.DB, in Input) (*models.TrackingLink, *models.ClickEvent, error) {
	if in.ProductID == nil {
		return nil, nil, nil
	}
	var link models.TrackingLink
	err := tx.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND status = ?", in.UserID, *in.ProductID, enums.LinkStatusActive).
		Order("created_at DESC").
		Order("id DESC").
		First(&link).Error
	if err != nil {
		return nil, nil, ignoreNotFound(err)
	}
	click, err := m.latestClick(ctx, tx, link.ID, in)
	if err != nil || click == nil {
		return nil, nil, err
	}
	return &link, click, nil
}

// byUTM: the user's link whose utm_campaign equals the tag the storefront preserved.
func (m *Matcher) byUTM(ctx context.Context, tx *gorm.DB, in Input) (*models.TrackingLink, *models.ClickEvent, error) {
	tag := strings.TrimSpace(in.CampaignTag)
	if tag == "" {
		return nil, nil, nil
	}
	var link models.TrackingLink
	err := tx.WithContext(ctx).
		Where("user_id = ? AND utm_campaign = ?", in.UserID, tag).
		Order("created_at DESC").
		Order("id DESC").
		First(&link).Error
	if err != nil {
		return nil, nil, ignoreNotFound(err)
	}
	click, err := m.latestClick(ctx, tx, link.ID, in)
	if err != nil || click == nil {
		return nil, nil, err
	}
	return &link, click, nil
}

// byRecency is last-click-wins across all of the user's active links inside the window.
// It is a deliberate coverage-over-precision approximation for storefronts whose checkout
// strips attribution parameters.
func (m *Matcher) byRecency(ctx context.Context, tx *gorm.DB, in Input) (*models.TrackingLink, *models.ClickEvent, error) {
	var click models.ClickEvent
	query := eligibleClicks(tx.WithContext(ctx).Model(&models.ClickEvent{}), in).
		Joins("JOIN tracking_links ON tracking_links.id = click_events.tracking_link_id").
		Where("tracking_links.user_id = ? AND tracking_links.status = ?", in.UserID, enums.LinkStatusActive).
		Where("click_events.created_at >= ?", in.OrderedAt.Add(-m.window))
	err := query.
		Order("click_events.created_at DESC").
		Order("click_events.click_id DESC").
		Select("click_events.*").
		First(&click).Error
	if err != nil {
		return nil, nil, ignoreNotFound(err)
	}

	var link models.TrackingLink
	if err := tx.WithContext(ctx).Where("id = ?", click.TrackingLinkID).First(&link).Error; err != nil {
		return nil, nil, err
	}
	return &link, &click, nil
}

func (m *Matcher) latestClick(ctx context.Context, tx *gorm.DB, linkID uuid.UUID, in Input) (*models.ClickEvent, error) {
	var click models.ClickEvent
	err := eligibleClicks(tx.WithContext(ctx).Model(&models.ClickEvent{}), in).
		Where("click_events.tracking_link_id = ?", linkID).
		Order("click_events.created_at DESC").
		Order("click_events.click_id DESC").
		First(&click).Error
	if err != nil {
		return nil, ignoreNotFound(err)
	}
	return &click, nil
}

func eligibleClicks(query *gorm.DB, in Input) *gorm.DB {
	query = query.
		Where("click_events.is_converted = ?", false).
		Where("click_events.click_id NOT LIKE ? ESCAPE '\\'", syntheticClickPattern).
		Where("click_events.created_at <= ?", in.OrderedAt)
	if len(in.Exclude) > 0 {
		query = query.Where("click_events.id NOT IN ?", in.Exclude)
	}
	return query
}

func findCampaign(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &campaign, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
