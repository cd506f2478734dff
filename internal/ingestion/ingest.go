package ingestion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/internal/aggregates"
	"github.com/angelmondragon/adtrail-backend/internal/attribution"
	"github.com/angelmondragon/adtrail-backend/internal/orders"
	"github.com/angelmondragon/adtrail-backend/internal/products"
	"github.com/angelmondragon/adtrail-backend/internal/providers"
	"github.com/angelmondragon/adtrail-backend/pkg/db"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/payloads"
)

var errAttributionTaken = errors.New("order attributed concurrently")

var ingestionActor = &outbox.ActorRef{Source: "ingestion"}

type lineOutcome struct {
	OrderID   uuid.UUID
	Created   bool
	Converted bool
	Strategy  enums.MatchStrategy
}

// ingestLine upserts one normalized line. A unique violation means a concurrent pass
// inserted the same key first; the line is then applied as an update.
func (s *Service) ingestLine(ctx context.Context, conn *models.ExternalConnection, line providers.NormalizedLine) (lineOutcome, error) {
	productID := s.upsertProduct(ctx, conn, line)

	outcome, err := s.applyLine(ctx, conn, line, productID)
	if err != nil && db.IsUniqueViolation(err, "") {
		s.logg.Debug(ctx, "order line inserted concurrently, retrying as update")
		return s.applyLine(ctx, conn, line, productID)
	}
	return outcome, err
}

func (s *Service) upsertProduct(ctx context.Context, conn *models.ExternalConnection, line providers.NormalizedLine) *uuid.UUID {
	if s.products == nil || strings.TrimSpace(line.ExternalProductID) == "" {
		return nil
	}
	snap := products.Snapshot{
		SiteID:            conn.SiteID,
		ConnectionID:      conn.ID,
		ExternalProductID: line.ExternalProductID,
		Name:              line.ProductName,
	}
	if line.UnitPrice.IsPositive() {
		price := line.UnitPrice
		snap.Price = &price
	}
	product, err := s.products.Upsert(ctx, snap)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"external_product_id": line.ExternalProductID,
			"error":               err.Error(),
		}), "product upsert failed")
		return nil
	}
	return &product.ID
}

// applyLine runs the whole ingest -> match -> convert -> aggregate sequence for one line
// inside a single transaction.
func (s *Service) applyLine(ctx context.Context, conn *models.ExternalConnection, line providers.NormalizedLine, productID *uuid.UUID) (lineOutcome, error) {
	var outcome lineOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		outcome = lineOutcome{}
		repo := s.orders.WithTx(tx)
		now := s.now()

		existing, err := repo.FindByKey(ctx, orders.Key{
			SiteID:             conn.SiteID,
			ExternalOrderID:    line.ExternalOrderID,
			ExternalLineItemID: line.ExternalLineItemID,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			outcome.OrderID = existing.ID
			if err := repo.UpdateMutable(ctx, existing.ID, mutableFields(line, now)); err != nil {
				return err
			}
			if existing.Attributed() || existing.MatchEvaluatedAt != nil {
				return nil
			}
			existing.TotalAmount = line.TotalAmount
			return s.attributeExisting(ctx, tx, repo, existing, line, now, &outcome)
		}

		order := newOrder(conn, line, productID, now)
		result, converted, err := s.attribute(ctx, tx, &order)
		if err != nil {
			return err
		}
		order.MatchEvaluatedAt = &now
		if converted {
			applyAttribution(&order, result, line, now)
		}
		if err := repo.Create(ctx, &order); err != nil {
			return err
		}

		outcome.OrderID = order.ID
		outcome.Created = true
		outcome.Converted = converted
		outcome.Strategy = result.Strategy
		if err := s.emitOrderIngested(ctx, tx, conn, &order); err != nil {
			return err
		}
		if converted {
			return s.emitClickConverted(ctx, tx, &order, result, now)
		}
		return nil
	})
	return outcome, err
}

// attributeExisting gives a row that was stored without ever being evaluated its single
// matching pass.
func (s *Service) attributeExisting(ctx context.Context, tx *gorm.DB, repo orders.Repository, order *models.Order, line providers.NormalizedLine, now time.Time, outcome *lineOutcome) error {
	if order.UTMCampaign == nil {
		order.UTMCampaign = optional(line.CampaignTag)
	}
	result, converted, err := s.attribute(ctx, tx, order)
	if err != nil {
		return err
	}
	if !converted {
		return repo.MarkEvaluated(ctx, order.ID, now)
	}

	applyAttribution(order, result, line, now)
	ok, err := repo.SetAttribution(ctx, order.ID, orders.Attribution{
		TrackingLinkID: *order.TrackingLinkID,
		ClickID:        *order.ClickID,
		CampaignID:     order.CampaignID,
		UTMSource:      order.UTMSource,
		UTMMedium:      order.UTMMedium,
		UTMCampaign:    order.UTMCampaign,
		Strategy:       result.Strategy,
		At:             now,
	})
	if err != nil {
		return err
	}
	if !ok {
		// rolls back the conversion made above
		return errAttributionTaken
	}
	outcome.Converted = true
	outcome.Strategy = result.Strategy
	return s.emitClickConverted(ctx, tx, order, result, now)
}

// attribute matches and converts. A click lost to a concurrent converter is excluded and
// matching runs again, at most maxMatchAttempts times.
func (s *Service) attribute(ctx context.Context, tx *gorm.DB, order *models.Order) (attribution.Result, bool, error) {
	in := attribution.Input{
		UserID:      order.UserID,
		ProductID:   order.ProductID,
		CampaignTag: deref(order.UTMCampaign),
		OrderedAt:   order.OrderedAt,
	}

	for attempt := 0; attempt < maxMatchAttempts; attempt++ {
		result, err := s.matcher.Match(ctx, tx, in)
		if err != nil {
			return attribution.Result{}, false, err
		}
		if !result.Matched() {
			return attribution.Result{}, false, nil
		}

		converted, err := s.updater.Convert(ctx, tx, aggregates.Conversion{
			ClickEventID: result.Click.ID,
			LinkID:       result.Link.ID,
			CampaignID:   campaignID(result),
			OrderID:      order.ID,
			Amount:       order.TotalAmount,
			At:           s.now(),
		})
		if err != nil {
			return attribution.Result{}, false, err
		}
		if converted {
			s.metrics.IncMatch(string(result.Strategy))
			return result, true, nil
		}
		s.metrics.IncConversionRace()
		in.Exclude = append(in.Exclude, result.Click.ID)
	}
	return attribution.Result{}, false, nil
}

func (s *Service) emitOrderIngested(ctx context.Context, tx *gorm.DB, conn *models.ExternalConnection, order *models.Order) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderIngested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         ingestionActor,
		Data: payloads.OrderIngestedEvent{
			OrderID:            order.ID,
			UserID:             order.UserID,
			ConnectionID:       conn.ID,
			Provider:           order.Provider,
			ExternalOrderID:    order.ExternalOrderID,
			ExternalLineItemID: order.ExternalLineItemID,
			Status:             order.Status,
			TotalAmount:        order.TotalAmount,
			Currency:           order.Currency,
			OrderedAt:          order.OrderedAt,
			Attributed:         order.Attributed(),
			MatchStrategy:      order.MatchStrategy,
		},
	})
}

func (s *Service) emitClickConverted(ctx context.Context, tx *gorm.DB, order *models.Order, result attribution.Result, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventClickConverted,
		AggregateType: enums.AggregateClickEvent,
		AggregateID:   result.Click.ID,
		Actor:         ingestionActor,
		OccurredAt:    at,
		Data: payloads.ClickConvertedEvent{
			ClickEventID:   result.Click.ID,
			ClickID:        result.Click.ClickID,
			TrackingLinkID: result.Link.ID,
			CampaignID:     campaignID(result),
			OrderID:        order.ID,
			UserID:         order.UserID,
			Strategy:       result.Strategy,
			Revenue:        order.TotalAmount,
			ClickedAt:      result.Click.CreatedAt,
			ConvertedAt:    at,
		},
	})
}

func newOrder(conn *models.ExternalConnection, line providers.NormalizedLine, productID *uuid.UUID, now time.Time) models.Order {
	order := models.Order{
		ID:                 uuid.New(),
		UserID:             conn.UserID,
		SiteID:             conn.SiteID,
		ConnectionID:       conn.ID,
		Provider:           conn.Provider,
		ExternalOrderID:    line.ExternalOrderID,
		ExternalLineItemID: line.ExternalLineItemID,
		ProductID:          productID,
		ExternalProductID:  optional(line.ExternalProductID),
		Quantity:           line.Quantity,
		UnitPrice:          line.UnitPrice,
		TotalAmount:        line.TotalAmount,
		Currency:           line.Currency,
		MarketplaceStatus:  line.MarketplaceStatus,
		Status:             line.Status,
		OrderedAt:          line.OrderedAt,
		UTMSource:          optional(line.UTMSource),
		UTMMedium:          optional(line.UTMMedium),
		UTMCampaign:        optional(line.CampaignTag),
	}
	if line.PurchaseDecided {
		order.PurchaseDecidedAt = &now
	}
	return order
}

func mutableFields(line providers.NormalizedLine, now time.Time) orders.MutableFields {
	fields := orders.MutableFields{
		Status:            line.Status,
		MarketplaceStatus: line.MarketplaceStatus,
		UnitPrice:         line.UnitPrice,
		Quantity:          line.Quantity,
		TotalAmount:       line.TotalAmount,
		Currency:          line.Currency,
	}
	if line.PurchaseDecided {
		fields.PurchaseDecidedAt = &now
	}
	return fields
}

// applyAttribution copies the match onto the order. UTM values the storefront preserved
// win over the link's own.
func applyAttribution(order *models.Order, result attribution.Result, line providers.NormalizedLine, now time.Time) {
	linkID := result.Link.ID
	clickID := result.Click.ClickID
	strategy := result.Strategy

	order.TrackingLinkID = &linkID
	order.ClickID = &clickID
	order.CampaignID = campaignID(result)
	order.UTMSource = optional(firstNonEmpty(line.UTMSource, result.Link.UTMSource))
	order.UTMMedium = optional(firstNonEmpty(line.UTMMedium, result.Link.UTMMedium))
	order.UTMCampaign = optional(firstNonEmpty(line.CampaignTag, result.Link.UTMCampaign))
	order.MatchStrategy = &strategy
	order.AttributedAt = &now
}

func campaignID(result attribution.Result) *uuid.UUID {
	if result.Campaign == nil {
		return nil
	}
	id := result.Campaign.ID
	return &id
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
