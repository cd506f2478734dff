package clicks

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
)

// ClickWriter accepts click rows for asynchronous persistence.
type ClickWriter interface {
	Enqueue(click models.ClickEvent) bool
}

type linkFinder interface {
	FindLink(ctx context.Context, id uuid.UUID) (*models.TrackingLink, error)
}

// CaptureRequest carries what the redirect handler extracted from the hit.
type CaptureRequest struct {
	TrackingLinkID string
	UserAgent      string
	IPAddress      string
	Referrer       string
	FBCLID         string
	GCLID          string
	FBP            string
	FBC            string
}

// CaptureResult tells the handler where to send the browser and which cookies to set.
// ClickID is empty when the hit was not tracked at all.
type CaptureResult struct {
	RedirectURL string
	ClickID     string
	LinkID      uuid.UUID
	Tracked     bool
	Bot         bool
	At          time.Time
}

// Service captures redirect hits.
type Service struct {
	links   linkFinder
	writer  ClickWriter
	cfg     config.TrackingConfig
	bots    botDetector
	logg    *logger.Logger
	metrics *metrics.AttributionMetrics
	now     func() time.Time
}

// NewService wires click capture.
func NewService(links linkFinder, writer ClickWriter, cfg config.TrackingConfig, logg *logger.Logger, m *metrics.AttributionMetrics) (*Service, error) {
	if links == nil {
		return nil, errors.New("link repository required")
	}
	if writer == nil {
		return nil, errors.New("click writer required")
	}
	if strings.TrimSpace(cfg.FallbackURL) == "" {
		return nil, errors.New("fallback url required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		links:   links,
		writer:  writer,
		cfg:     cfg,
		bots:    newBotDetector(cfg.ExtraBotAgents),
		logg:    logg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Capture resolves one redirect hit. It never returns an error: every failure
// degrades to a fallback redirect so the user-facing hop cannot fail.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) CaptureResult {
	now := s.now()
	fallback := CaptureResult{RedirectURL: s.cfg.FallbackURL, At: now}

	linkID, err := uuid.Parse(strings.TrimSpace(req.TrackingLinkID))
	if err != nil {
		s.metrics.IncClick(metrics.ClickOutcomeInactive)
		return fallback
	}
	ctx = s.logg.WithField(ctx, "tracking_link_id", linkID.String())

	link, err := s.links.FindLink(ctx, linkID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Error(ctx, "load tracking link", err)
			s.metrics.IncClick(metrics.ClickOutcomeFailed)
		} else {
			s.metrics.IncClick(metrics.ClickOutcomeInactive)
		}
		return fallback
	}
	if !link.IsActive() {
		s.metrics.IncClick(metrics.ClickOutcomeInactive)
		return fallback
	}

	destination, err := BuildDestination(link)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "tracking link destination invalid")
		s.metrics.IncClick(metrics.ClickOutcomeFailed)
		return fallback
	}

	result := CaptureResult{
		RedirectURL: destination,
		LinkID:      link.ID,
		At:          now,
	}

	if s.bots.IsBot(req.UserAgent) {
		result.Bot = true
		result.ClickID = NewSyntheticClickID(now)
		s.metrics.IncClick(metrics.ClickOutcomeBot)
		return result
	}

	result.ClickID = NewClickID(now)
	click := models.ClickEvent{
		TrackingLinkID: link.ID,
		ClickID:        result.ClickID,
		UserAgent:      truncate(req.UserAgent, 512),
		IPAddress:      strings.TrimSpace(req.IPAddress),
		Referrer:       truncate(req.Referrer, 2048),
		CreatedAt:      now,
	}
	if !s.cfg.DisablePixelIDs {
		click.FBCLID = optional(req.FBCLID)
		click.GCLID = optional(req.GCLID)
		click.FBP = optional(req.FBP)
		click.FBC = optional(req.FBC)
	}

	// Tracked reflects the hand-off, not durability.
	result.Tracked = s.writer.Enqueue(click)
	if result.Tracked {
		s.metrics.IncClick(metrics.ClickOutcomeTracked)
	}
	return result
}

func optional(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}

// truncate trims value and clips it to max bytes without splitting a rune.
func truncate(value string, max int) string {
	v := strings.TrimSpace(value)
	if len(v) <= max {
		return v
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut]
}
