package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/adtrail-backend/api/middleware"
	"github.com/angelmondragon/adtrail-backend/internal/clicks"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
)

// Cookie names written on a tracked redirect.
const (
	ClickIDCookie   = "at_click_id"
	LinkIDCookie    = "at_link_id"
	ClickTimeCookie = "at_click_ts"

	fbpCookie = "_fbp"
	fbcCookie = "_fbc"
)

type clickCapturer interface {
	Capture(ctx context.Context, req clicks.CaptureRequest) clicks.CaptureResult
}

// RedirectOptions controls how the redirect handler answers.
type RedirectOptions struct {
	Status       int
	CookieTTL    time.Duration
	CookieDomain string
	Secure       bool
}

// NewRedirectOptions derives redirect options from config. Cookies are only marked
// Secure outside dev so local http testing keeps working.
func NewRedirectOptions(cfg *config.Config) RedirectOptions {
	return RedirectOptions{
		Status:       cfg.Tracking.RedirectStatus,
		CookieTTL:    cfg.Tracking.CookieTTL,
		CookieDomain: cfg.Tracking.CookieDomain,
		Secure:       cfg.Tracking.SecureCookies && !cfg.App.IsDev(),
	}
}

func (o RedirectOptions) status() int {
	switch o.Status {
	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		return o.Status
	}
	return http.StatusFound
}

// Redirect handles GET /go/{trackingLinkId}. It always redirects; failures degrade to
// the fallback destination inside the capture service.
func Redirect(svc clickCapturer, opts RedirectOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		req := clicks.CaptureRequest{
			TrackingLinkID: chi.URLParam(r, "trackingLinkId"),
			UserAgent:      r.UserAgent(),
			IPAddress:      middleware.ClientIP(r),
			Referrer:       r.Referer(),
			FBCLID:         query.Get("fbclid"),
			GCLID:          query.Get("gclid"),
			FBP:            cookieValue(r, fbpCookie),
			FBC:            cookieValue(r, fbcCookie),
		}

		result := svc.Capture(r.Context(), req)
		if result.ClickID != "" {
			setClickCookies(w, opts, result)
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
		http.Redirect(w, r, result.RedirectURL, opts.status())
	}
}

func setClickCookies(w http.ResponseWriter, opts RedirectOptions, result clicks.CaptureResult) {
	values := map[string]string{
		ClickIDCookie:   result.ClickID,
		LinkIDCookie:    result.LinkID.String(),
		ClickTimeCookie: strconv.FormatInt(result.At.UnixMilli(), 10),
	}
	for _, name := range []string{ClickIDCookie, LinkIDCookie, ClickTimeCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    values[name],
			Path:     "/",
			Domain:   opts.CookieDomain,
			MaxAge:   int(opts.CookieTTL.Seconds()),
			Expires:  result.At.Add(opts.CookieTTL),
			HttpOnly: true,
			Secure:   opts.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
