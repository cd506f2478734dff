package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/internal/clicks"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
)

type stubCapturer struct {
	result clicks.CaptureResult
	got    clicks.CaptureRequest
}

func (s *stubCapturer) Capture(_ context.Context, req clicks.CaptureRequest) clicks.CaptureResult {
	s.got = req
	return s.result
}

func serveRedirect(t *testing.T, svc clickCapturer, opts RedirectOptions, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/go/{trackingLinkId}", Redirect(svc, opts))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRedirectSetsClickCookies(t *testing.T) {
	linkID := uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubCapturer{result: clicks.CaptureResult{
		RedirectURL: "https://smartstore.naver.com/shop/products/1?nt_source=ig",
		ClickID:     "clk_abc_0123456789abcdef",
		LinkID:      linkID,
		Tracked:     true,
		At:          at,
	}}
	opts := RedirectOptions{Status: http.StatusFound, CookieTTL: 720 * time.Hour, Secure: true}

	req := httptest.NewRequest(http.MethodGet, "/go/"+linkID.String()+"?fbclid=fb.1&gclid=g.2", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://instagram.com/")
	req.AddCookie(&http.Cookie{Name: "_fbp", Value: "fb.1.123.456"})
	resp := serveRedirect(t, svc, opts, req)

	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302 got %d", resp.Code)
	}
	if loc := resp.Header().Get("Location"); loc != svc.result.RedirectURL {
		t.Fatalf("unexpected location %s", loc)
	}
	if svc.got.TrackingLinkID != linkID.String() || svc.got.FBCLID != "fb.1" || svc.got.GCLID != "g.2" {
		t.Fatalf("unexpected capture request %+v", svc.got)
	}
	if svc.got.FBP != "fb.1.123.456" || svc.got.Referrer != "https://instagram.com/" {
		t.Fatalf("expected pixel cookie and referrer forwarded, got %+v", svc.got)
	}

	cookies := map[string]*http.Cookie{}
	for _, c := range resp.Result().Cookies() {
		cookies[c.Name] = c
	}
	if len(cookies) != 3 {
		t.Fatalf("expected three cookies, got %d", len(cookies))
	}
	if cookies[ClickIDCookie].Value != svc.result.ClickID {
		t.Fatalf("unexpected click cookie %s", cookies[ClickIDCookie].Value)
	}
	if cookies[LinkIDCookie].Value != linkID.String() {
		t.Fatalf("unexpected link cookie %s", cookies[LinkIDCookie].Value)
	}
	if cookies[ClickTimeCookie].Value != "1772359200000" {
		t.Fatalf("unexpected timestamp cookie %s", cookies[ClickTimeCookie].Value)
	}
	for _, c := range cookies {
		if c.MaxAge != 30*24*3600 || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
			t.Fatalf("unexpected cookie attributes %+v", c)
		}
	}
}

func TestRedirectFallbackSetsNoCookies(t *testing.T) {
	svc := &stubCapturer{result: clicks.CaptureResult{RedirectURL: "https://adtrail.io"}}
	resp := serveRedirect(t, svc, RedirectOptions{Status: 301, CookieTTL: time.Hour}, httptest.NewRequest(http.MethodGet, "/go/unknown", nil))

	if resp.Code != http.StatusFound {
		t.Fatalf("unsupported status should fall back to 302, got %d", resp.Code)
	}
	if resp.Header().Get("Location") != "https://adtrail.io" {
		t.Fatalf("unexpected location %s", resp.Header().Get("Location"))
	}
	if len(resp.Result().Cookies()) != 0 {
		t.Fatal("fallback redirect must not set cookies")
	}
}

func TestRedirectBotGetsSyntheticCookie(t *testing.T) {
	svc := &stubCapturer{result: clicks.CaptureResult{
		RedirectURL: "https://shop.example.com",
		ClickID:     "bot_abc_01234567",
		LinkID:      uuid.New(),
		Bot:         true,
		At:          time.Now(),
	}}
	resp := serveRedirect(t, svc, RedirectOptions{Status: http.StatusSeeOther, CookieTTL: time.Hour}, httptest.NewRequest(http.MethodGet, "/go/"+uuid.NewString(), nil))
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 got %d", resp.Code)
	}
	for _, c := range resp.Result().Cookies() {
		if c.Name == ClickIDCookie && !clicks.IsSyntheticClickID(c.Value) {
			t.Fatalf("expected synthetic click id, got %s", c.Value)
		}
	}
}

func TestNewRedirectOptionsDisablesSecureInDev(t *testing.T) {
	cfg := &config.Config{
		App:      config.AppConfig{Env: config.AppEnvDev},
		Tracking: config.TrackingConfig{SecureCookies: true, RedirectStatus: http.StatusFound, CookieTTL: time.Hour},
	}
	if NewRedirectOptions(cfg).Secure {
		t.Fatal("dev must not mark cookies secure")
	}
	cfg.App.Env = "prod"
	if !NewRedirectOptions(cfg).Secure {
		t.Fatal("expected secure cookies outside dev")
	}
}
