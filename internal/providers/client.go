package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
)

const (
	defaultTimeout           = 15 * time.Second
	defaultPageSize          = 100
	responseBodyLimit  int64 = 8 << 20
	errorBodyReadLimit int64 = 1024
)

var (
	errBaseURLRequired  = errors.New("provider base url is required")
	errTokenURLRequired = errors.New("provider token url is required")
)

// OrderPage is one page of raw orders plus the cursor for the next page.
type OrderPage struct {
	Orders     [][]byte
	NextCursor string
}

// TokenSet is the result of a refresh grant. RefreshToken is empty when the provider
// did not rotate it.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Client talks to one storefront provider over HTTP.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	pageSize     int
	limiter      *rate.Limiter
	mapping      Mapping
	now          func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter overrides the outbound request pacing.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// NewClient builds a provider client from its config and declarative mapping.
func NewClient(cfg config.ProviderConfig, mapping Mapping, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errBaseURLRequired
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	client := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		baseURL:      base,
		tokenURL:     strings.TrimSpace(cfg.TokenURL),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		pageSize:     pageSize,
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		mapping:      mapping,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) Provider() enums.Provider {
	return c.mapping.Provider
}

// ListOrders fetches one page of orders changed since the given time.
func (c *Client) ListOrders(ctx context.Context, accessToken string, since time.Time, cursor string) (*OrderPage, error) {
	ep := c.mapping.Endpoints
	query := url.Values{}
	if ep.PageSizeParam != "" {
		query.Set(ep.PageSizeParam, strconv.Itoa(c.pageSize))
	}
	if cursor != "" {
		query.Set(ep.CursorParam, cursor)
	}
	// cursor-based pagination on Link headers rejects filters after the first page
	if cursor == "" || !ep.CursorFromLink {
		query.Set(ep.SinceParam, since.UTC().Format(ep.SinceLayout))
	}

	body, header, err := c.get(ctx, accessToken, ep.OrdersPath, query, "list orders")
	if err != nil {
		return nil, err
	}

	orders, next, err := SplitPage(c.mapping, body)
	if err != nil {
		return nil, err
	}
	if ep.CursorFromLink {
		next = nextPageInfo(header.Get("Link"), ep.CursorParam)
	}
	return &OrderPage{Orders: orders, NextCursor: next}, nil
}

// FetchSettlements returns settlement records for the given external order ids.
func (c *Client) FetchSettlements(ctx context.Context, accessToken string, externalOrderIDs []string) ([]Settlement, error) {
	if len(externalOrderIDs) == 0 {
		return nil, nil
	}
	ep := c.mapping.Endpoints
	if ep.SettlementsPath == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s does not expose settlements", c.mapping.Provider))
	}
	joiner := ep.SettlementIDsJoiner
	if joiner == "" {
		joiner = ","
	}
	query := url.Values{}
	query.Set(ep.SettlementIDsParam, strings.Join(externalOrderIDs, joiner))

	body, _, err := c.get(ctx, accessToken, ep.SettlementsPath, query, "fetch settlements")
	if err != nil {
		return nil, err
	}
	return ParseSettlements(c.mapping, body)
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if c.tokenURL == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errTokenURLRequired, "refresh token")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "refresh token missing")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute refresh request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "refresh token")
	}

	var payload struct {
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
		ExpiresIn    json.Number `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyLimit)).Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode refresh response")
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "refresh response missing access token")
	}

	tokens := &TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if secs, err := payload.ExpiresIn.Int64(); err == nil && secs > 0 {
		tokens.ExpiresAt = c.now().Add(time.Duration(secs) * time.Second)
	}
	return tokens, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, query url.Values, op string) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+op+" request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, statusError(resp, op)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read "+op+" response")
	}
	return body, resp.Header, nil
}

// statusError classifies a non-200 response: auth failures, retryable upstream
// failures and everything else as a data problem.
func statusError(resp *http.Response, op string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, cause, op+" rejected credentials")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, op+" failed")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, op+" rejected request")
	}
}

// nextPageInfo extracts the cursor param from the rel="next" entry of a Link header.
func nextPageInfo(link, param string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, attr := range segments[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				isNext = true
			}
		}
		if !isNext {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		parsed, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return parsed.Query().Get(param)
	}
	return ""
}
