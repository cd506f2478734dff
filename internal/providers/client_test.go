package providers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     header,
	}
}

func newTestClient(t *testing.T, mapping Mapping, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(config.ProviderConfig{
		BaseURL:      "http://provider.test/",
		TokenURL:     "http://provider.test/oauth/token",
		ClientID:     "cid",
		ClientSecret: "csecret",
		PageSize:     50,
	}, mapping, WithHTTPClient(&http.Client{Transport: rt}), WithLimiter(rate.NewLimiter(rate.Inf, 1)))
	require.NoError(t, err)
	return client
}

func TestListOrdersBuildsRequest(t *testing.T) {
	since := time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)
	var captured *http.Request

	client := newTestClient(t, SmartstoreMapping, func(req *http.Request) (*http.Response, error) {
		captured = req
		return jsonResponse(http.StatusOK, `{"data":{"contents":[{"productOrderId":"1"}],"more":{"moreSequence":"next-1"}}}`, nil), nil
	})

	page, err := client.ListOrders(context.Background(), "tok-1", since, "")
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, "/v1/pay-order/seller/product-orders", captured.URL.Path)
	assert.Equal(t, "Bearer tok-1", captured.Header.Get("Authorization"))
	q := captured.URL.Query()
	assert.Equal(t, "50", q.Get("limitCount"))
	assert.Equal(t, "2026-02-22T00:00:00.000Z", q.Get("from"))
	assert.Empty(t, q.Get("moreSequence"))

	assert.Len(t, page.Orders, 1)
	assert.Equal(t, "next-1", page.NextCursor)
}

func TestListOrdersFollowsLinkHeader(t *testing.T) {
	var queries []url.Values
	client := newTestClient(t, ShopifyMapping, func(req *http.Request) (*http.Response, error) {
		queries = append(queries, req.URL.Query())
		header := http.Header{}
		if len(queries) == 1 {
			header.Set("Link", `<https://shop.test/admin/api/2024-10/orders.json?limit=50&page_info=abc123>; rel="next"`)
		}
		return jsonResponse(http.StatusOK, `{"orders":[]}`, header), nil
	})

	page, err := client.ListOrders(context.Background(), "tok", time.Now(), "")
	require.NoError(t, err)
	assert.Equal(t, "abc123", page.NextCursor)

	page, err = client.ListOrders(context.Background(), "tok", time.Now(), page.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, page.NextCursor)

	require.Len(t, queries, 2)
	assert.NotEmpty(t, queries[0].Get("updated_at_min"))
	assert.Empty(t, queries[1].Get("updated_at_min"), "filters must not be resent with page_info")
	assert.Equal(t, "abc123", queries[1].Get("page_info"))
}

func TestListOrdersClassifiesFailures(t *testing.T) {
	cases := []struct {
		status int
		code   pkgerrors.Code
	}{
		{status: http.StatusUnauthorized, code: pkgerrors.CodeUnauthorized},
		{status: http.StatusForbidden, code: pkgerrors.CodeUnauthorized},
		{status: http.StatusTooManyRequests, code: pkgerrors.CodeDependency},
		{status: http.StatusBadGateway, code: pkgerrors.CodeDependency},
		{status: http.StatusBadRequest, code: pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		client := newTestClient(t, SmartstoreMapping, func(*http.Request) (*http.Response, error) {
			return jsonResponse(tc.status, `{"message":"nope"}`, nil), nil
		})
		_, err := client.ListOrders(context.Background(), "tok", time.Now(), "")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, tc.code), "status %d: got %v", tc.status, err)
	}
}

func TestListOrdersNetworkErrorIsDependency(t *testing.T) {
	client := newTestClient(t, SmartstoreMapping, func(*http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	})
	_, err := client.ListOrders(context.Background(), "tok", time.Now(), "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestRefreshPostsForm(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var form url.Values
	client := newTestClient(t, SmartstoreMapping, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/oauth/token", req.URL.Path)
		body, _ := io.ReadAll(req.Body)
		form, _ = url.ParseQuery(string(body))
		return jsonResponse(http.StatusOK, `{"access_token":"new-access","refresh_token":"new-refresh","expires_in":"10800"}`, nil), nil
	})
	client.now = func() time.Time { return now }

	tokens, err := client.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh", form.Get("refresh_token"))
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "new-access", tokens.AccessToken)
	assert.Equal(t, "new-refresh", tokens.RefreshToken)
	assert.Equal(t, now.Add(3*time.Hour), tokens.ExpiresAt)
}

func TestRefreshRejectedIsUnauthorized(t *testing.T) {
	client := newTestClient(t, SmartstoreMapping, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"error":"invalid_grant"}`, nil), nil
	})
	_, err := client.Refresh(context.Background(), "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestFetchSettlementsJoinsIDs(t *testing.T) {
	var ids string
	client := newTestClient(t, SmartstoreMapping, func(req *http.Request) (*http.Response, error) {
		ids = req.URL.Query().Get("productOrderIds")
		return jsonResponse(http.StatusOK, `{"data":{"elements":[{"orderId":"O-1","productOrderId":"PO-1","settleType":"DONE"}]}}`, nil), nil
	})

	settlements, err := client.FetchSettlements(context.Background(), "tok", []string{"PO-1", "PO-2"})
	require.NoError(t, err)
	assert.Equal(t, "PO-1,PO-2", ids)
	require.Len(t, settlements, 1)
	assert.Equal(t, "DONE", settlements[0].Status)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.ProviderConfig{}, SmartstoreMapping)
	require.ErrorIs(t, err, errBaseURLRequired)
}

func TestRegistryResolvesConfiguredProviders(t *testing.T) {
	reg, err := NewRegistry(config.ProvidersConfig{SmartstoreBaseURL: "http://smartstore.test"})
	require.NoError(t, err)

	source, err := reg.Source(enums.ProviderSmartstore)
	require.NoError(t, err)
	assert.Equal(t, enums.ProviderSmartstore, source.Provider())

	_, err = reg.Source(enums.ProviderShopify)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = reg.Refresh(context.Background(), enums.ProviderShopify, "x")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
