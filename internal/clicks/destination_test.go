package clicks

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
)

func TestBuildDestinationAppendsUTM(t *testing.T) {
	link := &models.TrackingLink{
		DestinationURL: "https://shop.example.com/products/tee?color=red&utm_source=old",
		UTMSource:      "instagram",
		UTMMedium:      "story",
		UTMCampaign:    "spring-drop",
	}

	raw, err := BuildDestination(link)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "red", q.Get("color"))
	assert.Equal(t, "instagram", q.Get("utm_source"))
	assert.Equal(t, "story", q.Get("utm_medium"))
	assert.Equal(t, "spring-drop", q.Get("utm_campaign"))
	assert.Equal(t, "/products/tee", parsed.Path)
}

func TestBuildDestinationTranslatesStorefrontFamily(t *testing.T) {
	link := &models.TrackingLink{
		DestinationURL: "https://smartstore.naver.com/acme/products/123",
		UTMSource:      "meta",
		UTMMedium:      "cpc",
		UTMCampaign:    "spring-drop",
	}

	raw, err := BuildDestination(link)
	require.NoError(t, err)

	q, err := url.ParseQuery(mustParse(t, raw).RawQuery)
	require.NoError(t, err)
	assert.Equal(t, "meta", q.Get("nt_source"))
	assert.Equal(t, "cpc", q.Get("nt_medium"))
	assert.Equal(t, "spring-drop", q.Get("nt_detail"))
	assert.Empty(t, q.Get("utm_campaign"))
}

func TestBuildDestinationSkipsEmptyValues(t *testing.T) {
	link := &models.TrackingLink{DestinationURL: "https://m.brand.naver.com/acme", UTMCampaign: "x"}

	raw, err := BuildDestination(link)
	require.NoError(t, err)
	assert.Equal(t, "https://m.brand.naver.com/acme?nt_detail=x", raw)
}

func TestBuildDestinationRejectsRelative(t *testing.T) {
	_, err := BuildDestination(&models.TrackingLink{DestinationURL: "/just/a/path"})
	require.Error(t, err)
}

func TestFamilyParamsRequiresSuffixBoundary(t *testing.T) {
	assert.Equal(t, utmParams, familyParams("notsmartstore.naver.com.evil.io"))
	assert.Equal(t, utmParams, familyParams("fakecoupang.com"))
	assert.Equal(t, "addtag", familyParams("www.coupang.com").Campaign)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
