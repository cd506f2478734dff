package clicks

import (
	"errors"
	"net/url"
	"strings"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
)

// paramNames is the query parameter triple a storefront family reads attribution from.
type paramNames struct {
	Source   string
	Medium   string
	Campaign string
}

var errRelativeDestination = errors.New("destination must be an absolute url")

var utmParams = paramNames{Source: "utm_source", Medium: "utm_medium", Campaign: "utm_campaign"}

type storefrontFamily struct {
	Name         string
	HostSuffixes []string
	Params       paramNames
}

// storefrontFamilies lists storefronts that drop utm_* in favour of their own parameters.
// Adding a family is a row here; the order normalizer reads the same names back.
var storefrontFamilies = []storefrontFamily{
	{
		Name:         "smartstore",
		HostSuffixes: []string{"smartstore.naver.com", "brand.naver.com", "shopping.naver.com"},
		Params:       paramNames{Source: "nt_source", Medium: "nt_medium", Campaign: "nt_detail"},
	},
	{
		Name:         "coupang",
		HostSuffixes: []string{"coupang.com"},
		Params:       paramNames{Source: "src", Medium: "spec", Campaign: "addtag"},
	},
}

func familyParams(host string) paramNames {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, family := range storefrontFamilies {
		for _, suffix := range family.HostSuffixes {
			if h == suffix || strings.HasSuffix(h, "."+suffix) {
				return family.Params
			}
		}
	}
	return utmParams
}

// BuildDestination appends the link's UTM triple to its destination, translated to the
// storefront family's parameter names when the host belongs to one. Existing query
// parameters survive unless overwritten.
func BuildDestination(link *models.TrackingLink) (string, error) {
	dest, err := url.Parse(strings.TrimSpace(link.DestinationURL))
	if err != nil {
		return "", err
	}
	if dest.Scheme == "" || dest.Host == "" {
		return "", &url.Error{Op: "parse", URL: link.DestinationURL, Err: errRelativeDestination}
	}

	names := familyParams(dest.Hostname())
	query := dest.Query()
	setIfPresent(query, names.Source, link.UTMSource)
	setIfPresent(query, names.Medium, link.UTMMedium)
	setIfPresent(query, names.Campaign, link.UTMCampaign)
	dest.RawQuery = query.Encode()

	return dest.String(), nil
}

func setIfPresent(query url.Values, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		query.Set(key, v)
	}
}
