package enums

import (
	"slices"
	"strings"
)

// Provider identifies an external storefront family.
type Provider string

const (
	ProviderSmartstore Provider = "smartstore"
	ProviderShopify    Provider = "shopify"
)

var validProviders = []Provider{
	ProviderSmartstore,
	ProviderShopify,
}

func (p Provider) String() string {
	return string(p)
}

func (p Provider) IsValid() bool {
	return slices.Contains(validProviders, p)
}

// ParseProvider converts raw input into a Provider, ignoring case.
func ParseProvider(value string) (Provider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	return parse(normalized, validProviders, "provider")
}
