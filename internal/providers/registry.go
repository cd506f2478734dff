package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
)

// Source is the external order source boundary consumed by ingestion and settlement.
type Source interface {
	Provider() enums.Provider
	ListOrders(ctx context.Context, accessToken string, since time.Time, cursor string) (*OrderPage, error)
	FetchSettlements(ctx context.Context, accessToken string, externalOrderIDs []string) ([]Settlement, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// Registry resolves a provider type to its source.
type Registry struct {
	sources map[enums.Provider]Source
}

// NewRegistry builds clients for every provider with a configured base URL.
func NewRegistry(cfg config.ProvidersConfig, opts ...Option) (*Registry, error) {
	r := &Registry{sources: map[enums.Provider]Source{}}

	candidates := []struct {
		cfg     config.ProviderConfig
		mapping Mapping
	}{
		{cfg: cfg.Smartstore(), mapping: SmartstoreMapping},
		{cfg: cfg.Shopify(), mapping: ShopifyMapping},
	}
	for _, candidate := range candidates {
		if !candidate.cfg.Enabled() {
			continue
		}
		client, err := NewClient(candidate.cfg, candidate.mapping, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s client: %w", candidate.mapping.Provider, err)
		}
		r.Register(client)
	}
	return r, nil
}

// Register adds or replaces the source for its provider.
func (r *Registry) Register(source Source) {
	if r.sources == nil {
		r.sources = map[enums.Provider]Source{}
	}
	r.sources[source.Provider()] = source
}

// Source returns the source for a provider or NOT_FOUND.
func (r *Registry) Source(provider enums.Provider) (Source, error) {
	if r != nil {
		if source, ok := r.sources[provider]; ok {
			return source, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("provider %q not configured", provider))
}

// Refresh routes a refresh grant to the provider's source.
func (r *Registry) Refresh(ctx context.Context, provider enums.Provider, refreshToken string) (*TokenSet, error) {
	source, err := r.Source(provider)
	if err != nil {
		return nil, err
	}
	return source.Refresh(ctx, refreshToken)
}

var mappings = map[enums.Provider]Mapping{
	enums.ProviderSmartstore: SmartstoreMapping,
	enums.ProviderShopify:    ShopifyMapping,
}

// MappingFor returns the declarative mapping for a provider.
func MappingFor(provider enums.Provider) (Mapping, error) {
	mapping, ok := mappings[provider]
	if !ok {
		return Mapping{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no mapping for provider %q", provider))
	}
	return mapping, nil
}
