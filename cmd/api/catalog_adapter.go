package api

import (
	"context"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/service"
)

// catalogAdapter adapts matcher.Matcher to the service's CatalogMatcher interface
type catalogAdapter struct {
	m *matcher.Matcher
}

// newCatalogAdapter creates a new adapter
func newCatalogAdapter(m *matcher.Matcher) service.CatalogMatcher {
	return &catalogAdapter{m: m}
}

// Snapshot implements service.CatalogMatcher
func (a *catalogAdapter) Snapshot(ctx context.Context) (service.RowMatcher, error) {
	snap, err := a.m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
