package aggregate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// CachedEntityStore caches ListRows results in a byte cache.
type CachedEntityStore struct {
	next  domain.EntityStore
	cache domain.Cache
	ttl   time.Duration
}

// NewCachedEntityStore wraps next. A zero ttl returns next unchanged.
func NewCachedEntityStore(next domain.EntityStore, cache domain.Cache, ttl time.Duration) domain.EntityStore {
	if cache == nil || ttl <= 0 {
		return next
	}
	return &CachedEntityStore{next: next, cache: cache, ttl: ttl}
}

// ListRows serves rows from cache, falling back to the wrapped store.
// Cache failures are logged and never fail the call.
func (s *CachedEntityStore) ListRows(ctx context.Context, entityType string, bankIDs []string) ([]*domain.EntityRow, error) {
	key := rowsKey(entityType, bankIDs)

	data, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("row cache read failed", "key", key, "error", err)
	}
	if data != nil {
		var rows []*domain.EntityRow
		if err := json.Unmarshal(data, &rows); err == nil {
			return rows, nil
		}
		slog.Warn("discarding corrupt row cache entry", "key", key)
	}

	rows, err := s.next.ListRows(ctx, entityType, bankIDs)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(rows); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
			slog.Warn("row cache write failed", "key", key, "error", err)
		}
	}
	return rows, nil
}

func rowsKey(entityType string, bankIDs []string) string {
	ids := append([]string(nil), bankIDs...)
	sort.Strings(ids)
	return "rows:" + entityType + ":" + strings.Join(ids, ",")
}
