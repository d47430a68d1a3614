// Package catalog читает товары магазина с кешированием в redis.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
)

const keyPrefix = "shop:"

// Source хранилище каталога.
type Source interface {
	GetShopItem(ctx context.Context, shopID string) (*models.ShopItem, error)
}

// Cache кеш JSON-значений.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Catalog товары каталога. Недоступность кеша не мешает чтению из хранилища.
type Catalog struct {
	log    *slog.Logger
	source Source
	cache  Cache
	ttl    time.Duration
}

// New создаёт Catalog. cache может быть nil.
func New(log *slog.Logger, source Source, cache Cache, ttl time.Duration) *Catalog {
	return &Catalog{log: log, source: source, cache: cache, ttl: ttl}
}

// Item возвращает товар по ID.
func (c *Catalog) Item(ctx context.Context, shopID string) (*models.ShopItem, error) {
	const op = "catalog.Item"
	log := c.log.With(slog.String("op", op), slog.String("shop_id", shopID))

	key := keyPrefix + shopID
	if c.cache != nil {
		var cached models.ShopItem
		found, err := c.cache.Get(ctx, key, &cached)
		if err != nil {
			log.Warn("failed to read shop item from cache", sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	item, err := c.source.GetShopItem(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.Set(ctx, key, item, c.ttl); err != nil {
			log.Warn("failed to cache shop item", sl.Err(err))
		}
	}
	return item, nil
}

// Invalidate сбрасывает закешированные товары. Ошибки кеша только логируются.
func (c *Catalog) Invalidate(ctx context.Context, shopIDs ...string) {
	if c.cache == nil {
		return
	}
	const op = "catalog.Invalidate"
	log := c.log.With(slog.String("op", op))

	for _, id := range shopIDs {
		if err := c.cache.Invalidate(ctx, keyPrefix+id); err != nil {
			log.Warn("failed to invalidate shop item", slog.String("shop_id", id), sl.Err(err))
		}
	}
}
