// Package store caches the last known attributes of each media player.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "intg:entity:state:"
	stateTTL  = 24 * time.Hour
)

type StateCache struct{ rdb *redis.Client }

func NewStateCache(rdb *redis.Client) *StateCache { return &StateCache{rdb: rdb} }

func key(id string) string { return keyPrefix + id }

// SaveAttributes stores attrs for the entity, replacing the previous value.
func (c *StateCache) SaveAttributes(ctx context.Context, entityID string, attrs map[string]any) error {
	b, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(entityID), b, stateTTL).Err()
}

// LoadAttributes returns false when nothing is cached for the entity.
func (c *StateCache) LoadAttributes(ctx context.Context, entityID string) (map[string]any, bool, error) {
	b, err := c.rdb.Get(ctx, key(entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	attrs, err := decodeAttributes(b)
	if err != nil {
		return nil, false, err
	}
	return attrs, true, nil
}

func (c *StateCache) Delete(ctx context.Context, entityID string) error {
	return c.rdb.Del(ctx, key(entityID)).Err()
}

// RemoveAllExcept drops cached state of entities that are no longer
// configured and returns their ids.
func (c *StateCache) RemoveAllExcept(ctx context.Context, keepIDs []string) ([]string, error) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		if id == "" {
			continue
		}
		keep[id] = struct{}{}
	}
	iter := c.rdb.Scan(ctx, 0, key("*"), 100).Iterator()
	var removed []string
	for iter.Next(ctx) {
		full := iter.Val()
		id, ok := strings.CutPrefix(full, keyPrefix)
		if !ok {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		if err := c.rdb.Del(ctx, full).Err(); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

func decodeAttributes(b []byte) (map[string]any, error) {
	var attrs map[string]any
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}
