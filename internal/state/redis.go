package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "tokenomics:state:"

	// Snapshots expire after 30 days so abandoned profiles do not
	// accumulate stale duplicate-prevention state forever.
	redisStateTTL = 30 * 24 * time.Hour
)

// RedisBackend stores one key per profile under a shared prefix, matching
// the layout instances use to see each other's open positions.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	if addr == "" {
		return nil, errors.New("state: redis backend requires an address")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("state: connect to redis %q: %w", addr, err)
	}

	return &RedisBackend{client: client}, nil
}

// Save writes the document under the profile key with a 30-day TTL.
func (b *RedisBackend) Save(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := b.client.Set(ctx, redisKeyPrefix+doc.ProfileID, payload, redisStateTTL).Err(); err != nil {
		return fmt.Errorf("set %q: %w", redisKeyPrefix+doc.ProfileID, err)
	}
	return nil
}

// Load reads one profile's document. A missing key yields (nil, nil).
func (b *RedisBackend) Load(ctx context.Context, profileID string) (*Document, error) {
	payload, err := b.client.Get(ctx, redisKeyPrefix+profileID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %q: %w", redisKeyPrefix+profileID, err)
	}

	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse payload for %q: %w", profileID, err)
	}
	return &doc, nil
}

// LoadAll scans every profile key, skipping unreadable documents.
func (b *RedisBackend) LoadAll(ctx context.Context) ([]Document, error) {
	var docs []Document

	iter := b.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := b.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan profile keys: %w", err)
	}
	return docs, nil
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
