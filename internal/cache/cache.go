// Package cache remembers predictions by the hash of the decoded image bytes.
// Inference is deterministic, so a hit is exactly what a fresh forward pass
// would return.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/ecovision/resin-classifier/internal/classifier"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Cache interface {
	Get(ctx context.Context, key string) (classifier.Prediction, bool)
	Add(ctx context.Context, key string, p classifier.Prediction)
}

// Key is the cache key for encoded image bytes.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type LRU struct {
	entries *lru.Cache[string, classifier.Prediction]
}

func NewLRU(size int) (*LRU, error) {
	entries, err := lru.New[string, classifier.Prediction](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &LRU{entries: entries}, nil
}

func (c *LRU) Get(_ context.Context, key string) (classifier.Prediction, bool) {
	return c.entries.Get(key)
}

func (c *LRU) Add(_ context.Context, key string, p classifier.Prediction) {
	c.entries.Add(key, p)
}

func (c *LRU) Len() int {
	return c.entries.Len()
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// Redis shares predictions between server instances. Failures degrade to
// misses; the caller then runs inference.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "resin:prediction:"
	}
	return &Redis{client: client, ttl: opts.TTL, prefix: prefix}, nil
}

func (c *Redis) Get(ctx context.Context, key string) (classifier.Prediction, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return classifier.Prediction{}, false
	}
	var p classifier.Prediction
	if err := json.Unmarshal(raw, &p); err != nil || !p.Label.Valid() {
		return classifier.Prediction{}, false
	}
	return p, true
}

func (c *Redis) Add(ctx context.Context, key string, p classifier.Prediction) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, raw, c.ttl)
}

func (c *Redis) Close() error {
	return c.client.Close()
}
