package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"datalens/internal/redis"
)

const (
	defaultCacheTTL = time.Hour

	// tombstoneTTL must outlive any in-flight analysis call so a result for a
	// deleted file cannot be written back after invalidation.
	tombstoneTTL = 10 * time.Minute
)

// ResultCache stores finished analysis results in redis keyed by file, job
// kind and query. A nil cache (or one built without redis) is a no-op so the
// service runs fine without a cache tier.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

type cachedResult struct {
	Text        string `json:"text,omitempty"`
	Suggestions any    `json:"suggestions,omitempty"`
}

func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ResultCache{client: client, ttl: ttl}
}

func (c *ResultCache) key(req Request) string {
	sum := sha256.Sum256([]byte(req.Query))
	return fmt.Sprintf("analysis:%s:%s:%s", req.FileID, req.Kind, hex.EncodeToString(sum[:8]))
}

// tombstoneKey lives outside the analysis: prefix so invalidateFile's prefix
// delete does not remove it.
func tombstoneKey(fileID string) string {
	return "analysis-deleted:" + fileID
}

func (c *ResultCache) get(ctx context.Context, req Request) (Result, bool) {
	if c == nil || req.FileID == "" {
		return Result{}, false
	}
	raw, err := c.client.Get(ctx, c.key(req))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("analysis cache get failed: %v", err)
		}
		return Result{}, false
	}
	var stored cachedResult
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return Result{}, false
	}
	return Result{Text: stored.Text, Suggestions: stored.Suggestions}, true
}

func (c *ResultCache) put(ctx context.Context, req Request, res Result) {
	if c == nil || req.FileID == "" {
		return
	}
	// A job submitted before the file was deleted must not re-populate the
	// cache when it finishes after the invalidation.
	if _, err := c.client.Get(ctx, tombstoneKey(req.FileID)); err == nil {
		return
	}
	data, err := json.Marshal(cachedResult{Text: res.Text, Suggestions: res.Suggestions})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(req), string(data), c.ttl); err != nil {
		log.Printf("analysis cache set failed: %v", err)
	}
}

func (c *ResultCache) invalidateFile(ctx context.Context, fileID string) {
	if c == nil || fileID == "" {
		return
	}
	// Tombstone first so a late put cannot slip in between the prefix delete
	// and the marker becoming visible.
	if err := c.client.Set(ctx, tombstoneKey(fileID), "1", tombstoneTTL); err != nil {
		log.Printf("analysis cache tombstone failed: %v", err)
	}
	if err := c.client.DelByPrefix(ctx, fmt.Sprintf("analysis:%s:", fileID)); err != nil {
		log.Printf("analysis cache invalidate failed: %v", err)
	}
}
