// Package dedup implements the time-bounded fingerprint cache of spec §4.5:
// identical alerts received within a configurable window are suppressed
// after the first. The cache is owned by the receiver pipeline stage and
// protected by a mutex with short critical sections, per spec §5's shared-
// resource policy. An optional Redis mirror lets several receiver
// goroutines (or processes) share suppression state, the "alternative
// design" spec §5 explicitly allows.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Config holds the tunables of spec §6.6 (manager.dedup_window_ms,
// manager.dedup_max_entries).
type Config struct {
	Window     time.Duration
	MaxEntries int
	// RedisAddr, when non-empty, mirrors fingerprints into Redis so multiple
	// receiver goroutines sharing one Cache instance (or cooperating
	// instances) observe the same suppression state.
	RedisAddr string
	RedisDB   int
}

func DefaultConfig() Config {
	return Config{
		Window:     60 * time.Second,
		MaxEntries: 100_000,
	}
}

// entry is the in-memory projection of spec §3.4's Dedup Entry.
type entry struct {
	fingerprint string
	firstSeen   time.Time
	lastSeen    time.Time
	count       int
	alertID     string
}

// Cache is the fingerprint cache. Zero value is not usable; use New.
type Cache struct {
	log    *slog.Logger
	window time.Duration
	cap    int

	mu      sync.Mutex
	entries map[string]*entry

	redis *redis.Client

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(cfg Config, log *slog.Logger) (*Cache, error) {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}

	c := &Cache{
		log:     log.With("component", "dedup"),
		window:  cfg.Window,
		cap:     cfg.MaxEntries,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("dedup: connecting to redis mirror: %w", err)
		}
	}

	go c.evictLoop()
	return c, nil
}

// Fingerprint computes the canonical hash of spec §3.4:
// hash(source, title, src_ip, dst_ip, rule_id).
func Fingerprint(a alert.Alert) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", a.Source, a.Title, a.SrcIP(), a.DstIP(), a.RuleID())
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Check looks up the alert's fingerprint. If a live entry exists locally, or
// was suppressed by a different receiver and is still live in the Redis
// mirror, it is updated and the alert is suppressed (ok=false); otherwise a
// new entry is inserted and the alert passes (ok=true). dedupCount is always
// the running count for the fingerprint, suitable for attaching as the
// dedup_count metadata of the one alert that is allowed through.
func (c *Cache) Check(a alert.Alert) (ok bool, dedupCount int, originalAlertID string) {
	fp := Fingerprint(a)
	now := time.Now()

	c.mu.Lock()
	e, exists := c.entries[fp]
	if exists && now.Sub(e.lastSeen) <= c.window {
		e.lastSeen = now
		e.count++
		count := e.count
		origID := e.alertID
		c.mu.Unlock()
		c.mirror(fp, e)
		return false, count, origID
	}
	c.mu.Unlock()

	if !exists {
		if remote, found := c.lookupRemote(fp, now); found {
			remote.lastSeen = now
			remote.count++
			c.mu.Lock()
			c.entries[fp] = remote
			c.mu.Unlock()
			c.mirror(fp, remote)
			return false, remote.count, remote.alertID
		}
	}

	c.mu.Lock()
	if !exists {
		c.evictIfFullLocked()
	}
	e = &entry{
		fingerprint: fp,
		firstSeen:   now,
		lastSeen:    now,
		count:       1,
		alertID:     a.AlertID,
	}
	c.entries[fp] = e
	c.mu.Unlock()
	c.mirror(fp, e)
	return true, 1, a.AlertID
}

// lookupRemote consults the Redis mirror for a fingerprint this instance
// hasn't seen locally, so a suppression recorded by another receiver
// goroutine or process is actually honored here rather than just written
// one-way and never read back.
func (c *Cache) lookupRemote(fp string, now time.Time) (*entry, bool) {
	if c.redis == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := c.redis.Get(ctx, "idsaggd:dedup:"+fp).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("dedup redis mirror read failed", "error", err)
		}
		return nil, false
	}

	var mirrored struct {
		FirstSeen time.Time `json:"first_seen"`
		LastSeen  time.Time `json:"last_seen"`
		Count     int       `json:"count"`
		AlertID   string    `json:"alert_id"`
	}
	if err := json.Unmarshal(data, &mirrored); err != nil {
		c.log.Warn("dedup redis mirror entry unreadable", "error", err)
		return nil, false
	}
	if now.Sub(mirrored.LastSeen) > c.window {
		return nil, false
	}

	return &entry{
		fingerprint: fp,
		firstSeen:   mirrored.FirstSeen,
		lastSeen:    mirrored.LastSeen,
		count:       mirrored.Count,
		alertID:     mirrored.AlertID,
	}, true
}

// evictIfFullLocked removes the entry with the oldest last_seen when the
// cache is at capacity. Caller must hold c.mu.
func (c *Cache) evictIfFullLocked() {
	if len(c.entries) < c.cap {
		return
	}
	var oldestKey string
	var oldestTime time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.lastSeen
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// evictLoop sweeps expired entries once per second, per spec §4.5
// ("Eviction runs both on insert (bounded) and periodically (every
// second)").
func (c *Cache) evictLoop() {
	defer close(c.doneCh)
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.Sub(e.lastSeen) > c.window {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) mirror(fp string, e *entry) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"first_seen": e.firstSeen,
		"last_seen":  e.lastSeen,
		"count":      e.count,
		"alert_id":   e.alertID,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.redis.Set(ctx, "idsaggd:dedup:"+fp, data, c.window).Err(); err != nil {
		c.log.Warn("dedup redis mirror write failed", "error", err)
	}
}

// Len returns the current entry count, for stats/tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the eviction loop and the Redis mirror connection, if any.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// CorrelationKey hashes a firing rule_id together with the sorted tuple of
// contributing alert_ids, a key distinct from the content fingerprint used
// for ordinary alerts. The correlator's firing suppression does not use it;
// it keys its own suppression map on rule_id and sorted refs directly.
func CorrelationKey(ruleID string, refs []string) string {
	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s", ruleID)
	for _, r := range sorted {
		fmt.Fprintf(h, "|%s", r)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
