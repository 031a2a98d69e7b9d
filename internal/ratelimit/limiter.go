// Package ratelimit throttles tracking events with hourly and daily windows,
// keeping counters in memory and flushing them to BoltDB.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level represents the level of rate limiting
type Level string

const (
	LevelGlobal   Level = "global"
	LevelIP       Level = "ip"
	LevelCampaign Level = "campaign"
)

// Config contains rate limit configuration
type Config struct {
	// Limits across all tracking traffic
	Global *LimitConfig

	// Limits per client address
	PerIP *LimitConfig

	// Limits per campaign id
	PerCampaign *LimitConfig

	FlushInterval time.Duration
}

// LimitConfig contains rate limit values; zero disables a window
type LimitConfig struct {
	EventsPerHour int `json:"events_per_hour"`
	EventsPerDay  int `json:"events_per_day"`
}

// Counter tracks rate limit counters
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter implements rate limiting with multiple levels
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter
	mu       sync.RWMutex
	stopCh   chan struct{}
	done     chan struct{}
	now      func() time.Time
}

// NewLimiter creates a rate limiter backed by db and starts its flush loop
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Request identifies the event being throttled
type Request struct {
	IP         string
	CampaignID string
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Stats contains rate limit statistics
type Stats struct {
	Level       Level
	Key         string
	HourlyCount int
	DailyCount  int
	HourStart   time.Time
	DayStart    time.Time
}

// Allow checks every applicable limit and, only if all pass, counts the event
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpired(counter, now)

		if res := deny(check, counter.HourlyCount, counter.DailyCount, counter, now); res != nil {
			return res, nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return &Result{Allowed: true}, nil
}

// Check reports whether an event would be allowed without counting it
func (l *Limiter) Check(ctx context.Context, req *Request) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	for _, check := range l.getChecks(req) {
		counter, exists := l.counters[check.key]
		if !exists {
			continue
		}
		hourly, daily := liveCounts(counter, now)
		if res := deny(check, hourly, daily, counter, now); res != nil {
			return res, nil
		}
	}

	return &Result{Allowed: true}, nil
}

// GetStats returns current counters for one key
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{Level: level, Key: key}
	counter, exists := l.counters[makeKey(level, key)]
	if !exists {
		return stats, nil
	}

	stats.HourlyCount, stats.DailyCount = liveCounts(counter, l.now())
	stats.HourStart = counter.HourStart
	stats.DayStart = counter.DayStart
	return stats, nil
}

// LimitFor returns the configured limit of a level, or nil when unlimited
func (l *Limiter) LimitFor(level Level) *LimitConfig {
	switch level {
	case LevelGlobal:
		return l.config.Global
	case LevelIP:
		return l.config.PerIP
	case LevelCampaign:
		return l.config.PerCampaign
	}
	return nil
}

// Stop stops the flush loop and persists counters
func (l *Limiter) Stop() error {
	close(l.stopCh)
	<-l.done
	return l.persistCounters()
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if req.IP != "" && l.config.PerIP != nil {
		checks = append(checks, limitCheck{
			level: LevelIP,
			key:   makeKey(LevelIP, req.IP),
			limit: l.config.PerIP,
		})
	}

	if req.CampaignID != "" && l.config.PerCampaign != nil {
		checks = append(checks, limitCheck{
			level: LevelCampaign,
			key:   makeKey(LevelCampaign, req.CampaignID),
			limit: l.config.PerCampaign,
		})
	}

	return checks
}

func deny(check limitCheck, hourly, daily int, counter *Counter, now time.Time) *Result {
	if check.limit.EventsPerHour > 0 && hourly >= check.limit.EventsPerHour {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
		}
	}
	if check.limit.EventsPerDay > 0 && daily >= check.limit.EventsPerDay {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
		}
	}
	return nil
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func liveCounts(counter *Counter, now time.Time) (hourly, daily int) {
	hourly, daily = counter.HourlyCount, counter.DailyCount
	if now.Sub(counter.HourStart) >= time.Hour {
		hourly = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		daily = 0
	}
	return hourly, daily
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

// persistCounters writes live counters and drops those whose daily window has
// passed, so per-IP keys do not accumulate forever
func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			if now.Sub(counter.DayStart) >= 24*time.Hour {
				delete(l.counters, key)
				if err := bucket.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}

			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
