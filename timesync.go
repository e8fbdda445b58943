package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"offerbot/internal/logging"
)

const clockCheckInterval = 5 * time.Minute

// Clock tells time in the portal's zone, optionally corrected by the offset
// between the local clock and the Date header of one or more servers.
type Clock struct {
	loc    *time.Location
	client *http.Client
	log    *logging.Logger

	maxAge time.Duration

	mu           sync.RWMutex
	offset       time.Duration
	lastSyncTime time.Time
	synced       bool
}

func NewClock(loc *time.Location, log *logging.Logger) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{
		loc:    loc,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
		maxAge: time.Hour,
	}
}

// Sync averages the offset reported by every reachable server.
func (c *Clock) Sync(ctx context.Context, servers ...string) error {
	var totalOffset time.Duration
	successCount := 0

	for _, server := range servers {
		offset, err := c.getTimeOffset(ctx, server)
		if err != nil {
			c.log.Debugf("Time sync failed for %s: %v", server, err)
			continue
		}

		totalOffset += offset
		successCount++
		c.log.Debugf("Time offset from %s: %v", server, offset)
	}

	if successCount == 0 {
		return fmt.Errorf("failed to sync time with any of %d server(s)", len(servers))
	}

	c.mu.Lock()
	c.offset = totalOffset / time.Duration(successCount)
	c.lastSyncTime = time.Now()
	c.synced = true
	c.mu.Unlock()

	c.log.Infof("Clock synchronized (offset %v)", c.Offset())
	return nil
}

func (c *Clock) getTimeOffset(ctx context.Context, url string) (time.Duration, error) {
	beforeRequest := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	afterRequest := time.Now()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("no Date header in response")
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// half the round trip
	latency := afterRequest.Sub(beforeRequest) / 2
	localTime := beforeRequest.Add(latency)
	return serverTime.Sub(localTime), nil
}

// Now returns the corrected time in the portal's zone.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	if c.synced {
		now = now.Add(c.offset)
	}
	return now.In(c.loc)
}

func (c *Clock) Location() *time.Location {
	return c.loc
}

func (c *Clock) IsSynced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// ShouldResync reports whether the last sync is missing or over an hour old.
func (c *Clock) ShouldResync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.synced {
		return true
	}
	return time.Since(c.lastSyncTime) > c.maxAge
}

// KeepSynced checks the sync age every interval and re-syncs a stale clock
// until ctx is done. A failed sync keeps the previous offset.
func (c *Clock) KeepSynced(ctx context.Context, every time.Duration, servers ...string) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !c.ShouldResync() {
			continue
		}
		if err := c.Sync(ctx, servers...); err != nil && ctx.Err() == nil {
			c.log.Warnf("Clock resync failed: %v", err)
		}
	}
}
