// Package dedup drops repeated deliveries inside a TTL window.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
	now  func() time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time), now: time.Now}
}

// ShouldProcess reports whether key is new within the window and marks it seen.
// An empty key is always processed.
func (d *Deduper) ShouldProcess(key string) bool {
	if key == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.mark(key, now)
	return true
}

// Remember marks key seen without checking it, so only a later delivery
// flagged as a redelivery is compared against it.
func (d *Deduper) Remember(key string) {
	if key == "" {
		return
	}
	now := d.now()
	d.mu.Lock()
	d.mark(key, now)
	d.mu.Unlock()
}

func (d *Deduper) mark(key string, now time.Time) {
	d.seen[key] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
}

// ShouldProcessPayload keys on topic plus the sha256 of the body, which is
// what identifies an MQTT QoS 1 redelivery.
func (d *Deduper) ShouldProcessPayload(topic string, payload []byte) bool {
	return d.ShouldProcess(PayloadKey(topic, payload))
}

// Forget drops key so a later identical delivery is processed again.
func (d *Deduper) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// evict removes expired keys first, then the oldest ones until under max.
func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var oldest string
		var oldestExp time.Time
		for k, exp := range d.seen {
			if oldest == "" || exp.Before(oldestExp) {
				oldest, oldestExp = k, exp
			}
		}
		delete(d.seen, oldest)
	}
}

func PayloadKey(topic string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return topic + "|" + hex.EncodeToString(sum[:])
}
