package client

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultSeenTTL bounds how long an event id is remembered.
const DefaultSeenTTL = time.Hour

// Deduplicator remembers event ids that already raised a notification.
type Deduplicator struct {
	seen *gocache.Cache
}

// NewDeduplicator constructs a seen-set whose entries expire after ttl.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &Deduplicator{seen: gocache.New(ttl, ttl/2)}
}

// MarkSeen records id and reports whether it was new.
func (d *Deduplicator) MarkSeen(id int64) bool {
	return d.seen.Add(strconv.FormatInt(id, 10), struct{}{}, gocache.DefaultExpiration) == nil
}

// Len reports the number of remembered ids.
func (d *Deduplicator) Len() int {
	return d.seen.ItemCount()
}
