package gate

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/moyuren/calendar/cache"
	"github.com/moyuren/calendar/fetch"
	"github.com/moyuren/calendar/metrics"
)

const dateKeyFormat = "2006-01-02"

// DateKey returns the cache key for t's local calendar day
func DateKey(t time.Time) string {
	return t.Format(dateKeyFormat)
}

// ExhaustedError reports that every endpoint failed and no cached image
// was available as a fallback
type ExhaustedError struct {
	Attempts []fetch.Attempt
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, a.String())
	}
	if len(reasons) == 0 {
		return "all image sources exhausted: no endpoints configured"
	}

	return "all image sources exhausted: " + strings.Join(reasons, "; ")
}

// Fetcher runs one failover pass over the given endpoints
type Fetcher interface {
	Fetch(ctx context.Context, endpoints []fetch.Endpoint) fetch.Result
}

// swapped out in tests to observe counting
var incCacheMiss = metrics.IncCacheMiss

// New returns a Gate deciding between cache, live fetch and stale fallback
func New(store *cache.Store, fetcher Fetcher, registry *fetch.Registry) *Gate {
	return &Gate{
		store:    store,
		fetcher:  fetcher,
		registry: registry,
		now:      time.Now,
	}
}

// Gate is the policy layer in front of the Fetcher. It serves today's image
// from cache when fresh, coalesces concurrent fetches per date key and falls
// back to a prior day's image when every live source fails.
type Gate struct {
	store    *cache.Store
	fetcher  Fetcher
	registry *fetch.Registry
	now      func() time.Time
	flight   singleflight.Group
}

type image struct {
	payload     []byte
	contentType string
}

// Obtain returns the calendar image for the given date key.
// force skips the fresh-cache check but still coalesces with concurrent
// callers for the same key.
func (g *Gate) Obtain(ctx context.Context, dateKey string, force bool) ([]byte, string, error) {
	if !force {
		if e, ok := g.fresh(dateKey); ok {
			log.Debugf("Serving %s from cache (%s)", dateKey, e.Source)
			metrics.IncCacheHit()
			return e.Payload, e.ContentType, nil
		}
	}

	v, err, _ := g.flight.Do(dateKey, func() (interface{}, error) {
		// a concurrent caller may have fetched while we waited for the flight
		if !force {
			if e, ok := g.fresh(dateKey); ok {
				return image{e.Payload, e.ContentType}, nil
			}
		}
		incCacheMiss()

		// the flight's result is shared with every coalesced waiter, so it
		// must not inherit the initiating caller's cancellation. Endpoint
		// timeouts still bound each attempt.
		res := g.fetcher.Fetch(context.WithoutCancel(ctx), g.registry.Snapshot())
		if res.Success {
			if _, err := g.store.Put(dateKey, res.Source, res.Payload, res.ContentType); err != nil {
				// the caller still gets the image even if persisting it failed
				log.Errorf("Failed to cache image for %s: %s", dateKey, err)
			}
			return image{res.Payload, res.ContentType}, nil
		}

		if e := g.stale(dateKey); e != nil {
			log.Warnf("All endpoints failed, serving stale image from %s", e.DateKey)
			metrics.IncStaleFallback()
			return image{e.Payload, e.ContentType}, nil
		}

		return nil, &ExhaustedError{Attempts: res.Attempts}
	})
	if err != nil {
		return nil, "", err
	}

	img := v.(image)
	return img.payload, img.contentType, nil
}

// fresh returns the cached entry for dateKey if it was fetched on the
// current local calendar day. Read errors degrade to a miss.
func (g *Gate) fresh(dateKey string) (*cache.Entry, bool) {
	e, err := g.store.Get(dateKey)
	if err != nil {
		if err != cache.ErrEntryNotFound {
			log.Warnf("Cache read for %s failed, treating as miss: %s", dateKey, err)
		}
		return nil, false
	}
	if DateKey(e.FetchedAt.Time()) != DateKey(g.now()) {
		return nil, false
	}

	return e, true
}

// stale returns any usable cached entry, preferring the requested day
func (g *Gate) stale(dateKey string) *cache.Entry {
	if e, err := g.store.Get(dateKey); err == nil {
		return e
	}
	if e, err := g.store.Newest(); err == nil {
		return e
	}

	return nil
}
