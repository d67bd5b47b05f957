// Package jwks implements JWK set discovery for token verification: a
// Static variant over a fixed set, and a CachedRemote variant that
// background-refreshes from an HTTP endpoint and keeps serving the last
// good set on fetch failure.
package jwks

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/boris-cremit/nebula/pkg/log"
)

// Discovery resolves the current JWK set used to verify inbound tokens.
type Discovery interface {
	Discover(ctx context.Context) (jwk.Set, error)
}

// Static serves a fixed set for the lifetime of the process. NewFromConfig
// returns one wrapping a single fetch of the upstream endpoint when no
// refresh interval is configured.
type Static struct {
	set jwk.Set
}

// NewStatic wraps an already-resolved set.
func NewStatic(set jwk.Set) *Static {
	return &Static{set: set}
}

func (s *Static) Discover(ctx context.Context) (jwk.Set, error) {
	return s.set, nil
}

// CachedRemote polls a remote JWKS endpoint on a fixed interval and
// atomically swaps in the freshly fetched set. A fetch failure logs and
// keeps serving the previously cached set rather than failing requests.
type CachedRemote struct {
	url      string
	interval time.Duration
	current  atomic.Pointer[jwk.Set]
	stopCh   chan struct{}
}

// NewCachedRemote performs a synchronous first fetch (fail-fast at
// startup: an unreachable IdP JWKS endpoint aborts boot rather than
// serving a degraded instance) and starts the background refresher.
func NewCachedRemote(ctx context.Context, url string, interval time.Duration) (*CachedRemote, error) {
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching initial jwks from %s: %w", url, err)
	}

	c := &CachedRemote{url: url, interval: interval, stopCh: make(chan struct{})}
	c.current.Store(&set)
	go c.refreshLoop()
	return c, nil
}

func (c *CachedRemote) refreshLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.refresh()
		case <-c.stopCh:
			return
		}
	}
}

func (c *CachedRemote) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	set, err := jwk.Fetch(ctx, c.url)
	if err != nil {
		log.Logger.Warn().Err(err).Str("url", c.url).Msg("jwks refresh failed, keeping cached set")
		return
	}
	c.current.Store(&set)
}

func (c *CachedRemote) Discover(ctx context.Context) (jwk.Set, error) {
	return *c.current.Load(), nil
}

// Stop halts the background refresher.
func (c *CachedRemote) Stop() {
	close(c.stopCh)
}

// NewFromConfig builds the appropriate Discovery for a refresh interval:
// zero means fetch once and serve statically (resolves to Static), a
// positive duration starts the CachedRemote poller.
func NewFromConfig(ctx context.Context, url string, refreshInterval time.Duration) (Discovery, error) {
	if refreshInterval <= 0 {
		set, err := jwk.Fetch(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("fetching jwks from %s: %w", url, err)
		}
		return NewStatic(set), nil
	}
	return NewCachedRemote(ctx, url, refreshInterval)
}
