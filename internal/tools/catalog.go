package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/trades-chat/internal/observability"
)

// ErrCatalogUnavailable is returned when the function catalog cannot be fetched
var ErrCatalogUnavailable = errors.New("tool catalog unavailable")

// Catalog memoizes the function list. The first successful fetch is kept for
// the Catalog's lifetime; concurrent first callers share one in-flight fetch.
// Failed fetches are not cached, so a later call tries again.
type Catalog struct {
	service Service
	timeout time.Duration

	group singleflight.Group

	mu          sync.RWMutex
	descriptors []Descriptor
	byName      map[string]Descriptor
	loaded      bool
}

// NewCatalog creates a catalog backed by service
func NewCatalog(service Service, timeout time.Duration) *Catalog {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Catalog{service: service, timeout: timeout}
}

// Tools returns every descriptor in service order
func (c *Catalog) Tools(ctx context.Context) ([]Descriptor, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out, nil
}

// Lookup returns the descriptor registered under name
func (c *Catalog) Lookup(ctx context.Context, name string) (Descriptor, bool, error) {
	if err := c.load(ctx); err != nil {
		return Descriptor{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byName[name]
	return d, ok, nil
}

// Loaded reports whether a fetch has succeeded
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Catalog) load(ctx context.Context) error {
	if c.Loaded() {
		return nil
	}

	resultCh := c.group.DoChan("catalog", func() (any, error) {
		if c.Loaded() {
			return nil, nil
		}

		// The shared fetch must not die with whichever request started it
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		descriptors, err := c.service.ListTools(fetchCtx)
		if err != nil {
			return nil, err
		}

		byName := make(map[string]Descriptor, len(descriptors))
		for _, d := range descriptors {
			byName[d.Name] = d
		}

		c.mu.Lock()
		c.descriptors = descriptors
		c.byName = byName
		c.loaded = true
		c.mu.Unlock()

		observability.FromContext(ctx).Info().Int("tools", len(descriptors)).Msg("Tool catalog loaded")
		return nil, nil
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			observability.FromContext(ctx).Warn().Err(res.Err).Msg("Failed to load tool catalog")
			return errors.Join(ErrCatalogUnavailable, res.Err)
		}
		return nil
	case <-ctx.Done():
		return errors.Join(ErrCatalogUnavailable, ctx.Err())
	}
}
