package membercart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/internal/resilience"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	cartIndexPrefix     = "cart:"
	defaultCartIndexTTL = 30 * 24 * time.Hour
	defaultIdleTimeout  = 30 * time.Minute
)

// CoordinatorParams groups the shared dependencies handed to every session.
type CoordinatorParams struct {
	Platform      commerce.Platform
	Memberships   memberships.Service
	Executor      *resilience.Executor
	Cache         *resilience.SnapshotCache
	Fallbacks     *resilience.Fallbacks
	CartIndex     resilience.Store
	CartIndexTTL  time.Duration
	Currency      enums.Currency
	FailurePolicy enums.FailurePolicy
	WorkerSlots   int
	// IdleTimeout closes sessions not opened for that long. MaxSessions, when
	// positive, caps open sessions by evicting the least recently used.
	IdleTimeout time.Duration
	MaxSessions int
	Logger      *logger.Logger
	Metrics     *metrics.ReconcileMetrics
	Now         func() time.Time
}

type openSession struct {
	svc      Service
	lastUsed time.Time
}

// Coordinator owns one reconciliation service per cart session key. Callers
// get their handle from it instead of reaching for a shared cart.
type Coordinator struct {
	params CoordinatorParams
	logg   *logger.Logger
	group  singleflight.Group

	mu       sync.Mutex
	services map[string]*openSession
}

func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	if params.Platform == nil {
		return nil, fmt.Errorf("commerce platform required")
	}
	if params.Memberships == nil {
		return nil, fmt.Errorf("membership service required")
	}
	if params.Executor == nil {
		return nil, fmt.Errorf("resilience executor required")
	}
	if params.CartIndexTTL <= 0 {
		params.CartIndexTTL = defaultCartIndexTTL
	}
	if params.IdleTimeout <= 0 {
		params.IdleTimeout = defaultIdleTimeout
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Coordinator{
		params:   params,
		logg:     logg,
		services: map[string]*openSession{},
	}, nil
}

// Open returns the service for sessionKey, creating it on first use. A
// customer id different from the one on record switches the membership.
// Membership load failures are logged and do not fail Open.
func (c *Coordinator) Open(ctx context.Context, sessionKey, customerID string) (Service, error) {
	key := strings.TrimSpace(sessionKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart session key is required").
			WithField("session_key", "non-empty string")
	}
	customerID = strings.TrimSpace(customerID)

	if svc, ok := c.Get(key); ok {
		if svc.CustomerID() != customerID {
			if err := svc.SetCustomer(ctx, customerID); err != nil {
				c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "membership switch incomplete")
			}
		}
		return svc, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if svc, ok := c.Get(key); ok {
			return svc, nil
		}
		svc, err := c.create(ctx, key, customerID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.services[key] = &openSession{svc: svc, lastUsed: c.params.Now()}
		overflow := c.overflowLocked()
		c.mu.Unlock()
		c.closeAll(ctx, overflow, "capacity")
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Service), nil
}

// Get returns the open service for sessionKey and marks it used.
func (c *Coordinator) Get(sessionKey string) (Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.services[sessionKey]
	if !ok {
		return nil, false
	}
	entry.lastUsed = c.params.Now()
	return entry.svc, true
}

// Release closes and forgets the service for sessionKey. The backend cart
// and its index entry survive, so a later Open resumes it.
func (c *Coordinator) Release(sessionKey string) {
	c.mu.Lock()
	entry, ok := c.services[sessionKey]
	delete(c.services, sessionKey)
	c.mu.Unlock()
	if ok {
		entry.svc.Close()
	}
}

// EvictIdle releases every session unused for longer than the idle timeout
// and reports how many were closed.
func (c *Coordinator) EvictIdle(ctx context.Context) int {
	cutoff := c.params.Now().Add(-c.params.IdleTimeout)
	c.mu.Lock()
	var idle []Service
	for key, entry := range c.services {
		if entry.lastUsed.Before(cutoff) {
			idle = append(idle, entry.svc)
			delete(c.services, key)
		}
	}
	c.mu.Unlock()
	c.closeAll(ctx, idle, "idle")
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.params.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictIdle(ctx)
		}
	}
}

// overflowLocked removes the least recently used sessions beyond MaxSessions.
func (c *Coordinator) overflowLocked() []Service {
	if c.params.MaxSessions <= 0 {
		return nil
	}
	var evicted []Service
	for len(c.services) > c.params.MaxSessions {
		oldestKey := ""
		var oldest time.Time
		for key, entry := range c.services {
			if oldestKey == "" || entry.lastUsed.Before(oldest) {
				oldestKey, oldest = key, entry.lastUsed
			}
		}
		evicted = append(evicted, c.services[oldestKey].svc)
		delete(c.services, oldestKey)
	}
	return evicted
}

func (c *Coordinator) closeAll(ctx context.Context, services []Service, reason string) {
	if len(services) == 0 {
		return
	}
	for _, svc := range services {
		svc.Close()
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"reason":  reason,
		"evicted": len(services),
	}), "cart sessions evicted")
}

func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.services)
}

// Close releases every open service.
func (c *Coordinator) Close() {
	c.mu.Lock()
	services := c.services
	c.services = map[string]*openSession{}
	c.mu.Unlock()
	for _, entry := range services {
		entry.svc.Close()
	}
}

func (c *Coordinator) create(ctx context.Context, key, customerID string) (Service, error) {
	ctx = c.logg.WithField(ctx, "session_key", key)
	cartID := c.lookupCartID(ctx, key)

	session, err := c.newSession(cartID)
	if err != nil {
		return nil, err
	}
	if cartID != "" {
		if _, err := session.Sync(ctx); err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "resumed cart could not be refreshed")
			} else {
				c.logg.Info(c.logg.WithCartID(ctx, cartID), "indexed cart gone, starting fresh")
				c.forgetCartID(ctx, key)
				if session, err = c.newSession(""); err != nil {
					return nil, err
				}
			}
		}
	}
	c.trackCartID(key, session)

	svc, err := NewService(ServiceParams{
		Session:     session,
		Memberships: c.params.Memberships,
		Executor:    c.params.Executor,
		Cache:       c.params.Cache,
		Fallbacks:   c.params.Fallbacks,
		CustomerID:  customerID,
		Logger:      c.logg,
		Now:         c.params.Now,
	})
	if err != nil {
		return nil, err
	}
	if err := svc.LoadMembership(ctx); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "membership unavailable for new session")
	}
	c.logg.Info(ctx, "cart session opened")
	return svc, nil
}

func (c *Coordinator) newSession(cartID string) (cart.Session, error) {
	return cart.NewSession(cart.SessionParams{
		Platform:      c.params.Platform,
		Executor:      c.params.Executor,
		CartID:        cartID,
		Currency:      c.params.Currency,
		FailurePolicy: c.params.FailurePolicy,
		WorkerSlots:   c.params.WorkerSlots,
		Logger:        c.logg,
		Metrics:       c.params.Metrics,
	})
}

func (c *Coordinator) lookupCartID(ctx context.Context, key string) string {
	if c.params.CartIndex == nil {
		return ""
	}
	raw, err := c.params.CartIndex.Get(ctx, cartIndexPrefix+key)
	if err != nil {
		if !errors.Is(err, resilience.ErrNotFound) {
			c.logg.Error(ctx, "read cart index", err)
		}
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (c *Coordinator) forgetCartID(ctx context.Context, key string) {
	if c.params.CartIndex == nil {
		return
	}
	if err := c.params.CartIndex.Delete(ctx, cartIndexPrefix+key); err != nil {
		c.logg.Error(ctx, "delete cart index", err)
	}
}

// trackCartID records the backend cart id for key once the session has one.
func (c *Coordinator) trackCartID(key string, session cart.Session) {
	if c.params.CartIndex == nil {
		return
	}
	var (
		mu    sync.Mutex
		saved = session.ID()
	)
	session.Subscribe(func(ctx context.Context, current *commerce.Cart) {
		if current == nil || current.ID == "" {
			return
		}
		mu.Lock()
		if current.ID == saved {
			mu.Unlock()
			return
		}
		saved = current.ID
		mu.Unlock()
		if err := c.params.CartIndex.Set(ctx, cartIndexPrefix+key, []byte(current.ID), c.params.CartIndexTTL); err != nil {
			c.logg.Error(ctx, "write cart index", err)
		}
	})
}
