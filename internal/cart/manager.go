package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shopfront-labs/cartsync/internal/session"
)

// Gateway is the remote cart service contract the Manager mediates through.
// Every call is a single round trip returning the full post-operation
// snapshot; the gateway performs no retries of its own.
type Gateway interface {
	GetCart(ctx context.Context, cartID string) (*Snapshot, error)
	AddItem(ctx context.Context, cartID, variantID string, quantity int) (*Snapshot, error)
	UpdateQuantity(ctx context.Context, cartID, variantID string, dir Direction) (*Snapshot, error)
	RemoveItem(ctx context.Context, cartID, variantID string) (*Snapshot, error)
}

// State is the Manager's position in its lifecycle. There is no terminal
// state: a Manager lives for the whole session, returning to Ready after
// every mutation and recoverable error.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateMutating
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateMutating:
		return "mutating"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind classifies a state-change notification.
type EventKind string

const (
	EventLoaded  EventKind = "loaded"
	EventUpdated EventKind = "updated"
	EventCleared EventKind = "cleared"
	EventBuyNow  EventKind = "buynow"
)

// Event is published to subscribers after every accepted state change.
type Event struct {
	Kind    EventKind
	Version uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithReadRetry enables bounded retry with fixed backoff for LoadCart.
// Mutations are never retried: without server-side idempotency guarantees a
// retried add could double an order line.
func WithReadRetry(attempts int, backoff time.Duration) Option {
	return func(m *Manager) {
		m.readRetries = attempts
		m.readBackoff = backoff
	}
}

// Manager is the single source of truth for the active cart. All mutations go
// through the Gateway and, on success, the returned snapshot wholesale
// replaces local state: the server is authoritative for pricing, discounts
// and stock. On any failure local state is left at the last known good
// snapshot and the error is returned for display.
//
// Ordering: mutations on the cart are serialized through opMu, so a second
// mutation waits for the in-flight one. Reads (LoadCart) run outside that
// lock and are guarded by the version counter instead: every accepted
// snapshot bumps the version, and a load that started against an older
// version is discarded rather than allowed to overwrite newer state.
type Manager struct {
	gw      Gateway
	session *session.Store
	lg      *zap.Logger

	readRetries int
	readBackoff time.Duration

	opMu sync.Mutex // serializes mutations

	mu       sync.RWMutex // guards snapshot, version, state, buyNow
	state    State
	version  uint64
	snapshot Snapshot
	buyNow   *Item

	loads singleflight.Group // coalesces concurrent LoadCart calls

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewManager creates a Manager in the Uninitialized state.
func NewManager(gw Gateway, sess *session.Store, lg *zap.Logger, opts ...Option) *Manager {
	if lg == nil {
		lg = zap.NewNop()
	}
	m := &Manager{
		gw:      gw,
		session: sess,
		lg:      lg,
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Version returns the monotonically increasing local version, bumped once per
// accepted gateway snapshot (and per Clear).
func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// CurrentCart returns a copy of the last known good snapshot.
func (m *Manager) CurrentCart() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.clone()
}

// ItemCount returns the sum of quantities across the current items. Always
// computed from current state, never cached, so it cannot drift.
func (m *Manager) ItemCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.ItemCount()
}

// TotalAmount returns the current cart total, computed from the line totals.
func (m *Manager) TotalAmount() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Total
}

// LoadCart fetches the authoritative snapshot and replaces local state.
// Concurrent loads for the same cart are coalesced into one round trip.
// On failure local state is untouched and the error is returned.
func (m *Manager) LoadCart(ctx context.Context) error {
	sess := m.session.Current()
	if sess.CartID == "" {
		return ErrNoSession
	}

	m.setState(StateLoading)
	base := m.Version()

	v, err, _ := m.loads.Do(sess.CartID, func() (any, error) {
		return m.fetchWithRetry(ctx, sess.CartID)
	})
	if err != nil {
		m.recordError("load cart", err)
		return err
	}

	snap := v.(*Snapshot)
	if !m.apply(snap, base, EventLoaded) {
		// A mutation was accepted while this load was in flight; its snapshot
		// is newer than ours, so the stale read is dropped.
		m.lg.Debug("stale cart load discarded",
			zap.String("cart_id", sess.CartID),
			zap.Uint64("base_version", base))
	}
	return nil
}

// AddItem adds quantity units of a variant to the cart. The variant and
// quantity are validated before any network call; an anonymous session is a
// precondition failure so the view layer can redirect to authentication.
func (m *Manager) AddItem(ctx context.Context, variantID string, quantity int) error {
	if variantID == "" {
		return ErrEmptyVariant
	}
	if quantity <= 0 {
		return &InvalidQuantityError{VariantID: variantID, Quantity: quantity}
	}
	return m.mutate(ctx, func(ctx context.Context, cartID string) (*Snapshot, error) {
		return m.gw.AddItem(ctx, cartID, variantID, quantity)
	})
}

// UpdateQuantity steps a line's quantity up or down by one. Decreasing a line
// at quantity one removes it server-side.
func (m *Manager) UpdateQuantity(ctx context.Context, variantID string, dir Direction) error {
	if variantID == "" {
		return ErrEmptyVariant
	}
	if !dir.Valid() {
		return ErrInvalidDirection
	}
	return m.mutate(ctx, func(ctx context.Context, cartID string) (*Snapshot, error) {
		return m.gw.UpdateQuantity(ctx, cartID, variantID, dir)
	})
}

// RemoveItem removes one line from the cart.
func (m *Manager) RemoveItem(ctx context.Context, variantID string) error {
	if variantID == "" {
		return ErrEmptyVariant
	}
	return m.mutate(ctx, func(ctx context.Context, cartID string) (*Snapshot, error) {
		return m.gw.RemoveItem(ctx, cartID, variantID)
	})
}

// Clear drops local state back to an empty Uninitialized cart. Used at
// logout; the persisted server-side cart is not touched.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.snapshot = Snapshot{}
	m.state = StateUninitialized
	m.version++
	v := m.version
	m.mu.Unlock()
	m.publish(Event{Kind: EventCleared, Version: v})
}

// SetBuyNowItem stages a single transient item for a checkout flow that
// bypasses the persisted cart. No gateway call is made.
func (m *Manager) SetBuyNowItem(item Item) error {
	if item.VariantID == "" {
		return ErrEmptyVariant
	}
	if item.Quantity <= 0 {
		return &InvalidQuantityError{VariantID: item.VariantID, Quantity: item.Quantity}
	}
	item.LineTotal = item.FinalPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

	m.mu.Lock()
	m.buyNow = &item
	v := m.version
	m.mu.Unlock()
	m.publish(Event{Kind: EventBuyNow, Version: v})
	return nil
}

// ClearBuyNowItem drops the staged buy-now item, if any.
func (m *Manager) ClearBuyNowItem() {
	m.mu.Lock()
	m.buyNow = nil
	v := m.version
	m.mu.Unlock()
	m.publish(Event{Kind: EventBuyNow, Version: v})
}

// BuyNowItem returns the staged buy-now item and whether one is set.
func (m *Manager) BuyNowItem() (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.buyNow == nil {
		return Item{}, false
	}
	return *m.buyNow, true
}

// Subscribe registers for state-change events. The returned cancel func must
// be called when the consumer goes away. Delivery is best effort: a slow
// subscriber loses events rather than blocking a mutation.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 16)
	m.subs[id] = ch
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
		m.subMu.Unlock()
	}
	return ch, cancel
}

// mutate runs a single gateway mutation under the mutation lock and replaces
// local state with the returned snapshot.
//
// The view's context is detached from cancellation before the round trip:
// navigating away must not abort a mutation the server may already be
// processing. The call either resolves with a snapshot, which is applied, or
// an error, which leaves state untouched.
func (m *Manager) mutate(ctx context.Context, call func(ctx context.Context, cartID string) (*Snapshot, error)) error {
	sess := m.session.Current()
	if sess.Anonymous() || sess.CartID == "" {
		return ErrNoSession
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setState(StateMutating)
	snap, err := call(context.WithoutCancel(ctx), sess.CartID)
	if err != nil {
		m.recordError("cart mutation", err)
		return err
	}

	m.mu.Lock()
	snap.Normalize()
	m.snapshot = *snap
	m.version++
	m.state = StateReady
	v := m.version
	m.mu.Unlock()

	m.publish(Event{Kind: EventUpdated, Version: v})
	return nil
}

// apply installs a fetched snapshot if no newer state has been accepted since
// base. Returns false when the snapshot is stale and was discarded.
func (m *Manager) apply(snap *Snapshot, base uint64, kind EventKind) bool {
	m.mu.Lock()
	if m.version != base {
		// Restore the state flag; the snapshot itself was never touched.
		if m.state == StateLoading {
			m.state = StateReady
		}
		m.mu.Unlock()
		return false
	}
	cp := snap.clone()
	cp.Normalize()
	m.snapshot = cp
	m.version++
	m.state = StateReady
	v := m.version
	m.mu.Unlock()

	m.publish(Event{Kind: kind, Version: v})
	return true
}

// fetchWithRetry performs the read with optional bounded retry. Only
// transport failures and 5xx responses are retried; a 4xx will not get better
// by asking again.
func (m *Manager) fetchWithRetry(ctx context.Context, cartID string) (*Snapshot, error) {
	var lastErr error
	attempts := m.readRetries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "load cart")
			case <-time.After(m.readBackoff):
			}
		}
		snap, err := m.gw.GetCart(ctx, cartID)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		m.lg.Debug("cart load retry", zap.Int("attempt", i+1), zap.Error(err))
	}
	return nil, lastErr
}

// retryable reports whether a gateway failure is worth one more read attempt.
func retryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Status >= 500
	}
	// Transport-level failure: connection refused, timeout, etc.
	return true
}

// recordError flags the Error state, keeping the last good snapshot. The next
// operation moves the state machine forward again.
func (m *Manager) recordError(op string, err error) {
	m.mu.Lock()
	m.state = StateError
	m.mu.Unlock()
	m.lg.Warn(op+" failed", zap.Error(err))
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default: // subscriber lagging, drop
		}
	}
}
