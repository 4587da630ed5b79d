package cart

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/shopfront-labs/cartsync/internal/session"
)

// --- Mock gateway ---

type mockGateway struct {
	mu    sync.Mutex
	calls []string

	getFn    func(ctx context.Context, cartID string) (*Snapshot, error)
	addFn    func(ctx context.Context, cartID, variantID string, qty int) (*Snapshot, error)
	updateFn func(ctx context.Context, cartID, variantID string, dir Direction) (*Snapshot, error)
	removeFn func(ctx context.Context, cartID, variantID string) (*Snapshot, error)
}

func (g *mockGateway) record(name string) {
	g.mu.Lock()
	g.calls = append(g.calls, name)
	g.mu.Unlock()
}

func (g *mockGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *mockGateway) GetCart(ctx context.Context, cartID string) (*Snapshot, error) {
	g.record("get")
	if g.getFn != nil {
		return g.getFn(ctx, cartID)
	}
	return &Snapshot{CartID: cartID}, nil
}

func (g *mockGateway) AddItem(ctx context.Context, cartID, variantID string, qty int) (*Snapshot, error) {
	g.record("add")
	if g.addFn != nil {
		return g.addFn(ctx, cartID, variantID, qty)
	}
	return &Snapshot{CartID: cartID}, nil
}

func (g *mockGateway) UpdateQuantity(ctx context.Context, cartID, variantID string, dir Direction) (*Snapshot, error) {
	g.record("update")
	if g.updateFn != nil {
		return g.updateFn(ctx, cartID, variantID, dir)
	}
	return &Snapshot{CartID: cartID}, nil
}

func (g *mockGateway) RemoveItem(ctx context.Context, cartID, variantID string) (*Snapshot, error) {
	g.record("remove")
	if g.removeFn != nil {
		return g.removeFn(ctx, cartID, variantID)
	}
	return &Snapshot{CartID: cartID}, nil
}

// --- Helpers ---

func testItem(variantID string, qty int, finalPrice int64) Item {
	return Item{
		VariantID:  variantID,
		ProductID:  "p-" + variantID,
		Name:       "Product " + variantID,
		Quantity:   qty,
		UnitPrice:  decimal.NewFromInt(finalPrice),
		FinalPrice: decimal.NewFromInt(finalPrice),
	}
}

func testSnapshot(items ...Item) *Snapshot {
	return &Snapshot{CartID: "c1", UserID: "u1", Items: items}
}

func loggedInStore(t *testing.T) *session.Store {
	t.Helper()
	s := session.NewStore(nil, nil)
	s.Login(session.Session{UserID: "u1", CartID: "c1"})
	return s
}

// --- Tests ---

func TestAddItem_NoSession(t *testing.T) {
	gw := &mockGateway{}
	m := NewManager(gw, session.NewStore(nil, nil), nil)

	err := m.AddItem(context.Background(), "v7", 2)
	require.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 0, gw.callCount())
	assert.Equal(t, 0, m.ItemCount())
	assert.Equal(t, uint64(0), m.Version())
}

func TestAddItem_ValidatesBeforeNetwork(t *testing.T) {
	gw := &mockGateway{}
	m := NewManager(gw, loggedInStore(t), nil)

	err := m.AddItem(context.Background(), "v7", 0)
	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "v7", iqErr.VariantID)

	err = m.AddItem(context.Background(), "", 1)
	require.ErrorIs(t, err, ErrEmptyVariant)

	assert.Equal(t, 0, gw.callCount())
}

func TestAddItem_ReplacesSnapshot(t *testing.T) {
	gw := &mockGateway{
		addFn: func(_ context.Context, cartID, variantID string, qty int) (*Snapshot, error) {
			// Total deliberately wrong on the wire; Normalize must fix it.
			snap := testSnapshot(testItem(variantID, qty, 100000))
			snap.Total = decimal.NewFromInt(999)
			return snap, nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)

	require.NoError(t, m.AddItem(context.Background(), "v7", 2))

	assert.Equal(t, 2, m.ItemCount())
	assert.Equal(t, "200000", m.TotalAmount().String())
	assert.Equal(t, uint64(1), m.Version())
	assert.Equal(t, StateReady, m.State())

	snap := m.CurrentCart()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "200000", snap.Items[0].LineTotal.String())
}

func TestAddItem_GatewayFailureKeepsState(t *testing.T) {
	good := testSnapshot(testItem("v1", 1, 50000))
	gw := &mockGateway{
		addFn: func(_ context.Context, _, variantID string, _ int) (*Snapshot, error) {
			if variantID == "v-broken" {
				return nil, &GatewayError{Status: 503, Message: "backend down"}
			}
			return good, nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)
	require.NoError(t, m.AddItem(context.Background(), "v1", 1))

	err := m.AddItem(context.Background(), "v-broken", 1)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 503, gwErr.Status)

	// Last known good snapshot survives the failure.
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, 1, m.ItemCount())
	assert.Equal(t, "50000", m.TotalAmount().String())
	assert.Equal(t, uint64(1), m.Version())

	// The manager stays usable.
	require.NoError(t, m.AddItem(context.Background(), "v1", 1))
	assert.Equal(t, StateReady, m.State())
}

func TestUpdateQuantity_InvalidDirection(t *testing.T) {
	gw := &mockGateway{}
	m := NewManager(gw, loggedInStore(t), nil)

	err := m.UpdateQuantity(context.Background(), "v1", Direction("sideways"))
	require.ErrorIs(t, err, ErrInvalidDirection)
	assert.Equal(t, 0, gw.callCount())
}

func TestTotalAlwaysSumOfLineTotals(t *testing.T) {
	// Simulated server state, recomputed on every mutation.
	lines := map[string]int{}
	serverSnap := func() *Snapshot {
		snap := testSnapshot()
		for _, v := range []string{"a", "b", "c"} {
			if q, ok := lines[v]; ok && q > 0 {
				snap.Items = append(snap.Items, testItem(v, q, 10000))
			}
		}
		return snap
	}
	gw := &mockGateway{
		addFn: func(_ context.Context, _, variantID string, qty int) (*Snapshot, error) {
			lines[variantID] += qty
			return serverSnap(), nil
		},
		updateFn: func(_ context.Context, _, variantID string, dir Direction) (*Snapshot, error) {
			if dir == Increase {
				lines[variantID]++
			} else if lines[variantID] <= 1 {
				delete(lines, variantID)
			} else {
				lines[variantID]--
			}
			return serverSnap(), nil
		},
		removeFn: func(_ context.Context, _, variantID string) (*Snapshot, error) {
			delete(lines, variantID)
			return serverSnap(), nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)
	ctx := context.Background()

	checkInvariant := func() {
		t.Helper()
		snap := m.CurrentCart()
		sum := decimal.Zero
		for _, it := range snap.Items {
			sum = sum.Add(it.LineTotal)
		}
		assert.True(t, m.TotalAmount().Equal(sum), "total %s != sum %s", m.TotalAmount(), sum)
	}

	require.NoError(t, m.AddItem(ctx, "a", 2))
	checkInvariant()
	require.NoError(t, m.AddItem(ctx, "b", 3))
	checkInvariant()
	require.NoError(t, m.UpdateQuantity(ctx, "a", Increase))
	checkInvariant()
	require.NoError(t, m.UpdateQuantity(ctx, "b", Decrease))
	checkInvariant()
	require.NoError(t, m.RemoveItem(ctx, "a"))
	checkInvariant()

	assert.Equal(t, 2, m.ItemCount())
	assert.Equal(t, "20000", m.TotalAmount().String())
}

func TestStaleLoadDiscarded(t *testing.T) {
	loadEntered := make(chan struct{})
	loadRelease := make(chan struct{})

	staleSnap := testSnapshot(testItem("old", 1, 1000))
	freshSnap := testSnapshot(testItem("new", 5, 2000))

	gw := &mockGateway{
		getFn: func(_ context.Context, _ string) (*Snapshot, error) {
			close(loadEntered)
			<-loadRelease
			return staleSnap, nil
		},
		addFn: func(_ context.Context, _, _ string, _ int) (*Snapshot, error) {
			return freshSnap, nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)

	loadDone := make(chan error, 1)
	go func() { loadDone <- m.LoadCart(context.Background()) }()

	<-loadEntered
	// A mutation is accepted while the read is still in flight.
	require.NoError(t, m.AddItem(context.Background(), "new", 5))
	require.Equal(t, uint64(1), m.Version())

	close(loadRelease)
	require.NoError(t, <-loadDone)

	// The older response must not overwrite the newer state, and the version
	// counter must not move for a discarded snapshot.
	assert.Equal(t, uint64(1), m.Version())
	snap := m.CurrentCart()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "new", snap.Items[0].VariantID)
	assert.Equal(t, 5, m.ItemCount())
}

func TestMutationsSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	gw := &mockGateway{
		addFn: func(_ context.Context, cartID, variantID string, qty int) (*Snapshot, error) {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return testSnapshot(testItem(variantID, qty, 1000)), nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return m.AddItem(context.Background(), "v1", 1)
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), maxInFlight.Load(), "mutations must not overlap")
	assert.Equal(t, uint64(8), m.Version())
}

func TestBuyNowDoesNotTouchCart(t *testing.T) {
	gw := &mockGateway{
		addFn: func(_ context.Context, _, variantID string, qty int) (*Snapshot, error) {
			return testSnapshot(testItem(variantID, qty, 100000)), nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)
	require.NoError(t, m.AddItem(context.Background(), "v1", 2))
	before := m.Version()

	item := testItem("v-now", 3, 75000)
	require.NoError(t, m.SetBuyNowItem(item))

	got, ok := m.BuyNowItem()
	require.True(t, ok)
	assert.Equal(t, "v-now", got.VariantID)
	assert.Equal(t, "225000", got.LineTotal.String())

	// Persisted cart untouched, no gateway traffic, no version bump.
	assert.Equal(t, 2, m.ItemCount())
	assert.Equal(t, before, m.Version())
	assert.Equal(t, 1, gw.callCount())

	m.ClearBuyNowItem()
	_, ok = m.BuyNowItem()
	assert.False(t, ok)
	assert.Equal(t, 2, m.ItemCount())
}

func TestSetBuyNowItem_Validation(t *testing.T) {
	m := NewManager(&mockGateway{}, loggedInStore(t), nil)

	err := m.SetBuyNowItem(Item{VariantID: "v1", Quantity: 0})
	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)

	err = m.SetBuyNowItem(Item{Quantity: 1})
	require.ErrorIs(t, err, ErrEmptyVariant)
}

func TestSubscribe(t *testing.T) {
	gw := &mockGateway{
		addFn: func(_ context.Context, _, variantID string, qty int) (*Snapshot, error) {
			return testSnapshot(testItem(variantID, qty, 1000)), nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)

	events, cancel := m.Subscribe()
	defer cancel()

	require.NoError(t, m.AddItem(context.Background(), "v1", 1))

	select {
	case ev := <-events:
		assert.Equal(t, EventUpdated, ev.Kind)
		assert.Equal(t, uint64(1), ev.Version)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestMutationSurvivesViewCancellation(t *testing.T) {
	gw := &mockGateway{
		addFn: func(ctx context.Context, _, variantID string, qty int) (*Snapshot, error) {
			// A gateway honouring the view's context would abort here.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return testSnapshot(testItem(variantID, qty, 1000)), nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the consuming view has already gone away

	require.NoError(t, m.AddItem(ctx, "v1", 1))
	assert.Equal(t, 1, m.ItemCount())
	assert.Equal(t, uint64(1), m.Version())
}

func TestLoadCart_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	gw := &mockGateway{
		getFn: func(_ context.Context, _ string) (*Snapshot, error) {
			if attempts.Add(1) < 3 {
				return nil, &GatewayError{Status: 502, Message: "bad gateway"}
			}
			return testSnapshot(testItem("v1", 1, 1000)), nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil, WithReadRetry(3, time.Millisecond))

	require.NoError(t, m.LoadCart(context.Background()))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, m.ItemCount())
}

func TestLoadCart_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	gw := &mockGateway{
		getFn: func(_ context.Context, _ string) (*Snapshot, error) {
			attempts.Add(1)
			return nil, &GatewayError{Status: 404, Message: "no such cart"}
		},
	}
	m := NewManager(gw, loggedInStore(t), nil, WithReadRetry(3, time.Millisecond))

	err := m.LoadCart(context.Background())
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, StateError, m.State())
}

func TestLoadCart_NoSession(t *testing.T) {
	m := NewManager(&mockGateway{}, session.NewStore(nil, nil), nil)
	require.ErrorIs(t, m.LoadCart(context.Background()), ErrNoSession)
}

func TestClear(t *testing.T) {
	gw := &mockGateway{
		addFn: func(_ context.Context, _, variantID string, qty int) (*Snapshot, error) {
			return testSnapshot(testItem(variantID, qty, 1000)), nil
		},
	}
	m := NewManager(gw, loggedInStore(t), nil)
	require.NoError(t, m.AddItem(context.Background(), "v1", 2))

	m.Clear()
	assert.Equal(t, 0, m.ItemCount())
	assert.Equal(t, "0", m.TotalAmount().String())
	assert.Equal(t, StateUninitialized, m.State())
	// Clear still advances the version so late snapshots are discarded.
	assert.Equal(t, uint64(2), m.Version())
}
