package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/qrmeja/client/internal/api"
	"github.com/qrmeja/client/internal/cart"
	"github.com/qrmeja/client/internal/enum"
	"github.com/qrmeja/client/internal/model"
	"github.com/qrmeja/client/internal/storage"
)

// --- Mocks ---

// mockAPI implements OrderAPI with configurable behavior.
type mockAPI struct {
	createOrderFn func(ctx context.Context, req api.CreateOrderRequest) (model.Order, error)
	getOrderFn    func(ctx context.Context, id int64) (model.Order, error)
}

func (m *mockAPI) CreateOrder(ctx context.Context, req api.CreateOrderRequest) (model.Order, error) {
	return m.createOrderFn(ctx, req)
}

func (m *mockAPI) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	return m.getOrderFn(ctx, id)
}

// mockSub is a push subscription tests can emit events into.
type mockSub struct {
	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	closed   int
}

func newMockSub() *mockSub {
	return &mockSub{handlers: make(map[string][]func(json.RawMessage))}
}

func (m *mockSub) On(eventType string, h func(payload json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = append(m.handlers[eventType], h)
}

func (m *mockSub) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *mockSub) emit(t *testing.T, eventType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	m.mu.Lock()
	handlers := append([]func(json.RawMessage){}, m.handlers[eventType]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

func (m *mockSub) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// --- Helpers ---

func testMarkers(t *testing.T) *storage.Store {
	t.Helper()
	kv, err := storage.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return kv
}

func pendingOrder(id int64) model.Order {
	return model.Order{ID: id, RestaurantID: 1, Status: enum.OrderStatusPending}
}

func stubAPI(order model.Order) *mockAPI {
	return &mockAPI{
		createOrderFn: func(ctx context.Context, req api.CreateOrderRequest) (model.Order, error) {
			return order, nil
		},
		getOrderFn: func(ctx context.Context, id int64) (model.Order, error) {
			return order, nil
		},
	}
}

func subDialer(sub *mockSub) Dialer {
	return func(ctx context.Context, restaurantID int64) (Subscription, error) {
		return sub, nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fullCart() *cart.Store {
	c := cart.New(nil, "test")
	c.AddLine(model.Product{ID: 10, Name: "Nasi Goreng", Price: model.NewMoney(20000)}, []model.Addon{
		{Name: "Egg", Price: model.NewMoney(3000)},
	})
	c.AddLine(model.Product{ID: 11, Name: "Es Teh", Price: model.NewMoney(5000)}, nil)
	return c
}

// --- PlaceOrder ---

func TestPlaceOrderValidatesLocally(t *testing.T) {
	called := false
	m := &mockAPI{
		createOrderFn: func(ctx context.Context, req api.CreateOrderRequest) (model.Order, error) {
			called = true
			return model.Order{}, nil
		},
	}
	tr := New(m, nil, testMarkers(t), time.Second, nil)

	c := fullCart()
	if _, err := tr.PlaceOrder(context.Background(), 1, "5", "   ", c); !errors.Is(err, ErrEmptyCustomerName) {
		t.Fatalf("blank name: err = %v, want ErrEmptyCustomerName", err)
	}

	empty := cart.New(nil, "empty")
	if _, err := tr.PlaceOrder(context.Background(), 1, "5", "Budi", empty); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("empty cart: err = %v, want ErrEmptyCart", err)
	}

	if called {
		t.Fatal("validation failures must not reach the network")
	}
}

func TestPlaceOrderSuccess(t *testing.T) {
	var gotReq api.CreateOrderRequest
	m := &mockAPI{
		createOrderFn: func(ctx context.Context, req api.CreateOrderRequest) (model.Order, error) {
			gotReq = req
			return pendingOrder(42), nil
		},
		getOrderFn: func(ctx context.Context, id int64) (model.Order, error) {
			return pendingOrder(42), nil
		},
	}
	markers := testMarkers(t)
	tr := New(m, nil, markers, time.Second, nil)
	defer tr.Stop()

	c := fullCart()
	order, err := tr.PlaceOrder(context.Background(), 1, "5", "Budi", c)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.ID != 42 {
		t.Errorf("order id = %d", order.ID)
	}

	if gotReq.CustomerName != "Budi" || gotReq.TableNumber != "5" || gotReq.RestaurantID != 1 {
		t.Errorf("unexpected request %+v", gotReq)
	}
	if len(gotReq.Items) != 2 || gotReq.Items[0].ProductID != 10 || len(gotReq.Items[0].Addons) != 1 {
		t.Errorf("unexpected items %+v", gotReq.Items)
	}
	if gotReq.IdempotencyKey == "" {
		t.Error("expected an idempotency key")
	}

	if !c.IsEmpty() {
		t.Error("cart should be cleared after successful placement")
	}
	if id, ok := tr.PendingOrderID(1); !ok || id != 42 {
		t.Errorf("pending marker = (%d, %v), want (42, true)", id, ok)
	}
	if _, tracking := tr.Status(); !tracking {
		t.Error("tracker should be active after placement")
	}
}

func TestPlaceOrderFailureLeavesCartIntact(t *testing.T) {
	m := &mockAPI{
		createOrderFn: func(ctx context.Context, req api.CreateOrderRequest) (model.Order, error) {
			return model.Order{}, &api.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}
		},
	}
	tr := New(m, nil, testMarkers(t), time.Second, nil)

	c := fullCart()
	if _, err := tr.PlaceOrder(context.Background(), 1, "5", "Budi", c); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 2 {
		t.Error("cart must be untouched after a failed placement")
	}
	if _, ok := tr.PendingOrderID(1); ok {
		t.Error("no marker should be written on failure")
	}
}

func TestPlaceOrderRefusedWhileOrderInFlight(t *testing.T) {
	markers := testMarkers(t)
	if err := markers.Set(storage.PendingOrderKey(1), "7"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	tr := New(stubAPI(pendingOrder(7)), nil, markers, time.Second, nil)

	if _, err := tr.PlaceOrder(context.Background(), 1, "5", "Budi", fullCart()); !errors.Is(err, ErrOrderInFlight) {
		t.Fatalf("err = %v, want ErrOrderInFlight", err)
	}
}

// --- Reducer monotonicity ---

func TestReducerAcceptsForwardTransitions(t *testing.T) {
	tr := New(stubAPI(pendingOrder(1)), nil, testMarkers(t), time.Hour, nil)
	tr.Track(1, pendingOrder(1))
	defer tr.Stop()

	tr.apply(1, enum.OrderStatusPaid)
	if o, _ := tr.Status(); o.Status != enum.OrderStatusPaid {
		t.Fatalf("status = %s, want PAID", o.Status)
	}
}

func TestReducerIgnoresStaleAndBackwardReports(t *testing.T) {
	tr := New(stubAPI(pendingOrder(1)), nil, testMarkers(t), time.Hour, nil)
	tr.Track(1, pendingOrder(1))
	defer tr.Stop()

	tr.apply(1, enum.OrderStatusPaid)

	// A stale poll response still reporting PENDING arrives afterward.
	tr.apply(1, enum.OrderStatusPending)
	if o, _ := tr.Status(); o.Status != enum.OrderStatusPaid {
		t.Fatalf("status regressed to %s", o.Status)
	}

	// Duplicate report of the current status.
	tr.apply(1, enum.OrderStatusPaid)
	if o, _ := tr.Status(); o.Status != enum.OrderStatusPaid {
		t.Fatalf("status = %s after duplicate", o.Status)
	}

	// A report for some other order is not ours to apply.
	tr.apply(99, enum.OrderStatusCompleted)
	if o, _ := tr.Status(); o.Status != enum.OrderStatusPaid {
		t.Fatalf("status = %s after foreign report", o.Status)
	}
}

func TestReducerRejectsCancelAfterPaid(t *testing.T) {
	tr := New(stubAPI(pendingOrder(1)), nil, testMarkers(t), time.Hour, nil)
	tr.Track(1, pendingOrder(1))
	defer tr.Stop()

	tr.apply(1, enum.OrderStatusPaid)
	tr.apply(1, enum.OrderStatusCancelled)
	if o, _ := tr.Status(); o.Status != enum.OrderStatusPaid {
		t.Fatalf("CANCELLED applied after PAID, status = %s", o.Status)
	}
}

// --- Push + poll interplay ---

func TestPushWinsThenStalePollIgnored(t *testing.T) {
	sub := newMockSub()
	markers := testMarkers(t)

	// The poll keeps answering PENDING — it has not caught up.
	m := &mockAPI{
		getOrderFn: func(ctx context.Context, id int64) (model.Order, error) {
			return pendingOrder(42), nil
		},
	}
	tr := New(m, subDialer(sub), markers, 10*time.Millisecond, nil)
	tr.Track(1, pendingOrder(42))
	defer tr.Stop()

	sub.emit(t, enum.EventOrderStatusUpdated, statusEvent{ID: 42, Status: enum.OrderStatusPaid})

	waitFor(t, "PAID via push", func() bool {
		o, _ := tr.Status()
		return o.Status == enum.OrderStatusPaid
	})

	// Let several stale poll ticks land; the status must hold.
	time.Sleep(50 * time.Millisecond)
	if o, _ := tr.Status(); o.Status != enum.OrderStatusPaid {
		t.Fatalf("stale polls regressed status to %s", o.Status)
	}
}

func TestPollAdvancesWhenPushIsSilent(t *testing.T) {
	markers := testMarkers(t)
	m := &mockAPI{
		getOrderFn: func(ctx context.Context, id int64) (model.Order, error) {
			o := pendingOrder(42)
			o.Status = enum.OrderStatusPaid
			return o, nil
		},
	}
	tr := New(m, nil, markers, 10*time.Millisecond, nil)
	tr.Track(1, pendingOrder(42))
	defer tr.Stop()

	waitFor(t, "PAID via poll", func() bool {
		o, _ := tr.Status()
		return o.Status == enum.OrderStatusPaid
	})
}

func TestPollFailureRetriesNextTick(t *testing.T) {
	markers := testMarkers(t)
	var mu sync.Mutex
	calls := 0
	m := &mockAPI{
		getOrderFn: func(ctx context.Context, id int64) (model.Order, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				return model.Order{}, errors.New("connection refused")
			}
			o := pendingOrder(42)
			o.Status = enum.OrderStatusPaid
			return o, nil
		},
	}
	tr := New(m, nil, markers, 10*time.Millisecond, nil)
	tr.Track(1, pendingOrder(42))
	defer tr.Stop()

	waitFor(t, "recovery after failed polls", func() bool {
		o, _ := tr.Status()
		return o.Status == enum.OrderStatusPaid
	})
}

func TestDialFailureDegradesToPolling(t *testing.T) {
	markers := testMarkers(t)
	m := &mockAPI{
		getOrderFn: func(ctx context.Context, id int64) (model.Order, error) {
			o := pendingOrder(42)
			o.Status = enum.OrderStatusPaid
			return o, nil
		},
	}
	failDial := func(ctx context.Context, restaurantID int64) (Subscription, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	tr := New(m, failDial, markers, 10*time.Millisecond, nil)
	tr.Track(1, pendingOrder(42))
	defer tr.Stop()

	waitFor(t, "PAID despite dead push channel", func() bool {
		o, _ := tr.Status()
		return o.Status == enum.OrderStatusPaid
	})
}

// --- Terminal handling ---

func TestTerminalStatusFinishesTracking(t *testing.T) {
	sub := newMockSub()
	markers := testMarkers(t)
	if err := markers.Set(storage.PendingOrderKey(1), "42"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	var mu sync.Mutex
	var notified []string
	notify := func(o model.Order) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, o.Status)
	}

	tr := New(stubAPI(pendingOrder(42)), subDialer(sub), markers, time.Hour, notify)
	tr.Track(1, pendingOrder(42))

	sub.emit(t, enum.EventOrderStatusUpdated, statusEvent{ID: 42, Status: enum.OrderStatusPaid})
	sub.emit(t, enum.EventOrderStatusUpdated, statusEvent{ID: 42, Status: enum.OrderStatusCompleted})

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("tracking did not finish on terminal status")
	}

	if _, ok := tr.PendingOrderID(1); ok {
		t.Error("marker must be deleted on terminal status")
	}
	if _, tracking := tr.Status(); tracking {
		t.Error("tracker must stop on terminal status")
	}
	if sub.closeCount() != 1 {
		t.Errorf("subscription closed %d times, want exactly 1", sub.closeCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 2 || notified[0] != enum.OrderStatusPaid || notified[1] != enum.OrderStatusCompleted {
		t.Errorf("notifications = %v", notified)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sub := newMockSub()
	tr := New(stubAPI(pendingOrder(1)), subDialer(sub), testMarkers(t), time.Hour, nil)
	tr.Track(1, pendingOrder(1))

	tr.Stop()
	tr.Stop()
	tr.Stop()

	if sub.closeCount() != 1 {
		t.Errorf("subscription closed %d times, want 1", sub.closeCount())
	}
}

// --- Resume ---

func TestResumeNoMarker(t *testing.T) {
	tr := New(stubAPI(pendingOrder(1)), nil, testMarkers(t), time.Hour, nil)
	_, active, err := tr.Resume(context.Background(), 1)
	if err != nil || active {
		t.Fatalf("Resume = (%v, %v), want inactive, nil", active, err)
	}
}

func TestResumeLiveOrder(t *testing.T) {
	markers := testMarkers(t)
	if err := markers.Set(storage.PendingOrderKey(1), "42"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	o := pendingOrder(42)
	o.Status = enum.OrderStatusPaid
	tr := New(stubAPI(o), nil, markers, time.Hour, nil)
	defer tr.Stop()

	got, active, err := tr.Resume(context.Background(), 1)
	if err != nil || !active {
		t.Fatalf("Resume = (%v, %v), want active", active, err)
	}
	if got.ID != 42 || got.Status != enum.OrderStatusPaid {
		t.Errorf("resumed order %+v", got)
	}
}

func TestResumeCompletedOrderClearsMarker(t *testing.T) {
	markers := testMarkers(t)
	if err := markers.Set(storage.PendingOrderKey(1), "42"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	o := pendingOrder(42)
	o.Status = enum.OrderStatusCompleted
	tr := New(stubAPI(o), nil, markers, time.Hour, nil)

	_, active, err := tr.Resume(context.Background(), 1)
	if err != nil || active {
		t.Fatalf("Resume = (%v, %v), want inactive", active, err)
	}
	if _, ok := markers.Get(storage.PendingOrderKey(1)); ok {
		t.Error("finished order's marker must be cleared on resume")
	}
}

func TestResumeMissingOrderClearsMarker(t *testing.T) {
	markers := testMarkers(t)
	if err := markers.Set(storage.PendingOrderKey(1), "42"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	m := &mockAPI{
		getOrderFn: func(ctx context.Context, id int64) (model.Order, error) {
			return model.Order{}, &api.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}
		},
	}
	tr := New(m, nil, markers, time.Hour, nil)

	_, active, err := tr.Resume(context.Background(), 1)
	if err != nil || active {
		t.Fatalf("Resume = (%v, %v), want inactive, nil", active, err)
	}
	if _, ok := markers.Get(storage.PendingOrderKey(1)); ok {
		t.Error("stale marker must be cleared when the order is gone")
	}
}

func TestResetPending(t *testing.T) {
	markers := testMarkers(t)
	tr := New(stubAPI(pendingOrder(42)), nil, markers, time.Hour, nil)
	tr.Track(1, pendingOrder(42))
	if err := markers.Set(storage.PendingOrderKey(1), "42"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	if err := tr.ResetPending(1); err != nil {
		t.Fatalf("ResetPending: %v", err)
	}
	if _, ok := tr.PendingOrderID(1); ok {
		t.Error("marker should be gone")
	}
	if _, tracking := tr.Status(); tracking {
		t.Error("tracking should stop on reset")
	}
}
