// Package ordersync tracks the lifecycle of the one in-flight order a
// client has per restaurant. Two sources report status — push events from
// the realtime channel and a fixed-interval poll — and both feed a single
// monotonic reducer, so whichever reports a forward transition first wins
// and late or backward reports are discarded.
package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qrmeja/client/internal/api"
	"github.com/qrmeja/client/internal/cart"
	"github.com/qrmeja/client/internal/enum"
	"github.com/qrmeja/client/internal/model"
	"github.com/qrmeja/client/internal/storage"
)

// Validation errors, checked locally before any network call.
var (
	ErrEmptyCustomerName = errors.New("customer name is required")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrOrderInFlight     = errors.New("an order is already awaiting payment")
)

// OrderAPI is the slice of the REST client the tracker needs.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req api.CreateOrderRequest) (model.Order, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
}

// Subscription is a live push-event subscription. Satisfied by
// *ws.Subscriber.
type Subscription interface {
	On(eventType string, h func(payload json.RawMessage))
	Close()
}

// Dialer opens a push subscription for a restaurant's room. A failed dial
// is not fatal — tracking degrades to polling only.
type Dialer func(ctx context.Context, restaurantID int64) (Subscription, error)

// Cart is what the tracker needs from the cart store.
type Cart interface {
	Lines() []cart.Line
	IsEmpty() bool
	Clear()
}

// MarkerStore persists the per-restaurant pending-order marker.
// Satisfied by *storage.Store.
type MarkerStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// statusEvent is the payload of an order_status_updated push event.
type statusEvent struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Tracker owns order placement and status tracking for one client
// process. At most one order is tracked at a time.
type Tracker struct {
	api          OrderAPI
	dial         Dialer
	markers      MarkerStore
	pollInterval time.Duration
	notify       func(model.Order)

	mu           sync.Mutex
	tracking     bool
	restaurantID int64
	order        model.Order
	cancel       context.CancelFunc
	sub          Subscription
	done         chan struct{}
}

// New creates a Tracker. notify, when non-nil, is invoked once per applied
// status transition (including the terminal one); it runs on tracker
// goroutines and must not block. dial may be nil for polling-only use.
func New(orderAPI OrderAPI, dial Dialer, markers MarkerStore, pollInterval time.Duration, notify func(model.Order)) *Tracker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Tracker{
		api:          orderAPI,
		dial:         dial,
		markers:      markers,
		pollInterval: pollInterval,
		notify:       notify,
	}
}

// PlaceOrder validates locally, submits the cart as a new order, records
// the pending marker, clears the cart, and starts tracking. On any
// failure the cart is left untouched so the user can retry.
func (t *Tracker) PlaceOrder(ctx context.Context, restaurantID int64, tableNumber, customerName string, c Cart) (model.Order, error) {
	customerName = strings.TrimSpace(customerName)
	if customerName == "" {
		return model.Order{}, ErrEmptyCustomerName
	}
	if c.IsEmpty() {
		return model.Order{}, ErrEmptyCart
	}
	if _, ok := t.PendingOrderID(restaurantID); ok {
		return model.Order{}, ErrOrderInFlight
	}

	lines := c.Lines()
	items := make([]api.OrderItemRequest, len(lines))
	for i, l := range lines {
		items[i] = api.OrderItemRequest{
			ProductID: l.Product.ID,
			Quantity:  l.Quantity,
			Addons:    l.Addons,
		}
	}

	order, err := t.api.CreateOrder(ctx, api.CreateOrderRequest{
		RestaurantID:   restaurantID,
		TableNumber:    tableNumber,
		CustomerName:   customerName,
		Items:          items,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return model.Order{}, err
	}

	if err := t.markers.Set(storage.PendingOrderKey(restaurantID), strconv.FormatInt(order.ID, 10)); err != nil {
		logrus.WithError(err).Warn("ordersync: persist pending marker")
	}
	c.Clear()

	t.Track(restaurantID, order)
	return order, nil
}

// Track starts following an order's status. Any previous tracking session
// is stopped first. Both channels run concurrently: push is best-effort,
// the poll loop is the guaranteed fallback.
func (t *Tracker) Track(restaurantID int64, order model.Order) {
	t.Stop()

	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.tracking = true
	t.restaurantID = restaurantID
	t.order = order
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	// Push subscription. Failure is logged and tracking continues on
	// polling alone.
	if t.dial != nil {
		sub, err := t.dial(ctx, restaurantID)
		if err != nil {
			logrus.WithError(err).Warn("ordersync: push channel unavailable, polling only")
		} else {
			sub.On(enum.EventOrderStatusUpdated, func(payload json.RawMessage) {
				var ev statusEvent
				if err := json.Unmarshal(payload, &ev); err != nil {
					logrus.WithError(err).Debug("ordersync: malformed status event")
					return
				}
				t.apply(ev.ID, ev.Status)
			})
			t.mu.Lock()
			t.sub = sub
			t.mu.Unlock()
		}
	}

	go t.pollLoop(ctx, order.ID)

	// If the tracked order is already terminal (possible on resume races)
	// finish immediately.
	if enum.IsTerminalStatus(order.Status) {
		t.finish(restaurantID)
	}
}

// pollLoop fetches the order at the configured interval until cancelled.
// A failed fetch is logged and retried on the next tick; a 404 means the
// order no longer exists, so the marker is stale and tracking ends.
func (t *Tracker) pollLoop(ctx context.Context, orderID int64) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			order, err := t.api.GetOrder(ctx, orderID)
			if err != nil {
				if errors.Is(err, api.ErrNotFound) {
					logrus.WithField("order_id", orderID).Info("ordersync: tracked order gone, clearing marker")
					t.mu.Lock()
					rid := t.restaurantID
					t.mu.Unlock()
					t.finish(rid)
					return
				}
				if ctx.Err() == nil {
					logrus.WithError(err).Debug("ordersync: poll failed, retrying next tick")
				}
				continue
			}
			t.apply(order.ID, order.Status)
		}
	}
}

// apply is the monotonic reducer both channels feed. A report only lands
// if it is a legal forward transition from the last observed status;
// everything else — duplicates, regressions, reports for some other
// order — is ignored.
func (t *Tracker) apply(orderID int64, status string) {
	t.mu.Lock()
	if !t.tracking || t.order.ID != orderID || !enum.CanTransition(t.order.Status, status) {
		t.mu.Unlock()
		return
	}
	t.order.Status = status
	order := t.order
	rid := t.restaurantID
	notify := t.notify
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"order_id": orderID,
		"status":   status,
	}).Info("ordersync: status advanced")

	if notify != nil {
		notify(order)
	}
	if enum.IsTerminalStatus(status) {
		t.finish(rid)
	}
}

// finish deletes the pending marker and stops tracking. Used when the
// order reaches a terminal status or turns out not to exist anymore.
func (t *Tracker) finish(restaurantID int64) {
	if err := t.markers.Delete(storage.PendingOrderKey(restaurantID)); err != nil {
		logrus.WithError(err).Warn("ordersync: delete pending marker")
	}
	t.Stop()
}

// Stop ends the current tracking session: the poll loop is cancelled and
// the push subscription closed, each exactly once. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}
	t.tracking = false
	cancel := t.cancel
	sub := t.sub
	done := t.done
	t.cancel = nil
	t.sub = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	if done != nil {
		close(done)
	}
}

// Done returns a channel closed when the current tracking session ends.
// Returns a closed channel when nothing is being tracked.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracking && t.done != nil {
		return t.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Status returns a snapshot of the tracked order, if any.
func (t *Tracker) Status() (model.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order, t.tracking
}

// PendingOrderID reads the persisted marker for a restaurant.
func (t *Tracker) PendingOrderID(restaurantID int64) (int64, bool) {
	raw, ok := t.markers.Get(storage.PendingOrderKey(restaurantID))
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// A marker we cannot parse is stale by definition.
		_ = t.markers.Delete(storage.PendingOrderKey(restaurantID))
		return 0, false
	}
	return id, true
}

// Resume picks tracking back up after a restart. If the marker points at
// an order that is finished or gone, the stale marker is cleared and the
// customer gets the fresh ordering flow; otherwise tracking restarts on
// the live order.
func (t *Tracker) Resume(ctx context.Context, restaurantID int64) (model.Order, bool, error) {
	id, ok := t.PendingOrderID(restaurantID)
	if !ok {
		return model.Order{}, false, nil
	}

	order, err := t.api.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			if derr := t.markers.Delete(storage.PendingOrderKey(restaurantID)); derr != nil {
				logrus.WithError(derr).Warn("ordersync: delete stale marker")
			}
			return model.Order{}, false, nil
		}
		return model.Order{}, false, err
	}

	if enum.IsTerminalStatus(order.Status) {
		if derr := t.markers.Delete(storage.PendingOrderKey(restaurantID)); derr != nil {
			logrus.WithError(derr).Warn("ordersync: delete finished marker")
		}
		return model.Order{}, false, nil
	}

	t.Track(restaurantID, order)
	return order, true, nil
}

// ResetPending abandons the in-flight order for a restaurant: the marker
// is removed and any active tracking stopped. Mirrors the customer's
// explicit "start a new order" action.
func (t *Tracker) ResetPending(restaurantID int64) error {
	t.mu.Lock()
	active := t.tracking && t.restaurantID == restaurantID
	t.mu.Unlock()
	if active {
		t.Stop()
	}
	return t.markers.Delete(storage.PendingOrderKey(restaurantID))
}
