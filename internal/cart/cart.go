// Package cart owns the customer's selected line items and their derived
// total. Mutation happens only through the Store methods so the
// one-line-per-combination invariant cannot be broken from outside.
package cart

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qrmeja/client/internal/model"
)

// Line is one cart entry: a product plus the multiset of addons chosen for
// it. Addon prices are frozen at selection time; a later catalog change
// does not reprice lines already in the cart.
type Line struct {
	Key      string        `json:"key"`
	Product  model.Product `json:"product"`
	Addons   []model.Addon `json:"addons,omitempty"`
	Quantity int64         `json:"quantity"`
}

// UnitPrice is the per-unit price of the line: base price plus every
// selected addon.
func (l Line) UnitPrice() model.Money {
	price := l.Product.Price
	for _, a := range l.Addons {
		price = price.Add(a.Price)
	}
	return price
}

// Subtotal is UnitPrice * Quantity.
func (l Line) Subtotal() model.Money {
	return l.UnitPrice().MulInt(l.Quantity)
}

// CombinationKey derives the canonical identity of a product+addon
// selection. Addon names are sorted so the same addons picked in a
// different order map to the same line.
func CombinationKey(productID int64, addons []model.Addon) string {
	names := make([]string, len(addons))
	for i, a := range addons {
		names[i] = a.Name
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Sprintf("%d", productID)
	}
	return fmt.Sprintf("%d|%s", productID, strings.Join(names, "|"))
}

// Snapshotter is the slice of the local storage API the cart needs to
// mirror itself. Satisfied by *storage.Store; nil means memory-only.
type Snapshotter interface {
	SetJSON(key string, v any) error
	GetJSON(key string, v any) (bool, error)
	Delete(key string) error
}

// Store holds the cart lines for one restaurant. Mutations are applied
// atomically under the mutex and mirrored to local storage write-through;
// the mirror is best-effort and never fails a mutation.
type Store struct {
	mu    sync.Mutex
	lines []Line
	snap  Snapshotter
	key   string
}

// New creates a Store mirrored under storageKey. If snap holds a previous
// snapshot for that key it is restored; a malformed snapshot starts empty.
func New(snap Snapshotter, storageKey string) *Store {
	s := &Store{snap: snap, key: storageKey}
	if snap != nil {
		var lines []Line
		if ok, err := snap.GetJSON(storageKey, &lines); err != nil {
			logrus.WithError(err).Warn("cart: discarding unreadable snapshot")
		} else if ok {
			s.lines = lines
		}
	}
	return s
}

// AddLine merges the selection into an existing line with the same
// combination key, or appends a new line with quantity 1. Always succeeds.
func (s *Store) AddLine(p model.Product, addons []model.Addon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := CombinationKey(p.ID, addons)
	for i := range s.lines {
		if s.lines[i].Key == key {
			s.lines[i].Quantity++
			s.persist()
			return
		}
	}

	frozen := make([]model.Addon, len(addons))
	copy(frozen, addons)
	sort.Slice(frozen, func(i, j int) bool { return frozen[i].Name < frozen[j].Name })

	s.lines = append(s.lines, Line{
		Key:      key,
		Product:  p,
		Addons:   frozen,
		Quantity: 1,
	})
	s.persist()
}

// Decrease lowers the quantity of the line with the given combination key
// by one, removing the line when it reaches zero. Unknown keys are a no-op.
func (s *Store) Decrease(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].Key != key {
			continue
		}
		if s.lines[i].Quantity > 1 {
			s.lines[i].Quantity--
		} else {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
		}
		s.persist()
		return
	}
}

// Remove drops the line with the given combination key regardless of
// quantity. Unknown keys are a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].Key == key {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			s.persist()
			return
		}
	}
}

// Clear empties the cart. Called after a successful order placement.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	if s.snap != nil {
		if err := s.snap.Delete(s.key); err != nil {
			logrus.WithError(err).Warn("cart: clear snapshot")
		}
	}
}

// Lines returns a copy of the current lines in insertion order. Addon
// slices are copied too; callers cannot reach the store's internal state.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Line, len(s.lines))
	for i, l := range s.lines {
		out[i] = l
		if len(l.Addons) > 0 {
			addons := make([]model.Addon, len(l.Addons))
			copy(addons, l.Addons)
			out[i].Addons = addons
		}
	}
	return out
}

// Len returns the number of distinct lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// IsEmpty reports whether the cart has no lines.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// Total sums (base price + addon prices) * quantity over all lines.
// An empty cart totals zero.
func (s *Store) Total() model.Money {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := model.NewMoney(0)
	for _, l := range s.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// persist mirrors the line set to local storage. Caller holds the mutex.
func (s *Store) persist() {
	if s.snap == nil {
		return
	}
	if err := s.snap.SetJSON(s.key, s.lines); err != nil {
		logrus.WithError(err).Warn("cart: persist snapshot")
	}
}
