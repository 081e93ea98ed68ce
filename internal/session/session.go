// Package session keeps the admin login state: the bearer token and the
// restaurant identity it belongs to, persisted in local storage so a
// restart does not log the admin out.
package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qrmeja/client/internal/model"
	"github.com/qrmeja/client/internal/storage"
)

// Claims is the subset of the backend's token claims the client reads.
// The signature is the server's to verify; the client only introspects
// expiry to know when a stored session is dead.
type Claims struct {
	RestaurantID int64 `json:"restaurantId"`
	jwt.RegisteredClaims
}

// Session is the persisted admin login state.
type Session struct {
	kv *storage.Store
}

func New(kv *storage.Store) *Session {
	return &Session{kv: kv}
}

// Save persists the login response.
func (s *Session) Save(auth model.AuthSession) error {
	if err := s.kv.Set(storage.KeyToken, auth.Token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := s.kv.Set(storage.KeyRestaurantID, strconv.FormatInt(auth.Restaurant.ID, 10)); err != nil {
		return fmt.Errorf("save restaurant id: %w", err)
	}
	if err := s.kv.Set(storage.KeyRestaurantName, auth.Restaurant.Name); err != nil {
		return fmt.Errorf("save restaurant name: %w", err)
	}
	if err := s.kv.Set(storage.KeyRestaurantSlug, auth.Restaurant.Slug); err != nil {
		return fmt.Errorf("save restaurant slug: %w", err)
	}
	return nil
}

// Token returns the stored bearer token. A missing or expired token reads
// as logged-out.
func (s *Session) Token() (string, bool) {
	token, ok := s.kv.Get(storage.KeyToken)
	if !ok || token == "" {
		return "", false
	}
	if TokenExpired(token, time.Now()) {
		return "", false
	}
	return token, true
}

// Restaurant returns the stored restaurant identity.
func (s *Session) Restaurant() (model.Restaurant, bool) {
	idStr, ok := s.kv.Get(storage.KeyRestaurantID)
	if !ok {
		return model.Restaurant{}, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return model.Restaurant{}, false
	}
	name, _ := s.kv.Get(storage.KeyRestaurantName)
	slug, _ := s.kv.Get(storage.KeyRestaurantSlug)
	return model.Restaurant{ID: id, Name: name, Slug: slug}, true
}

// Clear logs the admin out.
func (s *Session) Clear() error {
	for _, key := range []string{
		storage.KeyToken,
		storage.KeyRestaurantID,
		storage.KeyRestaurantName,
		storage.KeyRestaurantSlug,
	} {
		if err := s.kv.Delete(key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return nil
}

// TokenExpired inspects the token's exp claim without verifying the
// signature (verification is the server's job; the client only needs to
// know whether presenting this token is pointless). Malformed tokens and
// tokens without exp count as expired.
func TokenExpired(token string, now time.Time) bool {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !now.Before(claims.ExpiresAt.Time)
}
