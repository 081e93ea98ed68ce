// Package apitest runs an in-memory stand-in for the QRMeja backend:
// the same routes, envelope, auth scheme, and realtime rooms, backed by
// maps instead of a database. Tests dial it like the real thing.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/qrmeja/client/internal/enum"
	"github.com/qrmeja/client/internal/model"
	"github.com/qrmeja/client/internal/session"
)

// Default seeded credentials.
const (
	Email    = "owner@kopisenja.test"
	Password = "rahasia123"
)

var jwtSecret = []byte("apitest-secret")

// Server is one fake backend instance. Every instance starts with a
// seeded restaurant and an empty catalog.
type Server struct {
	ts  *httptest.Server
	hub *hub

	mu            sync.Mutex
	restaurant    model.Restaurant
	passwordHash  []byte
	products      map[int64]model.Product
	orders        map[int64]model.Order
	idempotency   map[string]int64
	nextProductID int64
	nextOrderID   int64
}

// New starts a fake backend and registers its shutdown with t.
func New(t *testing.T) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	s := &Server{
		hub: newHub(),
		restaurant: model.Restaurant{
			ID:    1,
			Name:  "Kopi Senja",
			Slug:  "kopi-senja",
			Email: Email,
		},
		passwordHash:  hash,
		products:      make(map[int64]model.Product),
		orders:        make(map[int64]model.Order),
		idempotency:   make(map[string]int64),
		nextProductID: 1,
		nextOrderID:   1,
	}
	go s.hub.run()

	s.ts = httptest.NewServer(s.router())
	t.Cleanup(s.ts.Close)
	return s
}

// BaseURL is the REST base URL for api.New.
func (s *Server) BaseURL() string {
	return s.ts.URL
}

// WSBaseURL is the realtime base URL for ws.Dial.
func (s *Server) WSBaseURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

// Restaurant returns the seeded restaurant.
func (s *Server) Restaurant() model.Restaurant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restaurant
}

// SeedProduct adds a product directly to the catalog, bypassing auth.
func (s *Server) SeedProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextProductID
	s.nextProductID++
	p.RestaurantID = s.restaurant.ID
	s.products[p.ID] = p
	return p
}

// SeedOrder inserts a PENDING order directly, without broadcasting.
func (s *Server) SeedOrder(items []model.OrderItem, total model.Money) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := model.Order{
		ID:           s.nextOrderID,
		RestaurantID: s.restaurant.ID,
		TableNumber:  "1",
		CustomerName: "Pelanggan",
		Status:       enum.OrderStatusPending,
		Items:        items,
		TotalAmount:  total,
		CreatedAt:    time.Now().UTC(),
	}
	s.nextOrderID++
	s.orders[order.ID] = order
	return order
}

// Order reads an order by id.
func (s *Server) Order(id int64) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// AdvanceOrder moves an order to a new status and broadcasts the update,
// the way the admin dashboard would.
func (s *Server) AdvanceOrder(t *testing.T, id int64, status string) {
	t.Helper()
	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		t.Fatalf("advance unknown order %d", id)
	}
	if !enum.CanTransition(o.Status, status) {
		s.mu.Unlock()
		t.Fatalf("illegal transition %s -> %s for order %d", o.Status, status, id)
	}
	o.Status = status
	s.orders[id] = o
	rid := o.RestaurantID
	s.mu.Unlock()

	s.hub.broadcastTo(rid, enum.EventOrderStatusUpdated, o)
}

// DropOrder deletes an order without broadcasting, simulating server-side
// cleanup that leaves clients holding a stale marker.
func (s *Server) DropOrder(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, "ok", nil)
	})

	r.Post("/auth/login", s.handleLogin)

	r.Get("/ws/restaurants/{rid}", func(w http.ResponseWriter, r *http.Request) {
		serveWS(s.hub, w, r)
	})

	// Public customer-facing routes.
	r.Get("/orders/menu/{slug}", s.handleMenu)
	r.Post("/orders", s.handleCreateOrder)
	r.Get("/orders/{id}", s.handleGetOrder)

	// Admin routes.
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/auth/profile", s.handleProfile)
		r.Put("/auth/profile", s.handleUpdateProfile)

		r.Get("/products", s.handleListProducts)
		r.Post("/products", s.handleCreateProduct)
		r.Put("/products/{id}", s.handleUpdateProduct)
		r.Delete("/products/{id}", s.handleDeleteProduct)

		r.Get("/orders", s.handleListOrders)
		r.Patch("/orders/{id}/status", s.handleUpdateOrderStatus)
		r.Delete("/orders/{id}", s.handleDeleteOrder)
	})

	return r
}

func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respond(w, http.StatusUnauthorized, "missing authorization header", nil)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			respond(w, http.StatusUnauthorized, "invalid authorization format", nil)
			return
		}
		claims := &session.Claims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
			return jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			respond(w, http.StatusUnauthorized, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respond(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"message": message, "data": data})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

// ── Auth ──

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	restaurant := s.restaurant
	hash := s.passwordHash
	s.mu.Unlock()

	if req.Email != restaurant.Email ||
		bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		respond(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	claims := session.Claims{
		RestaurantID: restaurant.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		respond(w, http.StatusInternalServerError, "sign token", nil)
		return
	}

	respond(w, http.StatusOK, "login successful", model.AuthSession{
		Token:      token,
		Restaurant: restaurant,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	restaurant := s.restaurant
	s.mu.Unlock()
	respond(w, http.StatusOK, "profile", restaurant)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		LogoURL string `json:"logoUrl"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respond(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	s.mu.Lock()
	s.restaurant.Name = req.Name
	if req.LogoURL != "" {
		s.restaurant.LogoURL = req.LogoURL
	}
	restaurant := s.restaurant
	s.mu.Unlock()

	respond(w, http.StatusOK, "profile updated", restaurant)
}

// ── Products ──

type productPayload struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Price       model.Money   `json:"price"`
	Description string        `json:"description"`
	Image       string        `json:"image"`
	IsAvailable bool          `json:"isAvailable"`
	Addons      []model.Addon `json:"addons"`
}

func (s *Server) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	products := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	s.mu.Unlock()

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	respond(w, http.StatusOK, "products", products)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productPayload
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respond(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	s.mu.Lock()
	p := model.Product{
		ID:           s.nextProductID,
		RestaurantID: s.restaurant.ID,
		Name:         req.Name,
		Category:     req.Category,
		Price:        req.Price,
		Description:  req.Description,
		Image:        req.Image,
		IsAvailable:  req.IsAvailable,
		Addons:       req.Addons,
	}
	s.nextProductID++
	s.products[p.ID] = p
	s.mu.Unlock()

	respond(w, http.StatusCreated, "product created", p)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respond(w, http.StatusBadRequest, "invalid product id", nil)
		return
	}
	var req productPayload
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	p, ok := s.products[id]
	if !ok {
		s.mu.Unlock()
		respond(w, http.StatusNotFound, "product not found", nil)
		return
	}
	p.Name = req.Name
	p.Category = req.Category
	p.Price = req.Price
	p.Description = req.Description
	p.Image = req.Image
	p.IsAvailable = req.IsAvailable
	p.Addons = req.Addons
	s.products[id] = p
	s.mu.Unlock()

	respond(w, http.StatusOK, "product updated", p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respond(w, http.StatusBadRequest, "invalid product id", nil)
		return
	}

	s.mu.Lock()
	_, ok := s.products[id]
	delete(s.products, id)
	s.mu.Unlock()

	if !ok {
		respond(w, http.StatusNotFound, "product not found", nil)
		return
	}
	respond(w, http.StatusOK, "product deleted", nil)
}

// ── Menu ──

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	s.mu.Lock()
	restaurant := s.restaurant
	products := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.IsAvailable {
			products = append(products, p)
		}
	}
	s.mu.Unlock()

	if slug != restaurant.Slug {
		respond(w, http.StatusNotFound, "restaurant not found", nil)
		return
	}

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	respond(w, http.StatusOK, "menu", model.Menu{
		RestaurantID:   restaurant.ID,
		RestaurantName: restaurant.Name,
		RestaurantLogo: restaurant.LogoURL,
		Products:       products,
	})
}

// ── Orders ──

type orderItemPayload struct {
	ProductID int64         `json:"productId"`
	Quantity  int64         `json:"quantity"`
	Addons    []model.Addon `json:"addons"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestaurantID int64              `json:"restaurantId"`
		TableNumber  string             `json:"tableNumber"`
		CustomerName string             `json:"customerName"`
		Items        []orderItemPayload `json:"items"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		respond(w, http.StatusBadRequest, "customer name is required", nil)
		return
	}
	if len(req.Items) == 0 {
		respond(w, http.StatusBadRequest, "order has no items", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idemKey := r.Header.Get("X-Idempotency-Key")
	if idemKey != "" {
		if id, seen := s.idempotency[idemKey]; seen {
			respond(w, http.StatusOK, "order already placed", s.orders[id])
			return
		}
	}

	total := model.NewMoney(0)
	items := make([]model.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, ok := s.products[it.ProductID]
		if !ok {
			respond(w, http.StatusBadRequest, "unknown product", nil)
			return
		}
		if it.Quantity <= 0 {
			respond(w, http.StatusBadRequest, "invalid quantity", nil)
			return
		}
		unit := p.Price
		for _, a := range it.Addons {
			unit = unit.Add(a.Price)
		}
		subtotal := unit.MulInt(it.Quantity)
		total = total.Add(subtotal)
		items = append(items, model.OrderItem{
			ID:        int64(len(items) + 1),
			Product:   p,
			Quantity:  it.Quantity,
			Addons:    it.Addons,
			UnitPrice: unit,
			Subtotal:  subtotal,
		})
	}

	order := model.Order{
		ID:           s.nextOrderID,
		RestaurantID: s.restaurant.ID,
		TableNumber:  req.TableNumber,
		CustomerName: req.CustomerName,
		Status:       enum.OrderStatusPending,
		Items:        items,
		TotalAmount:  total,
		CreatedAt:    time.Now().UTC(),
	}
	s.nextOrderID++
	s.orders[order.ID] = order
	if idemKey != "" {
		s.idempotency[idemKey] = order.ID
	}

	s.hub.broadcastTo(order.RestaurantID, enum.EventNewOrder, order)
	respond(w, http.StatusCreated, "order created", order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respond(w, http.StatusBadRequest, "invalid order id", nil)
		return
	}

	s.mu.Lock()
	order, ok := s.orders[id]
	s.mu.Unlock()

	if !ok {
		respond(w, http.StatusNotFound, "order not found", nil)
		return
	}
	respond(w, http.StatusOK, "order", order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	orders := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	s.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	respond(w, http.StatusOK, "orders", orders)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respond(w, http.StatusBadRequest, "invalid order id", nil)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !enum.IsValidStatus(req.Status) {
		respond(w, http.StatusBadRequest, "invalid status", nil)
		return
	}

	s.mu.Lock()
	order, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		respond(w, http.StatusNotFound, "order not found", nil)
		return
	}
	if !enum.CanTransition(order.Status, req.Status) {
		s.mu.Unlock()
		respond(w, http.StatusConflict, "illegal status transition", nil)
		return
	}
	order.Status = req.Status
	s.orders[id] = order
	s.mu.Unlock()

	s.hub.broadcastTo(order.RestaurantID, enum.EventOrderStatusUpdated, order)
	respond(w, http.StatusOK, "status updated", order)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respond(w, http.StatusBadRequest, "invalid order id", nil)
		return
	}

	s.mu.Lock()
	_, ok := s.orders[id]
	delete(s.orders, id)
	s.mu.Unlock()

	if !ok {
		respond(w, http.StatusNotFound, "order not found", nil)
		return
	}
	respond(w, http.StatusOK, "order deleted", nil)
}
