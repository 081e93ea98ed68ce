package model

import "time"

// Addon is a priced modifier attachable to a product at order time.
// It has no identity beyond its name within a product's addon list.
type Addon struct {
	Name  string `json:"name"`
	Price Money  `json:"price"`
}

// Product is a menu entry. Server-owned; the client never mutates one in
// place, it only round-trips them through the admin catalog endpoints.
type Product struct {
	ID           int64   `json:"id"`
	RestaurantID int64   `json:"restaurantId,omitempty"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Price        Money   `json:"price"`
	Description  string  `json:"description,omitempty"`
	Image        string  `json:"image,omitempty"`
	IsAvailable  bool    `json:"isAvailable"`
	Addons       []Addon `json:"addons,omitempty"`
}

// OrderItem is a line of a placed order as the backend reports it.
type OrderItem struct {
	ID        int64   `json:"id"`
	Product   Product `json:"product"`
	Quantity  int64   `json:"quantity"`
	Addons    []Addon `json:"addons,omitempty"`
	UnitPrice Money   `json:"price"`
	Subtotal  Money   `json:"subtotal"`
}

// Order is a placed order tracked by the client.
type Order struct {
	ID           int64       `json:"id"`
	RestaurantID int64       `json:"restaurantId"`
	TableNumber  string      `json:"tableNumber"`
	CustomerName string      `json:"customerName"`
	Status       string      `json:"status"`
	Items        []OrderItem `json:"items"`
	TotalAmount  Money       `json:"totalAmount"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Restaurant identifies the establishment an admin session or a menu
// belongs to.
type Restaurant struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Email   string `json:"email,omitempty"`
	LogoURL string `json:"logoUrl,omitempty"`
}

// Menu is the combined "menu by restaurant slug" read: restaurant identity
// plus its product catalog.
type Menu struct {
	RestaurantID   int64     `json:"restaurantId"`
	RestaurantName string    `json:"restaurantName"`
	RestaurantLogo string    `json:"restaurantLogo,omitempty"`
	Products       []Product `json:"products"`
}

// AuthSession is the login response: a bearer token plus the restaurant it
// grants access to.
type AuthSession struct {
	Token      string     `json:"token"`
	Restaurant Restaurant `json:"restaurant"`
}
