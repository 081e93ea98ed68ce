// qrmeja is the command-line client for the QRMeja ordering backend.
// Customers browse a restaurant's menu, build a cart, and place and track
// orders; restaurant admins manage their catalog and print table QR links.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/qrmeja/client/internal/api"
	"github.com/qrmeja/client/internal/cart"
	"github.com/qrmeja/client/internal/config"
	"github.com/qrmeja/client/internal/model"
	"github.com/qrmeja/client/internal/ordersync"
	"github.com/qrmeja/client/internal/qr"
	"github.com/qrmeja/client/internal/session"
	"github.com/qrmeja/client/internal/storage"
	"github.com/qrmeja/client/internal/ws"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if os.Getenv("QRMEJA_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	app, err := newApp(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("initialize")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch os.Args[1] {
	case "login":
		runErr = app.login(ctx, os.Args[2:])
	case "logout":
		runErr = app.logout()
	case "profile":
		runErr = app.profile(ctx)
	case "menu":
		runErr = app.menu(ctx, os.Args[2:])
	case "order":
		runErr = app.order(ctx, os.Args[2:])
	case "track":
		runErr = app.track(ctx, os.Args[2:])
	case "reset":
		runErr = app.reset(ctx, os.Args[2:])
	case "products":
		runErr = app.products(ctx)
	case "orders":
		runErr = app.orders(ctx)
	case "qr":
		runErr = app.tables(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		logrus.Fatal(runErr)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: qrmeja <command> [flags]

Customer commands:
  menu     -slug <restaurant>                       show a restaurant's menu
  order    -slug <restaurant> -table N -name <you>  place and track an order
           -item <productID[+addon...]> (repeatable)
  track    -slug <restaurant>                       resume tracking a pending order
  reset    -slug <restaurant>                       abandon the pending order

Admin commands:
  login    -email <email> -password <password>
  logout
  profile
  products
  orders
  qr       -slug <restaurant> -count N [-size px]   print table QR links
`)
}

// app bundles the long-lived pieces every command needs.
type app struct {
	cfg    *config.Config
	kv     *storage.Store
	client *api.Client
	sess   *session.Session
}

func newApp(cfg *config.Config) (*app, error) {
	kv, err := storage.Open(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	return &app{
		cfg:    cfg,
		kv:     kv,
		client: api.New(cfg.APIBaseURL, cfg.HTTPTimeout),
		sess:   session.New(kv),
	}, nil
}

// requireAuth attaches the stored token or fails when logged out.
func (a *app) requireAuth() error {
	token, ok := a.sess.Token()
	if !ok {
		return fmt.Errorf("not logged in, run: qrmeja login")
	}
	a.client.SetToken(token)
	return nil
}

// ── Admin commands ──

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)
	if *email == "" || *password == "" {
		return fmt.Errorf("both -email and -password are required")
	}

	auth, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := a.sess.Save(auth); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	fmt.Printf("logged in as %s (%s)\n", auth.Restaurant.Name, auth.Restaurant.Slug)
	return nil
}

func (a *app) logout() error {
	if err := a.sess.Clear(); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func (a *app) profile(ctx context.Context) error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	r, err := a.client.Profile(ctx)
	if err != nil {
		return err
	}
	return printJSON(r)
}

func (a *app) products(ctx context.Context) error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	products, err := a.client.ListProducts(ctx)
	if err != nil {
		return err
	}
	for _, p := range products {
		available := "available"
		if !p.IsAvailable {
			available = "unavailable"
		}
		fmt.Printf("%4d  %-30s %10s  %s\n", p.ID, p.Name, p.Price.StringFixed(2), available)
	}
	return nil
}

func (a *app) orders(ctx context.Context) error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	orders, err := a.client.ListOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range orders {
		fmt.Printf("%4d  table %-4s %-12s %10s  %s\n",
			o.ID, o.TableNumber, o.Status, o.TotalAmount.StringFixed(2), o.CustomerName)
	}
	return nil
}

func (a *app) tables(args []string) error {
	fs := flag.NewFlagSet("qr", flag.ExitOnError)
	slug := fs.String("slug", "", "restaurant slug")
	count := fs.Int("count", 10, "number of tables")
	size := fs.Int("size", 200, "QR image size in pixels")
	fs.Parse(args)
	if *slug == "" {
		if r, ok := a.sess.Restaurant(); ok {
			*slug = r.Slug
		}
	}
	if *slug == "" {
		return fmt.Errorf("-slug is required")
	}

	for _, tbl := range qr.GenerateTables(a.cfg.SiteBaseURL, *slug, *count, *size) {
		fmt.Printf("table %2d  %s\n          %s\n", tbl.Number, tbl.URL, tbl.ImageURL)
	}
	return nil
}

// ── Customer commands ──

func (a *app) menu(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("menu", flag.ExitOnError)
	slug := fs.String("slug", "", "restaurant slug")
	fs.Parse(args)
	if *slug == "" {
		return fmt.Errorf("-slug is required")
	}

	menu, err := a.client.MenuBySlug(ctx, *slug)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n\n", menu.RestaurantName)
	for _, p := range menu.Products {
		fmt.Printf("%4d  %-30s %10s  %s\n", p.ID, p.Name, p.Price.StringFixed(2), p.Category)
		for _, addon := range p.Addons {
			fmt.Printf("        + %-26s %10s\n", addon.Name, addon.Price.StringFixed(2))
		}
	}
	return nil
}

// itemSpecs collects repeated -item flags: "productID[+addon+addon]".
type itemSpecs []string

func (i *itemSpecs) String() string     { return strings.Join(*i, ", ") }
func (i *itemSpecs) Set(v string) error { *i = append(*i, v); return nil }

func (a *app) order(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("order", flag.ExitOnError)
	slug := fs.String("slug", "", "restaurant slug")
	table := fs.String("table", "", "table number")
	name := fs.String("name", "", "customer name")
	var items itemSpecs
	fs.Var(&items, "item", "product to order: productID[+addon...], repeatable")
	fs.Parse(args)
	if *slug == "" || *table == "" {
		return fmt.Errorf("-slug and -table are required")
	}

	menu, err := a.client.MenuBySlug(ctx, *slug)
	if err != nil {
		return err
	}

	c := cart.New(a.kv, storage.CartKey(menu.RestaurantID))
	for _, spec := range items {
		if err := addItem(c, menu, spec); err != nil {
			return err
		}
	}
	if c.IsEmpty() {
		return fmt.Errorf("nothing to order, add at least one -item")
	}
	fmt.Printf("cart total: %s\n", c.Total().StringFixed(2))

	tracker := a.newTracker()
	order, err := tracker.PlaceOrder(ctx, menu.RestaurantID, *table, *name, c)
	if err != nil {
		return err
	}
	fmt.Printf("order #%d placed, total %s\n", order.ID, order.TotalAmount.StringFixed(2))

	return waitForOrder(ctx, tracker)
}

// addItem resolves one item spec against the menu and puts it in the cart.
func addItem(c *cart.Store, menu model.Menu, spec string) error {
	parts := strings.Split(spec, "+")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item %q: product id must be a number", spec)
	}

	var product model.Product
	found := false
	for _, p := range menu.Products {
		if p.ID == id {
			product = p
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("product %d is not on the menu", id)
	}

	var addons []model.Addon
	for _, name := range parts[1:] {
		matched := false
		for _, addon := range product.Addons {
			if strings.EqualFold(addon.Name, name) {
				addons = append(addons, addon)
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("product %q has no addon %q", product.Name, name)
		}
	}

	c.AddLine(product, addons)
	return nil
}

func (a *app) newTracker() *ordersync.Tracker {
	dial := func(ctx context.Context, restaurantID int64) (ordersync.Subscription, error) {
		sub, err := ws.Dial(ctx, a.cfg.WSBaseURL, restaurantID)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	notify := func(o model.Order) {
		fmt.Printf("order #%d is now %s\n", o.ID, o.Status)
	}
	return ordersync.New(a.client, dial, a.kv, a.cfg.PollInterval, notify)
}

// waitForOrder blocks until the order reaches a terminal status or the
// user interrupts.
func waitForOrder(ctx context.Context, tracker *ordersync.Tracker) error {
	fmt.Println("tracking order, press Ctrl+C to stop watching")
	select {
	case <-tracker.Done():
		if o, _ := tracker.Status(); o.ID != 0 {
			fmt.Printf("final status: %s\n", o.Status)
		}
	case <-ctx.Done():
		tracker.Stop()
		fmt.Println("\nstopped watching; run `qrmeja track` to resume")
	}
	return nil
}

func (a *app) track(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	slug := fs.String("slug", "", "restaurant slug")
	fs.Parse(args)
	if *slug == "" {
		return fmt.Errorf("-slug is required")
	}

	menu, err := a.client.MenuBySlug(ctx, *slug)
	if err != nil {
		return err
	}

	tracker := a.newTracker()
	order, active, err := tracker.Resume(ctx, menu.RestaurantID)
	if err != nil {
		return err
	}
	if !active {
		fmt.Println("no pending order")
		return nil
	}
	fmt.Printf("order #%d is %s\n", order.ID, order.Status)

	return waitForOrder(ctx, tracker)
}

func (a *app) reset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	slug := fs.String("slug", "", "restaurant slug")
	fs.Parse(args)
	if *slug == "" {
		return fmt.Errorf("-slug is required")
	}

	menu, err := a.client.MenuBySlug(ctx, *slug)
	if err != nil {
		return err
	}

	tracker := a.newTracker()
	if err := tracker.ResetPending(menu.RestaurantID); err != nil {
		return err
	}
	fmt.Println("pending order cleared")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
