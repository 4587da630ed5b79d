// Command cartctl drives the cart SDK against a running cart gateway (the
// stub or a real one). It keeps its session in a local file, so identity
// survives between invocations the same way a browser session would.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/shopfront-labs/cartsync/internal/cart"
	"github.com/shopfront-labs/cartsync/internal/gateway"
	"github.com/shopfront-labs/cartsync/internal/session"
)

// Config holds cartctl configuration, loadable from flags or environment
// variables (CARTCTL_ prefix).
type Config struct {
	GatewayURL  string `default:"http://localhost:8090" usage:"Cart gateway base URL" flag:"gateway-url"`
	SessionFile string `default:"" usage:"Session file path (default ~/.cartsync/session.json)" flag:"session-file"`
	Op          string `default:"show" usage:"Operation: login|logout|show|add|increase|decrease|remove"`
	UserID      string `usage:"User id (login)" flag:"user-id"`
	CartID      string `usage:"Cart id (login)" flag:"cart-id"`
	VariantID   string `usage:"Variant id (add/increase/decrease/remove)" flag:"variant-id"`
	Quantity    int    `default:"1" usage:"Quantity (add)"`
}

func loadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CARTCTL",
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return &cfg, nil
}

func (c *Config) sessionPath() string {
	if c.SessionFile != "" {
		return c.SessionFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(home, ".cartsync", "session.json")
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sess := session.NewStore(session.NewFileStore(cfg.sessionPath()), lg.Named("session"))
		gw, err := gateway.NewClient(cfg.GatewayURL,
			gateway.WithLogger(lg.Named("gateway")),
			gateway.WithTracerProvider(m.TracerProvider()),
		)
		if err != nil {
			return err
		}
		mgr := cart.NewManager(gw, sess, lg.Named("cart"),
			cart.WithReadRetry(2, 300*time.Millisecond))

		return run(ctx, cfg, sess, mgr)
	})
}

func run(ctx context.Context, cfg *Config, sess *session.Store, mgr *cart.Manager) error {
	switch cfg.Op {
	case "login":
		if cfg.UserID == "" || cfg.CartID == "" {
			return errors.New("login requires --user-id and --cart-id")
		}
		sess.Login(session.Session{UserID: cfg.UserID, CartID: cfg.CartID})
		fmt.Printf("logged in as %s (cart %s)\n", cfg.UserID, cfg.CartID)
		return nil

	case "logout":
		sess.Logout()
		mgr.Clear()
		fmt.Println("logged out")
		return nil

	case "show":
		if err := mgr.LoadCart(ctx); err != nil {
			return err
		}

	case "add":
		if err := mgr.AddItem(ctx, cfg.VariantID, cfg.Quantity); err != nil {
			return err
		}

	case "increase":
		if err := mgr.UpdateQuantity(ctx, cfg.VariantID, cart.Increase); err != nil {
			return err
		}

	case "decrease":
		if err := mgr.UpdateQuantity(ctx, cfg.VariantID, cart.Decrease); err != nil {
			return err
		}

	case "remove":
		if err := mgr.RemoveItem(ctx, cfg.VariantID); err != nil {
			return err
		}

	default:
		return errors.Errorf("unknown op %q", cfg.Op)
	}

	return printCart(mgr)
}

// printCart renders the current snapshot plus derived totals to stdout.
func printCart(mgr *cart.Manager) error {
	snap := mgr.CurrentCart()
	out := struct {
		Cart      cart.Snapshot `json:"cart"`
		ItemCount int           `json:"itemCount"`
		Total     string        `json:"totalAmount"`
	}{
		Cart:      snap,
		ItemCount: mgr.ItemCount(),
		Total:     mgr.TotalAmount().String(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	fmt.Println(string(data))
	return nil
}
