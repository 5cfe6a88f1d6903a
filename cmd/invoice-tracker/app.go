package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-tracker/internal/analytics"
	"github.com/zombor/invoice-tracker/internal/client"
	"github.com/zombor/invoice-tracker/internal/logging"
	"github.com/zombor/invoice-tracker/internal/session"
	"github.com/zombor/invoice-tracker/internal/store"
)

// errNotLoggedIn is returned by commands the gate sends back to login
var errNotLoggedIn = errors.New("not logged in")

// app holds the shared session state of one CLI run. Every command uses the
// same credential holder, client and store.
type app struct {
	out io.Writer
	in  io.Reader

	apiURL    string
	cachePath string
	currency  string
	timeout   time.Duration
	logLevel  string
	logFormat string

	cache    *store.Cache
	creds    *session.Holder
	gate     *session.Gate
	client   *client.Client
	invoices *store.Store
	stats    *analytics.Aggregator
}

func defaultCachePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "invoice-tracker.db"
	}
	return filepath.Join(dir, "invoice-tracker", "cache.db")
}

func (a *app) command() *ff.Command {
	fs := ff.NewFlagSet("invoice-tracker")
	fs.StringVar(&a.apiURL, 0, "api", "http://localhost:8000", "Invoice API base URL")
	fs.StringVar(&a.cachePath, 0, "cache", defaultCachePath(), "Local cache file path")
	fs.StringVar(&a.currency, 0, "currency", "USD", "Currency code used to display amounts")
	fs.DurationVar(&a.timeout, 0, "timeout", client.DefaultTimeout, "Timeout of a single API request")
	fs.StringVar(&a.logLevel, 0, "log-level", "warn", "Log level: debug, info, warn or error")
	fs.StringVar(&a.logFormat, 0, "log-format", "text", "Log format: text or json")
	fs.BoolLong("version", "Show version information")

	return &ff.Command{
		Name:      "invoice-tracker",
		Usage:     "invoice-tracker [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "upload invoices and follow their extraction",
		Flags:     fs,
		Subcommands: []*ff.Command{
			a.loginCommand(fs),
			a.registerCommand(fs),
			a.logoutCommand(fs),
			a.uploadCommand(fs),
			a.listCommand(fs),
			a.showCommand(fs),
			a.analyticsCommand(fs),
			a.profileCommand(fs),
		},
	}
}

// setup opens the cache and wires the session. The persisted token seeds the
// credential holder, and every later change is written back.
func (a *app) setup() error {
	if a.creds != nil {
		return nil
	}
	slog.SetDefault(logging.New(os.Stderr, logging.Config{Level: a.logLevel, Format: a.logFormat}))

	if err := os.MkdirAll(filepath.Dir(a.cachePath), 0700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	cache, err := store.OpenCache(a.cachePath)
	if err != nil {
		return err
	}
	a.cache = cache

	token, err := cache.Token()
	if err != nil {
		return err
	}
	a.creds = session.NewHolder(token)
	a.creds.Subscribe(func(token string) {
		if token == "" {
			// The session is gone; so is everything cached under it
			if err := cache.Clear(); err != nil {
				slog.Warn("Failed to clear cache", "error", err)
			}
			return
		}
		if err := cache.SaveToken(token); err != nil {
			slog.Warn("Failed to persist session token", "error", err)
		}
	})

	a.gate = session.NewGate(
		session.WithPublicPaths("/login", "/register"),
		session.WithHomePath("/history"),
	)
	a.client = client.NewWithDeps(a.apiURL, a.creds, &http.Client{Timeout: a.timeout}, client.DefaultRetryPolicy)

	a.invoices = store.New(a.client)
	if err := a.invoices.Restore(cache); err != nil {
		slog.Warn("Failed to restore cached invoices", "error", err)
	}

	a.stats = analytics.New(a.client, a.invoices)
	if last, err := cache.Analytics(); err != nil {
		slog.Warn("Failed to restore cached analytics", "error", err)
	} else if last != nil {
		a.stats.Seed(*last)
	}
	return nil
}

// guard asks the gate about path. Protected commands without a session fail
// with errNotLoggedIn; public ones with a session report it and stop.
func (a *app) guard(path string) (proceed bool, err error) {
	d := a.gate.Decide(path, a.creds.Present())
	switch d.Action {
	case session.RedirectLogin:
		return false, fmt.Errorf("%w: run 'invoice-tracker login' first (redirect %s)", errNotLoggedIn, d.Location)
	case session.RedirectHome:
		fmt.Fprintf(a.out, "Already logged in. Run 'invoice-tracker logout' to switch accounts.\n")
		return false, nil
	}
	return true, nil
}

// persist writes the held invoices back to the cache
func (a *app) persist() {
	if a.cache == nil || !a.creds.Present() {
		return
	}
	if err := a.invoices.Persist(a.cache); err != nil {
		slog.Warn("Failed to persist invoices", "error", err)
	}
}

func (a *app) close() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

// protected wraps a command body with setup and the gate check for path
func (a *app) protected(path string, fn func(ctx context.Context, args []string) error) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		if err := a.setup(); err != nil {
			return err
		}
		ok, err := a.guard(path)
		if !ok || err != nil {
			return err
		}
		defer a.persist()
		return fn(ctx, args)
	}
}
