package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-tracker/internal/analytics"
	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/tracker"
	"github.com/zombor/invoice-tracker/internal/upload"
)

func (a *app) loginCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("login").SetParent(parent)
	email := fs.StringLong("email", "", "Account email")
	password := fs.StringLong("password", "", "Account password (prompted when empty)")

	return &ff.Command{
		Name:      "login",
		Usage:     "invoice-tracker login --email EMAIL [--password PASSWORD]",
		ShortHelp: "start a session",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if ok, err := a.guard("/login"); !ok || err != nil {
				return err
			}
			if *email == "" {
				return fmt.Errorf("%w: --email is required", invoice.ErrValidation)
			}
			pw, err := a.secret(*password, "Password: ")
			if err != nil {
				return err
			}

			if _, err := a.client.Login(ctx, *email, pw); err != nil {
				return err
			}
			user, err := a.client.Me(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s\n", displayName(user))
			return nil
		},
	}
}

func (a *app) registerCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("register").SetParent(parent)
	email := fs.StringLong("email", "", "Account email")
	password := fs.StringLong("password", "", "Account password (prompted when empty)")
	name := fs.StringLong("name", "", "Full name")

	return &ff.Command{
		Name:      "register",
		Usage:     "invoice-tracker register --email EMAIL [--name NAME] [--password PASSWORD]",
		ShortHelp: "create an account",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if ok, err := a.guard("/register"); !ok || err != nil {
				return err
			}
			if *email == "" {
				return fmt.Errorf("%w: --email is required", invoice.ErrValidation)
			}
			pw, err := a.secret(*password, "Password: ")
			if err != nil {
				return err
			}

			user, err := a.client.Register(ctx, *email, pw, *name)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s. Run 'invoice-tracker login' to start a session.\n", displayName(user))
			return nil
		},
	}
}

func (a *app) logoutCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("logout").SetParent(parent)
	return &ff.Command{
		Name:      "logout",
		Usage:     "invoice-tracker logout",
		ShortHelp: "end the session and clear the local cache",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			a.client.Logout()
			// Clear also runs through the holder subscription, but only when a
			// token was held
			if err := a.cache.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func (a *app) uploadCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("upload").SetParent(parent)
	wait := fs.BoolLong("wait", "Follow each upload until extraction finishes")
	concurrency := fs.IntLong("concurrency", upload.DefaultConcurrency, "Maximum uploads in flight")
	maxBytes := fs.IntLong("max-bytes", int(upload.DefaultMaxBytes), "Largest accepted file size in bytes")

	return &ff.Command{
		Name:      "upload",
		Usage:     "invoice-tracker upload [--wait] FILE...",
		ShortHelp: "upload invoice documents",
		Flags:     fs,
		Exec: a.protected("/upload", func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: no files given", invoice.ErrValidation)
			}

			files := make([]upload.File, 0, len(args))
			for _, path := range args {
				f, err := upload.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			cfg := upload.Config{MaxBytes: int64(*maxBytes)}
			results := upload.Batch(ctx, a.client, a.invoices, cfg, files, *concurrency)

			var (
				accepted []int64
				failed   int
			)
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(a.out, "%s: rejected: %v\n", r.File, r.Err)
					continue
				}
				accepted = append(accepted, r.Invoice.ID)
				fmt.Fprintf(a.out, "%s: uploaded as #%d (%s)\n", r.File, r.Invoice.ID, r.Invoice.Status)
			}

			if *wait && len(accepted) > 0 {
				fmt.Fprintln(a.out, "Waiting for extraction...")
				final, err := tracker.New(a.client, a.invoices).WatchAll(ctx, accepted)
				for _, inv := range final {
					if inv != nil {
						fmt.Fprintln(a.out, summaryLine(*inv, a.currency))
					}
				}
				if err != nil {
					return err
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(results))
			}
			return nil
		}),
	}
}

func (a *app) listCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("list").SetParent(parent)
	limit := fs.IntLong("limit", 0, "Maximum invoices to show (0 for the server default)")
	skip := fs.IntLong("skip", 0, "Invoices to skip from the newest")

	return &ff.Command{
		Name:      "list",
		Usage:     "invoice-tracker list [--limit N] [--skip N]",
		ShortHelp: "list invoices, newest first",
		Flags:     fs,
		Exec: a.protected("/history", func(ctx context.Context, args []string) error {
			fetch := 0
			if *limit > 0 {
				fetch = *skip + *limit
			}
			if err := a.invoices.Refresh(ctx, fetch); err != nil {
				if errors.Is(err, invoice.ErrAuth) {
					return err
				}
				slog.Warn("Showing cached invoices", "error", err)
				fmt.Fprintf(a.out, "Could not refresh (%v); showing cached invoices.\n", err)
			}

			held := a.invoices.Invoices()
			if *skip >= len(held) {
				held = nil
			} else {
				held = held[*skip:]
			}
			if *limit > 0 && len(held) > *limit {
				held = held[:*limit]
			}
			return writeTable(a.out, held, a.currency)
		}),
	}
}

func (a *app) showCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("show").SetParent(parent)
	return &ff.Command{
		Name:      "show",
		Usage:     "invoice-tracker show ID",
		ShortHelp: "show one invoice",
		Flags:     fs,
		Exec: a.protected("/history", func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: expected exactly one invoice id", invoice.ErrValidation)
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: invalid invoice id %q", invoice.ErrValidation, args[0])
			}

			inv, err := a.client.GetInvoice(ctx, id)
			switch {
			case err == nil:
				a.invoices.Upsert(*inv)
			case errors.Is(err, invoice.ErrNetwork):
				held, ok := a.invoices.Get(id)
				if !ok {
					return err
				}
				fmt.Fprintf(a.out, "Could not reach the server; showing the cached copy.\n")
				inv = &held
			default:
				return err
			}
			return writeDetail(a.out, *inv, a.currency)
		}),
	}
}

func (a *app) analyticsCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("analytics").SetParent(parent)
	return &ff.Command{
		Name:      "analytics",
		Usage:     "invoice-tracker analytics",
		ShortHelp: "summarize invoices",
		Flags:     fs,
		Exec: a.protected("/analytics", func(ctx context.Context, args []string) error {
			result, err := a.stats.Get(ctx)
			if err != nil && result.Source != analytics.SourceCached {
				return err
			}
			if err != nil {
				fmt.Fprintf(a.out, "Could not refresh (%v); showing the last known analytics.\n", err)
			}
			if result.Source == analytics.SourceRemote {
				if err := a.cache.SaveAnalytics(result.Analytics); err != nil {
					slog.Warn("Failed to persist analytics", "error", err)
				}
			}
			return writeAnalytics(a.out, result, a.currency)
		}),
	}
}

func (a *app) profileCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("profile").SetParent(parent)
	email := fs.StringLong("email", "", "New email")
	name := fs.StringLong("name", "", "New full name")

	return &ff.Command{
		Name:      "profile",
		Usage:     "invoice-tracker profile [--email EMAIL] [--name NAME]",
		ShortHelp: "show or update the current user",
		Flags:     fs,
		Exec: a.protected("/settings", func(ctx context.Context, args []string) error {
			var update invoice.ProfileUpdate
			if *email != "" {
				update.Email = email
			}
			if *name != "" {
				update.FullName = name
			}

			var (
				user *invoice.User
				err  error
			)
			if update.Empty() {
				user, err = a.client.Me(ctx)
			} else {
				user, err = a.client.UpdateProfile(ctx, update)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Email: %s\nName:  %s\nSince: %s\n", user.Email, user.FullName, user.CreatedAt.Format("2006-01-02"))
			return nil
		}),
	}
}

// secret returns value, or reads one line from the app's input after prompt
func (a *app) secret(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(a.out, prompt)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" && err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return line, nil
}

func displayName(u *invoice.User) string {
	if u.FullName == "" {
		return u.Email
	}
	return fmt.Sprintf("%s <%s>", u.FullName, u.Email)
}
