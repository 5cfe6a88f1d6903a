package session

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Action is the outcome of a gate decision
type Action int

const (
	Allow Action = iota
	RedirectLogin
	RedirectHome
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-to-login"
	case RedirectHome:
		return "redirect-to-home"
	}
	return "unknown"
}

// Decision tells the caller what to do with a requested path. Location is
// set for redirects.
type Decision struct {
	Action   Action
	Location string
}

// ReturnParam is the query parameter carrying the originally requested path
const ReturnParam = "from"

// Gate decides whether a path needs a session. It only checks that a
// credential is present; the remote system judges whether it is valid.
type Gate struct {
	publicPaths map[string]bool
	loginPath   string
	homePath    string
	bypass      []string
}

// GateOption customizes a Gate
type GateOption func(*Gate)

// WithPublicPaths replaces the default allow-list
func WithPublicPaths(paths ...string) GateOption {
	return func(g *Gate) {
		g.publicPaths = make(map[string]bool, len(paths))
		for _, p := range paths {
			g.publicPaths[p] = true
		}
	}
}

// WithLoginPath sets where unauthenticated requests are sent
func WithLoginPath(path string) GateOption {
	return func(g *Gate) { g.loginPath = path }
}

// WithHomePath sets where authenticated requests for public pages are sent
func WithHomePath(path string) GateOption {
	return func(g *Gate) { g.homePath = path }
}

// NewGate creates a Gate with the login, registration and password recovery
// pages public.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		loginPath: "/login",
		homePath:  "/dashboard",
		bypass:    []string{"/api", "/_next", "/static", "/favicon.ico", "/robots.txt"},
	}
	WithPublicPaths("/login", "/register", "/forgot-password")(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide returns the gate's verdict for path
func (g *Gate) Decide(path string, hasCredential bool) Decision {
	public := g.publicPaths[path]
	switch {
	case public && hasCredential:
		return Decision{Action: RedirectHome, Location: g.homePath}
	case !public && !hasCredential:
		q := url.Values{ReturnParam: {path}}
		return Decision{Action: RedirectLogin, Location: g.loginPath + "?" + q.Encode()}
	}
	return Decision{Action: Allow}
}

// Bypass reports whether path is served without consulting the gate
// (APIs, framework internals, static assets and well-known files).
func (g *Gate) Bypass(path string) bool {
	for _, prefix := range g.bypass {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// PresenceFunc reports whether a request carries a credential
type PresenceFunc func(r *http.Request) bool

// HolderPresence checks the process-wide credential holder
func HolderPresence(h *Holder) PresenceFunc {
	return func(*http.Request) bool { return h.Present() }
}

// CookiePresence checks for a non-empty cookie, for servers fronting many sessions
func CookiePresence(name string) PresenceFunc {
	return func(r *http.Request) bool {
		c, err := r.Cookie(name)
		return err == nil && c.Value != ""
	}
}

// Middleware applies the gate to every request that is not bypassed
func (g *Gate) Middleware(present PresenceFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Bypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		d := g.Decide(r.URL.Path, present(r))
		if d.Action == Allow {
			next.ServeHTTP(w, r)
			return
		}
		slog.Debug("Gate redirect", "path", r.URL.Path, "action", d.Action.String(), "location", d.Location)
		http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
	})
}
