package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/session"
)

// DefaultTimeout bounds a single HTTP exchange
const DefaultTimeout = 30 * time.Second

// ListOptions are the advisory pagination parameters of ListInvoices.
// Zero values are omitted from the query.
type ListOptions struct {
	Skip  int
	Limit int
}

// Client talks to the invoice API. Every authenticated call carries the
// credential held in creds; any 401 clears it.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *session.Holder
	retry   RetryPolicy
}

// New creates a Client with the default timeout and retry policy
func New(baseURL string, creds *session.Holder) *Client {
	return NewWithDeps(baseURL, creds, &http.Client{Timeout: DefaultTimeout}, DefaultRetryPolicy)
}

// NewWithDeps creates a Client with a custom HTTP client and retry policy
func NewWithDeps(baseURL string, creds *session.Holder, httpClient *http.Client, retry RetryPolicy) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		creds:   creds,
		retry:   retry,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges email and password for a session credential and holds it
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("marshaling login request: %w", err)
	}

	var tok tokenResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: "/token", body: body, contentType: "application/json"}, &tok); err != nil {
		return "", fmt.Errorf("logging in: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("logging in: %w: empty access token", invoice.ErrServer)
	}

	c.creds.Set(tok.AccessToken)
	return tok.AccessToken, nil
}

// Logout drops the held credential
func (c *Client) Logout() {
	c.creds.Clear()
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, email, password, fullName string) (*invoice.User, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password, "full_name": fullName})
	if err != nil {
		return nil, fmt.Errorf("marshaling registration: %w", err)
	}

	var user invoice.User
	if err := c.do(ctx, call{method: http.MethodPost, path: "/users", body: body, contentType: "application/json"}, &user); err != nil {
		return nil, fmt.Errorf("registering: %w", err)
	}
	return &user, nil
}

// Me returns the current user
func (c *Client) Me(ctx context.Context) (*invoice.User, error) {
	var user invoice.User
	if err := c.do(ctx, call{method: http.MethodGet, path: "/users/me", auth: true}, &user); err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &user, nil
}

// UpdateProfile applies a partial update to the current user
func (c *Client) UpdateProfile(ctx context.Context, update invoice.ProfileUpdate) (*invoice.User, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("marshaling profile update: %w", err)
	}

	var user invoice.User
	if err := c.do(ctx, call{method: http.MethodPut, path: "/users/me", body: body, contentType: "application/json", auth: true}, &user); err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return &user, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadInvoice submits one file as the multipart field "file". The returned
// invoice is pending or processing.
func (c *Client) UploadInvoice(ctx context.Context, filename, contentType string, data []byte) (*invoice.Invoice, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	var inv invoice.Invoice
	err = c.do(ctx, call{
		method:      http.MethodPost,
		path:        "/invoices/upload",
		body:        buf.Bytes(),
		contentType: writer.FormDataContentType(),
		auth:        true,
	}, &inv)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", filename, err)
	}
	return &inv, nil
}

// ListInvoices returns the caller's invoices in the order the server chooses
func (c *Client) ListInvoices(ctx context.Context, opts ListOptions) ([]invoice.Invoice, error) {
	q := url.Values{}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	invoices := make([]invoice.Invoice, 0)
	if err := c.do(ctx, call{method: http.MethodGet, path: "/invoices", query: q, auth: true}, &invoices); err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return invoices, nil
}

// GetInvoice returns one invoice by id
func (c *Client) GetInvoice(ctx context.Context, id int64) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	path := "/invoices/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, call{method: http.MethodGet, path: path, auth: true}, &inv); err != nil {
		return nil, fmt.Errorf("getting invoice %d: %w", id, err)
	}
	return &inv, nil
}

// GetAnalytics returns the server-computed analytics
func (c *Client) GetAnalytics(ctx context.Context) (*invoice.Analytics, error) {
	var a invoice.Analytics
	if err := c.do(ctx, call{method: http.MethodGet, path: "/analytics", auth: true}, &a); err != nil {
		return nil, fmt.Errorf("getting analytics: %w", err)
	}
	return &a, nil
}

type call struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	auth        bool
}

// do performs the call, retrying transport failures of GET requests
func (c *Client) do(ctx context.Context, cl call, out any) error {
	attempts := 1
	if cl.method == http.MethodGet {
		attempts = c.retry.attempts()
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying request", "method", cl.method, "path", cl.path, "attempt", attempt+1, "error", err)
			if waitErr := c.retry.wait(ctx, attempt); waitErr != nil {
				return fmt.Errorf("%w (gave up: %v)", err, waitErr)
			}
		}
		err = c.once(ctx, cl, out)
		if !errors.Is(err, invoice.ErrNetwork) {
			return err
		}
	}
	return err
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func (c *Client) once(ctx context.Context, cl call, out any) error {
	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	req.Header.Set("Accept", "application/json")

	if cl.auth {
		token := c.creds.Get()
		if token == "" {
			return fmt.Errorf("%w: no session credential", invoice.ErrAuth)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", cl.method, cl.path, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %v", invoice.ErrNetwork, cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", invoice.ErrServer, err)
		}
		return nil
	}

	msg := readErrorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		// A rejected credential is useless everywhere; drop it so the gate
		// sends the user back to login.
		c.creds.Clear()
		return fmt.Errorf("%w: %s", invoice.ErrAuth, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", invoice.ErrNotFound, msg)
	}
	return fmt.Errorf("%w: status %d: %s", invoice.ErrServer, resp.StatusCode, msg)
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "unreadable response body"
	}
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		if eb.Detail != "" {
			return eb.Detail
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	return strings.TrimSpace(string(data))
}
