package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// DefaultMaxBytes is the default upload size ceiling, 5MB
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// DefaultAllowedTypes are the MIME types accepted when none are configured
var DefaultAllowedTypes = []string{"application/pdf", "image/jpeg", "image/png"}

// ErrAlreadyRun is returned by a second Run on the same pipeline
var ErrAlreadyRun = errors.New("pipeline already run")

// State is the submission state of a pipeline. It describes the outcome of
// handing the file over, not the processing status of the invoice.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateAccepted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Submitter sends a validated file to the remote system
type Submitter interface {
	UploadInvoice(ctx context.Context, filename, contentType string, data []byte) (*invoice.Invoice, error)
}

// Recorder receives accepted invoices
type Recorder interface {
	RecordUpload(inv invoice.Invoice)
}

// Config holds the caller-supplied upload limits. Zero values take the defaults.
type Config struct {
	MaxBytes     int64
	AllowedTypes []string
}

func (c Config) withDefaults() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if len(c.AllowedTypes) == 0 {
		c.AllowedTypes = DefaultAllowedTypes
	}
	return c
}

func (c Config) allows(contentType string) bool {
	for _, t := range c.AllowedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// File is one candidate upload. An empty ContentType is detected from Data.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ReadFile loads a file from disk, leaving its type to be detected
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// Pipeline validates and submits exactly one file
type Pipeline struct {
	submitter Submitter
	recorder  Recorder
	cfg       Config

	mu    sync.Mutex
	state State
	err   error
}

// New creates an idle pipeline
func New(submitter Submitter, recorder Recorder, cfg Config) *Pipeline {
	return &Pipeline{
		submitter: submitter,
		recorder:  recorder,
		cfg:       cfg.withDefaults(),
	}
}

// State returns the current state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the reason for rejection, if rejected
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) set(s State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	p.err = err
}

// Run validates f and submits it. Validation failures never reach the
// submitter. The accepted invoice is handed to the recorder.
func (p *Pipeline) Run(ctx context.Context, f File) (*invoice.Invoice, error) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	p.state = StateValidating
	p.mu.Unlock()

	contentType, err := p.validate(f)
	if err != nil {
		p.set(StateRejected, err)
		slog.Info("Rejected upload", "filename", f.Name, "error", err)
		return nil, err
	}

	p.set(StateSubmitting, nil)
	inv, err := p.submitter.UploadInvoice(ctx, f.Name, contentType, f.Data)
	if err != nil {
		err = fmt.Errorf("submitting %s: %w", f.Name, err)
		p.set(StateRejected, err)
		slog.Error("Upload failed", "filename", f.Name, "error", err)
		return nil, err
	}

	if p.recorder != nil {
		p.recorder.RecordUpload(*inv)
	}
	p.set(StateAccepted, nil)
	slog.Info("Upload accepted", "filename", f.Name, "id", inv.ID, "status", inv.Status)
	return inv, nil
}

// validate returns the effective content type of f
func (p *Pipeline) validate(f File) (string, error) {
	size := int64(len(f.Data))
	if size == 0 {
		return "", fmt.Errorf("%w: %s is empty", invoice.ErrValidation, f.Name)
	}
	if size > p.cfg.MaxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit is %d", invoice.ErrValidation, f.Name, size, p.cfg.MaxBytes)
	}

	contentType := mediaType(f.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mediaType(mimetype.Detect(f.Data).String())
	}
	if !p.cfg.allows(contentType) {
		return "", fmt.Errorf("%w: %s has unsupported type %s", invoice.ErrValidation, f.Name, contentType)
	}
	return contentType, nil
}

// mediaType strips parameters such as charset
func mediaType(contentType string) string {
	t, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
