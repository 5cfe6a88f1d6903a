package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/scanning"
)

// DefaultListLimit caps a listing when the caller gives no limit
const DefaultListLimit = 100

// AcceptedTypes are the document types the scanners can read
var AcceptedTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/heic":      true,
	"image/heif":      true,
}

// IDGenerator generates opaque unique identifiers for tokens and stored files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Config tunes the service
type Config struct {
	TokenTTL   time.Duration
	Workers    int
	QueueSize  int
	BcryptCost int
}

// DefaultConfig returns the configuration used by NewService
func DefaultConfig() Config {
	return Config{
		TokenTTL:   24 * time.Hour,
		Workers:    4,
		QueueSize:  256,
		BcryptCost: bcrypt.DefaultCost,
	}
}

// RegisterRequest is the body of an account registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"max=200"`
}

// Service handles accounts, sessions and the invoice lifecycle
type Service struct {
	db       DB
	scanner  scanning.Scanner
	storage  Storage
	ids      IDGenerator
	clock    TimeSource
	validate *validator.Validate
	cfg      Config

	jobs     chan int64
	inflight sync.Map
}

// NewService creates a new Service with uuid ids, the wall clock and DefaultConfig
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, uuidGenerator{}, defaultTimeSource{}, DefaultConfig())
}

// NewServiceWithDeps creates a new Service with custom dependencies. Nil ids
// and clock fall back to the defaults; zero config fields take DefaultConfig.
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, ids IDGenerator, clock TimeSource, cfg Config) *Service {
	if ids == nil {
		ids = uuidGenerator{}
	}
	if clock == nil {
		clock = defaultTimeSource{}
	}
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	return &Service{
		db:       db,
		scanner:  scanner,
		storage:  storage,
		ids:      ids,
		clock:    clock,
		validate: validator.New(),
		cfg:      cfg,
		jobs:     make(chan int64, cfg.QueueSize),
	}
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", invoice.ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", invoice.ErrValidation, strings.Join(fields, ", "))
}

// Register creates an account. It does not issue a token.
func (s *Service) Register(req RegisterRequest) (*invoice.User, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.check(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	account := &Account{
		User: invoice.User{
			Email:     req.Email,
			FullName:  req.FullName,
			CreatedAt: s.clock.Now(),
		},
		PasswordHash: string(hash),
	}
	if err := s.db.CreateAccount(account); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	slog.Info("Registered account", "user_id", account.ID)
	return &account.User, nil
}

// Login checks the password and issues a token
func (s *Service) Login(email, password string) (*Token, error) {
	account, err := s.db.GetAccountByEmail(email)
	if errors.Is(err, invoice.ErrNotFound) {
		return nil, fmt.Errorf("%w: incorrect email or password", invoice.ErrAuth)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: incorrect email or password", invoice.ErrAuth)
	}

	token := &Token{
		Value:     s.ids.Generate(),
		UserID:    account.ID,
		ExpiresAt: s.clock.Now().Add(s.cfg.TokenTTL),
	}
	if err := s.db.SaveToken(token); err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}
	return token, nil
}

// Authenticate resolves a token to its user. Unknown and expired tokens
// fail with ErrAuth; expired ones are removed.
func (s *Service) Authenticate(value string) (*invoice.User, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing token", invoice.ErrAuth)
	}
	token, err := s.db.GetToken(value)
	if errors.Is(err, invoice.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid token", invoice.ErrAuth)
	}
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	if token.Expired(s.clock.Now()) {
		if err := s.db.DeleteToken(value); err != nil {
			slog.Warn("Failed to delete expired token", "user_id", token.UserID, "error", err)
		}
		return nil, fmt.Errorf("%w: token expired", invoice.ErrAuth)
	}

	account, err := s.db.GetAccount(token.UserID)
	if errors.Is(err, invoice.ErrNotFound) {
		return nil, fmt.Errorf("%w: account no longer exists", invoice.ErrAuth)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return &account.User, nil
}

// UpdateProfile applies a partial update to a user
func (s *Service) UpdateProfile(userID int64, update invoice.ProfileUpdate) (*invoice.User, error) {
	if err := s.check(update); err != nil {
		return nil, err
	}

	account, err := s.db.GetAccount(userID)
	if errors.Is(err, invoice.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	if update.Empty() {
		return &account.User, nil
	}

	update.Apply(&account.User)
	err = s.db.SaveAccount(account)
	if errors.Is(err, invoice.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("saving account: %w", err)
	}
	return &account.User, nil
}

// Upload stores a document and records a pending invoice for it. Extraction
// happens later on a worker.
func (s *Service) Upload(ctx context.Context, ownerID int64, filename string, data []byte) (*invoice.Invoice, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", invoice.ErrValidation)
	}

	// Trust the bytes, not the declared type
	contentType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	if !AcceptedTypes[contentType] {
		return nil, fmt.Errorf("%w: unsupported file type %s", invoice.ErrValidation, contentType)
	}

	savedPath, err := s.storage.Save(s.ids.Generate()+"_"+sanitizeFilename(filename), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	record := &Record{
		Invoice:     invoice.NewPending(filename, ownerID, s.clock.Now()),
		StoragePath: savedPath,
		ContentType: contentType,
	}
	if err := s.db.CreateRecord(record); err != nil {
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "path", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving invoice: %w", err)
	}

	slog.Info("Invoice uploaded", "id", record.ID, "owner_id", ownerID, "content_type", contentType, "bytes", len(data))
	s.enqueue(ctx, record.ID)
	return &record.Invoice, nil
}

// enqueue hands id to the workers. If ctx ends first the invoice stays
// pending and is picked up again by the next Start.
func (s *Service) enqueue(ctx context.Context, id int64) {
	select {
	case s.jobs <- id:
	case <-ctx.Done():
		slog.Warn("Invoice left unqueued", "id", id, "error", ctx.Err())
	}
}

// ListInvoices returns an owner's invoices newest first, paged by skip and limit
func (s *Service) ListInvoices(ownerID int64, skip, limit int) ([]invoice.Invoice, error) {
	records, err := s.db.ListRecords(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	out := make([]invoice.Invoice, 0)
	for i := skip; i < len(records) && len(out) < limit; i++ {
		out = append(out, records[i].Invoice)
	}
	return out, nil
}

// GetInvoice returns one invoice. Invoices of other owners are reported as
// not found.
func (s *Service) GetInvoice(ownerID, id int64) (*invoice.Invoice, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if record.OwnerID != ownerID {
		return nil, fmt.Errorf("getting invoice: invoice %d: %w", id, invoice.ErrNotFound)
	}
	return &record.Invoice, nil
}

// Analytics derives the analytics of an owner's invoices
func (s *Service) Analytics(ownerID int64) (*invoice.Analytics, error) {
	records, err := s.db.ListRecords(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	invoices := make([]invoice.Invoice, 0, len(records))
	for _, r := range records {
		invoices = append(invoices, r.Invoice)
	}
	a := invoice.Derive(invoices)
	return &a, nil
}

// Start requeues unfinished invoices and runs the extraction workers until
// ctx ends. The returned function blocks until every worker has exited.
func (s *Service) Start(ctx context.Context) (wait func()) {
	s.requeue(ctx)

	done := make(chan struct{}, s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			s.work(ctx)
		}()
	}

	return func() {
		for i := 0; i < s.cfg.Workers; i++ {
			<-done
		}
	}
}

// requeue lists unfinished invoices now and feeds them to the queue in the
// background, since the backlog may exceed the queue size
func (s *Service) requeue(ctx context.Context) {
	records, err := s.db.UnfinishedRecords()
	if err != nil {
		slog.Error("Failed to list unfinished invoices", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	slog.Info("Requeueing unfinished invoices", "count", len(records))

	// Oldest first, so earlier uploads finish earlier
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	go func() {
		for _, r := range records {
			s.enqueue(ctx, r.ID)
		}
	}()
}

func (s *Service) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.jobs:
			if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
				continue
			}
			if err := s.Process(ctx, id); err != nil {
				slog.Error("Failed to process invoice", "id", id, "error", err)
			}
			s.inflight.Delete(id)
		}
	}
}

// Process runs extraction for one invoice and moves it to a terminal status.
// A failed extraction is recorded on the invoice, not returned.
func (s *Service) Process(ctx context.Context, id int64) error {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return fmt.Errorf("getting invoice: %w", err)
	}
	if record.Status.Terminal() {
		return nil
	}

	if record.Status == invoice.StatusPending {
		if err := record.Advance(invoice.StatusProcessing, s.clock.Now()); err != nil {
			return err
		}
		if err := s.db.SaveRecord(record); err != nil {
			return fmt.Errorf("saving invoice: %w", err)
		}
	}

	scanned, err := s.extract(ctx, record)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; the next Start picks it up again
			return ctx.Err()
		}
		slog.Error("Failed to scan invoice", "id", id, "content_type", record.ContentType, "error", err)
		record.ErrorMessage = err.Error()
		if err := record.Advance(invoice.StatusError, s.clock.Now()); err != nil {
			return err
		}
		if err := s.db.SaveRecord(record); err != nil {
			return fmt.Errorf("saving invoice: %w", err)
		}
		return nil
	}

	applyScan(&record.Invoice, scanned)
	if err := record.Advance(invoice.StatusCompleted, s.clock.Now()); err != nil {
		return err
	}
	if err := record.CheckTotals(); err != nil {
		slog.Warn("Invoice totals need review", "id", id, "error", err)
		record.NeedsReview = true
	}
	if err := s.db.SaveRecord(record); err != nil {
		return fmt.Errorf("saving invoice: %w", err)
	}

	slog.Info("Invoice processed", "id", id, "total", record.Total.StringFixed(2), "needs_review", record.NeedsReview)
	return nil
}

func (s *Service) extract(ctx context.Context, record *Record) (*scanning.InvoiceData, error) {
	if s.scanner == nil {
		return nil, errors.New("no scanner configured")
	}
	data, err := s.storage.Get(record.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("getting invoice file: %w", err)
	}
	scanned, err := s.scanner.ScanInvoice(ctx, data, record.ContentType)
	if err != nil {
		return nil, fmt.Errorf("scanning invoice: %w", err)
	}
	return scanned, nil
}

func applyScan(inv *invoice.Invoice, d *scanning.InvoiceData) {
	inv.InvoiceNumber = d.InvoiceNumber
	inv.Date = scanning.ParseDate(d.Date)
	inv.DueDate = scanning.ParseDate(d.DueDate)
	inv.Amount = d.Amount
	inv.Tax = d.Tax
	inv.Total = d.Total
	inv.Vendor = invoice.Party(d.Vendor)
	inv.Client = invoice.Party(d.Client)
	inv.Category = d.Category
}
