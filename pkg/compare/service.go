// ABOUTME: Asynchronous comparison of two versions of a document
// ABOUTME: Requests run in the background and are kept in a bounded LRU registry

package compare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/nainya/docrev/pkg/change"
	"github.com/nainya/docrev/pkg/notify"
)

const (
	// DefaultCapacity is how many comparisons the registry remembers
	DefaultCapacity = 1024

	// DefaultTimeout bounds a single analysis
	DefaultTimeout = 30 * time.Second
)

// Status is the progress of a comparison. It only ever moves forward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var rank = map[Status]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
}

// Terminal reports whether no further status change is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Comparison is one request and, once finished, its result
type Comparison struct {
	ID            string          `json:"id"`
	DocumentID    string          `json:"document_id"`
	FromVersionID string          `json:"from_version_id"`
	ToVersionID   string          `json:"to_version_id"`
	RequestedBy   string          `json:"requested_by,omitempty"`
	Status        Status          `json:"status"`
	Changes       []change.Change `json:"changes,omitempty"`
	Summary       change.Summary  `json:"summary"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func (c *Comparison) clone() *Comparison {
	out := *c
	out.Changes = append([]change.Change(nil), c.Changes...)
	return &out
}

// Request names the two versions to compare
type Request struct {
	DocumentID    string
	FromVersionID string
	ToVersionID   string
	Actor         string
}

// LoadFunc fetches the content of a version
type LoadFunc func(ctx context.Context, versionID string) ([]byte, error)

// Options tunes a Service
type Options struct {
	Capacity int
	Timeout  time.Duration
	Logger   *zerolog.Logger
}

// Service runs comparisons on background goroutines
type Service struct {
	analyzer change.Analyzer
	load     LoadFunc
	notifier notify.Notifier
	timeout  time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	registry *lru.Cache[string, *Comparison]
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewService creates a comparison service. A nil notifier discards events.
func NewService(analyzer change.Analyzer, load LoadFunc, notifier notify.Notifier, opts Options) (*Service, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if notifier == nil {
		notifier = notify.Nop
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	registry, err := lru.New[string, *Comparison](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("comparison registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		analyzer: analyzer,
		load:     load,
		notifier: notifier,
		timeout:  opts.Timeout,
		log:      opts.Logger.With().Str("component", "compare").Logger(),
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start registers a pending comparison and runs it in the background
func (s *Service) Start(req Request) (*Comparison, error) {
	if req.FromVersionID == "" || req.ToVersionID == "" {
		return nil, fmt.Errorf("%w: both versions are required", ErrInvalidRequest)
	}

	c := &Comparison{
		ID:            uuid.NewString(),
		DocumentID:    req.DocumentID,
		FromVersionID: req.FromVersionID,
		ToVersionID:   req.ToVersionID,
		RequestedBy:   req.Actor,
		Status:        StatusPending,
		CreatedAt:     s.now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.registry.Add(c.ID, c)
	s.wg.Add(1)
	snapshot := c.clone()
	s.mu.Unlock()

	go s.run(c)
	return snapshot, nil
}

// Get returns a snapshot of the comparison
func (s *Service) Get(id string) (*Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.clone(), nil
}

// Len returns how many comparisons are remembered
func (s *Service) Len() int {
	return s.registry.Len()
}

// Wait blocks until every started comparison finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close stops accepting requests, cancels running analyses and waits for them
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Service) run(c *Comparison) {
	defer s.wg.Done()

	s.advance(c, StatusRunning, nil, "")

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	changes, err := s.analyze(ctx, c)
	if err != nil {
		s.advance(c, StatusFailed, nil, err.Error())
	} else {
		s.advance(c, StatusCompleted, changes, "")
	}

	s.mu.Lock()
	done := c.clone()
	s.mu.Unlock()

	payload := map[string]any{
		"comparison_id":   done.ID,
		"from_version_id": done.FromVersionID,
		"to_version_id":   done.ToVersionID,
		"status":          done.Status,
		"impact_score":    done.Summary.ImpactScore,
	}
	if err := s.notifier.Notify(context.Background(), notify.NewEvent(notify.ComparisonCompleted, done.DocumentID, done.RequestedBy, payload)); err != nil {
		s.log.Warn().Err(err).Str("comparison_id", done.ID).Str("document_id", done.DocumentID).Msg("notification delivery failed")
	}
}

func (s *Service) analyze(ctx context.Context, c *Comparison) ([]change.Change, error) {
	from, err := s.load(ctx, c.FromVersionID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.FromVersionID, err)
	}
	to, err := s.load(ctx, c.ToVersionID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.ToVersionID, err)
	}
	return s.analyzer.Analyze(ctx, from, to)
}

// advance moves c to status unless that would move it backwards
func (s *Service) advance(c *Comparison, status Status, changes []change.Change, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Status.Terminal() || rank[status] <= rank[c.Status] {
		return
	}
	c.Status = status
	if status.Terminal() {
		now := s.now()
		c.CompletedAt = &now
		c.Changes = changes
		c.Summary = change.Summarize(changes)
		c.Error = errMsg
	}
}
