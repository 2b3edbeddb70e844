// ABOUTME: Engine ties the version graph stores together behind document-level operations
// ABOUTME: Mutations of one document are serialised; reads use bbolt snapshots

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/docrev/pkg/blob"
	"github.com/nainya/docrev/pkg/branch"
	"github.com/nainya/docrev/pkg/change"
	"github.com/nainya/docrev/pkg/compare"
	"github.com/nainya/docrev/pkg/lock"
	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/retention"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

const (
	// RetentionActor is recorded on versions archived or deleted by a sweep
	RetentionActor = "system:retention"

	DefaultLockSweepInterval      = 30 * time.Second
	DefaultRetentionSweepInterval = time.Hour
)

// Options wires the collaborators of an Engine. Zero fields get defaults.
type Options struct {
	Analyzer    change.Analyzer
	Permissions Permissions
	Notifier    notify.Notifier
	Logger      *zerolog.Logger

	CompareTimeout  time.Duration
	CompareCapacity int

	LockSweepInterval      time.Duration
	RetentionSweepInterval time.Duration

	Now func() time.Time
}

// Engine is the document version-control engine
type Engine struct {
	db       *storage.DB
	blobs    blob.Store
	analyzer change.Analyzer
	perms    Permissions
	notifier notify.Notifier
	log      zerolog.Logger

	versions *version.Store
	branches *branch.Store
	locks    *lock.Manager
	policies *retention.Registry
	compare  *compare.Service

	lockSweep      time.Duration
	retentionSweep time.Duration
	now            func() time.Time

	docMu sync.Mutex
	docs  map[string]*docLock
}

// docLock is a document's critical section. refs counts callers holding or
// waiting for it; the entry leaves the map when the count drops to zero.
type docLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an engine over an open database and a blob store
func New(db *storage.DB, blobs blob.Store, opts Options) (*Engine, error) {
	if opts.Analyzer == nil {
		opts.Analyzer = change.NewLineAnalyzer()
	}
	if opts.Permissions == nil {
		opts.Permissions = AllowAll
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.LockSweepInterval <= 0 {
		opts.LockSweepInterval = DefaultLockSweepInterval
	}
	if opts.RetentionSweepInterval <= 0 {
		opts.RetentionSweepInterval = DefaultRetentionSweepInterval
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	e := &Engine{
		db:             db,
		blobs:          blobs,
		analyzer:       opts.Analyzer,
		perms:          opts.Permissions,
		notifier:       opts.Notifier,
		log:            opts.Logger.With().Str("component", "engine").Logger(),
		versions:       version.NewStore(),
		branches:       branch.NewStore(),
		locks:          &lock.Manager{Now: opts.Now},
		policies:       retention.NewRegistry(),
		lockSweep:      opts.LockSweepInterval,
		retentionSweep: opts.RetentionSweepInterval,
		now:            opts.Now,
		docs:           make(map[string]*docLock),
	}

	cmp, err := compare.NewService(opts.Analyzer, e.content, opts.Notifier, compare.Options{
		Capacity: opts.CompareCapacity,
		Timeout:  opts.CompareTimeout,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	e.compare = cmp
	return e, nil
}

// Close stops background comparisons. The database and blob store stay open.
func (e *Engine) Close() {
	e.compare.Close()
}

// enterDocument enters the critical section of a document and returns the
// function that leaves it
func (e *Engine) enterDocument(documentID string) func() {
	e.docMu.Lock()
	l, ok := e.docs[documentID]
	if !ok {
		l = &docLock{}
		e.docs[documentID] = l
	}
	l.refs++
	e.docMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.docMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(e.docs, documentID)
		}
		e.docMu.Unlock()
	}
}

// emit delivers an event after the producing transaction committed.
// Delivery failures are logged and never undo the operation.
func (e *Engine) emit(ctx context.Context, typ notify.Type, documentID, actor string, payload any) {
	ev := notify.NewEvent(typ, documentID, actor, payload)
	ev.At = e.now()
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", string(typ)).Str("document_id", documentID).Msg("notification delivery failed")
	}
}

// Run sweeps expired locks and applies retention until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	locks := time.NewTicker(e.lockSweep)
	defer locks.Stop()
	retain := time.NewTicker(e.retentionSweep)
	defer retain.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-locks.C:
			if _, err := e.SweepLocks(ctx); err != nil {
				e.log.Error().Err(err).Msg("lock sweep failed")
			}
		case <-retain.C:
			if _, err := e.SweepRetention(ctx); err != nil {
				e.log.Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}

// Stats describes the store as a whole
type Stats struct {
	Documents   int   `json:"documents"`
	Versions    int   `json:"versions"`
	Locks       int   `json:"locks"`
	DBSizeBytes int64 `json:"db_size_bytes"`
}

// Stats counts stored records
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.db.View(func(tx *storage.Tx) error {
		s.Documents = tx.Count(storage.BucketDocuments)
		s.Versions = tx.Count(storage.BucketVersions)
		s.Locks = tx.Count(storage.BucketLocks)
		return nil
	})
	s.DBSizeBytes = e.db.SizeBytes()
	return s, err
}
