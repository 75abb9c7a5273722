package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/notify"
	"github.com/serroba/online-notes/internal/ot"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often a Loop catches up without push updates.
const DefaultPollInterval = 2 * time.Second

// Transport reaches the synchronization service. *collab.Service and
// *remote.Client both satisfy it.
type Transport interface {
	GetDocumentAndVersion(ctx context.Context, docID string) (collab.DocumentState, error)
	SubmitOperations(ctx context.Context, docID, clientID string, version int, ops []string) (collab.Outcome, error)
	OperationsSince(ctx context.Context, docID string, version int) ([]ot.SequencedOperation, error)
}

// Watcher is implemented by transports that can push version updates.
type Watcher interface {
	Watch(ctx context.Context, docID string) (*notify.Subscription, error)
}

// Config holds the settings of a Loop.
type Config struct {
	DocID        string
	ClientID     string // Defaults to a random UUID
	Transport    Transport
	Editor       Editor
	PollInterval time.Duration // Defaults to DefaultPollInterval
	Logger       *zap.Logger
}

// Loop owns one session's State on a single goroutine. Network effects run
// asynchronously and report back as events.
type Loop struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	edits    []string
	draining bool // Edits taken from the mailbox but not yet in status
	status   State

	wake   chan struct{}
	resync chan struct{}
}

// NewLoop creates a loop. Call Run to start it.
func NewLoop(cfg Config) *Loop {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Loop{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("doc_id", cfg.DocID), zap.String("client_id", cfg.ClientID)),
		status: New(cfg.DocID, cfg.ClientID),
		wake:   make(chan struct{}, 1),
		resync: make(chan struct{}, 1),
	}
}

// ClientID returns the id the loop submits under.
func (l *Loop) ClientID() string {
	return l.cfg.ClientID
}

// Edit queues local operations. It never blocks; operations are applied to
// the editor and sent once the document is loaded.
func (l *Loop) Edit(ops ...string) {
	l.mu.Lock()
	l.edits = append(l.edits, ops...)
	l.mu.Unlock()

	signal(l.wake)
}

// Idle reports whether every edit passed to Edit has been committed and the
// session is synchronized.
func (l *Loop) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.edits) == 0 &&
		!l.draining &&
		l.status.Phase == Synchronized &&
		len(l.status.Pending) == 0 &&
		!l.status.Submitting
}

// Resync asks for an immediate catch-up.
func (l *Loop) Resync() {
	signal(l.resync)
}

// Status returns a copy of the latest state.
func (l *Loop) Status() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.status.Clone()
}

// Run drives the session until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	d := &driver{
		loop:    l,
		ctx:     ctx,
		state:   New(l.cfg.DocID, l.cfg.ClientID),
		results: make(chan Event, 8),
	}
	defer d.wg.Wait()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	updates := l.watch(ctx)

	d.dispatch(Started{})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.results:
			d.dispatch(ev)
		case <-l.wake:
			d.drainEdits()
		case <-l.resync:
			d.dispatch(Tick{})
		case <-ticker.C:
			d.dispatch(Tick{})
		case u := <-updates:
			if u.Version > d.state.Version {
				d.dispatch(Tick{})
			}
		}
	}
}

// watch subscribes to push updates when the transport supports them. A nil
// channel blocks forever, leaving polling in charge.
func (l *Loop) watch(ctx context.Context) <-chan notify.Update {
	w, ok := l.cfg.Transport.(Watcher)
	if !ok {
		return nil
	}

	sub, err := w.Watch(ctx, l.cfg.DocID)
	if err != nil {
		l.logger.Warn("watch unavailable, polling only", zap.Error(err))

		return nil
	}

	// The subscription ends with ctx.
	return sub.Updates()
}

// driver is the state owned by the Run goroutine.
type driver struct {
	loop    *Loop
	ctx     context.Context
	state   State
	results chan Event
	wg      sync.WaitGroup
}

// dispatch steps ev and every event produced synchronously by its effects.
func (d *driver) dispatch(ev Event) {
	queue := []Event{ev}

	for len(queue) > 0 {
		next, effects := Step(d.state, queue[0])
		queue = queue[1:]
		d.state = next

		for _, eff := range effects {
			if follow := d.perform(eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}

	d.loop.mu.Lock()
	d.loop.status = d.state.Clone()
	d.loop.mu.Unlock()

	if d.state.Phase == Synchronized {
		d.drainEdits()
	}
}

// drainEdits applies queued local edits once the editor holds the document.
func (d *driver) drainEdits() {
	if d.state.Phase != Synchronized {
		return
	}

	l := d.loop

	l.mu.Lock()
	ops := l.edits
	l.edits = nil
	l.draining = len(ops) > 0
	l.mu.Unlock()

	if len(ops) == 0 {
		return
	}

	defer func() {
		l.mu.Lock()
		l.draining = false
		l.mu.Unlock()
	}()

	applied := make([]string, 0, len(ops))

	for _, op := range ops {
		if err := l.cfg.Editor.Apply(op); err != nil {
			l.logger.Warn("dropping local edit that does not apply", zap.Error(err))

			continue
		}

		applied = append(applied, op)
	}

	d.dispatch(LocalEdit{Operations: applied})
}

// perform runs one effect. Editor effects run inline and may return a
// follow-up event; network effects run in the background.
func (d *driver) perform(eff Effect) Event {
	l := d.loop
	cfg := l.cfg

	switch eff := eff.(type) {
	case ResetEditor:
		if err := cfg.Editor.Reset(eff.Doc); err != nil {
			l.logger.Error("failed to reset editor", zap.Error(err))
		}

		return nil
	case Merge:
		pending, err := cfg.Editor.Merge(eff.Remote, eff.Pending)
		if err != nil {
			l.logger.Error("failed to merge remote operations, reloading", zap.Error(err))

			return MergeFailed{Err: err}
		}

		return Rebased{Pending: pending}
	case LoadDocument:
		d.async(func(ctx context.Context) Event {
			state, err := cfg.Transport.GetDocumentAndVersion(ctx, cfg.DocID)
			if err != nil {
				l.logger.Warn("load failed", zap.Error(err))

				return LoadFailed{Err: err}
			}

			return Loaded{Doc: state.Doc, Version: state.Version}
		})
	case Submit:
		d.async(func(ctx context.Context) Event {
			outcome, err := cfg.Transport.SubmitOperations(ctx, cfg.DocID, cfg.ClientID, eff.Version, eff.Operations)

			switch {
			case err != nil:
				l.logger.Warn("submit failed", zap.Int("version", eff.Version), zap.Error(err))

				return SubmitFailed{Err: err}
			case outcome == collab.Accepted:
				return SubmitAccepted{}
			default:
				l.logger.Debug("submit rejected", zap.Int("version", eff.Version))

				return SubmitRejected{}
			}
		})
	case FetchSince:
		d.async(func(ctx context.Context) Event {
			ops, err := cfg.Transport.OperationsSince(ctx, cfg.DocID, eff.Version)
			if err != nil {
				l.logger.Warn("fetch failed", zap.Int("version", eff.Version), zap.Error(err))

				return FetchFailed{Err: err}
			}

			return Received{Operations: ops}
		})
	}

	return nil
}

func (d *driver) async(call func(ctx context.Context) Event) {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ev := call(d.ctx)
		if d.ctx.Err() != nil {
			return
		}

		select {
		case d.results <- ev:
		case <-d.ctx.Done():
		}
	}()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
