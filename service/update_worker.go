package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hexresearch/hexstody-sub000/state"
)

// EventLog is the durable update log.
type EventLog interface {
	Append(ctx context.Context, upd state.Update) (uint64, error)
}

// Result of a committed update.
type Result struct {
	Seq     uint64
	Derived *state.Derived
}

type reply struct {
	res Result
	err error
}

type message struct {
	upd   state.Update
	reply chan reply
}

type WorkerConfig struct {
	QueueCapacity int
	// a snapshot is appended after this many updates, never when 0
	SnapshotEvery int
	// how long Send waits for room in the queue
	SendTimeout   time.Duration
	AppendRetries int
	RetryDelay    time.Duration
	// per attempt
	AppendTimeout time.Duration
	// all attempts of one append together, readers wait at most this long
	AppendBudget time.Duration
}

func (c *WorkerConfig) defaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.AppendRetries <= 0 {
		c.AppendRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = 2 * time.Second
	}
	if c.AppendBudget <= 0 {
		c.AppendBudget = 5 * time.Second
	}
}

// Worker is the single writer of the state: it folds each update into a
// clone, appends it to the log and swaps the clone in.
type Worker struct {
	cfg     WorkerConfig
	log     EventLog
	shared  *SharedState
	logger  *zap.Logger
	queue   chan message
	derived chan state.Derived
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	sinceSnapshot int
}

func NewWorker(cfg WorkerConfig, log EventLog, shared *SharedState, logger *zap.Logger) *Worker {
	cfg.defaults()
	return &Worker{
		cfg:     cfg,
		log:     log,
		shared:  shared,
		logger:  logger.With(zap.String("component", "update_worker")),
		queue:   make(chan message, cfg.QueueCapacity),
		derived: make(chan state.Derived, cfg.QueueCapacity),
		now:     func() time.Time { return time.Now().UTC() },
		done:    make(chan struct{}),
	}
}

// Derived delivers the follow-up work of committed updates.
func (w *Worker) Derived() <-chan state.Derived { return w.derived }

// Done is closed once the worker has drained its queue.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Send submits body and waits until it is committed or rejected.
func (w *Worker) Send(ctx context.Context, body state.Body) (Result, error) {
	msg := message{
		upd:   state.Update{Created: w.now(), Body: body},
		reply: make(chan reply, 1),
	}
	if err := w.enqueue(ctx, msg); err != nil {
		return Result{}, err
	}
	// the worker always answers, even while draining
	r := <-msg.reply
	return r.res, r.err
}

func (w *Worker) enqueue(ctx context.Context, msg message) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return &Error{Kind: WorkerStopped}
	}
	timer := time.NewTimer(w.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case w.queue <- msg:
		return nil
	case <-timer.C:
		return &Error{Kind: QueueFull, Msg: msg.upd.Body.Tag()}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting updates; queued ones are still processed.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
}

// Run processes updates until the context ends and the queue is drained.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer close(w.derived)
	go func() {
		<-ctx.Done()
		w.Close()
	}()
	for msg := range w.queue {
		res, err := w.process(msg.upd)
		if msg.reply != nil {
			msg.reply <- reply{res: res, err: err}
		}
	}
	w.logger.Info("update queue drained")
}

func (w *Worker) process(upd state.Update) (Result, error) {
	var derived *state.Derived
	var seq uint64
	err := w.shared.update(func(cur *state.State) (*state.State, uint64, error) {
		next := cur.Clone()
		d, err := next.Apply(upd)
		if err != nil {
			return nil, 0, err
		}
		seq, err = w.appendWithRetry(upd)
		if err != nil {
			return nil, 0, err
		}
		derived = d
		return next, seq, nil
	})
	if err != nil {
		var fe *state.FoldError
		if errors.As(err, &fe) {
			w.logger.Warn("update rejected", zap.String("tag", upd.Body.Tag()), zap.String("subtype", fe.Subtype()), zap.Error(err))
		} else {
			w.logger.Error("update failed", zap.String("tag", upd.Body.Tag()), zap.Error(err))
		}
		return Result{}, err
	}

	if derived != nil {
		select {
		case w.derived <- *derived:
		default:
			// the dispatcher resyncs confirmed requests from the state
			w.logger.Warn("derived channel full", zap.String("request", derived.Request.ID))
		}
	}
	w.sinceSnapshot++
	if w.cfg.SnapshotEvery > 0 && w.sinceSnapshot >= w.cfg.SnapshotEvery {
		w.snapshot()
	}
	return Result{Seq: seq, Derived: derived}, nil
}

func (w *Worker) appendWithRetry(upd state.Update) (uint64, error) {
	budget, stop := context.WithTimeout(context.Background(), w.cfg.AppendBudget)
	defer stop()
	var err error
	for attempt := 0; attempt < w.cfg.AppendRetries; attempt++ {
		if attempt > 0 {
			pause := time.NewTimer(w.cfg.RetryDelay)
			select {
			case <-pause.C:
			case <-budget.Done():
				pause.Stop()
				return 0, err
			}
		}
		ctx, cancel := context.WithTimeout(budget, w.cfg.AppendTimeout)
		var seq uint64
		seq, err = w.log.Append(ctx, upd)
		cancel()
		if err == nil {
			return seq, nil
		}
		var ce *state.CodecError
		if errors.As(err, &ce) {
			return 0, err
		}
		w.logger.Warn("append failed", zap.Int("attempt", attempt+1), zap.Error(err))
		if budget.Err() != nil {
			break
		}
	}
	return 0, err
}

func (w *Worker) snapshot() {
	snap := state.Update{Created: w.now(), Body: state.Snapshot{State: w.shared.Copy()}}
	seq, err := w.appendWithRetry(snap)
	if err != nil {
		// retried after the next update
		w.logger.Error("snapshot failed", zap.Error(err))
		return
	}
	w.sinceSnapshot = 0
	w.logger.Info("snapshot written", zap.Uint64("seq", seq))
}
