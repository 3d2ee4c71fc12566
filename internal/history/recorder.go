package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthhub/hearth-core/internal/bus"
	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/infrastructure/database"
)

// ErrNotStarted is returned by Stop when the recorder was never started.
var ErrNotStarted = errors.New("history: recorder not started")

const (
	// writeBuffer bounds the number of pending rows between the bus
	// and the writer goroutine.
	writeBuffer = 256

	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// Logger is the minimal logging interface the recorder needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventBus is the subscription surface the recorder consumes.
type EventBus interface {
	Subscribe(eventType string, listener bus.Listener) bus.Unsubscribe
}

// Config tunes recording and retention.
type Config struct {
	// RetentionDays bounds how long rows are kept. 0 keeps rows
	// forever.
	RetentionDays int

	// PurgeInterval is the time between retention sweeps.
	PurgeInterval time.Duration
}

// Recorder persists state transitions and answers history queries.
type Recorder struct {
	db     *database.DB
	bus    EventBus
	cfg    Config
	logger Logger

	rows    chan *core.State
	dropped atomic.Int64

	mu      sync.Mutex
	started bool
	unsub   bus.Unsubscribe
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder. It does not subscribe or write until
// Start is called.
func NewRecorder(db *database.DB, eventBus EventBus, cfg Config, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		db:     db,
		bus:    eventBus,
		cfg:    cfg,
		logger: logger,
		rows:   make(chan *core.State, writeBuffer),
	}
}

// Start subscribes to state_changed and launches the writer and purge
// goroutines. Calling Start twice is a no-op.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.unsub = r.bus.Subscribe(core.EventStateChanged, r.onStateChanged)

	r.wg.Add(1)
	go r.writeLoop(runCtx)

	if r.cfg.RetentionDays > 0 && r.cfg.PurgeInterval > 0 {
		r.wg.Add(1)
		go r.purgeLoop(runCtx)
	}

	r.logger.Info("state history recorder started",
		"retention_days", r.cfg.RetentionDays)
}

// Stop unsubscribes, drains pending writes and waits for the
// goroutines to exit.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.started = false
	unsub := r.unsub
	cancel := r.cancel
	r.mu.Unlock()

	unsub()
	close(r.rows)
	r.wg.Wait()
	cancel()

	if n := r.dropped.Load(); n > 0 {
		r.logger.Warn("state history rows dropped under load", "count", n)
	}
	return nil
}

// Dropped reports how many rows were discarded because the write
// buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) onStateChanged(e *core.Event) {
	data, ok := core.StateChanged(e)
	if !ok || data.NewState == nil {
		// Entity removals leave no row; the last recorded state
		// already marks where the entity ended.
		return
	}

	// The send happens under the lock so Stop can close the channel
	// safely once started flips false.
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}

	select {
	case r.rows <- data.NewState:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) writeLoop(ctx context.Context) {
	defer r.wg.Done()
	for st := range r.rows {
		if err := r.insert(ctx, st); err != nil {
			r.logger.Error("recording state transition",
				"entity_id", st.EntityID.String(), "error", err)
		}
	}
}

func (r *Recorder) insert(ctx context.Context, st *core.State) error {
	attrs, err := json.Marshal(st.Attributes)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO state_history
			(entity_id, state, attributes, last_changed, last_updated, context_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.EntityID.String(),
		st.Value,
		string(attrs),
		st.LastChanged.UTC(),
		st.LastUpdated.UTC(),
		st.Context.ID,
	)
	if err != nil {
		return fmt.Errorf("inserting state row: %w", err)
	}
	return nil
}

func (r *Recorder) purgeLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Purge(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("purging state history", "error", err)
			}
		}
	}
}

// Purge deletes rows older than the retention window. A zero retention
// makes it a no-op.
func (r *Recorder) Purge(ctx context.Context) error {
	if r.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -r.cfg.RetentionDays)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE last_updated < ?", cutoff)
	if err != nil {
		return fmt.Errorf("deleting expired rows: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		r.logger.Info("purged state history", "rows", n)
	}
	return nil
}

// Query returns recorded transitions for an entity within [start, end),
// oldest first. A non-positive limit defaults to 50; limits above 200
// are clamped.
func (r *Recorder) Query(ctx context.Context, entityID core.EntityID, start, end time.Time, limit int) ([]core.State, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, state, attributes, last_changed, last_updated, context_id
		FROM state_history
		WHERE entity_id = ? AND last_updated >= ? AND last_updated < ?
		ORDER BY last_updated ASC
		LIMIT ?`,
		entityID.String(), start.UTC(), end.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	var states []core.State
	for rows.Next() {
		var (
			st        core.State
			id        string
			attrs     string
			contextID string
		)
		if err := rows.Scan(&id, &st.Value, &attrs, &st.LastChanged, &st.LastUpdated, &contextID); err != nil {
			return nil, fmt.Errorf("scanning state row: %w", err)
		}
		st.EntityID, err = core.ParseEntityID(id)
		if err != nil {
			return nil, fmt.Errorf("bad entity id in row: %w", err)
		}
		st.Context = core.Context{ID: contextID}
		if err := json.Unmarshal([]byte(attrs), &st.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes for %s: %w", id, err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
