package repository

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	loginQueueSize = 1024
	loginBatchSize = 256
)

// BatchSender is the subset of *pgxpool.Pool the recorder needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type loginEvent struct {
	userID string
	at     time.Time
}

// LoginRecorder writes users.last_login in the background. Authentication
// must not wait on Postgres, so Record only enqueues; Run coalesces events
// per user and flushes them as one pgx batch.
type LoginRecorder struct {
	pool      BatchSender
	writeChan chan loginEvent
	interval  time.Duration
	logger    *slog.Logger
	closed    atomic.Bool
}

func NewLoginRecorder(pool BatchSender, interval time.Duration) *LoginRecorder {
	return &LoginRecorder{
		pool:      pool,
		writeChan: make(chan loginEvent, loginQueueSize),
		interval:  interval,
		logger:    slog.Default(),
	}
}

// Record queues a login. When the queue is full the event is dropped; the
// next login of the same user overwrites it anyway.
func (r *LoginRecorder) Record(userID string, at time.Time) {
	if r == nil || r.closed.Load() {
		return
	}
	select {
	case r.writeChan <- loginEvent{userID: userID, at: at}:
	default:
		r.logger.Warn("login_queue_full", "user_id", userID)
	}
}

// Run flushes queued logins every interval, or earlier when a batch fills,
// until ctx is cancelled. Remaining events are flushed before returning.
func (r *LoginRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make(map[string]time.Time)
	add := func(ev loginEvent) {
		if prev, ok := batch[ev.userID]; !ok || ev.at.After(prev) {
			batch[ev.userID] = ev.at
		}
	}

	r.logger.Info("login_recorder_started", "interval", r.interval.String())

	for {
		select {
		case <-ctx.Done():
			r.closed.Store(true)
		drain:
			for {
				select {
				case ev := <-r.writeChan:
					add(ev)
				default:
					break drain
				}
			}
			r.logger.Info("login_recorder_shutting_down", "remaining", len(batch))
			r.flush(batch)
			return

		case ev := <-r.writeChan:
			add(ev)
			if len(batch) >= loginBatchSize {
				r.flush(batch)
				clear(batch)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				clear(batch)
			}
		}
	}
}

func (r *LoginRecorder) flush(batch map[string]time.Time) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := &pgx.Batch{}
	for userID, at := range batch {
		b.Queue(`UPDATE users SET last_login = $2 WHERE id = $1 AND (last_login IS NULL OR last_login < $2)`, userID, at)
	}

	start := time.Now()
	results := r.pool.SendBatch(ctx, b)
	defer results.Close()

	failed := 0
	for range b.Len() {
		if _, err := results.Exec(); err != nil {
			failed++
			r.logger.Error("login_update_failed", "error", err)
		}
	}
	r.logger.Debug("login_batch_flushed",
		"count", len(batch),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
