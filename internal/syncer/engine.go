// Package syncer pushes locally created and updated tickets to the
// remote authoritative store. It is best-effort and resumable: the
// venue stays fully functional through extended offline periods, and
// every push is an upsert so replays after a crash are safe. The
// engine never mutates business state; it reads tickets and writes
// back nothing but the synced flag.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radelqui/tito-ledger/internal/ledger"
	"github.com/radelqui/tito-ledger/internal/model"
)

// Ledger is the slice of the local store the engine needs.
type Ledger interface {
	ListUnsynced(ctx context.Context) ([]model.Ticket, error)
	MarkSynced(ctx context.Context, ids []int64) error
	AddAudit(ctx context.Context, kind string, ticketNumber, operatorRef *string, detail string) error
}

// Remote is the slice of the remote store the engine needs.
type Remote interface {
	Available() bool
	UpsertTickets(ctx context.Context, tickets []model.Ticket) error
}

// Options tunes batching and the retry policy. All values come from
// configuration; Engine applies no hidden defaults beyond rejecting
// non-positive ones.
type Options struct {
	BatchSize   int           // tickets per upsert call
	Retries     int           // attempts per remote call
	Backoff     time.Duration // delay before the second attempt, doubled each retry
	CallTimeout time.Duration // hard deadline per remote call attempt
	Interval    time.Duration // period of the background timer in Run
}

// BatchError records one failed batch inside a sync run. Batch is
// 1-based. The run continues past a failed batch; only its tickets
// stay unsynced.
type BatchError struct {
	Batch         int      `json:"batch"`
	TicketNumbers []string `json:"ticket_numbers"`
	Error         string   `json:"error"`
}

// Report summarizes one sync run.
type Report struct {
	SyncedCount int          `json:"synced_count"`
	Total       int          `json:"total"`
	Errors      []BatchError `json:"errors"`
}

// Engine drains unsynced tickets from the ledger and pushes them to
// the remote store in batches. Construct one per process; SyncOnce is
// single-flighted so the background timer and on-demand triggers never
// run concurrently.
type Engine struct {
	ledger  Ledger
	remote  Remote
	opts    Options
	log     *logrus.Entry
	mu      sync.Mutex
	trigger chan struct{}
}

// New returns an Engine. remote may be a nil-backed handle whose
// Available() is false; the engine then no-ops.
func New(l Ledger, r Remote, opts Options, log *logrus.Entry) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		ledger:  l,
		remote:  r,
		opts:    opts,
		log:     log.WithField("component", "syncer"),
		trigger: make(chan struct{}, 1),
	}
}

// Available reports whether the remote store is reachable/configured.
func (e *Engine) Available() bool { return e.remote.Available() }

// SyncOnce performs one full reconciliation pass. An empty unsynced set
// returns immediately without contacting the remote store, as does an
// unavailable remote: offline operation is a no-op here, never an
// error. A failed batch is recorded in the report and the run moves on
// to the next batch; only tickets from acknowledged batches are marked
// synced. The returned error is reserved for local ledger failures,
// which are fatal and must propagate.
func (e *Engine) SyncOnce(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report Report
	pending, err := e.ledger.ListUnsynced(ctx)
	if err != nil {
		return report, fmt.Errorf("list unsynced: %w", err)
	}
	report.Total = len(pending)
	if len(pending) == 0 {
		return report, nil
	}
	if !e.remote.Available() {
		e.log.WithField("pending", len(pending)).Debug("remote store unavailable, skipping sync")
		return Report{}, nil
	}

	for i := 0; i < len(pending); i += e.opts.BatchSize {
		end := i + e.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]
		batchNo := i/e.opts.BatchSize + 1

		err := e.executeWithRetry(ctx, func(callCtx context.Context) error {
			return e.remote.UpsertTickets(callCtx, batch)
		})
		if err != nil {
			report.Errors = append(report.Errors, BatchError{
				Batch:         batchNo,
				TicketNumbers: ticketNumbers(batch),
				Error:         err.Error(),
			})
			e.log.WithError(err).WithField("batch", batchNo).Warn("batch push failed")
			continue
		}

		ids := make([]int64, len(batch))
		for j, t := range batch {
			ids[j] = t.SequenceID
		}
		if err := e.ledger.MarkSynced(ctx, ids); err != nil {
			// A ledger write failure is a local storage problem, not a
			// remote one. Stop the run and surface it.
			return report, fmt.Errorf("mark synced: %w", err)
		}
		report.SyncedCount += len(batch)
	}

	if err := e.ledger.AddAudit(ctx, ledger.AuditSyncCompleted, nil, nil,
		fmt.Sprintf("synced %d of %d tickets, %d failed batches",
			report.SyncedCount, report.Total, len(report.Errors))); err != nil {
		e.log.WithError(err).Warn("audit write failed")
	}
	e.log.WithFields(logrus.Fields{
		"synced": report.SyncedCount,
		"total":  report.Total,
		"errors": len(report.Errors),
	}).Info("sync run complete")
	return report, nil
}

// executeWithRetry runs one remote call with up to opts.Retries
// attempts, doubling the backoff after each failure (2s, 4s, 8s with
// the defaults) and applying the per-call timeout to every attempt. It
// is an explicit bounded loop; the final error surfaces only after all
// attempts are exhausted. A timed-out call counts as a failure like
// any other.
func (e *Engine) executeWithRetry(ctx context.Context, op func(context.Context) error) error {
	delay := e.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		lastErr = op(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == e.opts.Retries {
			break
		}
		e.log.WithError(lastErr).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Debug("remote call failed, backing off")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

// Trigger requests an on-demand sync from the Run loop without
// blocking. A pending trigger coalesces with later ones. Safe on a
// nil receiver so write paths can nudge an engine that was never
// started.
func (e *Engine) Trigger() {
	if e == nil {
		return
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run drives periodic reconciliation plus on-demand triggers until ctx
// is cancelled. It runs on its own goroutine, off every path that
// serves interactive issuing or redemption: a slow or unreachable
// remote never delays a station.
func (e *Engine) Run(ctx context.Context) {
	interval := e.opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}
		if _, err := e.SyncOnce(ctx); err != nil {
			e.log.WithError(err).Error("sync run failed")
		}
	}
}

func ticketNumbers(batch []model.Ticket) []string {
	out := make([]string, len(batch))
	for i, t := range batch {
		out[i] = t.TicketNumber
	}
	return out
}
