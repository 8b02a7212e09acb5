package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radelqui/tito-ledger/internal/model"
	"github.com/radelqui/tito-ledger/internal/syncer"
)

// fakeLedger implements syncer.Ledger in memory.
type fakeLedger struct {
	tickets []model.Ticket
	synced  map[int64]bool
	listErr error
}

func newFakeLedger(n int) *fakeLedger {
	l := &fakeLedger{synced: make(map[int64]bool)}
	for i := 1; i <= n; i++ {
		l.tickets = append(l.tickets, model.Ticket{
			SequenceID:   int64(i),
			TicketNumber: fmt.Sprintf("T-%04d", i),
			Amount:       decimal.NewFromInt(100),
			Currency:     model.CurrencyDOP,
			State:        model.StateIssued,
		})
	}
	return l
}

func (l *fakeLedger) ListUnsynced(ctx context.Context) ([]model.Ticket, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	var out []model.Ticket
	for _, t := range l.tickets {
		if !l.synced[t.SequenceID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *fakeLedger) MarkSynced(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		l.synced[id] = true
	}
	return nil
}

func (l *fakeLedger) AddAudit(ctx context.Context, kind string, ticketNumber, operatorRef *string, detail string) error {
	return nil
}

// fakeRemote implements syncer.Remote, optionally failing chosen calls.
type fakeRemote struct {
	available bool
	calls     [][]model.Ticket
	failCalls map[int]error // 1-based call index -> error for every attempt
	callCount int
}

func (r *fakeRemote) Available() bool { return r.available }

func (r *fakeRemote) UpsertTickets(ctx context.Context, tickets []model.Ticket) error {
	r.callCount++
	if err, ok := r.failCalls[r.callCount]; ok {
		return err
	}
	r.calls = append(r.calls, tickets)
	return nil
}

func testOptions() syncer.Options {
	return syncer.Options{
		BatchSize:   10,
		Retries:     3,
		Backoff:     time.Millisecond,
		CallTimeout: time.Second,
	}
}

func TestSyncOnceEmptySetSkipsRemote(t *testing.T) {
	l := newFakeLedger(0)
	r := &fakeRemote{available: true}
	e := syncer.New(l, r, testOptions(), nil)

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.SyncedCount)
	assert.Equal(t, 0, report.Total)
	assert.Empty(t, report.Errors)
	assert.Zero(t, r.callCount, "remote must not be contacted for an empty set")
}

func TestSyncOnceUnavailableRemoteIsNoop(t *testing.T) {
	l := newFakeLedger(5)
	r := &fakeRemote{available: false}
	e := syncer.New(l, r, testOptions(), nil)

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.SyncedCount)
	assert.Empty(t, report.Errors)
	assert.Zero(t, r.callCount)
	assert.Empty(t, l.synced, "nothing may be marked synced offline")
}

func TestSyncOnceBatchesAndMarks(t *testing.T) {
	l := newFakeLedger(25)
	r := &fakeRemote{available: true}
	e := syncer.New(l, r, testOptions(), nil)

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, report.Total)
	assert.Equal(t, 25, report.SyncedCount)
	assert.Empty(t, report.Errors)
	require.Len(t, r.calls, 3)
	assert.Len(t, r.calls[0], 10)
	assert.Len(t, r.calls[1], 10)
	assert.Len(t, r.calls[2], 5)
	assert.Len(t, l.synced, 25)
}

func TestSyncOnceContinuesPastFailedBatch(t *testing.T) {
	l := newFakeLedger(25)
	boom := errors.New("remote exploded")
	// Batch 2 fails on all three retry attempts (calls 2, 3, 4); batches
	// 1 and 3 succeed.
	r := &fakeRemote{available: true, failCalls: map[int]error{2: boom, 3: boom, 4: boom}}
	e := syncer.New(l, r, testOptions(), nil)

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, report.Total)
	assert.Equal(t, 15, report.SyncedCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 2, report.Errors[0].Batch)
	assert.Len(t, report.Errors[0].TicketNumbers, 10)
	assert.Contains(t, report.Errors[0].TicketNumbers, "T-0011")
	assert.Contains(t, report.Errors[0].Error, "remote exploded")

	// Only tickets from acknowledged batches are marked.
	assert.Len(t, l.synced, 15)
	for i := int64(11); i <= 20; i++ {
		assert.False(t, l.synced[i], "ticket %d from the failed batch must stay unsynced", i)
	}

	// A later run picks up exactly the failed batch.
	r.failCalls = nil
	report, err = e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 10, report.SyncedCount)
	assert.Len(t, l.synced, 25)
}

func TestExecuteWithRetryStopsAfterTransientFailure(t *testing.T) {
	l := newFakeLedger(3)
	boom := errors.New("connection reset")
	// First attempt fails, second succeeds.
	r := &fakeRemote{available: true, failCalls: map[int]error{1: boom}}
	e := syncer.New(l, r, testOptions(), nil)

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.SyncedCount)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, r.callCount)
}

func TestSyncOnceSurfacesLedgerFailure(t *testing.T) {
	l := newFakeLedger(3)
	l.listErr = errors.New("disk full")
	r := &fakeRemote{available: true}
	e := syncer.New(l, r, testOptions(), nil)

	_, err := e.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
