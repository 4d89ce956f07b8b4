package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractline/internal/db"
	"contractline/internal/domain"
	"contractline/internal/events"
	"contractline/internal/migrate"
)

func newWriter(t *testing.T) events.Writer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	return events.Writer{DB: conn}
}

func appendAll(t *testing.T, w events.Writer, evs ...domain.ContractEvent) []bool {
	t.Helper()
	ctx := context.Background()
	tx, err := w.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	var inserted []bool
	for _, e := range evs {
		ok, err := w.Append(ctx, tx, e)
		require.NoError(t, err)
		inserted = append(inserted, ok)
	}
	require.NoError(t, tx.Commit())
	return inserted
}

func TestAppendIsIdempotent(t *testing.T) {
	w := newWriter(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	proposed := domain.NewEvent("e1", "A", "alice", ts, domain.ProposedPayload{})
	fulfilled := domain.NewEvent("e2", "A", "", ts.Add(time.Second), domain.FulfilledPayload{Deliverables: []string{"report.pdf"}})

	assert.Equal(t, []bool{true, true}, appendAll(t, w, proposed, fulfilled))
	assert.Equal(t, []bool{false}, appendAll(t, w, proposed))

	got, err := w.ForContract(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, proposed, got[0])
	assert.Equal(t, "", got[1].ActorID)
	assert.Equal(t, domain.FulfilledPayload{Deliverables: []string{"report.pdf"}}, got[1].Payload)
}

func TestTailFilters(t *testing.T) {
	w := newWriter(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	appendAll(t, w,
		domain.NewEvent("e1", "A", "alice", ts, domain.ProposedPayload{}),
		domain.NewEvent("e2", "B", "alice", ts.Add(time.Second), domain.ProposedPayload{}),
		domain.NewEvent("e3", "A", "bob", ts.Add(2*time.Second), domain.AcceptedPayload{}),
	)
	ctx := context.Background()

	all, err := w.Tail(ctx, events.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e2", "e1"}, ids(all))

	onlyA, err := w.Tail(ctx, events.Query{ContractID: "A", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"e3"}, ids(onlyA))

	proposed, err := w.Tail(ctx, events.Query{Type: domain.EventProposed})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e1"}, ids(proposed))
}

func ids(evs []domain.ContractEvent) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.ID)
	}
	return out
}
