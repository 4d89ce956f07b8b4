package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractline/internal/db"
	"contractline/internal/domain"
	"contractline/internal/migrate"
	"contractline/internal/registry"
	"contractline/internal/store"
)

type testEnv struct {
	Store store.Store
	Reg   *registry.Registry
	Ctx   context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	st := store.New(conn)
	st.Now = now
	return testEnv{Store: st, Reg: registry.New(registry.WithClock(now)), Ctx: ctx}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Reg.Register(domain.Contract{ID: "A", Name: "api", Tags: []string{"billing"}})
	require.NoError(t, err)
	_, err = env.Reg.Register(domain.Contract{ID: "B", DependsOn: []string{"A"}})
	require.NoError(t, err)
	_, err = env.Reg.Propose("A", "alice")
	require.NoError(t, err)
	_, err = env.Reg.Accept("A", "bob")
	require.NoError(t, err)

	res, err := env.Store.Save(env.Ctx, env.Reg.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, store.SaveResult{Contracts: 2, NewEvents: 2}, res)

	loaded, err := env.Store.Load(env.Ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	restored := registry.New()
	require.NoError(t, restored.Restore(loaded))
	a, err := restored.Get("A")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, a.State)
	assert.Equal(t, []string{"billing"}, a.Tags)
	require.Len(t, a.Events, 2)
	assert.Equal(t, domain.EventProposed, a.Events[0].Type)
	assert.Equal(t, "bob", a.Events[1].ActorID)

	t.Run("second save journals only new events", func(t *testing.T) {
		_, err := env.Reg.Fulfill("A", "bob", []string{"d1"})
		require.NoError(t, err)
		res, err := env.Store.Save(env.Ctx, env.Reg.Snapshot())
		require.NoError(t, err)
		assert.Equal(t, 1, res.NewEvents)

		c, err := env.Store.Get(env.Ctx, "A")
		require.NoError(t, err)
		require.Len(t, c.Events, 3)
		assert.Equal(t, domain.FulfilledPayload{Deliverables: []string{"d1"}}, c.Events[2].Payload)
	})

	t.Run("rows missing from the snapshot are removed", func(t *testing.T) {
		snap := env.Reg.Snapshot()
		res, err := env.Store.Save(env.Ctx, snap[:1])
		require.NoError(t, err)
		assert.Equal(t, 1, res.Removed)
		_, err = env.Store.Get(env.Ctx, "B")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	info, err := env.Store.LastSnapshot(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Contracts)
}

func TestLatestEvents(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"A", "B"} {
		_, err := env.Reg.Register(domain.Contract{ID: id})
		require.NoError(t, err)
		_, err = env.Reg.Propose(id, "alice")
		require.NoError(t, err)
	}
	_, err := env.Reg.Breach("B", "ops", domain.ContractBreach{Severity: domain.SeverityLow})
	require.NoError(t, err)
	_, err = env.Store.Save(env.Ctx, env.Reg.Snapshot())
	require.NoError(t, err)

	all, err := env.Store.LatestEvents(env.Ctx, 0, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.EventBreached, all[0].Type)

	onlyA, err := env.Store.LatestEvents(env.Ctx, 10, "A", "")
	require.NoError(t, err)
	require.Len(t, onlyA, 1)

	proposed, err := env.Store.LatestEvents(env.Ctx, 1, "", domain.EventProposed)
	require.NoError(t, err)
	require.Len(t, proposed, 1)
	assert.Equal(t, "B", proposed[0].ContractID)
}

func TestEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	loaded, err := env.Store.Load(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
	_, err = env.Store.LastSnapshot(env.Ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	boom := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO contracts").WillReturnError(boom)
	mock.ExpectRollback()

	_, err = store.New(conn).Save(context.Background(), []domain.Contract{{ID: "A", State: domain.StateDraft}})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "save contract A")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRejectsCorruptBody(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("SELECT id, body_json FROM contracts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "body_json"}).AddRow("A", "{not json"))

	_, err = store.New(conn).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode contract A")
	require.NoError(t, mock.ExpectationsWereMet())
}
