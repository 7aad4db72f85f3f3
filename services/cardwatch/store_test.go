package cardwatch

import (
	"context"
	"testing"

	"cardalert-backend/lib/scrapers/ecard"
	"cardalert-backend/lib/sqliteutil"
	"cardalert-backend/lib/telemetry"
	"cardalert-backend/services/cardwatch/db"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Cleanup(telemetry.SetupForTesting(t, "test:services/cardwatch"))

	sqlite, err := sqliteutil.OpenDB(db.Schema, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return NewStore(sqlite)
}

func TestLogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	log, err := store.LoadLog(ctx)
	require.NoError(t, err)
	require.Empty(t, log)

	log = NewSet([]ecard.Transaction{
		tx(100, "持卡人消费", -350, 8820, "学十食堂"),
		tx(200, "持卡人消费", -30, 8790, "浴室"),
	})
	require.NoError(t, store.SaveLog(ctx, log))

	loaded, err := store.LoadLog(ctx)
	require.NoError(t, err)
	require.Equal(t, log, loaded)
}

func TestSaveLogRewrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := NewSet([]ecard.Transaction{tx(100, "持卡人消费", -350, 8820, "学十食堂")})
	require.NoError(t, store.SaveLog(ctx, first))

	second := NewSet([]ecard.Transaction{tx(200, "持卡人消费", -30, 8790, "浴室")})
	require.NoError(t, store.SaveLog(ctx, second))

	loaded, err := store.LoadLog(ctx)
	require.NoError(t, err)
	require.Equal(t, second, loaded)
}

func TestDeployStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.LoadDeployState(ctx)
	require.NoError(t, err)
	require.Equal(t, DeployState{}, state)

	want := DeployState{Deployed: true, ChatID: 123456789}
	require.NoError(t, store.SaveDeployState(ctx, want))

	state, err = store.LoadDeployState(ctx)
	require.NoError(t, err)
	require.Equal(t, want, state)

	// redeploying overwrites the previous binding
	want = DeployState{Deployed: true, ChatID: 42}
	require.NoError(t, store.SaveDeployState(ctx, want))

	state, err = store.LoadDeployState(ctx)
	require.NoError(t, err)
	require.Equal(t, want, state)
}

func TestSaveDeployStateFailureKeepsOldBinding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := DeployState{Deployed: true, ChatID: 42}
	require.NoError(t, store.SaveDeployState(ctx, want))

	// a save that cannot commit must not partially overwrite the binding
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := store.SaveDeployState(cancelled, DeployState{Deployed: true, ChatID: 777})
	require.Error(t, err)

	state, err := store.LoadDeployState(ctx)
	require.NoError(t, err)
	require.Equal(t, want, state)
}
