package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractline/internal/domain"
)

func TestWorkspacePersistAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ws, err := Open(ctx, Options{Workspace: dir})
	require.NoError(t, err)
	_, err = ws.Registry.Register(domain.Contract{ID: "A", Name: "alpha"})
	require.NoError(t, err)
	_, err = ws.Registry.Register(domain.Contract{ID: "B", Name: "beta", DependsOn: []string{"A"}})
	require.NoError(t, err)
	_, err = ws.Registry.Propose("A", "alice")
	require.NoError(t, err)
	require.NoError(t, ws.Persist(ctx))
	require.NoError(t, ws.Close())

	ws, err = Open(ctx, Options{Workspace: dir})
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, 2, ws.Registry.Len())
	a, err := ws.Registry.Get("A")
	require.NoError(t, err)
	assert.Equal(t, domain.StateProposed, a.State)
}

func TestWorkspaceUsesConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contractline.yml"), []byte("registry:\n  default_priority: high\n"), 0o644))

	ws, err := Open(ctx, Options{Workspace: dir})
	require.NoError(t, err)
	defer ws.Close()
	c, err := ws.Registry.Register(domain.Contract{ID: "A"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, c.Priority)
}

func TestWorkspaceRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contractline.yml"), []byte("log:\n  format: xml\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: dir})
	assert.Error(t, err)
}
