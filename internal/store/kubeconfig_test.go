package store_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/store"
)

func TestClusterConfigPathMaterializes(t *testing.T) {
	s, _, _, fs := newTestStore(t)
	ctx := context.Background()

	g := testGroup("atlas")
	require.NoError(t, s.AddGroup(ctx, g))
	c := testCluster("site-a", g.ID)
	require.NoError(t, s.AddCluster(ctx, c))

	h, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	defer h.Release()

	assert.True(t, strings.HasPrefix(h.Path(), kubeconfigDir+"/"))
	data, err := afero.ReadFile(fs, h.Path())
	require.NoError(t, err)
	assert.Equal(t, c.Config, string(data))
}

func TestClusterConfigPathShared(t *testing.T) {
	s, _, _, fs := newTestStore(t)
	ctx := context.Background()

	g := testGroup("atlas")
	require.NoError(t, s.AddGroup(ctx, g))
	c := testCluster("site-a", g.ID)
	require.NoError(t, s.AddCluster(ctx, c))

	h1, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	h2, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, h1.Path(), h2.Path())

	h1.Release()
	h2.Release()
	h2.Release() // repeated release is harmless

	// The pool still holds its own reference.
	exists, err := afero.Exists(fs, h1.Path())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClusterConfigPathUnknownCluster(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	_, err := s.ClusterConfigPath(context.Background(), "Cluster_does-not-exist")
	assert.ErrorIs(t, err, store.ErrUnknownCluster)
}

func TestKubeconfigInvalidatedOnClusterUpdate(t *testing.T) {
	s, _, _, fs := newTestStore(t)
	ctx := context.Background()

	g := testGroup("atlas")
	require.NoError(t, s.AddGroup(ctx, g))
	c := testCluster("site-a", g.ID)
	require.NoError(t, s.AddCluster(ctx, c))

	h1, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	oldPath := h1.Path()

	updated, err := s.GetCluster(ctx, c.ID)
	require.NoError(t, err)
	updated.Config = "apiVersion: v1\nkind: Config\nclusters: [rotated]\n"
	require.NoError(t, s.UpdateCluster(ctx, updated))

	h2, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	defer h2.Release()
	assert.NotEqual(t, oldPath, h2.Path())

	data, err := afero.ReadFile(fs, h2.Path())
	require.NoError(t, err)
	assert.Equal(t, updated.Config, string(data))

	// The superseded file lives on for its remaining holder.
	data, err = afero.ReadFile(fs, oldPath)
	require.NoError(t, err)
	assert.Equal(t, c.Config, string(data))

	h1.Release()
	exists, err := afero.Exists(fs, oldPath)
	require.NoError(t, err)
	assert.False(t, exists, "last release unlinks the superseded file")
}

func TestKubeconfigReleasedAfterClusterDelete(t *testing.T) {
	s, _, _, fs := newTestStore(t)
	ctx := context.Background()

	g := testGroup("atlas")
	require.NoError(t, s.AddGroup(ctx, g))
	c := testCluster("site-a", g.ID)
	require.NoError(t, s.AddCluster(ctx, c))

	h, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	path := h.Path()

	require.NoError(t, s.DeleteCluster(ctx, c.ID))

	// In-flight work against the cluster keeps its kubeconfig until done.
	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.True(t, exists)

	h.Release()
	exists, err = afero.Exists(fs, path)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.ClusterConfigPath(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrUnknownCluster)
}

func TestKubeconfigRematerializedAfterExpiry(t *testing.T) {
	s, _, clock, fs := newTestStore(t, store.WithClusterCacheValidity(time.Minute))
	ctx := context.Background()

	g := testGroup("atlas")
	require.NoError(t, s.AddGroup(ctx, g))
	c := testCluster("site-a", g.ID)
	require.NoError(t, s.AddCluster(ctx, c))

	h1, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	oldPath := h1.Path()
	h1.Release()

	clock.Advance(2 * time.Minute)

	h2, err := s.ClusterConfigPath(ctx, c.ID)
	require.NoError(t, err)
	defer h2.Release()
	assert.NotEqual(t, oldPath, h2.Path())

	exists, err := afero.Exists(fs, oldPath)
	require.NoError(t, err)
	assert.False(t, exists, "nothing held the expired materialization")
}
