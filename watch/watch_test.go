package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchTriggersBuild(t *testing.T) {
	dir := t.TempDir()
	audiences := filepath.Join(dir, "audiences")
	require.NoError(t, os.Mkdir(audiences, 0755))
	file := filepath.Join(audiences, "a.yaml")
	require.NoError(t, os.WriteFile(file, []byte("audiences: []\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var builds atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, []string{audiences, filepath.Join(dir, "missing")}, func() error {
			builds.Add(1)
			return nil
		}, nil)
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(audiences, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(file, []byte("audiences: [] # changed\n"), 0644))

	assert.Eventually(t, func() bool { return builds.Load() > 0 }, 2*time.Second, 50*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestWatchFilePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "single.yml")
	require.NoError(t, os.WriteFile(file, []byte("{}\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var builds atomic.Int32
	go Watch(ctx, []string{file}, func() error { builds.Add(1); return nil }, nil)

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte("audiences: []\n"), 0644))
	assert.Eventually(t, func() bool { return builds.Load() > 0 }, 2*time.Second, 50*time.Millisecond)
}

func TestIsAudienceFile(t *testing.T) {
	assert.True(t, IsAudienceFile("a/b.yaml"))
	assert.True(t, IsAudienceFile("B.YML"))
	assert.False(t, IsAudienceFile("a.cp"))
	assert.False(t, IsAudienceFile("yaml"))
}
