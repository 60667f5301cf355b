package config

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

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	w, err := NewFileWatcher(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	var fired atomic.Int32
	w.OnChange(func(event FileEvent) {
		assert.Equal(t, path, event.Path)
		fired.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// 确保修改时间前进（粗粒度文件系统时钟）
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))

	require.Eventually(t, func() bool {
		return fired.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherNoEventWithoutChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	w, err := NewFileWatcher(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	var fired atomic.Int32
	w.OnChange(func(FileEvent) { fired.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)
	w.Stop()
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatcherRejectsEmptyPath(t *testing.T) {
	_, err := NewFileWatcher("")
	assert.Error(t, err)
}

func TestWatcherDoubleStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	w, err := NewFileWatcher(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx))
	w.Stop()
	w.Stop() // 幂等
}
