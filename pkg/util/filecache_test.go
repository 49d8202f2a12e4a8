// Tests for FileCache with mmap-based file access.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestFiles creates compiler-like outputs for testing.
func setupTestFiles(t *testing.T) (dir string, files map[string]string) {
	t.Helper()

	dir = t.TempDir()
	files = make(map[string]string)

	write := func(name, content string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		files[name] = path
	}

	write("main.css", "body {\n  color: red; }\n\n/*# sourceMappingURL=main.css.map */\n")
	write("main.css.map", `{"version":3,"sources":["file:///p/src/main.scss"],"names":[],"mappings":"AAAA"}`)
	write("pages/unicode.css", ".greeting::after {\n  content: \"你好 👋\"; }\n")
	write("empty.css", "")
	write("large.css", strings.Repeat(".a { color: blue; }\n", 2000))

	return dir, files
}

func TestFileCache_BasicOperations(t *testing.T) {
	_, files := setupTestFiles(t)
	cssPath := files["main.css"]

	cache := NewFileCache(DefaultFileCacheConfig())
	defer cache.Close()

	assert.Equal(t, 0, cache.Size(), "Initial cache should be empty")

	mf, err := cache.Get(cssPath)
	require.NoError(t, err)
	require.NotNil(t, mf)
	assert.Equal(t, cssPath, mf.Path)
	assert.Greater(t, mf.Size, int64(0))
	assert.Equal(t, 1, cache.Size())

	mf2, err := cache.Get(cssPath)
	require.NoError(t, err)
	assert.Same(t, mf, mf2)

	data, err := cache.ReadFile(cssPath)
	require.NoError(t, err)
	want, err := os.ReadFile(cssPath)
	require.NoError(t, err)
	assert.Equal(t, want, data)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.FilesCached)
	assert.Equal(t, int64(1), stats.FilesLoaded)
	assert.Greater(t, stats.CacheHits, int64(0))
	assert.Equal(t, int64(len(want)), stats.BytesRead)
	assert.Greater(t, stats.TotalMappedMB, float64(0))

	require.NoError(t, cache.Close())
	assert.Equal(t, 0, cache.Size())
}

func TestFileCache_ReadFileCopySurvivesRelease(t *testing.T) {
	_, files := setupTestFiles(t)
	path := files["large.css"]

	cache := NewFileCache(nil)
	defer cache.Close()

	data, err := cache.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, cache.Release(path))
	assert.Equal(t, 0, cache.Size())

	// The copy is still readable after the mapping is gone.
	assert.True(t, strings.HasPrefix(string(data), ".a { color: blue; }"))
	assert.Len(t, data, 2000*len(".a { color: blue; }\n"))

	assert.NoError(t, cache.Release(path), "releasing twice is a no-op")
}

func TestFileCache_Limits_MaxFiles(t *testing.T) {
	_, files := setupTestFiles(t)

	cache := NewFileCache(&FileCacheConfig{MaxFiles: 2, EnableMetrics: true})
	defer cache.Close()

	_, err := cache.Get(files["main.css"])
	require.NoError(t, err)
	_, err = cache.Get(files["main.css.map"])
	require.NoError(t, err)

	_, err = cache.Get(files["large.css"])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheLimit)

	// Releasing frees a slot.
	require.NoError(t, cache.Release(files["main.css"]))
	_, err = cache.Get(files["large.css"])
	assert.NoError(t, err)
}

func TestFileCache_Limits_MaxMemoryMB(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.css")
	require.NoError(t, os.WriteFile(big, make([]byte, 2*1024*1024), 0o644))

	cache := NewFileCache(&FileCacheConfig{MaxMemoryMB: 1, EnableMetrics: true})
	defer cache.Close()

	_, err := cache.Get(big)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheLimit)
	assert.Equal(t, int64(1), cache.Stats().CacheMisses)
}

func TestFileCache_EmptyFiles(t *testing.T) {
	_, files := setupTestFiles(t)

	cache := NewFileCache(UnboundedFileCacheConfig())
	defer cache.Close()

	data, err := cache.ReadFile(files["empty.css"])
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFileCache_UnicodeHandling(t *testing.T) {
	_, files := setupTestFiles(t)

	cache := NewFileCache(nil)
	defer cache.Close()

	data, err := cache.ReadFile(files["pages/unicode.css"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "你好")
}

func TestFileCache_FileNotFound(t *testing.T) {
	cache := NewFileCache(nil)
	defer cache.Close()

	_, err := cache.ReadFile(filepath.Join(t.TempDir(), "missing.css"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileCache_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 20; i++ {
		p := filepath.Join(dir, fmt.Sprintf("f%02d.css", i))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf(".f%02d{}", i)), 0o644))
		paths = append(paths, p)
	}

	cache := NewFileCache(UnboundedFileCacheConfig())
	defer cache.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, p := range paths {
				data, err := cache.ReadFile(p)
				assert.NoError(t, err)
				assert.Equal(t, fmt.Sprintf(".f%02d{}", i), string(data))
			}
		}()
	}
	wg.Wait()

	stats := cache.Stats()
	assert.Equal(t, int64(len(paths)), stats.FilesLoaded, "each file is loaded once")
	assert.Equal(t, len(paths), cache.Size())
}

func TestGetOptimalPoolSize(t *testing.T) {
	size := GetOptimalPoolSize()
	assert.Equal(t, min(max(runtime.NumCPU()*4, 8), 64), size)
	assert.Equal(t, 3, GetOptimalPoolSizeWithOverride(3))
	assert.Equal(t, size, GetOptimalPoolSizeWithOverride(0))
}

func TestPoolSizeForCache(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		config *FileCacheConfig
		want   int
	}{
		{"nil config", 40, nil, 40},
		{"unlimited", 40, UnboundedFileCacheConfig(), 40},
		{"default fits", 32, DefaultFileCacheConfig(), 32},
		{"two mappings per reader", 40, &FileCacheConfig{MaxFiles: 10}, 5},
		{"at least one reader", 8, &FileCacheConfig{MaxFiles: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PoolSizeForCache(tt.size, tt.config))
		})
	}
}
