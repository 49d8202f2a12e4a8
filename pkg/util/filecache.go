// FileCache reads compiler outputs through memory-mapped files.
//
// **Lifecycle:**
//   - One cache per collection run; files are mapped on first access.
//   - ReadFile copies the mapped bytes out, so callers own what they get and
//     the mapping can be released immediately with Release.
//   - Close unmaps everything still held.
//
// **Safety Features:**
//   - Optional MaxFiles limit (prevents file descriptor exhaustion)
//   - Optional MaxMemoryMB limit (bounds virtual memory held at once)
//   - Graceful fallback to os.ReadFile if mmap fails
//   - Thread-safe with sync.RWMutex (parallel reads, exclusive loads)
package util

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
)

// FileCache provides memory-mapped file access.
//
// Thread-safe: Multiple goroutines can call methods concurrently.
type FileCache interface {
	// Get returns the mapped file, loading it on first access.
	//
	// Returns error if the file cannot be opened, a limit is reached, or
	// both mmap and the fallback read fail.
	Get(filePath string) (*MappedFile, error)

	// ReadFile returns a copy of the whole file. The copy stays valid after
	// Release or Close.
	ReadFile(filePath string) ([]byte, error)

	// Release unmaps one file. Releasing an unknown path is a no-op.
	Release(filePath string) error

	// Size returns number of currently cached files.
	Size() int

	// Stats returns current cache metrics.
	Stats() FileCacheStats

	// Close unmaps all files and releases resources.
	Close() error
}

// FileCacheConfig controls FileCache behavior.
type FileCacheConfig struct {
	// MaxFiles is the maximum number of files mapped at once.
	// 0 means unlimited.
	MaxFiles int

	// MaxMemoryMB is the maximum virtual memory mapped at once (in MB).
	// 0 means unlimited. This limits address space, not physical RAM.
	MaxMemoryMB int

	// EnableMetrics determines whether to track cache statistics.
	EnableMetrics bool

	// Logger for warnings. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultFileCacheConfig returns limits suited to reading one compiler
// output directory with a bounded worker pool.
func DefaultFileCacheConfig() *FileCacheConfig {
	return &FileCacheConfig{
		MaxFiles:      256,
		MaxMemoryMB:   512,
		EnableMetrics: true,
		Logger:        nil, // Will use slog.Default()
	}
}

// UnboundedFileCacheConfig returns config with no limits.
func UnboundedFileCacheConfig() *FileCacheConfig {
	return &FileCacheConfig{
		MaxFiles:      0,
		MaxMemoryMB:   0,
		EnableMetrics: true,
		Logger:        nil,
	}
}

// MappedFile represents a memory-mapped file.
type MappedFile struct {
	// Path is the path the file was loaded from.
	Path string

	// Data is the mapped region. Nil for empty files.
	Data mmap.MMap

	// File is the underlying file descriptor. Nil for fallback entries.
	File *os.File

	// Size is the file size in bytes.
	Size int64

	// MappedAt is when this file was first mapped.
	MappedAt time.Time

	fallback bool
}

// FileCacheStats tracks cache metrics.
type FileCacheStats struct {
	// FilesLoaded is the total number of files loaded (cumulative).
	FilesLoaded int64

	// FilesCached is the current number of cached files.
	FilesCached int

	// CacheHits is the number of lookups served without loading.
	CacheHits int64

	// CacheMisses is the number of failed loads.
	CacheMisses int64

	// MmapFailures is the number of files read with os.ReadFile instead.
	MmapFailures int64

	// BytesRead is the total number of bytes copied out by ReadFile.
	BytesRead int64

	// TotalMappedMB is the virtual memory currently mapped.
	TotalMappedMB float64
}

// ErrCacheLimit is wrapped by errors returned when a configured limit is hit.
var ErrCacheLimit = errors.New("file cache limit reached")

// NewFileCache creates a new FileCache with the given config.
//
// If config is nil, uses DefaultFileCacheConfig().
func NewFileCache(config *FileCacheConfig) FileCache {
	if config == nil {
		config = DefaultFileCacheConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &fileCacheImpl{
		config: config,
		logger: logger,
		cache:  make(map[string]*MappedFile),
	}
}

// fileCacheImpl is the internal implementation of FileCache.
//
// mu guards cache; statsMu guards stats so metric updates never contend
// with lookups.
type fileCacheImpl struct {
	config *FileCacheConfig
	logger *slog.Logger

	cache map[string]*MappedFile
	mu    sync.RWMutex

	stats   FileCacheStats
	statsMu sync.Mutex
}

// Get returns the mapped file or loads it on first access.
func (fc *fileCacheImpl) Get(filePath string) (*MappedFile, error) {
	fc.mu.RLock()
	if mf, ok := fc.cache[filePath]; ok {
		fc.mu.RUnlock()
		fc.record(func(s *FileCacheStats) { s.CacheHits++ })
		return mf, nil
	}
	fc.mu.RUnlock()

	fc.mu.Lock()
	defer fc.mu.Unlock()

	// Another goroutine may have loaded it while we waited for Lock.
	if mf, ok := fc.cache[filePath]; ok {
		fc.record(func(s *FileCacheStats) { s.CacheHits++ })
		return mf, nil
	}

	var fileSize int64
	if fc.config.MaxMemoryMB > 0 {
		stat, err := os.Stat(filePath)
		if err != nil {
			fc.record(func(s *FileCacheStats) { s.CacheMisses++ })
			return nil, fmt.Errorf("failed to stat file %q: %w", filePath, err)
		}
		fileSize = stat.Size()
	}

	if err := fc.checkLimitsWithNewFile(fileSize); err != nil {
		fc.record(func(s *FileCacheStats) { s.CacheMisses++ })
		return nil, err
	}

	mf, err := fc.loadFile(filePath)
	if err != nil {
		fc.record(func(s *FileCacheStats) { s.CacheMisses++ })
		return nil, err
	}

	fc.cache[filePath] = mf
	fc.record(func(s *FileCacheStats) { s.FilesLoaded++ })

	return mf, nil
}

// checkLimitsWithNewFile verifies that adding a new file won't exceed limits.
//
// Must be called while holding mu.Lock.
func (fc *fileCacheImpl) checkLimitsWithNewFile(newFileSize int64) error {
	if fc.config.MaxFiles > 0 && len(fc.cache) >= fc.config.MaxFiles {
		return fmt.Errorf("%w: %d files (limit: %d files)", ErrCacheLimit, len(fc.cache), fc.config.MaxFiles)
	}

	if fc.config.MaxMemoryMB > 0 && newFileSize > 0 {
		currentMB := fc.calculateTotalMappedMBLocked()
		newFileMB := float64(newFileSize) / (1024 * 1024)
		if currentMB+newFileMB >= float64(fc.config.MaxMemoryMB) {
			return fmt.Errorf("%w: %.2f MB + %.2f MB (limit: %d MB)",
				ErrCacheLimit, currentMB, newFileMB, fc.config.MaxMemoryMB)
		}
	}

	return nil
}

// loadFile opens and maps a file, falling back to os.ReadFile if mmap fails.
//
// Must be called while holding mu.Lock.
func (fc *fileCacheImpl) loadFile(filePath string) (*MappedFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", filePath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file %q: %w", filePath, err)
	}

	// Zero bytes cannot be mapped.
	if stat.Size() == 0 {
		return &MappedFile{
			Path:     filePath,
			File:     file,
			MappedAt: time.Now(),
		}, nil
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		fc.logger.Warn("mmap failed, using fallback",
			"file", filePath,
			"size", stat.Size(),
			"error", err)

		raw, readErr := os.ReadFile(filePath)
		file.Close()
		if readErr != nil {
			return nil, fmt.Errorf("mmap failed and fallback failed for %q: mmap error: %v, read error: %w",
				filePath, err, readErr)
		}
		fc.record(func(s *FileCacheStats) { s.MmapFailures++ })

		return &MappedFile{
			Path:     filePath,
			Data:     mmap.MMap(raw),
			Size:     int64(len(raw)),
			MappedAt: time.Now(),
			fallback: true,
		}, nil
	}

	return &MappedFile{
		Path:     filePath,
		Data:     data,
		File:     file,
		Size:     stat.Size(),
		MappedAt: time.Now(),
	}, nil
}

// ReadFile returns an owned copy of the file contents.
func (fc *fileCacheImpl) ReadFile(filePath string) ([]byte, error) {
	mf, err := fc.Get(filePath)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(mf.Data))
	copy(out, mf.Data)
	fc.record(func(s *FileCacheStats) { s.BytesRead += int64(len(out)) })
	return out, nil
}

// Release unmaps one file.
func (fc *fileCacheImpl) Release(filePath string) error {
	fc.mu.Lock()
	mf, ok := fc.cache[filePath]
	delete(fc.cache, filePath)
	fc.mu.Unlock()

	if !ok {
		return nil
	}
	return unmap(mf)
}

func unmap(mf *MappedFile) error {
	var errs []error
	if mf.Data != nil && !mf.fallback {
		if err := mf.Data.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmap %q: %w", mf.Path, err))
		}
	}
	if mf.File != nil {
		if err := mf.File.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", mf.Path, err))
		}
	}
	return errors.Join(errs...)
}

// Size returns number of currently cached files.
func (fc *fileCacheImpl) Size() int {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	return len(fc.cache)
}

// Stats returns current cache metrics.
func (fc *fileCacheImpl) Stats() FileCacheStats {
	fc.mu.RLock()
	cachedFiles := len(fc.cache)
	totalMappedMB := fc.calculateTotalMappedMBLocked()
	fc.mu.RUnlock()

	fc.statsMu.Lock()
	defer fc.statsMu.Unlock()

	stats := fc.stats
	stats.FilesCached = cachedFiles
	stats.TotalMappedMB = totalMappedMB

	return stats
}

// calculateTotalMappedMBLocked must be called while holding mu.
func (fc *fileCacheImpl) calculateTotalMappedMBLocked() float64 {
	total := int64(0)
	for _, mf := range fc.cache {
		total += mf.Size
	}
	return float64(total) / (1024 * 1024)
}

// Close unmaps all files and releases resources.
func (fc *fileCacheImpl) Close() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var errs []error
	for path, mf := range fc.cache {
		if err := unmap(mf); err != nil {
			fc.logger.Warn("failed to release file", "path", path, "error", err)
			errs = append(errs, err)
		}
	}
	fc.cache = make(map[string]*MappedFile)

	fc.statsMu.Lock()
	stats := fc.stats
	fc.statsMu.Unlock()

	fc.logger.Debug("FileCache closed",
		"files_loaded", stats.FilesLoaded,
		"bytes_read", stats.BytesRead,
		"cache_misses", stats.CacheMisses,
		"mmap_failures", stats.MmapFailures)

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	return nil
}

func (fc *fileCacheImpl) record(update func(*FileCacheStats)) {
	if !fc.config.EnableMetrics {
		return
	}
	fc.statsMu.Lock()
	update(&fc.stats)
	fc.statsMu.Unlock()
}
