package util

import "runtime"

const (
	minReadWorkers = 8
	maxReadWorkers = 64

	// mappingsPerRead is the CSS file plus its companion map.
	mappingsPerRead = 2
)

// GetOptimalPoolSize returns the number of concurrent output-file readers.
//
// Formula: min(max(runtime.NumCPU() * 4, 8), 64)
//
// Reads spend most of their time waiting on the filesystem, so the pool runs
// several readers per core. The floor keeps small machines busy on
// directories with many small files.
//
// Examples:
//   - 1 core: 8 (minimum enforced)
//   - 8 cores: 32
//   - 24 cores: 64 (capped)
func GetOptimalPoolSize() int {
	return clampPoolSize(runtime.NumCPU()*4, minReadWorkers, maxReadWorkers)
}

// GetOptimalPoolSizeWithOverride returns pool size with optional override.
//
// If override > 0, uses override value (for testing/tuning).
// Otherwise, uses GetOptimalPoolSize().
func GetOptimalPoolSizeWithOverride(override int) int {
	if override > 0 {
		return override
	}
	return GetOptimalPoolSize()
}

// PoolSizeForCache lowers size so that every reader can hold its file and
// companion map mapped at once without hitting config.MaxFiles.
func PoolSizeForCache(size int, config *FileCacheConfig) int {
	if config == nil || config.MaxFiles <= 0 {
		return size
	}
	return clampPoolSize(size, 1, max(config.MaxFiles/mappingsPerRead, 1))
}

func clampPoolSize(n, lo, hi int) int {
	return min(max(n, lo), hi)
}
