// config.go: engine configuration and size-string parsing
//
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Default tuning values, applied by applyDefaults when the corresponding
// Config field is left at its zero value.
const (
	DefaultPoolSize            = 2048
	DefaultWatermarkPct        = 80
	DefaultDiskByteCap   int64 = 256 * 1024 * 1024
	DefaultRotationBytes int64 = 64 * 1024
)

// Config configures a new Engine. Both raw numeric fields and string
// alternates are accepted for the byte-sized knobs, mirroring the
// teacher's MaxSize/MaxSizeStr pairing: operators configuring the gateway
// by hand write "256MB", code paths that already have an int64 pass it
// directly.
type Config struct {
	// PoolSize is the fixed sector count for the in-memory pool.
	PoolSize int

	// DiskRoot is the directory under which per-consumer, per-sensor
	// data files are written.
	DiskRoot string

	// DiskByteCap is the per-(consumer,sensor) byte cap enforced by
	// oldest-first file eviction. DiskByteCapStr, if set, takes
	// precedence and is parsed with ParseSize.
	DiskByteCap    int64
	DiskByteCapStr string

	// FileRotationBytes is the size at which a data file is rotated.
	// FileRotationBytesStr, if set, takes precedence.
	FileRotationBytes    int64
	FileRotationBytesStr string

	// WatermarkPct is the RAM occupancy percentage at which new writes
	// are routed to disk instead of the pool.
	WatermarkPct int

	// Consumers names the fixed set of upload destinations. Order is
	// significant: a consumer's index in this slice is its ConsumerID.
	Consumers []string

	// PreserveDiskOnShutdown selects shutdown's disk-file disposition:
	// true keeps files for the next run to resume from, false erases
	// them for a clean-restart test. See spec.md §4.8 and §9.
	PreserveDiskOnShutdown bool

	// OnEvent receives diagnostic events (threshold crossings, disk
	// errors, chain-corruption escalation). May be nil.
	OnEvent func(Event)
}

// applyDefaults fills zero-valued fields with their documented defaults
// and resolves the string/numeric pairs, the way lethe's initSizeConfig
// and getRetryConfig resolve MaxSizeStr/RetryCount/RetryDelay.
func (c *Config) applyDefaults() error {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.WatermarkPct <= 0 {
		c.WatermarkPct = DefaultWatermarkPct
	}
	if c.WatermarkPct > 100 {
		return fmt.Errorf("%w: watermark_pct %d exceeds 100", ErrInvalidConfiguration, c.WatermarkPct)
	}

	if c.DiskByteCapStr != "" {
		v, err := ParseSize(c.DiskByteCapStr)
		if err != nil {
			return fmt.Errorf("%w: invalid DiskByteCapStr %q: %v", ErrInvalidConfiguration, c.DiskByteCapStr, err)
		}
		c.DiskByteCap = v
	} else if c.DiskByteCap <= 0 {
		c.DiskByteCap = DefaultDiskByteCap
	}

	if c.FileRotationBytesStr != "" {
		v, err := ParseSize(c.FileRotationBytesStr)
		if err != nil {
			return fmt.Errorf("%w: invalid FileRotationBytesStr %q: %v", ErrInvalidConfiguration, c.FileRotationBytesStr, err)
		}
		c.FileRotationBytes = v
	} else if c.FileRotationBytes <= 0 {
		c.FileRotationBytes = DefaultRotationBytes
	}

	if len(c.Consumers) == 0 {
		return fmt.Errorf("%w: at least one consumer is required", ErrInvalidConfiguration)
	}
	if c.DiskRoot == "" {
		return fmt.Errorf("%w: DiskRoot is required", ErrInvalidConfiguration)
	}
	return nil
}

// sizeUnit is one recognized byte-count suffix, longest-matching first so
// "KB" is tried before "K" ever gets a chance to mismatch it.
type sizeUnit struct {
	suffix     string
	multiplier int64
}

// sizeUnits mirrors the teacher's size-knob vocabulary (binary KB/MB/GB/TB,
// their one-letter shorthands, and a bare "B"), ordered longest-suffix
// first so the scan below never has to backtrack.
var sizeUnits = []sizeUnit{
	{"KB", 1 << 10},
	{"MB", 1 << 20},
	{"GB", 1 << 30},
	{"TB", 1 << 40},
	{"K", 1 << 10},
	{"M", 1 << 20},
	{"G", 1 << 30},
	{"T", 1 << 40},
	{"B", 1},
}

// ParseSize converts size strings like "100MB", "256KB", "1GB" to bytes.
// Case-insensitive; a bare integer is taken as a byte count.
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if val, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return val, nil
	}

	upper := strings.ToUpper(trimmed)
	for _, u := range sizeUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		numStr := strings.TrimSpace(upper[:len(upper)-len(u.suffix)])
		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric portion of %q: %v", s, err)
		}
		return n * u.multiplier, nil
	}
	return 0, fmt.Errorf("unrecognized size suffix in %q", s)
}
