// errors.go: error kinds for the storage engine
//
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

// Error codes, one per spec.md §7 error kind. Kept as plain string
// constants so callers can match on Code() without importing goerrors
// themselves.
const (
	CodeOutOfMemory     = "ENGINE_OUT_OF_MEMORY"
	CodeEmpty           = "ENGINE_EMPTY"
	CodeChainCorrupt    = "ENGINE_CHAIN_CORRUPT"
	CodeDiskIO          = "ENGINE_DISK_IO"
	CodeShuttingDown    = "ENGINE_SHUTTING_DOWN"
	CodeInvalidConfig   = "ENGINE_INVALID_CONFIGURATION"
	CodeUnknownSensor   = "ENGINE_UNKNOWN_SENSOR"
	CodeUnknownConsumer = "ENGINE_UNKNOWN_CONSUMER"
)

// ErrOutOfMemory is returned by the pool when no sector is free. The write
// path does not pass it on: it routes the record to disk instead, and a
// failed disk write reaches the write_* caller as a DiskIo-coded error.
var ErrOutOfMemory = goerrors.New(CodeOutOfMemory, "sector pool and disk path both exhausted")

// ErrEmpty is returned by the read path when a consumer has caught up.
// It is not an error condition in the operational sense.
var ErrEmpty = goerrors.New(CodeEmpty, "no records available for this consumer")

// ErrChainCorrupt is returned when traversal detects a broken invariant:
// a cycle, an owner mismatch, or a reference to a freed sector.
var ErrChainCorrupt = goerrors.New(CodeChainCorrupt, "chain invariant violated")

// ErrShuttingDown is returned by write_* once the shutdown flag is set.
var ErrShuttingDown = goerrors.New(CodeShuttingDown, "engine is shutting down")

// ErrInvalidConfiguration is returned by ConfigureSensor for contradictory
// parameters, e.g. a TSD sensor with sample_period_ms == 0.
var ErrInvalidConfiguration = goerrors.New(CodeInvalidConfig, "invalid sensor configuration")

// ErrUnknownSensor/ErrUnknownConsumer guard API misuse against an id that
// was never registered.
var ErrUnknownSensor = goerrors.New(CodeUnknownSensor, "unknown sensor id")
var ErrUnknownConsumer = goerrors.New(CodeUnknownConsumer, "unknown consumer id")

// wrapDiskErr tags an underlying I/O failure with the DiskIo code so
// callers can errors.Is/As against it while keeping the original cause
// in the chain via %w.
func wrapDiskErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, CodeDiskIO, fmt.Sprintf("disk operation %q failed", op))
}

// wrapChainCorrupt annotates a detected invariant violation with context
// about where traversal stopped.
func wrapChainCorrupt(reason string) error {
	return goerrors.Wrap(ErrChainCorrupt, CodeChainCorrupt, reason)
}
