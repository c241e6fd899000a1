// Command enginectl runs the tiered sensor-data storage engine as a
// standalone process: it wires flag-based startup configuration to
// engine.Config, watches an optional config file for live threshold
// changes, and installs the signal-driven shutdown flush.
//
// SPDX-License-Identifier: MPL-2.0
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agilira/argus"
	flashflags "github.com/agilira/flash-flags"

	engine "github.com/greg-phillips/gateway-engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "enginectl:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flashflags.New("enginectl")
	diskRoot := fs.String("disk-root", "./data", "root directory for disk-tiered sensor data")
	poolSize := fs.Int("pool-size", engine.DefaultPoolSize, "fixed sector pool size")
	watermarkPct := fs.Int("watermark-pct", engine.DefaultWatermarkPct, "RAM occupancy percent above which new writes spill to disk")
	byteCap := fs.String("disk-byte-cap", "256MB", "per (consumer, sensor) directory byte cap")
	rotationBytes := fs.String("rotation-bytes", "64KB", "disk file rotation size")
	consumersCSV := fs.String("consumers", "primary", "comma-separated consumer names")
	preserveOnShutdown := fs.Bool("preserve-on-shutdown", true, "keep disk-tiered data across restarts")
	configWatch := fs.String("config-watch", "", "optional config file to watch for live threshold updates")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	consumers := splitNonEmpty(consumersCSV.Value(), ',')

	cfg := engine.Config{
		PoolSize:               poolSize.Value(),
		DiskRoot:               diskRoot.Value(),
		DiskByteCapStr:         byteCap.Value(),
		FileRotationBytesStr:   rotationBytes.Value(),
		WatermarkPct:           watermarkPct.Value(),
		Consumers:              consumers,
		PreserveDiskOnShutdown: preserveOnShutdown.Value(),
		OnEvent:                logEvent,
	}

	eng, err := engine.Init(cfg)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	stopSignals := eng.InstallSignalHandlers()
	defer stopSignals()

	if watchPath := configWatch.Value(); watchPath != "" {
		stopWatch, err := watchConfig(eng, watchPath)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer stopWatch()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			eng.Tick()
		case <-sigs:
			return eng.Shutdown()
		}
	}
}

// watchConfig uses argus to hot-reload the watermark percentage and disk
// byte cap from a config file, calling Engine.Reconfigure on each
// observed change without restarting the process.
func watchConfig(eng *engine.Engine, path string) (stop func(), err error) {
	watcher, err := argus.New(argus.Config{
		PollInterval: 2 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = watcher.Watch(path, func(event argus.ChangeEvent) {
		cfg, parseErr := argus.ParseConfig(event.Path)
		if parseErr != nil {
			return
		}
		watermarkPct := cfg.GetIntDefault("watermark_pct", engine.DefaultWatermarkPct)
		byteCapStr := cfg.GetStringDefault("disk_byte_cap", "")
		byteCap := int64(0)
		if byteCapStr != "" {
			if parsed, perr := engine.ParseSize(byteCapStr); perr == nil {
				byteCap = parsed
			}
		}
		_ = eng.Reconfigure(watermarkPct, byteCap)
	})
	if err != nil {
		return nil, err
	}

	watcher.Start()
	return func() { watcher.Stop() }, nil
}

func logEvent(ev engine.Event) {
	if ev.Err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: event=%d sensor=%d: %s: %v\n", ev.Kind, ev.Sensor, ev.Message, ev.Err)
		return
	}
	fmt.Fprintf(os.Stderr, "enginectl: event=%d sensor=%d: %s\n", ev.Kind, ev.Sensor, ev.Message)
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
