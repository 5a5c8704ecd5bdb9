// Package logging provides category-named zap loggers for the pipeline.
// Each subsystem logs through its own category so a run's transport chatter,
// layer scoring, and experiment bookkeeping can be filtered independently.
// Before Initialize is called, Get returns no-op loggers; tests stay quiet.
package logging

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"
	CategoryTransport  Category = "transport"
	CategoryMCP        Category = "mcp"
	CategoryWorker     Category = "worker"
	CategoryRouter     Category = "router"
	CategoryValidation Category = "validation"
	CategoryVision     Category = "vision"
	CategoryA11y       Category = "a11y"
	CategoryExperiment Category = "experiment"
	CategoryReport     Category = "report"
	CategoryProxy      Category = "proxy"
)

// Options controls logger construction.
type Options struct {
	// Verbose enables debug-level output on the console.
	Verbose bool
	// LogDir, when non-empty, additionally writes JSON logs to
	// <LogDir>/forge-<date>.log.
	LogDir string
	// Quiet suppresses console output entirely (file sink still applies).
	Quiet bool
}

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	sugared = map[Category]*zap.SugaredLogger{}
	file    *os.File
)

// Initialize builds the shared zap core. Safe to call once at process start;
// later calls replace the core (used by tests).
func Initialize(opts Options) error {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	var cores []zapcore.Core
	if !opts.Quiet {
		consoleEnc := zap.NewDevelopmentEncoderConfig()
		consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEnc),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return err
		}
		name := filepath.Join(opts.LogDir, "forge-"+time.Now().Format("2006-01-02")+".log")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(f),
			zapcore.DebugLevel,
		))
		mu.Lock()
		if file != nil {
			_ = file.Close()
		}
		file = f
		mu.Unlock()
	}

	logger := zap.NewNop()
	if len(cores) > 0 {
		logger = zap.New(zapcore.NewTee(cores...))
	}

	mu.Lock()
	base = logger
	sugared = map[Category]*zap.SugaredLogger{}
	mu.Unlock()
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := sugared[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := sugared[cat]; ok {
		return l
	}
	l := base.Named(string(cat)).Sugar()
	sugared[cat] = l
	return l
}

// Base returns the unsugared root logger for callers that want typed fields.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered log entries and closes the file sink. Call at exit.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	if file != nil {
		_ = file.Close()
		file = nil
	}
}
