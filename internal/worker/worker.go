// Package worker turns a job into a PDF artifact. Two implementations exist:
// the layout worker drives the desktop layout application over the MCP
// transport, and the service worker posts the job to a serverless render
// endpoint. Both return artifacts with full provenance and classify their
// failures so the pipeline can tell retryable infrastructure faults from
// production failures.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/mcp"
	"brandforge/internal/transport"
)

// Worker names, as recorded in artifact provenance and routing decisions.
const (
	NameLayout  = "layout"
	NameService = "service"
)

// Stock export profiles, by intent. The bracketed names are the profiles the
// layout application ships with.
const (
	PresetPrint  = "[High Quality Print]"
	PresetScreen = "[Smallest File Size]"
)

// Category classifies a worker failure for exit-code mapping. Transport and
// IO faults are infrastructure; script, export and remote faults mean the job
// itself cannot produce a document.
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryScript    Category = "script"
	CategoryExport    Category = "export"
	CategoryRemote    Category = "remote"
	CategoryIO        Category = "io"
	CategoryConfig    Category = "configuration"
)

func (c Category) String() string { return string(c) }

// Error is a classified worker failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Err: fmt.Errorf(format, args...)}
}

// ExecuteOptions carry per-run parameters the job itself does not know.
type ExecuteOptions struct {
	// OutputPath is where the worker must write the PDF.
	OutputPath string
	// ColorFix asks the layout worker to remap forbidden swatches before
	// export. Set only on the automatic retry after a content-layer gate
	// failure.
	ColorFix bool
}

// Worker produces a PDF artifact from a job.
type Worker interface {
	Name() string
	Execute(ctx context.Context, j *job.Job, opts ExecuteOptions) (*artifact.Artifact, error)
}

// Registry resolves workers by name. The router owns one; the CLI registers
// whichever workers its environment supports.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry builds a registry holding the given workers.
func NewRegistry(workers ...Worker) *Registry {
	r := &Registry{workers: make(map[string]Worker, len(workers))}
	for _, w := range workers {
		r.Register(w)
	}
	return r
}

// Register adds or replaces a worker under its name.
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.Name()] = w
}

// Get looks a worker up by name.
func (r *Registry) Get(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Names lists registered workers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EffectivePreset resolves the export profile: the job's named preset, or
// the stock profile for its intent.
func EffectivePreset(j *job.Job) string {
	if j.Export.Preset != "" {
		return j.Export.Preset
	}
	if j.EffectiveIntent() == job.IntentPrint {
		return PresetPrint
	}
	return PresetScreen
}

// categorize maps a command failure onto the worker taxonomy. Transport
// faults are retryable infrastructure; everything the application itself
// rejected is a failure of the job.
func categorize(err error) error {
	var werr *Error
	if errors.As(err, &werr) {
		return err
	}
	switch {
	case errors.Is(err, transport.ErrTransportUnavailable),
		errors.Is(err, transport.ErrRegistrationRejected),
		errors.Is(err, transport.ErrTimeout),
		errors.Is(err, transport.ErrDisconnected),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &Error{Category: CategoryTransport, Err: err}
	case errors.Is(err, mcp.ErrPresetUnknown), errors.Is(err, mcp.ErrExportFailed):
		return &Error{Category: CategoryExport, Err: err}
	default:
		// Script exceptions, missing frames, files or documents, and unknown
		// application errors all mean this job cannot produce its document.
		return &Error{Category: CategoryScript, Err: err}
	}
}
