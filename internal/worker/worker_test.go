package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/mcp"
	"brandforge/internal/transport"
)

type namedWorker struct{ name string }

func (w *namedWorker) Name() string { return w.name }

func (w *namedWorker) Execute(context.Context, *job.Job, ExecuteOptions) (*artifact.Artifact, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(&namedWorker{name: NameLayout}, &namedWorker{name: NameService})

	w, ok := reg.Get(NameLayout)
	require.True(t, ok)
	assert.Equal(t, NameLayout, w.Name())

	_, ok = reg.Get("carrier-pigeon")
	assert.False(t, ok)

	assert.Equal(t, []string{NameLayout, NameService}, reg.Names())

	reg.Register(&namedWorker{name: NameLayout})
	assert.Len(t, reg.Names(), 2)
}

func TestEffectivePreset(t *testing.T) {
	t.Run("explicit preset wins", func(t *testing.T) {
		j := &job.Job{Export: job.ExportConfig{Preset: "Brand Proof", Intent: job.IntentPrint}}
		assert.Equal(t, "Brand Proof", EffectivePreset(j))
	})

	t.Run("print intent defaults to high quality", func(t *testing.T) {
		j := &job.Job{Export: job.ExportConfig{Intent: job.IntentPrint}}
		assert.Equal(t, PresetPrint, EffectivePreset(j))
	})

	t.Run("screen intent defaults to smallest file", func(t *testing.T) {
		j := &job.Job{Export: job.ExportConfig{Intent: job.IntentScreen}}
		assert.Equal(t, PresetScreen, EffectivePreset(j))
	})
}

func TestErrorFormatAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Category: CategoryExport, Err: inner}

	assert.Equal(t, "[export] boom", err.Error())
	assert.True(t, errors.Is(err, inner))
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"transport unavailable", fmt.Errorf("dial: %w", transport.ErrTransportUnavailable), CategoryTransport},
		{"disconnected", transport.ErrDisconnected, CategoryTransport},
		{"timeout", transport.ErrTimeout, CategoryTransport},
		{"deadline", context.DeadlineExceeded, CategoryTransport},
		{"preset unknown", fmt.Errorf("export_pdf: %w", mcp.ErrPresetUnknown), CategoryExport},
		{"export failed", mcp.ErrExportFailed, CategoryExport},
		{"script exception", &mcp.ScriptError{Line: 12, Message: "null is not an object"}, CategoryScript},
		{"no document", mcp.ErrNoDocument, CategoryScript},
		{"frame missing", mcp.ErrFrameNotFound, CategoryScript},
		{"unknown application error", &transport.ApplicationError{Kind: "WHO_KNOWS", Message: "?"}, CategoryScript},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := categorize(tc.err)
			var werr *Error
			require.ErrorAs(t, got, &werr)
			assert.Equal(t, tc.want, werr.Category)
			assert.True(t, errors.Is(got, tc.err), "original error must stay in the chain")
		})
	}

	t.Run("already categorized passes through", func(t *testing.T) {
		orig := newError(CategoryIO, "disk full")
		assert.Same(t, orig, categorize(orig).(*Error))
	})
}
