package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/job"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc-print.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 body"), 0o644))

	a, err := New(path, Meta{
		PageCount:  4,
		Intent:     job.IntentPrint,
		Worker:     "layout",
		Preset:     "PDFX4-2010",
		DocumentID: "doc-7",
	})
	require.NoError(t, err)

	assert.Equal(t, path, a.Path)
	assert.Equal(t, 4, a.PageCount)
	assert.Equal(t, job.IntentPrint, a.Intent)
	assert.Len(t, a.Digest, 64)
	assert.False(t, a.ProducedAt.IsZero())

	prov := a.Provenance()
	assert.Equal(t, "layout", prov.Worker)
	assert.Equal(t, "PDFX4-2010", prov.Preset)
	assert.Equal(t, a.Digest, prov.Digest)
}

func TestNewRejectsMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	_, err := New(filepath.Join(dir, "absent.pdf"), Meta{})
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = New(empty, Meta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestWaitStable(t *testing.T) {
	t.Run("settles after writes stop", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "export.pdf")

		go func() {
			f, err := os.Create(path)
			if err != nil {
				return
			}
			defer f.Close()
			for i := 0; i < 5; i++ {
				_, _ = f.Write(make([]byte, 2048))
				time.Sleep(50 * time.Millisecond)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := WaitStable(ctx, path, 4096, 300*time.Millisecond)
		require.NoError(t, err)

		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, fi.Size(), int64(4096))
	})

	t.Run("context deadline surfaces", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "never.pdf")

		ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
		defer cancel()
		err := WaitStable(ctx, path, 1, 100*time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("small file below min size keeps waiting", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tiny.pdf")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		err := WaitStable(ctx, path, 4096, 100*time.Millisecond)
		require.Error(t, err)
	})
}
