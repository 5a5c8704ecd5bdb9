package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/job"
	"brandforge/internal/pdftool"
)

type fixedStater struct{ pages int }

func (s *fixedStater) Info(context.Context, string) (*pdftool.DocumentStats, error) {
	return &pdftool.DocumentStats{Pages: s.pages}, nil
}

func serviceJob() *job.Job {
	return &job.Job{
		JobID:   "sales-report-7",
		JobType: "report",
		Export:  job.ExportConfig{Intent: job.IntentScreen, PageSize: "A4"},
		Content: map[string]any{"organization": "ExampleCo"},
	}
}

func TestServiceExecute(t *testing.T) {
	var gotReq renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(bytes.Repeat([]byte("%PDF"), 2048))
	}))
	defer srv.Close()

	s := NewService(srv.URL, &fixedStater{pages: 2})
	out := filepath.Join(t.TempDir(), "report.pdf")

	art, err := s.Execute(context.Background(), serviceJob(), ExecuteOptions{OutputPath: out})
	require.NoError(t, err)

	assert.Equal(t, "sales-report-7", gotReq.JobID)
	assert.Equal(t, "report", gotReq.JobType)
	assert.Equal(t, "screen", gotReq.Intent)
	assert.Equal(t, PresetScreen, gotReq.Preset)
	assert.Equal(t, "A4", gotReq.PageSize)

	assert.Equal(t, out, art.Path)
	assert.Equal(t, 2, art.PageCount)
	assert.Equal(t, NameService, art.Worker)
	assert.NotEmpty(t, art.Digest)
	assert.FileExists(t, out)
}

func TestServiceRejectsBadResponses(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "renderer crashed", http.StatusInternalServerError)
		}))
		defer srv.Close()

		s := NewService(srv.URL, nil)
		_, err := s.Execute(context.Background(), serviceJob(),
			ExecuteOptions{OutputPath: filepath.Join(t.TempDir(), "x.pdf")})

		var werr *Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, CategoryRemote, werr.Category)
		assert.Contains(t, err.Error(), "500")
		assert.Contains(t, err.Error(), "renderer crashed")
	})

	t.Run("truncated body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("%PDF-1.7 but nothing else"))
		}))
		defer srv.Close()

		s := NewService(srv.URL, nil)
		_, err := s.Execute(context.Background(), serviceJob(),
			ExecuteOptions{OutputPath: filepath.Join(t.TempDir(), "x.pdf")})

		var werr *Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, CategoryRemote, werr.Category)
		assert.Contains(t, err.Error(), "floor")
	})

	t.Run("unreachable endpoint is infrastructure", func(t *testing.T) {
		s := NewService("http://127.0.0.1:1/render", nil)
		_, err := s.Execute(context.Background(), serviceJob(),
			ExecuteOptions{OutputPath: filepath.Join(t.TempDir(), "x.pdf")})

		var werr *Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, CategoryTransport, werr.Category)
	})

	t.Run("no endpoint configured", func(t *testing.T) {
		s := NewService("", nil)
		_, err := s.Execute(context.Background(), serviceJob(),
			ExecuteOptions{OutputPath: filepath.Join(t.TempDir(), "x.pdf")})

		var werr *Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, CategoryConfig, werr.Category)
	})
}

func TestServiceBreakerFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewService(srv.URL, nil)
	out := filepath.Join(t.TempDir(), "x.pdf")

	for i := 0; i < 3; i++ {
		_, err := s.Execute(context.Background(), serviceJob(), ExecuteOptions{OutputPath: out})
		require.Error(t, err)
	}
	require.EqualValues(t, 3, hits.Load())

	// Circuit is open now: the endpoint must not see a fourth request.
	_, err := s.Execute(context.Background(), serviceJob(), ExecuteOptions{OutputPath: out})

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, CategoryTransport, werr.Category)
	assert.EqualValues(t, 3, hits.Load())
}
