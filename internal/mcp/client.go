// Package mcp is the typed command surface over the transport session:
// script execution, PDF export, document introspection and image placement
// against the layout application, plus proxy health and readiness checks.
// The client owns retry policy for transient transport failures; application
// errors surface immediately as typed errors.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"brandforge/internal/logging"
	"brandforge/internal/transport"
)

// DefaultApplication is the plugin most jobs target.
const DefaultApplication = "indesign"

// Wire command names. An older plugin build reads action/options instead of
// command/params; the transport mirrors both conventions outbound.
const (
	cmdExecuteScript    = "execute_script"
	cmdExportPDF        = "export_pdf"
	cmdReadDocumentInfo = "read_document_info"
	cmdPlaceImage       = "place_image"
	cmdOpenDocument     = "open_document"
	cmdSetTextVariables = "set_text_variables"
)

// Per-command deadlines. Export waits on the application writing a full PDF
// and gets the widest budget.
const (
	scriptDeadline = 30 * time.Second
	exportDeadline = 120 * time.Second
	infoDeadline   = 15 * time.Second
	placeDeadline  = 30 * time.Second

	defaultMaxRetries   = 2
	defaultRetryBackoff = 500 * time.Millisecond
)

// CommandSender is the transport capability the client needs; satisfied by
// *transport.Session.
type CommandSender interface {
	Send(ctx context.Context, env *transport.Envelope) (*transport.Reply, error)
}

// Options configure a Client.
type Options struct {
	// Application names the target plugin; defaults to DefaultApplication.
	Application string
	// ProxyURL backs Health and Ready; optional for command-only use.
	ProxyURL string
	// MaxRetries bounds retries of transient failures per command.
	MaxRetries int
	// RetryBackoff is the base delay, doubled per attempt with jitter.
	RetryBackoff time.Duration
	// Redial, when set, replaces a disconnected session once per command.
	Redial func(ctx context.Context) (CommandSender, error)
}

func (o *Options) applyDefaults() {
	if o.Application == "" {
		o.Application = DefaultApplication
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
}

// Client issues typed commands. Safe for concurrent use.
type Client struct {
	opts Options
	log  *zap.SugaredLogger

	mu   sync.RWMutex
	conn CommandSender
}

// NewClient wraps an established session.
func NewClient(conn CommandSender, opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		opts: opts,
		log:  logging.Get(logging.CategoryMCP),
		conn: conn,
	}
}

// Close shuts the underlying session down when it supports closing.
func (c *Client) Close() error {
	if closer, ok := c.current().(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// DocumentInfo is the application's view of the open document.
type DocumentInfo struct {
	DocumentID      string   `json:"documentId"`
	Name            string   `json:"name"`
	Pages           int      `json:"pages"`
	PageWidthPt     float64  `json:"pageWidthPt"`
	PageHeightPt    float64  `json:"pageHeightPt"`
	Fonts           []string `json:"fonts"`
	ParagraphStyles []string `json:"paragraphStyles"`
	ExportPresets   []string `json:"exportPresets"`
}

// HasPreset reports whether the document offers the named export preset.
func (d *DocumentInfo) HasPreset(name string) bool {
	for _, p := range d.ExportPresets {
		if p == name {
			return true
		}
	}
	return false
}

// ExecuteScript runs script source inside the application and returns the
// JSON value the script produced.
func (c *Client) ExecuteScript(ctx context.Context, source string, args map[string]any) (json.RawMessage, error) {
	params := map[string]any{"source": source}
	if len(args) > 0 {
		params["args"] = args
	}
	return c.do(ctx, cmdExecuteScript, params, scriptDeadline)
}

// ExportPDF writes the document to outputPath using the named preset.
func (c *Client) ExportPDF(ctx context.Context, docID, outputPath, preset, intent string) error {
	_, err := c.do(ctx, cmdExportPDF, map[string]any{
		"documentId": docID,
		"outputPath": outputPath,
		"preset":     preset,
		"intent":     intent,
	}, exportDeadline)
	return err
}

// ReadDocumentInfo fetches pages, dimensions, fonts, styles and presets.
func (c *Client) ReadDocumentInfo(ctx context.Context, docID string) (*DocumentInfo, error) {
	raw, err := c.do(ctx, cmdReadDocumentInfo, map[string]any{"documentId": docID}, infoDeadline)
	if err != nil {
		return nil, err
	}
	var info DocumentInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode document info: %w", err)
	}
	return &info, nil
}

// PlaceImage places an image file into the named frame and fits it.
func (c *Client) PlaceImage(ctx context.Context, docID, frameID, imagePath string) error {
	_, err := c.do(ctx, cmdPlaceImage, map[string]any{
		"documentId": docID,
		"frameId":    frameID,
		"imagePath":  imagePath,
	}, placeDeadline)
	return err
}

// OpenDocument opens a layout file and returns its document handle.
func (c *Client) OpenDocument(ctx context.Context, path string) (string, error) {
	raw, err := c.do(ctx, cmdOpenDocument, map[string]any{"path": path}, scriptDeadline)
	if err != nil {
		return "", err
	}
	var out struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode open_document result: %w", err)
	}
	if out.DocumentID == "" {
		return "", fmt.Errorf("open_document returned no documentId")
	}
	return out.DocumentID, nil
}

// SetTextVariables assigns document text variables before export.
func (c *Client) SetTextVariables(ctx context.Context, docID string, vars map[string]string) error {
	_, err := c.do(ctx, cmdSetTextVariables, map[string]any{
		"documentId": docID,
		"variables":  vars,
	}, scriptDeadline)
	return err
}

// ReadyStatus reports executor availability at the proxy.
type ReadyStatus struct {
	Ready     bool `json:"ready"`
	Executors int  `json:"executors"`
}

// Ready asks the proxy whether an executor is registered for commands.
func (c *Client) Ready(ctx context.Context) (*ReadyStatus, error) {
	var status ReadyStatus
	if err := c.getJSON(ctx, "/ready", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health verifies the proxy reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	var payload struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/health", &payload); err != nil {
		return err
	}
	if payload.Status != "ok" {
		return fmt.Errorf("proxy reports status %q", payload.Status)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	u, err := httpURL(c.opts.ProxyURL, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: status %d", transport.ErrTransportUnavailable, u, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func httpURL(proxyURL, path string) (string, error) {
	if proxyURL == "" {
		return "", fmt.Errorf("no proxy url configured")
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "", fmt.Errorf("parse proxy url %q: %w", proxyURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	u.Path = path
	u.RawQuery = ""
	return u.String(), nil
}

// do sends one command, retrying transient failures with jittered
// exponential backoff. Application errors never retry. A disconnected
// session is redialed at most once per command.
func (c *Client) do(ctx context.Context, command string, params map[string]any, deadline time.Duration) (json.RawMessage, error) {
	var lastErr error
	redialed := false
	for attempt := 0; ; attempt++ {
		reply, err := c.current().Send(ctx, &transport.Envelope{
			Application: c.opts.Application,
			Command:     command,
			Params:      params,
			DeadlineMs:  deadline.Milliseconds(),
		})
		if err == nil {
			return reply.Result, nil
		}

		var appErr *transport.ApplicationError
		switch {
		case errors.As(err, &appErr) && !transientKind(appErr.Kind):
			return nil, fmt.Errorf("%s: %w", command, mapApplicationError(appErr))
		case errors.As(err, &appErr):
			lastErr = err
		case errors.Is(err, transport.ErrTimeout):
			lastErr = err
		case errors.Is(err, transport.ErrDisconnected):
			if c.opts.Redial == nil || redialed {
				return nil, fmt.Errorf("%s: %w", command, err)
			}
			redialed = true
			conn, derr := c.opts.Redial(ctx)
			if derr != nil {
				return nil, fmt.Errorf("%s: %w (reconnect failed: %v)", command, err, derr)
			}
			c.swap(conn)
			c.log.Infow("session reconnected", "command", command)
			lastErr = err
		default:
			return nil, fmt.Errorf("%s: %w", command, err)
		}

		if attempt >= c.opts.MaxRetries {
			return nil, fmt.Errorf("%s: retries exhausted: %w", command, lastErr)
		}
		delay := retryDelay(attempt, c.opts.RetryBackoff)
		c.log.Warnw("transient command failure, retrying",
			"command", command, "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", command, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Client) current() CommandSender {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) swap(conn CommandSender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// retryDelay doubles the base per attempt and jitters within the upper half.
func retryDelay(attempt int, base time.Duration) time.Duration {
	d := base << attempt
	half := d / 2
	return half + rand.N(half+1)
}
