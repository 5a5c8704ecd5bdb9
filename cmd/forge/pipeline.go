package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"brandforge/internal/a11y"
	"brandforge/internal/job"
	"brandforge/internal/logging"
	"brandforge/internal/mcp"
	"brandforge/internal/pdftool"
	"brandforge/internal/router"
	"brandforge/internal/transport"
	"brandforge/internal/validation"
	"brandforge/internal/vision"
	"brandforge/internal/worker"
)

// defaultProxyURL matches the proxy's stock listen address.
const defaultProxyURL = "ws://127.0.0.1:8871/ws"

// pipeline is a fully wired run environment: workers, validation layers and
// the router on top of them. Close releases the proxy session, if one was
// ever dialed.
type pipeline struct {
	router *router.Router
	client *mcp.Client
}

func (p *pipeline) Close() {
	if err := p.client.Close(); err != nil {
		logging.Get(logging.CategoryTransport).Warnw("session close failed", "err", err)
	}
}

// buildPipeline assembles the production pipeline. The proxy session is
// lazy, so jobs that route to the render service (and dry runs of it) never
// require a live proxy.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	runner := pdftool.NewRunner(0)
	raster, err := pdftool.NewRasterizer(runner, filepath.Join(flagReportDir, "raster"))
	if err != nil {
		return nil, err
	}

	session := newLazySession(proxyURL())
	client := mcp.NewClient(session, mcp.Options{
		ProxyURL: proxyURL(),
		Redial:   session.Redial,
	})

	workers := worker.NewRegistry(worker.NewLayout(client))
	if url := os.Getenv("RENDER_SERVICE_URL"); url != "" {
		workers.Register(worker.NewService(url, runner))
	}

	vp, ap := buildProviders(ctx)
	layers := validation.DefaultLayers(vp, ap)

	return &pipeline{
		router: router.New(workers, layers, runner, raster, router.Options{
			OutDir:    flagOutDir,
			ReportDir: flagReportDir,
		}),
		client: client,
	}, nil
}

// validationStack is the validate-only subset of the pipeline: introspection,
// rasterization and layers, with no worker and no proxy session.
type validationStack struct {
	pdf    *pdftool.Runner
	raster *pdftool.Rasterizer
	layers []validation.Layer
}

func buildValidationStack(ctx context.Context) (*validationStack, error) {
	runner := pdftool.NewRunner(0)
	raster, err := pdftool.NewRasterizer(runner, filepath.Join(flagReportDir, "raster"))
	if err != nil {
		return nil, err
	}
	vp, ap := buildProviders(ctx)
	return &validationStack{
		pdf:    runner,
		raster: raster,
		layers: validation.DefaultLayers(vp, ap),
	}, nil
}

// buildProviders resolves the vision and accessibility backends. A missing
// provider is not fatal here: the corresponding layer raises a
// ConfigurationError only if a job leaves it enabled.
func buildProviders(ctx context.Context) (validation.VisionProvider, validation.AccessibilityProvider) {
	if flagDryRun {
		return vision.NewDryRun(validation.DefaultMinScore(job.LayerAIVision)),
			a11y.NewDryRun(validation.DefaultMinScore(job.LayerAccessibility))
	}

	var vp validation.VisionProvider
	if p, err := vision.FromEnv(ctx, validation.DefaultMinScore(job.LayerAIVision)); err != nil {
		logging.Get(logging.CategoryVision).Warnw("no vision provider", "err", err)
	} else {
		vp = p
	}

	var ap validation.AccessibilityProvider
	if p, err := a11y.FromEnv(validation.DefaultMinScore(job.LayerAccessibility)); err != nil {
		logging.Get(logging.CategoryA11y).Warnw("no accessibility provider", "err", err)
	} else {
		ap = p
	}
	return vp, ap
}

func proxyURL() string {
	if flagProxyURL != "" {
		return flagProxyURL
	}
	if url := os.Getenv("MCP_PROXY_URL"); url != "" {
		return url
	}
	return defaultProxyURL
}

// lazySession dials the proxy on the first command instead of at startup, so
// validation-heavy paths and service-worker jobs never touch the proxy. It
// also serves as the client's redial hook: the wrapper survives reconnects,
// only the session underneath is swapped.
type lazySession struct {
	url string

	mu sync.Mutex
	s  *transport.Session
}

func newLazySession(url string) *lazySession {
	return &lazySession{url: url}
}

// Send implements mcp.CommandSender.
func (l *lazySession) Send(ctx context.Context, env *transport.Envelope) (*transport.Reply, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, env)
}

func (l *lazySession) get(ctx context.Context) (*transport.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.s != nil {
		return l.s, nil
	}
	s, err := transport.Dial(ctx, transport.Options{
		ProxyURL:    l.url,
		Application: mcp.DefaultApplication,
	})
	if err != nil {
		return nil, err
	}
	l.s = s
	return s, nil
}

// Redial drops the held session and dials a fresh one.
func (l *lazySession) Redial(ctx context.Context) (mcp.CommandSender, error) {
	l.mu.Lock()
	if l.s != nil {
		_ = l.s.Close()
		l.s = nil
	}
	l.mu.Unlock()

	if _, err := l.get(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Close implements io.Closer so mcp.Client.Close reaches the session.
func (l *lazySession) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.s == nil {
		return nil
	}
	err := l.s.Close()
	l.s = nil
	return err
}
