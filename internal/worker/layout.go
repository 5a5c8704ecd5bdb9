package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/logging"
	"brandforge/internal/mcp"
)

const (
	// minExportBytes is the smallest plausible single-page PDF; anything
	// below it is a truncated export.
	minExportBytes = 1 << 10

	// exportQuiet is how long the export file must hold still before the
	// worker trusts it is complete.
	exportQuiet = 750 * time.Millisecond
)

// preExportScript runs inside the application before every export. It stamps
// the job id into the document metadata and pins the transparency blend space
// to the export intent, so a print PDF never leaves with an RGB blend space.
const preExportScript = `var doc = app.activeDocument;
doc.metadataPreferences.description = "brandforge:" + arguments.jobId;
doc.transparencyPreference.blendingSpace = arguments.intent === "print"
    ? BlendingSpace.CMYK
    : BlendingSpace.RGB;
"ok";`

// colorFixScript remaps every swatch named in arguments.forbidden onto the
// replacement brand swatch. The plugin resolves entries by swatch name or hex
// value. Runs only on the automatic retry after a content gate failure.
const colorFixScript = `var doc = app.activeDocument;
var fixed = [];
for (var i = doc.colors.length - 1; i >= 0; i--) {
    var c = doc.colors[i];
    if (arguments.forbidden.indexOf(c.name) >= 0) {
        c.remove(doc.colors.itemByName(arguments.replacement));
        fixed.push(c.name);
    }
}
JSON.stringify(fixed);`

// LayoutClient is the command surface the layout worker needs; satisfied by
// *mcp.Client.
type LayoutClient interface {
	OpenDocument(ctx context.Context, path string) (string, error)
	SetTextVariables(ctx context.Context, docID string, vars map[string]string) error
	PlaceImage(ctx context.Context, docID, frameID, imagePath string) error
	ReadDocumentInfo(ctx context.Context, docID string) (*mcp.DocumentInfo, error)
	ExecuteScript(ctx context.Context, source string, args map[string]any) (json.RawMessage, error)
	ExportPDF(ctx context.Context, docID, outputPath, preset, intent string) error
}

// Layout drives the desktop layout application: open the template, fill
// variables and image frames, run the pre-export hook, export, and wait for
// the file to stabilize. Document handles are cached per template so repeat
// runs against the same template skip the open.
type Layout struct {
	client LayoutClient
	log    *zap.SugaredLogger

	// waitStable is swapped in tests; production uses artifact.WaitStable.
	waitStable func(ctx context.Context, path string, minSize int64, quiet time.Duration) error

	mu   sync.Mutex
	docs map[string]string
}

// NewLayout builds the layout worker over an MCP client.
func NewLayout(client LayoutClient) *Layout {
	return &Layout{
		client:     client,
		log:        logging.Get(logging.CategoryWorker),
		waitStable: artifact.WaitStable,
		docs:       make(map[string]string),
	}
}

// Name implements Worker.
func (l *Layout) Name() string { return NameLayout }

// Execute implements Worker.
func (l *Layout) Execute(ctx context.Context, j *job.Job, opts ExecuteOptions) (*artifact.Artifact, error) {
	if opts.OutputPath == "" {
		return nil, newError(CategoryIO, "layout worker requires an output path")
	}
	templatePath := j.ContentString("templatePath")
	if templatePath == "" {
		return nil, newError(CategoryScript, "job %s: content.templatePath is required by the layout worker", j.JobID)
	}

	docID, err := l.openDocument(ctx, templatePath)
	if err != nil {
		return nil, categorize(err)
	}

	if vars := contentMap(j, "variables"); len(vars) > 0 {
		if err := l.client.SetTextVariables(ctx, docID, vars); err != nil {
			return nil, categorize(fmt.Errorf("set variables: %w", err))
		}
	}
	if err := l.placeImages(ctx, docID, j); err != nil {
		return nil, categorize(err)
	}

	info, err := l.client.ReadDocumentInfo(ctx, docID)
	if err != nil {
		return nil, categorize(fmt.Errorf("read document info: %w", err))
	}

	intent := string(j.EffectiveIntent())
	preset := EffectivePreset(j)
	// Only verify when the application reported its presets; an empty list
	// means this plugin build does not enumerate them, and the export itself
	// will reject an unknown profile.
	if len(info.ExportPresets) > 0 && !info.HasPreset(preset) {
		return nil, &Error{Category: CategoryExport, Err: fmt.Errorf("%w: %q (document offers: %s)",
			mcp.ErrPresetUnknown, preset, strings.Join(info.ExportPresets, ", "))}
	}

	if err := l.preExport(ctx, j, intent, opts.ColorFix); err != nil {
		return nil, categorize(err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return nil, newError(CategoryIO, "output dir: %v", err)
	}

	// The preset goes on record before the export is issued; a failed export
	// must still be attributable to the profile that produced it.
	l.log.Infow("export starting",
		"jobId", j.JobID, "documentId", docID, "preset", preset, "intent", intent, "output", opts.OutputPath)

	if err := l.client.ExportPDF(ctx, docID, opts.OutputPath, preset, intent); err != nil {
		return nil, categorize(fmt.Errorf("export: %w", err))
	}
	if err := l.waitStable(ctx, opts.OutputPath, minExportBytes, exportQuiet); err != nil {
		return nil, newError(CategoryExport, "export never stabilized: %v", err)
	}

	art, err := artifact.New(opts.OutputPath, artifact.Meta{
		PageCount:  info.Pages,
		Intent:     j.EffectiveIntent(),
		Worker:     NameLayout,
		Preset:     preset,
		DocumentID: docID,
	})
	if err != nil {
		return nil, newError(CategoryIO, "%v", err)
	}
	l.log.Infow("export finished",
		"jobId", j.JobID, "pages", art.PageCount, "bytesDigest", art.Digest)
	return art, nil
}

// openDocument returns the cached handle for a template, opening it on first
// use.
func (l *Layout) openDocument(ctx context.Context, templatePath string) (string, error) {
	l.mu.Lock()
	docID, ok := l.docs[templatePath]
	l.mu.Unlock()
	if ok {
		return docID, nil
	}

	docID, err := l.client.OpenDocument(ctx, templatePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", templatePath, err)
	}
	l.mu.Lock()
	l.docs[templatePath] = docID
	l.mu.Unlock()
	l.log.Debugw("document opened", "template", templatePath, "documentId", docID)
	return docID, nil
}

// placeImages fills image frames in deterministic order.
func (l *Layout) placeImages(ctx context.Context, docID string, j *job.Job) error {
	images := contentMap(j, "images")
	if len(images) == 0 {
		return nil
	}
	frames := make([]string, 0, len(images))
	for frame := range images {
		frames = append(frames, frame)
	}
	sort.Strings(frames)
	for _, frame := range frames {
		if err := l.client.PlaceImage(ctx, docID, frame, images[frame]); err != nil {
			return fmt.Errorf("place %s into frame %s: %w", images[frame], frame, err)
		}
	}
	return nil
}

// preExport runs the metadata/blend-space hook and, on the auto-fix retry,
// the swatch remap.
func (l *Layout) preExport(ctx context.Context, j *job.Job, intent string, colorFix bool) error {
	if _, err := l.client.ExecuteScript(ctx, preExportScript, map[string]any{
		"jobId":  j.JobID,
		"intent": intent,
	}); err != nil {
		return fmt.Errorf("pre-export hook: %w", err)
	}
	if !colorFix {
		return nil
	}

	forbidden, replacement := colorFixArgs(j)
	if len(forbidden) == 0 || replacement == "" {
		l.log.Warnw("color fix requested but the job names no forbidden colors", "jobId", j.JobID)
		return nil
	}
	if _, err := l.client.ExecuteScript(ctx, colorFixScript, map[string]any{
		"forbidden":   forbidden,
		"replacement": replacement,
	}); err != nil {
		return fmt.Errorf("color fix: %w", err)
	}
	l.log.Infow("color fix applied",
		"jobId", j.JobID, "forbidden", forbidden, "replacement", replacement)
	return nil
}

// colorFixArgs pulls the color constraints the content layer grades against:
// forbidden swatches are remapped onto the first required brand color.
func colorFixArgs(j *job.Job) (forbidden []string, replacement string) {
	lc, ok := j.LayerSetting(job.LayerContent)
	if !ok {
		return nil, ""
	}
	forbidden = stringsOption(lc.Options, "forbiddenColors")
	if required := stringsOption(lc.Options, "requiredColors"); len(required) > 0 {
		replacement = required[0]
	}
	return forbidden, replacement
}

// contentMap extracts a string-to-string block (variables, images) from the
// opaque content payload.
func contentMap(j *job.Job, key string) map[string]string {
	raw, ok := j.Content[key]
	if !ok {
		return nil
	}
	switch m := raw.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

func stringsOption(opts map[string]any, key string) []string {
	raw, ok := opts[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
