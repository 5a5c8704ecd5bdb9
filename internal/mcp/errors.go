package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"brandforge/internal/transport"
)

// Error kinds the plugin reports in reply envelopes.
const (
	KindScriptError   = "SCRIPT_ERROR"
	KindNoDocument    = "NO_DOCUMENT"
	KindPresetUnknown = "PRESET_UNKNOWN"
	KindFrameNotFound = "FRAME_NOT_FOUND"
	KindFileMissing   = "FILE_MISSING"
	KindExportFailed  = "EXPORT_FAILED"

	// Synthesized by the proxy; transient because the plugin may reconnect.
	kindExecutorBusy         = "EXECUTOR_BUSY"
	kindExecutorDisconnected = "EXECUTOR_DISCONNECTED"
)

// Typed command failures. ScriptError is a struct because it carries the
// failing line; the rest are sentinels wrapped with the remote message.
var (
	ErrNoDocument    = errors.New("no document open")
	ErrPresetUnknown = errors.New("export preset unknown")
	ErrFrameNotFound = errors.New("frame not found")
	ErrFileMissing   = errors.New("file missing")
	ErrExportFailed  = errors.New("export failed")
)

// ScriptError is a script exception raised inside the application.
type ScriptError struct {
	Line    int
	Message string
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("script error at line %d: %s", e.Line, e.Message)
	}
	return "script error: " + e.Message
}

var scriptLineRe = regexp.MustCompile(`(?i)\bline\s+(\d+)`)

func newScriptError(message string) *ScriptError {
	se := &ScriptError{Message: message}
	if m := scriptLineRe.FindStringSubmatch(message); m != nil {
		se.Line, _ = strconv.Atoi(m[1])
	}
	return se
}

// mapApplicationError converts a reply error kind into its typed form.
// Unknown kinds pass through as the raw ApplicationError.
func mapApplicationError(appErr *transport.ApplicationError) error {
	switch appErr.Kind {
	case KindScriptError:
		return newScriptError(appErr.Message)
	case KindNoDocument:
		return fmt.Errorf("%w: %s", ErrNoDocument, appErr.Message)
	case KindPresetUnknown:
		return fmt.Errorf("%w: %s", ErrPresetUnknown, appErr.Message)
	case KindFrameNotFound:
		return fmt.Errorf("%w: %s", ErrFrameNotFound, appErr.Message)
	case KindFileMissing:
		return fmt.Errorf("%w: %s", ErrFileMissing, appErr.Message)
	case KindExportFailed:
		return fmt.Errorf("%w: %s", ErrExportFailed, appErr.Message)
	default:
		return appErr
	}
}

func transientKind(kind string) bool {
	switch kind {
	case kindExecutorBusy, kindExecutorDisconnected:
		return true
	}
	return false
}
