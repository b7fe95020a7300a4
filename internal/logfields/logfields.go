package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyStep       = "step"
	KeyPolicy     = "policy"
	KeyResult     = "result"
	KeyDurationMS = "duration_ms"
	KeyCommand    = "command"
	KeyExitCode   = "exit_code"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyVersion    = "version"
	KeyAttempt    = "attempt"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Step(name string) slog.Attr      { return slog.String(KeyStep, name) }
func Policy(p string) slog.Attr       { return slog.String(KeyPolicy, p) }
func Result(r string) slog.Attr       { return slog.String(KeyResult, r) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Version(v string) slog.Attr      { return slog.String(KeyVersion, v) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
