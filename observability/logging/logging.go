// Package logging configures the oracle's structured logger and the
// on-disk run log the Status Surface's /logs endpoint reads from.
package logging

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RunLog tails the current run's log file in memory so the Status
// Surface can serve GET /logs?limit=N without re-reading from disk on
// every request.
type RunLog struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newRunLog(max int) *RunLog {
	if max <= 0 {
		max = 10_000
	}
	return &RunLog{max: max}
}

// sensitiveLogKeys lists the log attribute keys ReplaceAttr masks
// automatically. Everything else — trade_id, chain, correlation_id, account,
// and the other structural fields a trade needs to be grepped across both
// chains' pumps — is left alone; the keys below are the ones attackers
// actually want out of a run log an operator or the Status Surface's /logs
// endpoint might expose.
var sensitiveLogKeys = map[string]struct{}{
	"signer_key":        {},
	"signer_passphrase": {},
	"private_key":       {},
	"passphrase":        {},
	"api_key":           {},
}

func isSensitiveLogKey(key string) bool {
	_, ok := sensitiveLogKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Write implements io.Writer, splitting the JSON log stream into lines.
func (r *RunLog) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.lines = append(r.lines, scanner.Text())
	}
	if overflow := len(r.lines) - r.max; overflow > 0 {
		r.lines = r.lines[overflow:]
	}
	return len(p), nil
}

// Tail returns the last n recorded lines, oldest first.
func (r *RunLog) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// Setup configures the standard library logger and slog to emit structured
// JSON to stdout and to a rotating run-log file, and returns both the
// slog.Logger and a RunLog the Status Surface can tail. All log lines
// include the service name and environment when provided.
func Setup(service, env, logFilePath string) (*slog.Logger, *RunLog) {
	runLog := newRunLog(10_000)

	writers := []io.Writer{os.Stdout, runLog}
	if strings.TrimSpace(logFilePath) != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}
	mw := io.MultiWriter(writers...)

	handler := slog.NewJSONHandler(mw, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			if len(groups) == 0 && attr.Value.Kind() == slog.KindString && isSensitiveLogKey(attr.Key) {
				return slog.String(attr.Key, MaskValue(attr.Value.String()))
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so anything written through the
	// log package (such as main's final error line) goes through the same sink.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, runLog
}
