package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// wireRecord is the JSON form of a log record pushed from a worker process
// to a Collector. Attribute values are rendered with slog's Value semantics
// before encoding, so arbitrary types survive the boundary as JSON.
type wireRecord struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// IPCHandler is a slog.Handler that pushes each record over a stream
// connection to a log-collection endpoint. Worker processes install it as
// their process default because any handler inherited across the process
// boundary references resources that are no longer valid there.
type IPCHandler struct {
	mu    *sync.Mutex
	conn  net.Conn
	enc   *json.Encoder
	level slog.Level

	attrs  []slog.Attr
	groups []string
}

// DialIPCHandler connects to the collector at addr and returns a handler
// emitting records at or above level. addr accepts "tcp://host:port",
// "unix:///path/to/socket", or a bare "host:port" (treated as tcp).
func DialIPCHandler(addr string, level slog.Level) (*IPCHandler, error) {
	network, address := splitAddr(addr)
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial log collector at %s: %w", addr, err)
	}

	return &IPCHandler{
		mu:    &sync.Mutex{},
		conn:  conn,
		enc:   json.NewEncoder(conn),
		level: level,
	}, nil
}

// splitAddr maps an address string onto net.Dial/net.Listen arguments.
func splitAddr(addr string) (network, address string) {
	switch {
	case strings.HasPrefix(addr, "tcp://"):
		return "tcp", strings.TrimPrefix(addr, "tcp://")
	case strings.HasPrefix(addr, "unix://"):
		return "unix", strings.TrimPrefix(addr, "unix://")
	default:
		return "tcp", addr
	}
}

// Enabled implements the slog.Handler interface.
func (h *IPCHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// WithAttrs implements the slog.Handler interface. Attrs are qualified
// with the groups open at this point, not the ones opened later, matching
// slog's scoping contract.
func (h *IPCHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	prefix := h.groupPrefix()
	qualified := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		qualified[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	clone.attrs = append(clone.attrs[:len(clone.attrs):len(clone.attrs)], qualified...)
	return &clone
}

// WithGroup implements the slog.Handler interface.
func (h *IPCHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(clone.groups[:len(clone.groups):len(clone.groups)], name)
	return &clone
}

// groupPrefix renders the currently open groups as a key prefix.
func (h *IPCHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// Handle implements the slog.Handler interface by encoding the record onto
// the connection. Records are dropped (with the error returned) once the
// connection is gone; logging must never take the worker down.
func (h *IPCHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+record.NumAttrs())
	// Handler attrs were already qualified when added; only the record's
	// own attrs take the currently open groups.
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	prefix := h.groupPrefix()
	record.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enc.Encode(wireRecord{
		Time:    record.Time,
		Level:   record.Level.String(),
		Message: record.Message,
		Attrs:   attrs,
	})
}

// Close closes the underlying connection.
func (h *IPCHandler) Close() error {
	return h.conn.Close()
}

// SetupWorker replaces the process-default logger with one pushing records
// to the collector at addr. Called in worker processes before the wrapped
// generator runs; the inherited default is discarded entirely.
func SetupWorker(addr string) error {
	handler, err := DialIPCHandler(addr, slog.LevelDebug)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
