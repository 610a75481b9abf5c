package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/cachemon/pkg/types"
)

// Sink receives one serialized export. data is JSON, gzipped when the
// export config asks for compression.
type Sink interface {
	Export(ctx context.Context, data []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, data []byte) error

// Export calls f.
func (f SinkFunc) Export(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// DefaultPath is where local-storage exports land when no path is set.
const DefaultPath = "cachemon-export.json"

// NewSink builds the built-in sink for cfg.ExportType.
func NewSink(cfg types.ExportConfig) (Sink, error) {
	switch cfg.ExportType {
	case types.ExportConsole:
		return NewConsoleSink(os.Stdout), nil
	case types.ExportLocalStorage:
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return NewFileSink(path, cfg.Compression), nil
	case types.ExportRedis:
		return NewRedisSink(RedisConfig{
			Addr:       cfg.RedisAddr,
			Key:        cfg.RedisKey,
			TTL:        time.Duration(cfg.RedisTTLMs) * time.Millisecond,
			HistoryLen: cfg.BatchSize,
		}), nil
	case types.ExportCustom:
		return nil, ErrSinkRequired
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownExportType, cfg.ExportType)
}

// ConsoleSink writes one export per line.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink returns a sink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Export implements Sink.
func (s *ConsoleSink) Export(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(s.w, "\n")
	return err
}
