// Package file reads logs from local files and standard input.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/crimson-sun/watchdog/internal/connector"
	"github.com/crimson-sun/watchdog/internal/model"
)

const (
	defaultPollInterval = time.Second
	maxLineBytes        = 1 << 20
	stdinSource         = "stdin"
)

func init() {
	connector.Register("file", func() connector.Connector {
		return &Connector{}
	})
	connector.Register("stdin", func() connector.Connector {
		return &Connector{stdin: os.Stdin}
	})
}

// Connector reads newline-delimited logs. With a stdin reader set it ignores
// the configured path and reads from that reader instead.
//
// Extra keys:
//
//	follow        "true" keeps polling a file for appended lines until ctx ends
//	poll_interval duration between follow polls (default 1s)
type Connector struct {
	stdin io.Reader
}

// NewReader returns a connector reading from r, labeled "stdin".
func NewReader(r io.Reader) *Connector {
	return &Connector{stdin: r}
}

func (c *Connector) open(cfg connector.ConnectorConfig) (io.ReadCloser, string, error) {
	if c.stdin != nil {
		return io.NopCloser(c.stdin), stdinSource, nil
	}
	if cfg.Endpoint == "" {
		return nil, "", errors.New("file connector: missing path")
	}
	f, err := os.Open(cfg.Endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("file connector: %w", err)
	}
	return f, cfg.Endpoint, nil
}

// Query returns every non-blank line, honoring the filter and limit.
func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.RawLog, error) {
	rc, source, err := c.open(cfg)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	filter := strings.ToLower(params.Filter)
	var results []model.RawLog

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(line), filter) {
			continue
		}
		results = append(results, model.RawLog{Raw: line, Source: source})
		if params.Limit > 0 && len(results) >= params.Limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("file connector: read %s: %w", source, err)
	}
	return results, nil
}

// Stream emits non-blank lines as they are read. Without follow the channel
// closes at end of input.
func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.RawLog, error) {
	rc, source, err := c.open(cfg)
	if err != nil {
		return nil, err
	}

	follow := c.stdin == nil && cfg.Extra["follow"] == "true"
	pollInterval := defaultPollInterval
	if raw := cfg.Extra["poll_interval"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			pollInterval = d
		}
	}

	ch := make(chan model.RawLog, 64)
	go func() {
		defer close(ch)
		defer rc.Close()

		r := bufio.NewReaderSize(rc, 64*1024)
		var partial strings.Builder
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			chunk, err := r.ReadString('\n')
			partial.WriteString(chunk)
			if err == nil {
				if !emit(ctx, ch, partial.String(), source) {
					return
				}
				partial.Reset()
				continue
			}
			if !errors.Is(err, io.EOF) {
				slog.Warn("read error", "connector", "file", "source", source, "error", err)
				return
			}
			if !follow {
				emit(ctx, ch, partial.String(), source)
				return
			}
			// Keep a partial line until its newline arrives.
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch, nil
}

func emit(ctx context.Context, ch chan<- model.RawLog, line, source string) bool {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return ctx.Err() == nil
	}
	select {
	case ch <- model.RawLog{Raw: line, Source: source, Timestamp: time.Now()}:
		return true
	case <-ctx.Done():
		return false
	}
}
