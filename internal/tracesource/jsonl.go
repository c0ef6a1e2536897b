package tracesource

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jroosing/dnswatch/internal/event"
)

// StdinPath selects standard input as the JSON-lines stream.
const StdinPath = "-"

const (
	jsonlInitialBuffer = 64 * 1024
	jsonlMaxLine       = 10 * 1024 * 1024
)

// JSONLSource replays trace records from a JSON-lines stream, one record per
// line:
//
//	{"event_id":3008,"timestamp":"2026-10-14T09:30:00Z","process_id":4242,
//	 "fields":{"QueryName":"example.com","QueryType":1,"QueryStatus":0},
//	 "bytes":{"DNSServerAddress":"AgAANQoAAAEAAAAAAAAAAA=="}}
//
// Values under "bytes" are base64 and reach the normalizer as byte slices.
// Blank lines are ignored; lines that do not decode are counted in Skipped.
// The record channel closes at end of input or on Stop.
type JSONLSource struct {
	Path    string
	Logger  *slog.Logger
	Skipped atomic.Uint64

	in      io.Reader
	closer  io.Closer
	out     chan event.RawRecord
	done    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stop    sync.Once
}

// NewJSONLSource creates a source reading path, or stdin when path is "-".
func NewJSONLSource(path string, buffer int, logger *slog.Logger) *JSONLSource {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONLSource{
		Path:   path,
		Logger: logger,
		out:    make(chan event.RawRecord, buffer),
		done:   make(chan struct{}),
	}
}

// NewJSONLReader creates a source reading r.
func NewJSONLReader(r io.Reader, buffer int, logger *slog.Logger) *JSONLSource {
	s := NewJSONLSource("", buffer, logger)
	s.in = r
	return s
}

// Records returns the record stream.
func (s *JSONLSource) Records() <-chan event.RawRecord {
	return s.out
}

// Start opens the input and begins reading it.
func (s *JSONLSource) Start() error {
	if s.in == nil {
		switch s.Path {
		case "", StdinPath:
			s.in, s.closer = os.Stdin, os.Stdin
		default:
			f, err := os.Open(s.Path)
			if err != nil {
				return fmt.Errorf("failed to open trace file %s: %w", s.Path, err)
			}
			s.in, s.closer = f, f
		}
	}

	s.started.Store(true)
	s.wg.Add(1)
	go s.read()

	s.Logger.Info("jsonl source reading", "path", s.name())
	return nil
}

// Stop ends reading and waits until the record channel is closed. Closing
// the input unblocks a pending read.
func (s *JSONLSource) Stop() {
	s.stop.Do(func() {
		close(s.done)
		if s.closer != nil {
			_ = s.closer.Close()
		}
		if !s.started.Load() {
			close(s.out)
			return
		}
		s.wg.Wait()
	})
}

func (s *JSONLSource) name() string {
	if s.Path == "" {
		return StdinPath
	}
	return s.Path
}

func (s *JSONLSource) read() {
	defer s.wg.Done()
	defer close(s.out)

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, jsonlInitialBuffer), jsonlMaxLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		rec, err := RecordFromLine(line)
		if err != nil {
			s.Skipped.Add(1)
			s.Logger.Debug("skipping trace line", "line", lineNo, "err", err)
			continue
		}

		select {
		case s.out <- rec:
		case <-s.done:
			return
		}
	}

	select {
	case <-s.done:
		return
	default:
	}
	if err := scanner.Err(); err != nil {
		s.Logger.Warn("jsonl source read failed", "path", s.name(), "line", lineNo, "err", err)
		return
	}
	s.Logger.Info("jsonl source reached end of input", "path", s.name(), "lines", lineNo, "skipped", s.Skipped.Load())
}

type jsonlRecord struct {
	EventID   int               `json:"event_id"`
	Timestamp *time.Time        `json:"timestamp"`
	ProcessID int               `json:"process_id"`
	Fields    map[string]any    `json:"fields"`
	Bytes     map[string][]byte `json:"bytes"`
}

// RecordFromLine decodes one JSON-lines record. Whole numbers in "fields"
// become int64 values; other numbers keep their text.
func RecordFromLine(line []byte) (event.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var jr jsonlRecord
	if err := dec.Decode(&jr); err != nil {
		return event.RawRecord{}, fmt.Errorf("failed to decode trace line: %w", err)
	}
	if dec.More() {
		return event.RawRecord{}, errors.New("trailing data after trace record")
	}
	if jr.EventID <= 0 {
		return event.RawRecord{}, errors.New("trace record has no event_id")
	}

	rec := event.RawRecord{
		EventID:   jr.EventID,
		ProcessID: jr.ProcessID,
		Fields:    make(map[string]any, len(jr.Fields)+len(jr.Bytes)),
	}
	if jr.Timestamp != nil {
		rec.Timestamp = jr.Timestamp.UTC()
	}
	for k, v := range jr.Fields {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else {
				v = n.String()
			}
		}
		rec.Fields[k] = v
	}
	for k, b := range jr.Bytes {
		rec.Fields[k] = b
	}
	return rec, nil
}
