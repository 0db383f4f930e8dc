package trace

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"regexp"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/xerrors"
)

// Sink appends Records to an underlying writer as newline-delimited
// JSON, rotating into a gzip-compressed file once the current one
// crosses RotateBytes. Grounded on the teacher's tracing/simul.go
// simulCollector (an in-process trace collector) generalized to spec.md
// §6's on-disk, newline-delimited JSON format; RotateBytes/rotation is
// new, giving klauspost/compress a concrete home once protobuf/bbolt
// were dropped (see DESIGN.md).
type Sink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer

	RotateBytes int64
	written     int64
	generation  int

	startingEpoch int64
	eventSeq      uint64
}

// NewSink opens (creating if necessary, appending if it exists) path
// for trace output. RotateBytes of zero disables rotation.
func NewSink(path string, rotateBytes int64) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("trace sink %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("trace sink %s: %w", path, err)
	}
	return &Sink{
		path:          path,
		f:             f,
		w:             bufio.NewWriter(f),
		RotateBytes:   rotateBytes,
		written:       info.Size(),
		startingEpoch: time.Now().UnixNano(),
	}, nil
}

// Header builds the Header for a new Record of traceType, filling in
// the epoch/thread/call-site fields spec.md §6 asks for. callerSkip is
// handed to runtime.Caller inside Header to pick the frame reported as
// module/function/line_no: 1 reports the direct caller of Header, 2
// that caller's caller.
func (s *Sink) Header(traceType Type, format string, callerSkip int) Header {
	pc, file, line, ok := runtime.Caller(callerSkip)
	module, function := "unknown", "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			function = fn.Name()
		}
		module = file
	}

	id := atomic.AddUint64(&s.eventSeq, 1)
	return Header{
		StartingEpoch:    s.startingEpoch,
		Epoch:            time.Now().UnixNano(),
		SpawningThreadID: goroutineID(),
		ThreadID:         goroutineID(),
		EventID:          []uint64{id},
		TraceType:        traceType,
		Module:           module,
		LineNo:           line,
		Function:         function,
		Format:           format,
		Repo:             "cellfabric/fabric",
	}
}

// Write appends r to the sink as one newline-delimited JSON line,
// rotating to a fresh gzip-compressed file first if RotateBytes is
// exceeded. Per spec.md §7's propagation policy ("errors in trace
// writing are always ignored - never affect the data plane"), callers
// in the data/control path should log, not propagate, a non-nil error
// from Write.
func (s *Sink) Write(r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RotateBytes > 0 && s.written+int64(len(line)) > s.RotateBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := s.w.Write(line)
	s.written += int64(n)
	if err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}
	return s.w.Flush()
}

// rotateLocked compresses the current file to path.N.gz and truncates
// path back to empty, ready for more appends. Called with mu held.
func (s *Sink) rotateLocked() error {
	if err := s.w.Flush(); err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}

	s.generation++
	gzPath := s.path + "." + strconv.Itoa(s.generation) + ".gz"
	gzFile, err := os.Create(gzPath)
	if err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}
	defer gzFile.Close()

	gw := gzip.NewWriter(gzFile)
	if _, err := io.Copy(gw, s.f); err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}
	if err := gw.Close(); err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}

	if err := s.f.Truncate(0); err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return xerrors.Errorf("trace sink %s: %w", s.path, err)
	}
	s.w = bufio.NewWriter(s.f)
	s.written = 0
	return nil
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

var stackGoID = regexp.MustCompile(`goroutine (\d+) `)

// goroutineID extracts the current goroutine's numeric ID from
// runtime/debug.Stack(), the same parsing trick the teacher's
// tracing/trace.go getGoID uses (there keyed off onet/log's captured
// stack; here captured directly since Sink has no logger dependency).
func goroutineID() string {
	header := strings.SplitN(string(debug.Stack()), "\n", 2)[0]
	m := stackGoID.FindStringSubmatch(header)
	if len(m) != 2 {
		return "unknown"
	}
	return m[1]
}
