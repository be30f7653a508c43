package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"streamcast/internal/checkpoint"
	"streamcast/internal/schema"
	"streamcast/internal/util"
)

// ExecSourceOptions configures an ExecSource.
type ExecSourceOptions struct {
	MaxRecordsPerTrigger int // 0 takes everything buffered
	Drop                 []string
	Buffer               int // channel capacity; default 1024
	Runner               util.CmdRunner
	Logger               arbor.ILogger
}

// ExecSource reads JSON records from the stdout of a long-running consumer
// command, such as `kcat -C -b broker -t listings -o beginning -u`.
// On restart the first Records lines of the committed offset are skipped,
// so a consumer that replays from the beginning does not duplicate input.
type ExecSource struct {
	path string
	args []string
	out  schema.Schema
	opts ExecSourceOptions

	once  sync.Once
	lines chan string
	done  chan struct{}

	// primed is set once the consumer emitted a line or exited. Only Next
	// touches it, and a query calls Next from one goroutine.
	primed bool

	mu   sync.Mutex
	seen int64
	err  error
}

// NewExecSource prepares the consumer; it is started by the first Next call.
func NewExecSource(path string, args []string, declared schema.Schema, opts ExecSourceOptions) (*ExecSource, error) {
	if path == "" {
		return nil, errors.New("exec source: command is required")
	}
	if declared.Len() == 0 {
		return nil, errors.New("exec source: schema is required")
	}
	if opts.MaxRecordsPerTrigger < 0 {
		return nil, fmt.Errorf("exec source: maxRecordsPerTrigger must be >= 0, got %d", opts.MaxRecordsPerTrigger)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Runner == nil {
		opts.Runner = util.NewDefaultRunner()
	}
	if opts.Logger == nil {
		opts.Logger = arbor.NewLogger()
	}
	return &ExecSource{
		path:  path,
		args:  args,
		out:   declared.Drop(opts.Drop...),
		opts:  opts,
		lines: make(chan string, opts.Buffer),
		done:  make(chan struct{}),
	}, nil
}

func (s *ExecSource) Schema() schema.Schema { return s.out }

func (s *ExecSource) Describe() string {
	return "ExecSource[" + util.ShellQuote(s.path, s.args) + "]"
}

// Close is a no-op; the consumer stops with the query context.
func (s *ExecSource) Close() error { return nil }

func (s *ExecSource) start(ctx context.Context) {
	s.once.Do(func() {
		go func() {
			defer close(s.done)
			_, err := s.opts.Runner.Run(ctx, util.CmdSpec{
				Path: s.path,
				Args: s.args,
				StdoutLine: func(line string) {
					if strings.TrimSpace(line) == "" {
						return
					}
					select {
					case s.lines <- line:
					case <-ctx.Done():
					}
				},
				StderrLine: func(line string) {
					s.opts.Logger.Debug().Str("source", s.path).Msg(line)
				},
			})
			if err != nil && ctx.Err() == nil {
				s.mu.Lock()
				s.err = fmt.Errorf("exec source %s: %w", s.path, err)
				s.mu.Unlock()
			}
		}()
	})
}

func (s *ExecSource) Next(ctx context.Context, from checkpoint.Offset) (Batch, error) {
	s.start(ctx)

	var b Batch
	for s.opts.MaxRecordsPerTrigger == 0 || len(b.Rows) < s.opts.MaxRecordsPerTrigger {
		line, ok, err := s.recv(ctx)
		if err != nil {
			return Batch{}, err
		}
		if !ok {
			return b, s.failure(b)
		}

		s.mu.Lock()
		s.seen++
		replay := s.seen <= from.Records
		s.mu.Unlock()
		if replay {
			continue
		}

		row, err := DecodeRecord([]byte(line), s.out)
		if err != nil {
			return Batch{}, fmt.Errorf("exec source record %d: %w", from.Records+b.Records+1, err)
		}
		b.Rows = append(b.Rows, row)
		b.Records++
	}
	return b, nil
}

// Exhausted reports whether the consumer exited and every line was read.
func (s *ExecSource) Exhausted() bool {
	select {
	case <-s.done:
		return len(s.lines) == 0
	default:
		return false
	}
}

// recv returns the next buffered line. Until the consumer has emitted its
// first line or exited it blocks, so a terminating trigger does not mistake
// a slow start for an exhausted source.
func (s *ExecSource) recv(ctx context.Context) (string, bool, error) {
	if !s.primed {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		select {
		case line := <-s.lines:
			s.primed = true
			return line, true, nil
		case <-s.done:
			s.primed = true
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	select {
	case line := <-s.lines:
		return line, true, nil
	default:
		return "", false, nil
	}
}

// failure surfaces a consumer error only once buffered records are drained.
func (s *ExecSource) failure(b Batch) error {
	if !b.Empty() {
		return nil
	}
	select {
	case <-s.done:
	default:
		return nil
	}
	if len(s.lines) > 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
