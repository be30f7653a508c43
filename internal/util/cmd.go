package util

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// CmdSpec describes a subprocess to run.
type CmdSpec struct {
	Path string   // Binary path
	Args []string // Arguments
	Env  []string // Optional extra environment (KEY=VALUE); nil inherits.
	Dir  string   // Working directory; empty = inherit.

	StdoutLine    func(string) // Called for each stdout line (if non-nil)
	StderrLine    func(string) // Called for each stderr line (if non-nil)
	CaptureStdout bool         // When false and StdoutLine is set, stdout is not buffered
}

// CmdResult contains captured output and exit status.
type CmdResult struct {
	Stdout []byte
	Stderr []byte
	Code   int
	Err    error
}

// CmdRunner runs subprocesses. Tests substitute a fake.
type CmdRunner interface {
	Run(ctx context.Context, spec CmdSpec) (CmdResult, error)
}

type defaultRunner struct{}

// NewDefaultRunner returns a CmdRunner backed by os/exec.
func NewDefaultRunner() CmdRunner { return defaultRunner{} }

func (defaultRunner) Run(ctx context.Context, spec CmdSpec) (CmdResult, error) {
	return Run(ctx, spec)
}

// maxLine bounds a single output line; broker consumers can emit large records.
const maxLine = 1024 * 1024

// Run executes the command, streaming each line to the CmdSpec line callbacks.
// Stderr is always captured. On non-zero exit it returns an error carrying the
// exit code, with CmdResult still populated.
func Run(ctx context.Context, spec CmdSpec) (CmdResult, error) {
	var stdoutBuf, stderrBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return CmdResult{Code: -1, Err: err}, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return CmdResult{Code: -1, Err: err}, err
	}
	if err := cmd.Start(); err != nil {
		return CmdResult{Code: -1, Err: err}, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var sink *bytes.Buffer
		if spec.CaptureStdout || spec.StdoutLine == nil {
			sink = &stdoutBuf
		}
		scanLines(stdoutPipe, spec.StdoutLine, sink)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, spec.StderrLine, &stderrBuf)
	}()

	// Readers must drain before Wait closes the pipes.
	wg.Wait()
	waitErr := cmd.Wait()

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	res := CmdResult{
		Stdout: stdoutBuf.Bytes(),
		Stderr: stderrBuf.Bytes(),
		Code:   code,
		Err:    waitErr,
	}
	if waitErr != nil {
		return res, fmt.Errorf("command failed (exit %d): %w", code, waitErr)
	}
	return res, nil
}

func scanLines(r io.Reader, each func(string), capture *bytes.Buffer) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Text()
		if each != nil {
			each(line)
		}
		if capture != nil {
			capture.WriteString(line)
			capture.WriteByte('\n')
		}
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// ShellQuote returns a printable shell-like command string for logging.
func ShellQuote(path string, args []string) string {
	b := &strings.Builder{}
	b.WriteString(quote(path))
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	return b.String()
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n\"'\\$`(){}[]*&;|<>?!") {
		return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
	}
	return s
}

// SplitCommand splits a command line on whitespace, honouring single and double quotes.
func SplitCommand(line string) ([]string, error) {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		inTok bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inTok = true
		case r == ' ' || r == '\t' || r == '\n':
			if inTok {
				out = append(out, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", line)
	}
	if inTok {
		out = append(out, cur.String())
	}
	return out, nil
}
