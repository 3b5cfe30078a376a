// Package operator talks to a human at the terminal when the crawler needs a
// decision it cannot make alone.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// ErrNoInput is returned when the input stream closes before an answer arrives.
var ErrNoInput = errors.New("operator input closed")

// Prompter asks questions on out and reads answers line by line from in.
//
// Input is read one line per pending question, never ahead of time, so a line
// typed between prompts is not carried over as the answer to a later one. A
// line that arrives for a question whose context was canceled is discarded.
type Prompter struct {
	out         io.Writer
	in          io.Reader
	interactive bool

	startOnce sync.Once
	requests  chan uint64
	replies   chan reply

	mu  sync.Mutex
	seq uint64
}

// reply answers the read request numbered seq.
type reply struct {
	seq  uint64
	line string
	eof  bool
	err  error
}

// NewTerminal binds a Prompter to the process stdin and stderr. It is
// interactive only when stdin is a terminal.
func NewTerminal() *Prompter {
	return New(os.Stdin, os.Stderr, IsTerminal(os.Stdin))
}

// New builds a Prompter over arbitrary streams.
func New(in io.Reader, out io.Writer, interactive bool) *Prompter {
	if out == nil {
		out = io.Discard
	}
	return &Prompter{in: in, out: out, interactive: interactive && in != nil}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Interactive reports whether prompts can be answered.
func (p *Prompter) Interactive() bool {
	return p != nil && p.interactive
}

// Confirm asks a yes/no question and repeats it until the answer is one of
// y, yes, n or no (any case).
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if !p.Interactive() {
		return false, ErrNoInput
	}
	fmt.Fprintf(p.out, "%s [y/n]: ", question)
	for {
		answer, err := p.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintf(p.out, "invalid answer, please type yes or no [y/n]: ")
	}
}

// WaitForEnter prints message and blocks until the operator presses Enter.
func (p *Prompter) WaitForEnter(ctx context.Context, message string) error {
	if !p.Interactive() {
		return ErrNoInput
	}
	fmt.Fprintf(p.out, "%s\nPress Enter to retry\n", message)
	_, err := p.readLine(ctx)
	return err
}

// readLine asks the reader goroutine for exactly one line and waits for it.
func (p *Prompter) readLine(ctx context.Context) (string, error) {
	p.startOnce.Do(func() {
		p.requests = make(chan uint64, 1)
		p.replies = make(chan reply, 1)
		go p.scan()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	seq := p.seq

	select {
	case p.requests <- seq:
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for operator: %w", ctx.Err())
	}
	for {
		select {
		case r := <-p.replies:
			if r.seq != seq {
				continue
			}
			if r.eof {
				if r.err != nil {
					return "", fmt.Errorf("%w: %w", ErrNoInput, r.err)
				}
				return "", ErrNoInput
			}
			return r.line, nil
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for operator: %w", ctx.Err())
		}
	}
}

// scan owns the reader. It reads only when a request is pending and keeps
// answering with end of input once the stream is exhausted.
func (p *Prompter) scan() {
	scanner := bufio.NewScanner(p.in)
	var (
		done    bool
		scanErr error
	)
	for seq := range p.requests {
		if !done && scanner.Scan() {
			p.replies <- reply{seq: seq, line: scanner.Text()}
			continue
		}
		if !done {
			done = true
			scanErr = scanner.Err()
		}
		p.replies <- reply{seq: seq, eof: true, err: scanErr}
	}
}
