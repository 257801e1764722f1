package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/djstevess/arb-bot/internal/execution"
	"go.uber.org/zap"
)

// Static answers every prompt the same way.
type Static bool

const (
	AlwaysYes Static = true
	AlwaysNo  Static = false
)

func (s Static) Confirm(context.Context, execution.Prompt) (bool, error) { return bool(s), nil }

// Terminal asks on w and reads y/N answers from r. Prompts are serialized.
// One reader goroutine owns r for the Terminal's lifetime, so a prompt that is
// cancelled mid-read does not swallow the next answer.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	log *zap.Logger

	start   sync.Once
	lines   chan string
	readErr error // set before lines is closed
}

func NewTerminal(r io.Reader, w io.Writer, log *zap.Logger) *Terminal {
	return &Terminal{in: bufio.NewReader(r), out: w, log: log, lines: make(chan string)}
}

func (t *Terminal) readLoop() {
	for {
		line, err := t.in.ReadString('\n')
		if err == nil || (err == io.EOF && line != "") {
			t.lines <- line
		}
		if err != nil {
			t.readErr = err
			close(t.lines)
			return
		}
	}
}

func (t *Terminal) Confirm(ctx context.Context, p execution.Prompt) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start.Do(func() { go t.readLoop() })

	if _, err := fmt.Fprintf(t.out, "%s [y/N] ", p.Message); err != nil {
		return false, fmt.Errorf("write prompt: %w", err)
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return false, fmt.Errorf("read answer: %w", t.readErr)
		}
		yes := isYes(line)
		t.log.Info("confirmation answered",
			zap.String("trade_id", p.Trade.ID),
			zap.Int("step", p.Step),
			zap.Bool("approved", yes),
		)
		return yes, nil
	}
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

type approvalKey struct{}

// WithApproval marks ctx as already approved by a human for prompts up to step.
// The dashboard uses it: the operator confirms in the browser before the request is sent.
func WithApproval(ctx context.Context, step int) context.Context {
	return context.WithValue(ctx, approvalKey{}, step)
}

// Approved reports the step the context was approved up to, 0 if none.
func Approved(ctx context.Context) int {
	if v, ok := ctx.Value(approvalKey{}).(int); ok {
		return v
	}
	return 0
}

// Contextual accepts prompts pre-approved through WithApproval and hands the rest
// to Next. A nil Next declines.
type Contextual struct {
	Next execution.Confirmer
}

func (c Contextual) Confirm(ctx context.Context, p execution.Prompt) (bool, error) {
	if p.Step <= Approved(ctx) {
		return true, nil
	}
	if c.Next == nil {
		return false, nil
	}
	return c.Next.Confirm(ctx, p)
}
