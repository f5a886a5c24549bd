package decision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/kernel"
	"github.com/tailored-agentic-units/warden/observability"
)

// Terminal is an approval.Notifier that prompts on a terminal. With an
// input reader it reads the answer and applies it to the gate; without one
// it only announces the request so a remote surface can decide.
type Terminal struct {
	gate *approval.Gate
	in   *bufio.Reader
	out  io.Writer
	mu   sync.Mutex

	reading sync.Mutex
}

// NewTerminal creates a Terminal. in may be nil.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{out: out}
	if in != nil {
		t.in = bufio.NewReader(in)
	}
	return t
}

// Attach binds the gate that answers are applied to.
func (t *Terminal) Attach(gate *approval.Gate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = gate
}

// Notify prints the request and, when reading input, waits for the answer
// in the background. It never blocks the gate's timeout.
func (t *Terminal) Notify(ctx context.Context, req approval.Request) error {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()

	if t.in != nil && gate == nil {
		return errors.New("terminal not attached to a gate")
	}

	warn := color.New(color.FgYellow)
	warn.Fprintln(t.out, "\n== approval required ==")
	fmt.Fprintf(t.out, "  tool:      %s\n", color.CyanString(req.Tool))
	fmt.Fprintf(t.out, "  requester: %s\n", req.Requester)
	fmt.Fprintf(t.out, "  session:   %s\n", req.SessionID)
	fmt.Fprintf(t.out, "  arguments: %s\n", req.Preview)
	fmt.Fprintf(t.out, "  request:   %s (expires %s)\n", req.ID, req.ExpiresAt.Format(time.Kitchen))

	if t.in == nil {
		fmt.Fprintf(t.out, "  decide with: warden decide %s approve|deny|trust\n", req.ID)
		return nil
	}

	warn.Fprint(t.out, "  approve? [y]es / [n]o / [a]lways: ")
	go t.await(context.WithoutCancel(ctx), gate, req)
	return nil
}

func (t *Terminal) await(ctx context.Context, gate *approval.Gate, req approval.Request) {
	t.reading.Lock()
	line, err := t.in.ReadString('\n')
	t.reading.Unlock()
	if err != nil && line == "" {
		return
	}

	decision, err := approval.ParseDecision(strings.ToLower(strings.TrimSpace(line)))
	if err != nil {
		decision = approval.Denied
	}

	if err := gate.Decide(ctx, req.ID, decision); err != nil {
		color.New(color.FgRed).Fprintf(t.out, "  decision ignored: %v\n", err)
		return
	}

	switch decision {
	case approval.Denied:
		color.New(color.FgRed).Fprintln(t.out, "  ✗ denied")
	case approval.Trusted:
		color.New(color.FgGreen).Fprintf(t.out, "  ✓ approved; %s trusted for %s\n", req.Tool, req.Requester)
	default:
		color.New(color.FgGreen).Fprintln(t.out, "  ✓ approved")
	}
}

// OnEvent shows run progress: each tool call and the notice of a capped run.
func (t *Terminal) OnEvent(ctx context.Context, event observability.Event) {
	switch event.Type {
	case kernel.EventToolCall:
		color.New(color.Faint).Fprintf(t.out, "  -> %v (round %v)\n", event.Data["name"], event.Data["round"])
	case kernel.EventCapped:
		color.New(color.FgYellow).Fprintf(t.out, "  run capped after %v rounds\n", event.Data["rounds"])
	}
}
