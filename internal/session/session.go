// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"perch/internal/adapter"
	"perch/internal/outputschema"
	"perch/internal/parser"
	"perch/internal/store"
)

// subscriberBufferSize bounds how many blocks a slow subscriber can lag
// behind before it is dropped. The teacher's equivalent (Session.Subscribe)
// used 100; partial text/thinking deltas are emitted far more granularly
// here than the teacher's coarser NDJSON events, so the buffer is wider.
const subscriberBufferSize = 256

// gracePeriod is how long Suspend waits after SIGTERM before escalating to
// SIGKILL, mirroring the teacher's terminal cleanup (kill then Wait).
const gracePeriod = 5 * time.Second

type subscriber struct {
	ch        chan outputschema.Block
	droppedCh chan struct{}
	dropped   atomic.Bool
}

// Runtime is the Session Runtime for one conversation: it owns the child
// process (PTY for interactive adapters, a pipe per turn for headless
// send-mode adapters), a parser bound to the conversation's adapter, and a
// fan-out hub of subscribers. Restructured from the teacher's
// internal/claude.Session, which hard-coded the Claude dialect.
type Runtime struct {
	mu sync.Mutex

	id          string
	adapter     adapter.Adapter
	executable  string
	store       *store.Store
	workspace   string
	model       string
	mode        string
	interactive bool

	state State

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ptyFile *os.File
	cancel  context.CancelFunc

	subs            map[chan outputschema.Block]*subscriber
	pendingApproval *outputschema.Block

	started bool // true once New->Starting has happened at least once
}

// New constructs a Runtime in state New. executable is the adapter's
// resolved path from adapter.Registry.Resolve. interactive selects PTY
// transport (cursor-agent's REPL) over one-shot-per-turn pipes (claude,
// gemini, cursor-agent's send mode).
func New(id string, a adapter.Adapter, executable string, st *store.Store, workspace, model, mode string, interactive bool) *Runtime {
	return &Runtime{
		id:          id,
		adapter:     a,
		executable:  executable,
		store:       st,
		workspace:   workspace,
		model:       model,
		mode:        mode,
		interactive: interactive,
		state:       StateNew,
		subs:        make(map[chan outputschema.Block]*subscriber),
	}
}

// Resume constructs a Runtime for a conversation that already has stored
// history and was left in status `suspended` by a previous process (either
// a clean suspend or restart recovery). Its next Send reanimates the child
// without re-emitting session_start.
func Resume(id string, a adapter.Adapter, executable string, st *store.Store, workspace, model, mode string, interactive bool) *Runtime {
	r := New(id, a, executable, st, workspace, model, mode, interactive)
	r.state = StateSuspended
	r.started = true
	return r
}

// ID returns the conversation id this runtime serves.
func (r *Runtime) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) transition(to State) error {
	if !canTransition(r.state, to) {
		return &ErrInvalidTransition{From: r.state, To: to}
	}
	r.state = to
	return nil
}

func storeStatusFor(s State) store.Status {
	switch s {
	case StateSuspending, StateSuspended:
		return store.StatusSuspended
	case StateEnded:
		return store.StatusEnded
	case StateErrored:
		return store.StatusErrored
	default:
		return store.StatusRunning
	}
}

// emit tags b with this conversation's identity, appends it to the store,
// then fans it out to subscribers — store-then-publish, so a subscriber's
// live stream never races ahead of what GetMessages can already return
// (spec.md §9, pinned).
func (r *Runtime) emit(ctx context.Context, b outputschema.Block) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.ConversationID = r.id

	if err := r.store.SaveMessage(ctx, store.Message{
		ConversationID: r.id,
		ID:             b.ID,
		Timestamp:      b.Timestamp.UnixMilli(),
		Block:          b,
	}); err != nil {
		return err
	}
	r.fanOut(b)
	if b.Kind == outputschema.KindApprovalRequest {
		r.notePendingApproval(b)
	}
	return nil
}

// fanOut delivers b to every live subscriber without blocking. A
// subscriber whose buffer is full is marked dropped, removed, and has its
// droppedCh closed so the caller holding it can surface a
// BackpressureDropped notice — an explicit failure mode in place of the
// teacher's silent `default:` drop.
func (r *Runtime) fanOut(b outputschema.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, sub := range r.subs {
		select {
		case ch <- b:
		default:
			markDropped(sub)
			close(ch)
			delete(r.subs, ch)
		}
	}
}

// markDropped flags sub as dropped and closes its droppedCh exactly once.
func markDropped(sub *subscriber) {
	if sub.dropped.CompareAndSwap(false, true) {
		close(sub.droppedCh)
	}
}

// Subscribe delivers a snapshot of stored messages strictly after cursor,
// then transitions the returned channel to live delivery. The second
// returned channel closes the moment this subscriber is dropped for
// falling behind, whether during the snapshot backfill or later live
// delivery; the unsubscribe func is idempotent.
func (r *Runtime) Subscribe(ctx context.Context, cursor int64) (<-chan outputschema.Block, <-chan struct{}, func(), error) {
	msgs, err := r.store.GetMessages(ctx, r.id, cursor)
	if err != nil {
		return nil, nil, nil, err
	}

	ch := make(chan outputschema.Block, subscriberBufferSize)
	sub := &subscriber{ch: ch, droppedCh: make(chan struct{})}

	r.mu.Lock()
	for _, m := range msgs {
		select {
		case ch <- m.Block:
		default:
			markDropped(sub)
		}
	}
	if sub.dropped.Load() {
		close(ch)
	} else {
		r.subs[ch] = sub
	}
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
	return ch, sub.droppedCh, unsubscribe, nil
}

// Start spawns the long-lived PTY child for an interactive-mode runtime.
// Non-interactive adapters never call Start; their first child is spawned
// lazily by Send.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if !r.interactive {
		r.mu.Unlock()
		return errors.New("session: Start is only valid for interactive runtimes")
	}
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := r.transition(StateStarting); err != nil {
		r.mu.Unlock()
		return err
	}
	r.started = true
	r.mu.Unlock()

	args := r.adapter.BuildInteractiveArgs(r.id, r.workspace, r.model, r.mode)
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, r.executable, args...)
	cmd.Dir = r.workspace
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		cancel()
		r.mu.Lock()
		r.transition(StateErrored)
		r.mu.Unlock()
		r.emit(ctx, outputschema.NewError(fmt.Sprintf("spawn failed: %v", err)))
		return fmt.Errorf("session: pty start: %w", err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.ptyFile = ptmx
	r.cancel = cancel
	r.transition(StateRunning)
	r.mu.Unlock()

	r.emit(ctx, outputschema.NewSessionStart(r.model))

	go r.readLoop(ctx, ptmx, cmd)
	return nil
}

// WriteInput sends raw bytes to an interactive runtime's PTY (keystrokes,
// or the "y"/"n" body of an approval response).
func (r *Runtime) WriteInput(data string) error {
	r.mu.Lock()
	ptmx := r.ptyFile
	r.mu.Unlock()
	if ptmx == nil {
		return ErrNotRunning
	}
	_, err := ptmx.WriteString(data)
	return err
}

// Resize adjusts the PTY window size for an interactive runtime.
func (r *Runtime) Resize(cols, rows uint16) error {
	r.mu.Lock()
	ptmx := r.ptyFile
	r.mu.Unlock()
	if ptmx == nil {
		return ErrNotRunning
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// readLoop drains an interactive runtime's PTY continuously, grounded on
// internal/api/handlers/terminal.go's handleRemoteTerminal read goroutine.
func (r *Runtime) readLoop(ctx context.Context, ptmx *os.File, cmd *exec.Cmd) {
	defer ptmx.Close()

	p := parser.New(r.adapter)
	for res := range p.Feed(ctx, ptmx) {
		if res.Err != nil {
			break
		}
		for _, b := range res.Blocks {
			r.emit(ctx, b)
		}
	}

	err := cmd.Wait()
	r.finish(ctx, err)
}

// Send is the non-interactive message-send protocol (§4.5): store the user
// turn and return. Per spec §5/§6, the client's send blocks only until the
// user-message record is durably stored, not until the child acknowledges
// or the turn finishes — POST /chat/{id}/message answers 202 Accepted
// immediately. The spawn-and-stream turn itself runs on a detached
// goroutine under a runtime-owned context rather than the request's, so a
// client disconnect can't tear down the child mid-turn. Grounded on the
// teacher's ensureProcess/readLoop pair, generalized to one-shot-per-turn
// instead of one long-lived process.
func (r *Runtime) Send(ctx context.Context, message string) error {
	r.mu.Lock()
	if r.interactive {
		r.mu.Unlock()
		return errors.New("session: Send is only valid for non-interactive runtimes")
	}
	first := !r.started
	reanimating := r.state == StateSuspended
	switch {
	case first:
		if err := r.transition(StateStarting); err != nil {
			r.mu.Unlock()
			return err
		}
		r.started = true
	case reanimating:
		if err := r.transition(StateStarting); err != nil {
			r.mu.Unlock()
			return err
		}
	case r.state != StateRunning:
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.mu.Unlock()

	if err := r.emit(ctx, outputschema.NewText(outputschema.RoleUser, message, false)); err != nil {
		return err
	}

	go r.runTurn(message, first, first || reanimating)
	return nil
}

// runTurn spawns the adapter's send-mode child for one turn and streams its
// stdout through the parser to EOF. It runs detached from the request that
// triggered Send, under its own cancelable context so Suspend/Cancel can
// still tear the child down; first gates the runtime's own session_start
// emission, transitionToRunning gates the Starting->Running transition.
func (r *Runtime) runTurn(message string, first, transitionToRunning bool) {
	ctx := context.Background()

	args := r.adapter.BuildSendArgs(r.id, r.workspace, r.model, r.mode, message)
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, r.executable, args...)
	cmd.Dir = r.workspace
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		r.spawnFailed(ctx, err)
		return
	}
	if err := cmd.Start(); err != nil {
		cancel()
		r.spawnFailed(ctx, err)
		return
	}

	r.mu.Lock()
	r.cmd = cmd
	r.cancel = cancel
	if transitionToRunning {
		r.transition(StateRunning)
	}
	r.mu.Unlock()

	// JSONLines adapters (claude, gemini) synthesize their own session_start
	// from the child's first structured event; emitting a generic one here
	// too would duplicate it. Only AnsiText adapters, which have no reliable
	// structured init event, need the runtime to emit it.
	if first && r.adapter.ParseStrategy() == adapter.AnsiText {
		r.emit(ctx, outputschema.NewSessionStart(r.model))
	}

	p := parser.New(r.adapter)
	for res := range p.Feed(ctx, stdout) {
		if res.Err != nil {
			break
		}
		for _, b := range res.Blocks {
			r.emit(ctx, b)
		}
	}

	err = cmd.Wait()
	r.finish(ctx, err)
}

func (r *Runtime) spawnFailed(ctx context.Context, err error) error {
	r.mu.Lock()
	r.transition(StateErrored)
	r.mu.Unlock()
	r.emit(ctx, outputschema.NewError(fmt.Sprintf("spawn failed: %v", err)))
	r.store.UpdateConversationStatus(ctx, r.id, store.StatusErrored)
	return fmt.Errorf("session: spawn: %w", ErrAdapterUnavailable)
}

// finish records the outcome of a child exit. A non-interactive runtime
// that exits cleanly returns to Running (ready for the next turn); an
// interactive runtime's PTY exit always ends the conversation.
func (r *Runtime) finish(ctx context.Context, waitErr error) {
	r.mu.Lock()
	suspending := r.state == StateSuspending
	r.mu.Unlock()

	if suspending {
		r.mu.Lock()
		r.transition(StateSuspended)
		r.mu.Unlock()
		r.store.UpdateConversationStatus(ctx, r.id, store.StatusSuspended)
		return
	}

	if waitErr != nil {
		r.mu.Lock()
		r.transition(StateErrored)
		r.mu.Unlock()
		end, err := outputschema.NewSessionEnd(waitErr.Error(), true)
		if err == nil {
			r.emit(ctx, end)
		}
		r.store.UpdateConversationStatus(ctx, r.id, store.StatusErrored)
		return
	}

	if r.interactive {
		r.mu.Lock()
		r.transition(StateEnded)
		r.mu.Unlock()
		end, err := outputschema.NewSessionEnd("success", false)
		if err == nil {
			r.emit(ctx, end)
		}
		r.store.UpdateConversationStatus(ctx, r.id, store.StatusEnded)
		return
	}

	// Non-interactive: this turn's child exited cleanly; the conversation
	// itself stays Running, awaiting the next Send.
	r.store.UpdateConversationStatus(ctx, r.id, store.StatusRunning)
}

// Suspend requests graceful termination: SIGTERM, then SIGKILL after
// gracePeriod if the child is still alive. In-flight parser output is
// drained by the read loop's own goroutine before Suspended is reached.
func (r *Runtime) Suspend(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return &ErrInvalidTransition{From: r.state, To: StateSuspending}
	}
	if err := r.transition(StateSuspending); err != nil {
		r.mu.Unlock()
		return err
	}
	cmd := r.cmd
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		r.mu.Lock()
		r.transition(StateSuspended)
		r.mu.Unlock()
		return r.store.UpdateConversationStatus(ctx, r.id, store.StatusSuspended)
	}

	cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() { cmd.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		cmd.Process.Kill()
		<-done
	}

	r.mu.Lock()
	r.transition(StateSuspended)
	r.mu.Unlock()
	return r.store.UpdateConversationStatus(ctx, r.id, store.StatusSuspended)
}

// Cancel kills the runtime's current child immediately, regardless of
// current state, by cancelling the context it was spawned under.
func (r *Runtime) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RouteApprovalResponse routes a "y"/"n"/affirmative reply to a pending
// approval_request (§4.5). Interactive runtimes write it straight to the
// live PTY; non-interactive runtimes have no child to address mid-turn, so
// the response becomes the next Send, which stores it as the role=user
// text block itself.
func (r *Runtime) RouteApprovalResponse(ctx context.Context, body string) error {
	r.mu.Lock()
	pending := r.pendingApproval
	r.pendingApproval = nil
	r.mu.Unlock()
	if pending == nil {
		return errors.New("session: no pending approval request")
	}
	if r.interactive {
		if err := r.emit(ctx, outputschema.NewText(outputschema.RoleUser, body, false)); err != nil {
			return err
		}
		return r.WriteInput(body + "\n")
	}
	return r.Send(ctx, body)
}

// notePendingApproval records an approval_request block so the next
// inbound message can be routed via RouteApprovalResponse.
func (r *Runtime) notePendingApproval(b outputschema.Block) {
	r.mu.Lock()
	r.pendingApproval = &b
	r.mu.Unlock()
}
