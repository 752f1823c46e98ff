// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the process-wide Broker: admission of new
// conversations, lookup by id, restart recovery, and shutdown
// orchestration over the map of live Session Runtimes. Replaces the
// teacher's internal/claude.Manager, generalized from a single Claude
// dialect to any registered adapter.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"perch/internal/adapter"
	"perch/internal/outputschema"
	"perch/internal/session"
	"perch/internal/store"
)

// shutdownGrace bounds how long Shutdown waits for each live runtime to
// suspend before moving on; session.Suspend has its own inner grace period
// for SIGTERM->SIGKILL escalation, this is the broker-level ceiling across
// all of them running concurrently.
const shutdownGrace = 10 * time.Second

// Broker owns the process-wide map of active Session Runtimes. No
// package-level mutable state exists anywhere in this package or in
// internal/session — the redesign note on "global module-level mutable
// maps" (spec.md §9) is addressed by this type being the sole owner,
// constructed once by internal/app and threaded explicitly.
type Broker struct {
	mu       sync.RWMutex
	sessions map[string]*session.Runtime
	registry *adapter.Registry
	store    *store.Store
}

// New constructs a Broker. Call Start before serving traffic.
func New(registry *adapter.Registry, st *store.Store) *Broker {
	return &Broker{
		sessions: make(map[string]*session.Runtime),
		registry: registry,
		store:    st,
	}
}

// CreateSession admits a new conversation: resolves the adapter, obtains or
// generates a conversation id, persists a Conversation row in status
// `running`, and registers a fresh Runtime in state New.
func (b *Broker) CreateSession(ctx context.Context, tool, projectPath, model, mode string) (string, error) {
	a, exe, err := b.resolve(tool)
	if err != nil {
		return "", err
	}

	args, callerGeneratesID := a.BuildCreateArgs(projectPath)

	var id string
	if callerGeneratesID {
		id = uuid.New().String()
	} else {
		cmd := exec.CommandContext(ctx, exe, args...)
		cmd.Dir = projectPath
		out, runErr := cmd.Output()
		if runErr != nil {
			return "", fmt.Errorf("%w: %v", ErrChildSpawnFailed, runErr)
		}
		id, err = a.ParseCreateOutput(string(out))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrChildSpawnFailed, err)
		}
	}

	if err := b.store.SaveConversation(ctx, store.Conversation{
		ID:          id,
		Tool:        tool,
		Model:       model,
		Mode:        mode,
		ProjectPath: projectPath,
		Status:      store.StatusRunning,
	}); err != nil {
		return "", err
	}

	rt := session.New(id, a, exe, b.store, projectPath, model, mode, false)
	b.mu.Lock()
	b.sessions[id] = rt
	b.mu.Unlock()

	return id, nil
}

// resolve maps a tool name to its adapter and executable path, translating
// registry errors onto the broker's sentinel taxonomy.
func (b *Broker) resolve(tool string) (adapter.Adapter, string, error) {
	a, exe, err := b.registry.Resolve(tool)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	return a, exe, nil
}

// Attach validates the conversation exists, reanimating a suspended
// runtime if needed, registers a live subscriber, and returns an
// unsubscribe handle. deliver is invoked for the snapshot and every
// subsequent live block; onDrop is invoked exactly once if this
// subscriber ever falls behind and is dropped (spec §5/§7's
// BackpressureDropped). Neither must block.
func (b *Broker) Attach(ctx context.Context, conversationID string, cursor int64, deliver func(outputschema.Block), onDrop func()) (func(), error) {
	rt, err := b.runtimeFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	ch, droppedCh, unsubscribe, err := rt.Subscribe(ctx, cursor)
	if err != nil {
		return nil, err
	}

	go func() {
		notified := false
		notify := func() {
			if !notified {
				notified = true
				onDrop()
			}
		}
		for {
			select {
			case blk, ok := <-ch:
				if !ok {
					select {
					case <-droppedCh:
						notify()
					default:
					}
					return
				}
				deliver(blk)
			case <-droppedCh:
				notify()
			}
		}
	}()

	return unsubscribe, nil
}

// runtimeFor returns the live runtime for a conversation, reanimating it
// from the store if it was suspended and not currently held in memory.
func (b *Broker) runtimeFor(ctx context.Context, conversationID string) (*session.Runtime, error) {
	b.mu.RLock()
	rt, ok := b.sessions[conversationID]
	b.mu.RUnlock()
	if ok {
		return rt, nil
	}

	conv, err := b.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a, exe, err := b.resolve(conv.Tool)
	if err != nil {
		return nil, err
	}

	rt = session.Resume(conv.ID, a, exe, b.store, conv.ProjectPath, conv.Model, conv.Mode, false)

	b.mu.Lock()
	if existing, ok := b.sessions[conversationID]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	b.sessions[conversationID] = rt
	b.mu.Unlock()

	return rt, nil
}

// Send enqueues a user message on the runtime, reanimating it first if
// needed.
func (b *Broker) Send(ctx context.Context, conversationID, message string) error {
	rt, err := b.runtimeFor(ctx, conversationID)
	if err != nil {
		return err
	}
	return rt.Send(ctx, message)
}

// Messages returns the ordered transcript for a conversation strictly after
// since (an epoch-ms cursor; 0 returns the full history), reading directly
// from the store so a caller can page history without attaching a live
// subscriber.
func (b *Broker) Messages(ctx context.Context, conversationID string, since int64) ([]store.Message, error) {
	if _, err := b.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b.store.GetMessages(ctx, conversationID, since)
}

// CloseSession requests graceful termination of a live runtime. Closing an
// already-suspended or unknown conversation is a no-op success.
func (b *Broker) CloseSession(ctx context.Context, conversationID string) error {
	b.mu.RLock()
	rt, ok := b.sessions[conversationID]
	b.mu.RUnlock()
	if !ok || rt.State() == session.StateSuspended {
		return nil
	}
	return rt.Suspend(ctx)
}

// Start scans the store for conversations left in status `running` by a
// crashed prior process and demotes them to `suspended` without
// resurrecting them — unchanged from spec.md.
func (b *Broker) Start(ctx context.Context) error {
	n, err := b.store.SuspendAllActiveChats(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("broker: restart recovery demoted %d leftover running conversation(s) to suspended", n)
	}
	return nil
}

// Shutdown fans out graceful-suspend requests to every live runtime
// concurrently via errgroup, then calls store.SuspendAllActiveChats to
// catch anything that didn't make it, then closes the store. Grounded on
// the teacher's internal/app.App.Shutdown (sequential, best-effort
// component teardown with a bounded timeout context), upgraded to run the
// per-runtime suspends concurrently since each owns an independent child
// process with no shared state between them.
func (b *Broker) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	b.mu.Lock()
	runtimes := make([]*session.Runtime, 0, len(b.sessions))
	for _, rt := range b.sessions {
		runtimes = append(runtimes, rt)
	}
	b.sessions = make(map[string]*session.Runtime)
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		rt := rt
		g.Go(func() error {
			if err := rt.Suspend(gctx); err != nil {
				log.Printf("broker: suspend %s: %v", rt.ID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("broker: shutdown fan-out: %v", err)
	}

	if _, err := b.store.SuspendAllActiveChats(ctx); err != nil {
		log.Printf("broker: suspendAllActiveChats: %v", err)
	}

	return b.store.Close()
}
