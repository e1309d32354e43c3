// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// BusConfig tunes the in-memory review bus.
type BusConfig struct {
	OpenTTL           time.Duration
	PostCompletionTTL time.Duration
	SweepInterval     time.Duration
	MaxFileBytes      int // <= 0 falls back to the 500 KiB default
}

const (
	defaultOpenTTL           = 24 * time.Hour
	defaultPostCompletionTTL = 30 * time.Minute
	defaultSweepInterval     = time.Minute
)

func (c BusConfig) withDefaults() BusConfig {
	if c.OpenTTL <= 0 {
		c.OpenTTL = defaultOpenTTL
	}
	if c.PostCompletionTTL <= 0 {
		c.PostCompletionTTL = defaultPostCompletionTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// UIEventEmitter matches uibroadcast.Broadcaster's BroadcastUIEvent method,
// kept as a narrow interface so review does not import uibroadcast.
type UIEventEmitter interface {
	BroadcastUIEvent(name string, data interface{})
}

// Bus owns every in-memory review session and its durable store.
type Bus struct {
	cfg   BusConfig
	store Store
	ui    UIEventEmitter

	mu       sync.RWMutex
	sessions map[string]*Session

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewBus constructs a Bus and starts its background eviction sweep.
func NewBus(store Store, ui UIEventEmitter, cfg BusConfig) *Bus {
	b := &Bus{
		cfg:      cfg.withDefaults(),
		store:    store,
		ui:       ui,
		sessions: make(map[string]*Session),
		closeCh:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.sweepLoop()
	return b
}

// CreateFromFiles creates a tool-initiated review session from pre-supplied
// file snapshots (the tool has already read and classified them).
func (b *Bus) CreateFromFiles(files []FileSnapshot, message string) (*Session, error) {
	return b.create(files, message)
}

// CreateFromPaths creates a git-initiated review session, reading each path
// from disk and applying the size/binary guards.
func (b *Bus) CreateFromPaths(paths []string, message string) (*Session, error) {
	files := make([]FileSnapshot, 0, len(paths))
	for _, p := range paths {
		files = append(files, snapshotFile(p, b.cfg.MaxFileBytes, os.ReadFile))
	}
	return b.create(files, message)
}

func (b *Bus) create(files []FileSnapshot, message string) (*Session, error) {
	rec, err := b.store.CreateReviewRecord(nil)
	if err != nil {
		return nil, err
	}
	sess := newSession(rec.ID, files, message)

	b.mu.Lock()
	b.sessions[sess.ID] = sess
	b.mu.Unlock()

	b.ui.BroadcastUIEvent("review_sessions_changed", nil)
	return sess, nil
}

// Store returns the durable store collaborator, for thin REST passthroughs
// over claim/resolve/list that do not need the in-memory session.
func (b *Bus) Store() Store {
	return b.store
}

// Get returns the in-memory session by id, if it is still resident.
func (b *Bus) Get(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// Submit performs the single-shot submit transition, persists it, and
// notifies every attached socket plus the UI-event channel. Comments with
// StartLine > EndLine are rejected at ingress, before any terminal-state
// transition is attempted.
func (b *Bus) Submit(id string, comments []Comment) error {
	for _, c := range comments {
		if c.StartLine > c.EndLine {
			return &StoreError{Kind: ErrInvalidInput, Message: fmt.Sprintf("comment on %s has startLine %d > endLine %d", c.File, c.StartLine, c.EndLine)}
		}
	}
	return b.complete(id, Result{Comments: comments})
}

// Cancel performs the single-shot cancel transition.
func (b *Bus) Cancel(id string) error {
	return b.complete(id, Result{Cancelled: true})
}

func (b *Bus) complete(id string, result Result) error {
	sess, ok := b.Get(id)
	if !ok {
		return &StoreError{Kind: ErrNotFound, Message: id}
	}
	if !sess.Complete(result) {
		return nil // already terminal: single-shot, second call is a no-op
	}

	var err error
	if result.Cancelled {
		_, err = b.store.CancelReviewRecord(id)
	} else {
		_, err = b.store.SubmitReviewRecord(id, result.Comments)
	}
	if err != nil {
		return err
	}

	sess.CloseUISockets()
	b.ui.BroadcastUIEvent("review_sessions_changed", nil)
	b.ui.BroadcastUIEvent("review_submissions_changed", nil)
	return nil
}

func (b *Bus) sweepLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.closeCh:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bus) sweep() {
	b.mu.Lock()
	var evict []string
	var autoCancel []string
	for id, sess := range b.sessions {
		if sess.completedOlderThan(b.cfg.PostCompletionTTL) {
			evict = append(evict, id)
			continue
		}
		if sess.openOlderThan(b.cfg.OpenTTL) {
			autoCancel = append(autoCancel, id)
		}
	}
	for _, id := range evict {
		delete(b.sessions, id)
	}
	b.mu.Unlock()

	// Auto-cancel happens independent of socket presence, driven purely by
	// the sweep (decision: open-TTL expiry always wins, even with a UI
	// socket still attached).
	for _, id := range autoCancel {
		if err := b.Cancel(id); err != nil {
			log.Printf("review: auto-cancel %s failed: %v", id, err)
		}
	}
}

// Close stops the background sweep.
func (b *Bus) Close() {
	select {
	case <-b.closeCh:
	default:
		close(b.closeCh)
	}
	b.wg.Wait()
}
