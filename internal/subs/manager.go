// Package subs keeps live document store subscriptions in a tree keyed by
// logical scope. Cancelling a node cancels every subscription created
// beneath it.
package subs

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"classattend/internal/docstore"
)

// Scope names the level of the tree a node lives at.
type Scope string

const (
	ScopeEnrollment Scope = "enrollment"
	ScopeMembership Scope = "membership"
	ScopeClassroom  Scope = "classroom"
	ScopeSession    Scope = "session"
)

// Manager owns one subscription tree.
type Manager struct {
	root   *Node
	wg     sync.WaitGroup
	active atomic.Int64
	track  func(delta int)
}

// NewManager roots a tree under ctx. track, if set, is told about every
// subscription that starts (+1) or ends (-1).
func NewManager(ctx context.Context, track func(delta int)) *Manager {
	m := &Manager{track: track}
	cctx, cancel := context.WithCancel(ctx)
	m.root = &Node{m: m, ctx: cctx, cancel: cancel, children: map[string]*Node{}}
	return m
}

// Root returns the top of the tree.
func (m *Manager) Root() *Node { return m.root }

// Active returns the number of running subscriptions.
func (m *Manager) Active() int { return int(m.active.Load()) }

// Close cancels the whole tree and waits for every subscription to stop.
func (m *Manager) Close() {
	m.root.Cancel()
	m.wg.Wait()
}

// Wait blocks until every subscription goroutine has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// Node is one scope of the tree, e.g. a single classroom or session.
type Node struct {
	m      *Manager
	parent *Node
	scope  Scope
	key    string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	children map[string]*Node
	closed   bool
}

func childKey(scope Scope, key string) string { return string(scope) + "/" + key }

func (n *Node) Scope() Scope { return n.scope }
func (n *Node) Key() string  { return n.key }

// Context is cancelled when the node or any ancestor is cancelled.
func (n *Node) Context() context.Context { return n.ctx }

// Child returns the child for (scope, key), creating it if needed. created
// reports whether the node is new. A cancelled parent yields a child whose
// context is already done.
func (n *Node) Child(scope Scope, key string) (child *Node, created bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := childKey(scope, key)
	if c, ok := n.children[k]; ok {
		return c, false
	}
	ctx, cancel := context.WithCancel(n.ctx)
	c := &Node{m: n.m, parent: n, scope: scope, key: key, ctx: ctx, cancel: cancel, children: map[string]*Node{}}
	if n.closed {
		cancel()
		c.closed = true
		return c, true
	}
	n.children[k] = c
	return c, true
}

// Lookup returns an existing child or nil.
func (n *Node) Lookup(scope Scope, key string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.children[childKey(scope, key)]
}

// Keys lists the keys of the live children in scope, sorted.
func (n *Node) Keys(scope Scope) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, c := range n.children {
		if c.scope == scope {
			out = append(out, c.key)
		}
	}
	sort.Strings(out)
	return out
}

// Cancel stops the node and its whole subtree and detaches it from its
// parent. It does not wait for goroutines; use Manager.Wait for that.
func (n *Node) Cancel() {
	if n.parent != nil {
		n.parent.mu.Lock()
		if n.parent.children[childKey(n.scope, n.key)] == n {
			delete(n.parent.children, childKey(n.scope, n.key))
		}
		n.parent.mu.Unlock()
	}
	n.close()
}

func (n *Node) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	kids := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		kids = append(kids, c)
	}
	n.children = map[string]*Node{}
	n.mu.Unlock()

	n.cancel()
	for _, c := range kids {
		c.close()
	}
}

// Done reports whether the node has been cancelled.
func (n *Node) Done() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Watch subscribes to path for the lifetime of the node and hands every
// snapshot to deliver. deliver runs on the subscription goroutine and should
// return promptly once the node's context is done.
func (n *Node) Watch(store docstore.Store, path string, deliver func(docstore.Snapshot)) error {
	ch, err := store.Subscribe(n.ctx, path)
	if err != nil {
		return err
	}
	n.m.wg.Add(1)
	n.m.add(1)
	go func() {
		defer n.m.wg.Done()
		defer n.m.add(-1)
		for snap := range ch {
			if n.ctx.Err() != nil {
				continue
			}
			deliver(snap)
		}
	}()
	return nil
}

func (m *Manager) add(delta int) {
	m.active.Add(int64(delta))
	if m.track != nil {
		m.track(delta)
	}
}
