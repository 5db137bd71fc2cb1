// Package watcher dispatches newly rendered elements to their capture
// handlers: a declarative table from element matcher to handler, driven by
// one subscription over subtree mutations plus one delayed startup sweep.
package watcher

import (
	"time"

	"sentinel-agent-go/src/core/dom"
	"sentinel-agent-go/src/core/loop"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
)

// Handler binds capture behavior to one matched element. Called exactly
// once per element, on the session loop.
type Handler func(el *dom.Element)

// Binding pairs a matcher with its handler.
type Binding struct {
	Name  string
	Match func(*dom.Element) bool
	Bind  Handler
}

// Watcher scans mutation batches and the startup sweep through the binding
// table. Idempotency comes from the registry's bound flag: the check and the
// set happen in one loop task, so a live notification and the sweep can
// never double-bind.
type Watcher struct {
	doc        *dom.Document
	loop       *loop.Loop
	reg        *state.Registry
	bindings   []Binding
	pruneHooks []func(id string)
	logger     *utils.TaggedLogger
}

// New creates a watcher over the given document.
func New(doc *dom.Document, lp *loop.Loop, reg *state.Registry, logger *utils.Logger) *Watcher {
	return &Watcher{
		doc:    doc,
		loop:   lp,
		reg:    reg,
		logger: logger.WithTag("watcher"),
	}
}

// Register adds a matcher/handler pair. Must be called before Start.
func (w *Watcher) Register(name string, match func(*dom.Element) bool, bind Handler) {
	w.bindings = append(w.bindings, Binding{Name: name, Match: match, Bind: bind})
}

// OnPrune subscribes to element removal, for dropping per-element timers.
func (w *Watcher) OnPrune(fn func(id string)) {
	w.pruneHooks = append(w.pruneHooks, fn)
}

// Start subscribes to document mutations and schedules the one-shot sweep
// for elements rendered before the watcher attached.
func (w *Watcher) Start(sweepDelay time.Duration) {
	w.doc.OnMutation(w.handleBatch)
	w.loop.AfterFunc(sweepDelay, func() {
		w.Sweep()
	})
}

// handleBatch runs on the loop for every mutation batch: dispatch each
// added subtree, prune registry entries for removals.
func (w *Watcher) handleBatch(batch dom.MutationBatch) {
	for _, root := range batch.Added {
		w.dispatchTree(root)
	}
	if len(batch.Removed) > 0 {
		ids := make([]string, 0, len(batch.Removed))
		for _, el := range batch.Removed {
			ids = append(ids, el.ID)
			for _, fn := range w.pruneHooks {
				fn(el.ID)
			}
		}
		w.reg.Prune(ids)
	}
}

// Sweep walks the whole tree with the same idempotent dispatch. Runs on the
// loop.
func (w *Watcher) Sweep() {
	w.logger.Debug("开始启动扫描")
	w.dispatchTree(w.doc.Root)
}

// dispatchTree checks the root node and all descendants against the binding
// table, since the notification only names subtree roots.
func (w *Watcher) dispatchTree(root *dom.Element) {
	root.Walk(func(el *dom.Element) bool {
		w.dispatch(el)
		return true
	})
}

// dispatch binds el to the first matching handler, once per element ever.
func (w *Watcher) dispatch(el *dom.Element) {
	for _, b := range w.bindings {
		if !b.Match(el) {
			continue
		}
		if !w.reg.Bind(el.ID) {
			return
		}
		b.Bind(el)
		return
	}
}
