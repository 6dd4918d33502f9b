package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rustible/rustible/infrastructure/metrics"
	"github.com/rustible/rustible/internal/model"
	"github.com/rustible/rustible/internal/vars"
)

// handlerSet tracks, per host, which notification names are pending
// firing at the next handler boundary.
type handlerSet struct {
	mu      sync.Mutex
	pending map[string]map[string]bool
}

func newHandlerSet() *handlerSet {
	return &handlerSet{pending: map[string]map[string]bool{}}
}

func (hs *handlerSet) enqueue(host string, names []string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	set, ok := hs.pending[host]
	if !ok {
		set = map[string]bool{}
		hs.pending[host] = set
	}
	for _, n := range names {
		set[n] = true
	}
}

func (hs *handlerSet) take(host string) map[string]bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	set := hs.pending[host]
	hs.pending[host] = map[string]bool{}
	return set
}

// fireHandlers runs, for each host, every play handler whose name or
// listen alias was notified since the last boundary, in declaration
// order, at most once per host.
func (e *Executor) fireHandlers(ctx context.Context, play *model.Play, hosts []string, scopes map[string]*vars.Scope, pending *handlerSet, res *Result) {
	if len(play.Handlers) == 0 {
		return
	}
	var fatal atomic.Bool
	for _, host := range hosts {
		notified := pending.take(host)
		if len(notified) == 0 {
			continue
		}
		for i := range play.Handlers {
			h := &play.Handlers[i]
			if !handlerNotified(h, notified) {
				continue
			}
			e.runTaskOnHost(ctx, play, &h.Task, host, scopes, pending, res, &fatal, false)
			metrics.Global().RecordHandlerFired(h.Name)
		}
	}
}

func handlerNotified(h *model.Handler, notified map[string]bool) bool {
	if notified[h.Name] {
		return true
	}
	for _, alias := range h.Listen {
		if notified[alias] {
			return true
		}
	}
	return false
}
