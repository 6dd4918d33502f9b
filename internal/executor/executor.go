// Package executor drives plays and tasks across a dynamic host set:
// ordering, failure propagation, handler notification, and block/rescue/
// always control flow, per the linear and free scheduling strategies.
package executor

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rustible/rustible/internal/connection"
	"github.com/rustible/rustible/internal/inventory"
	"github.com/rustible/rustible/internal/model"
	"github.com/rustible/rustible/internal/modules"
	"github.com/rustible/rustible/internal/vars"
)

// Options configures one RunPlaybook invocation.
type Options struct {
	CheckMode bool
	DiffMode  bool
	Forks     int // max simultaneous hosts; 0 means unbounded
	Limit     string // additional host pattern intersected with each play's hosts
	Tags      []string
	ExtraVars map[string]any
}

// Executor consumes a Playbook and an Inventory and enacts it via the
// module Registry over pooled connections.
type Executor struct {
	Registry  *modules.Registry
	Pool      *connection.Pool
	Scheme    string // default connection scheme, e.g. "ssh" or "local"
	Evaluator *vars.Evaluator
	Opts      Options

	gate *gate
}

// New builds an Executor ready to run playbooks.
func New(registry *modules.Registry, pool *connection.Pool, scheme string, opts Options) *Executor {
	return &Executor{
		Registry:  registry,
		Pool:      pool,
		Scheme:    scheme,
		Evaluator: vars.NewEvaluator(),
		Opts:      opts,
		gate:      newGate(),
	}
}

// RunPlaybook executes every play in order against the inventory and
// returns the accumulated execution result. Exit status is
// res.AnyFailedPermanently().
func (e *Executor) RunPlaybook(ctx context.Context, pb *model.Playbook, inv *inventory.Inventory) (*Result, error) {
	res := newResult()
	for _, play := range pb.Plays {
		if err := e.runPlay(ctx, &play, inv, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Executor) runPlay(ctx context.Context, play *model.Play, inv *inventory.Inventory, res *Result) error {
	hosts := inventory.Resolve(inv, play.Hosts)
	if e.Opts.Limit != "" {
		hosts = intersectSorted(hosts, inventory.Resolve(inv, e.Opts.Limit))
	}
	if len(hosts) == 0 {
		return nil
	}

	playVars := map[string]any{}
	for k, v := range play.Vars {
		playVars[k] = v
	}
	for k, v := range e.Opts.ExtraVars {
		playVars[k] = v
	}

	batches := batchHosts(hosts, play.Serial)

	var fatal atomic.Bool
	pending := newHandlerSet()

	for _, batch := range batches {
		if fatal.Load() {
			break
		}

		hostScopes := make(map[string]*vars.Scope, len(batch))
		for _, h := range batch {
			scope := vars.NewScope()
			scope = scope.With(vars.LevelInventoryGroup, inv.HostVars(h))
			scope = scope.With(vars.LevelPlay, playVars)
			scope = scope.With(vars.LevelExtra, e.Opts.ExtraVars)
			hostScopes[h] = scope
		}

		if play.EffectiveGatherFacts() {
			e.gatherFacts(ctx, batch, hostScopes)
		}

		runSequence := func(tasks []model.Task) error {
			return e.runTaskSequence(ctx, play, tasks, batch, hostScopes, pending, res, &fatal)
		}

		if err := runSequence(play.PreTasks); err != nil {
			return err
		}
		e.fireHandlers(ctx, play, batch, hostScopes, pending, res)

		if err := runSequence(play.Tasks); err != nil {
			return err
		}
		e.fireHandlers(ctx, play, batch, hostScopes, pending, res)

		if err := runSequence(play.PostTasks); err != nil {
			return err
		}
		e.fireHandlers(ctx, play, batch, hostScopes, pending, res)

		if play.AnyErrorsFatal {
			for _, h := range batch {
				if res.hostState(h).FailedPermanently {
					fatal.Store(true)
				}
			}
		}

		if play.MaxFailPercentage != nil {
			failed := 0
			for _, h := range batch {
				if res.hostState(h).FailedPermanently {
					failed++
				}
			}
			if len(batch) > 0 && failed*100/len(batch) > *play.MaxFailPercentage {
				fatal.Store(true)
			}
		}
	}

	return nil
}

// runTaskSequence runs a list of top-level tasks, honoring the play's
// strategy: linear waits for every host to finish one task before the
// next starts; free lets each host run the whole sequence independently.
func (e *Executor) runTaskSequence(ctx context.Context, play *model.Play, tasks []model.Task, hosts []string, scopes map[string]*vars.Scope, pending *handlerSet, res *Result, fatal *atomic.Bool) error {
	if play.Strategy == model.StrategyFree {
		g, gctx := errgroup.WithContext(ctx)
		if e.Opts.Forks > 0 {
			g.SetLimit(e.Opts.Forks)
		}
		for _, h := range hosts {
			h := h
			g.Go(func() error {
				for i := range tasks {
					if fatal.Load() {
						return nil
					}
					e.runTaskOnHost(gctx, play, &tasks[i], h, scopes, pending, res, fatal, false)
				}
				return nil
			})
		}
		return g.Wait()
	}

	for i := range tasks {
		if fatal.Load() {
			return nil
		}

		if tasks[i].RunOnce && len(hosts) > 0 {
			status := e.runTaskOnHost(ctx, play, &tasks[i], hosts[0], scopes, pending, res, fatal, false)
			for _, h := range hosts[1:] {
				res.record(TaskRecord{Host: h, Module: moduleNameOf(&tasks[i]), Status: status, StartedAt: time.Now(), FinishedAt: time.Now()})
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		if e.Opts.Forks > 0 {
			g.SetLimit(e.Opts.Forks)
		}
		for _, h := range hosts {
			h := h
			g.Go(func() error {
				e.runTaskOnHost(gctx, play, &tasks[i], h, scopes, pending, res, fatal, false)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) gatherFacts(ctx context.Context, hosts []string, scopes map[string]*vars.Scope) {
	for _, h := range hosts {
		out, err := e.Registry.Execute(ctx, "setup", map[string]any{}, modules.Context{})
		if err != nil {
			continue
		}
		scopes[h] = scopes[h].With(vars.LevelFacts, out.Data)
	}
}

func intersectSorted(a, b []string) []string {
	set := map[string]bool{}
	for _, x := range b {
		set[x] = true
	}
	var out []string
	for _, x := range a {
		if set[x] {
			out = append(out, x)
		}
	}
	return out
}

// batchHosts splits hosts into sequential batches per the serial sizes,
// repeating the final entry for any remaining hosts once the list is
// exhausted. An empty serial list means a single batch of every host.
func batchHosts(hosts []string, serial []int) [][]string {
	if len(serial) == 0 {
		return [][]string{hosts}
	}
	var batches [][]string
	i := 0
	serialIdx := 0
	for i < len(hosts) {
		size := serial[serialIdx]
		if serialIdx < len(serial)-1 {
			serialIdx++
		}
		if size <= 0 {
			size = len(hosts) - i
		}
		end := i + size
		if end > len(hosts) {
			end = len(hosts)
		}
		batches = append(batches, hosts[i:end])
		i = end
	}
	return batches
}
