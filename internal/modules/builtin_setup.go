package modules

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rustible/rustible/infrastructure/cache"
	"github.com/rustible/rustible/internal/errs"
)

// localFactsCacheKey is the single key under which gathered local facts
// are cached: there is exactly one control node per process.
const localFactsCacheKey = "local"

// localFactsTTL bounds how long gathered facts are reused across repeated
// gather_facts: true plays in one playbook run before being re-probed.
const localFactsTTL = 30 * time.Second

var localFactsCache = cache.NewCache(cache.CacheConfig{DefaultTTL: localFactsTTL, MaxSize: 1})

// Setup is the built-in facts-gathering module run before pre_tasks when
// a play's gather_facts is true. It is LocalLogic: for a host reachable
// only through a remote connection, fact collection is delegated to a
// RemoteCommand-classified probe elsewhere in the executor; Setup itself
// covers the local-control-node case (delegate_to: localhost, and the
// connection-less facts used by check-mode dry runs).
type Setup struct {
	Base
}

// NewSetup constructs the facts module.
func NewSetup() *Setup {
	return &Setup{Base: Base{
		ModuleName:           "setup",
		ModuleDescription:    "gather facts about the control host",
		ModuleClassification: LocalLogic,
		Hint:                 ParallelizationHint{Kind: FullyParallel},
	}}
}

func (s *Setup) ValidateParams(args map[string]any) error {
	return nil
}

func (s *Setup) Execute(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	facts, err := gatherLocalFacts(ctx)
	if err != nil {
		return Output{}, errs.Wrap(errs.CommandFailed, "setup: gathering local facts", err)
	}
	return Output{Changed: false, Status: StatusOk, Data: facts}, nil
}

func (s *Setup) Check(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	return CheckViaExecute(ctx, args, mctx, s.Execute)
}

// gatherLocalFacts collects the well-known ansible_*-style facts from the
// control node via gopsutil, keeping the field names spec.md calls out
// ("merged under ansible_* keys").
func gatherLocalFacts(ctx context.Context) (map[string]any, error) {
	if cached, ok := localFactsCache.Get(localFactsCacheKey); ok {
		return cached.(map[string]any), nil
	}

	facts, err := probeLocalFacts(ctx)
	if err != nil {
		return nil, err
	}
	localFactsCache.Set(localFactsCacheKey, facts, localFactsTTL)
	return facts, nil
}

func probeLocalFacts(ctx context.Context) (map[string]any, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	facts := map[string]any{
		"ansible_hostname":      info.Hostname,
		"ansible_os_family":     info.PlatformFamily,
		"ansible_distribution":  info.Platform,
		"ansible_distribution_version": info.PlatformVersion,
		"ansible_kernel":        info.KernelVersion,
		"ansible_architecture":  info.KernelArch,
		"ansible_processor_vcpus": counts,
		"ansible_memtotal_mb":   vmem.Total / (1024 * 1024),
		"ansible_memfree_mb":    vmem.Available / (1024 * 1024),
		"ansible_uptime_seconds": info.Uptime,
		"ansible_virtualization_role": virtualizationRole(info),
	}
	return facts, nil
}

func virtualizationRole(info *host.InfoStat) string {
	if info.VirtualizationRole == "" {
		return "unknown"
	}
	return info.VirtualizationRole
}
