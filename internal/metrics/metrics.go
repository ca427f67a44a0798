// Package metrics collects dyngend's runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package, mirroring the teacher's
// dual-store approach:
//
//  1. Registry is a set of atomic counters/gauges updated from hot RT
//     and NRT paths without taking a lock.
//  2. A Prometheus registry (prometheus.go) exposes the same state for
//     scraping.
//
// # Concurrency
//
// Every Registry method here uses atomic operations exclusively — none
// of them may block, since BlockProcessed is called from the RT
// goroutine's own hot path once per block.
package metrics

import "sync/atomic"

// Registry holds dyngend's in-process counters.
type Registry struct {
	unitsActive        atomic.Int64
	registryEntries    atomic.Int64
	vmsCompiled        atomic.Int64
	vmsDestroyed       atomic.Int64
	compileFailures    atomic.Int64
	blocksProcessed    atomic.Int64
	pipelinesSubmitted atomic.Int64
	pipelinesOrphaned  atomic.Int64
}

var defaultRegistry = &Registry{}

// Default returns the process-wide metrics registry.
func Default() *Registry { return defaultRegistry }

func (r *Registry) UnitCreated()   { r.unitsActive.Add(1) }
func (r *Registry) UnitDestroyed() { r.unitsActive.Add(-1) }

func (r *Registry) EntryCreated() { r.registryEntries.Add(1) }
func (r *Registry) EntryRemoved() { r.registryEntries.Add(-1) }

func (r *Registry) VMCompiled()     { r.vmsCompiled.Add(1) }
func (r *Registry) VMDestroyed()    { r.vmsDestroyed.Add(1) }
func (r *Registry) CompileFailed()  { r.compileFailures.Add(1) }
func (r *Registry) BlockProcessed() { r.blocksProcessed.Add(1) }

func (r *Registry) PipelineSubmitted() { r.pipelinesSubmitted.Add(1) }
func (r *Registry) PipelineOrphaned()  { r.pipelinesOrphaned.Add(1) }

// Snapshot is a point-in-time read of every counter, for the JSON
// inspection endpoint the HTTP control surface exposes.
type Snapshot struct {
	UnitsActive        int64 `json:"units_active"`
	RegistryEntries    int64 `json:"registry_entries"`
	VMsCompiled        int64 `json:"vms_compiled"`
	VMsDestroyed       int64 `json:"vms_destroyed"`
	CompileFailures    int64 `json:"compile_failures"`
	BlocksProcessed    int64 `json:"blocks_processed"`
	PipelinesSubmitted int64 `json:"pipelines_submitted"`
	PipelinesOrphaned  int64 `json:"pipelines_orphaned"`
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		UnitsActive:        r.unitsActive.Load(),
		RegistryEntries:    r.registryEntries.Load(),
		VMsCompiled:        r.vmsCompiled.Load(),
		VMsDestroyed:       r.vmsDestroyed.Load(),
		CompileFailures:    r.compileFailures.Load(),
		BlocksProcessed:    r.blocksProcessed.Load(),
		PipelinesSubmitted: r.pipelinesSubmitted.Load(),
		PipelinesOrphaned:  r.pipelinesOrphaned.Load(),
	}
}
