package rag

import (
	"context"

	"github.com/BaSui01/groundrag/types"
)

// Retriever 候选存储适配器的统一检索契约。每种后端实现一次。
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]types.Candidate, error)
}

// Readiness is optionally implemented by a Retriever that can report whether
// it has finished initializing. A Retriever that reports false is skipped.
type Readiness interface {
	Ready() bool
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, topK int) ([]types.Candidate, error)

// Retrieve implements Retriever.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string, topK int) ([]types.Candidate, error) {
	return f(ctx, query, topK)
}

// Adapters 固定的三个可选后端槽位；nil 表示未配置
type Adapters struct {
	Dense   Retriever
	Graph   Retriever
	Summary Retriever
}

// Get returns the slot for b, or nil for an unknown backend.
func (a Adapters) Get(b types.Backend) Retriever {
	switch b {
	case types.BackendDense:
		return a.Dense
	case types.BackendGraph:
		return a.Graph
	case types.BackendSummary:
		return a.Summary
	default:
		return nil
	}
}

// BackendSwitches 配置层面的后端开关
type BackendSwitches struct {
	Dense   bool `json:"dense"`
	Graph   bool `json:"graph"`
	Summary bool `json:"summary"`
}

// AllBackendsOn enables every backend.
func AllBackendsOn() BackendSwitches {
	return BackendSwitches{Dense: true, Graph: true, Summary: true}
}

// Enabled reports the switch for b.
func (s BackendSwitches) Enabled(b types.Backend) bool {
	switch b {
	case types.BackendDense:
		return s.Dense
	case types.BackendGraph:
		return s.Graph
	case types.BackendSummary:
		return s.Summary
	default:
		return false
	}
}

// Availability 只读的后端可用性视图：已配置、已启用、且就绪
type Availability struct {
	adapters Adapters
	switches BackendSwitches
}

// NewAvailability creates an availability view.
func NewAvailability(adapters Adapters, switches BackendSwitches) Availability {
	return Availability{adapters: adapters, switches: switches}
}

// Available reports whether backend b can be queried right now.
func (a Availability) Available(b types.Backend) bool {
	r := a.adapters.Get(b)
	if r == nil || !a.switches.Enabled(b) {
		return false
	}
	if rd, ok := r.(Readiness); ok && !rd.Ready() {
		return false
	}
	return true
}

// Snapshot returns the availability of every backend.
func (a Availability) Snapshot() map[types.Backend]bool {
	out := make(map[types.Backend]bool, len(types.AllBackends))
	for _, b := range types.AllBackends {
		out[b] = a.Available(b)
	}
	return out
}
