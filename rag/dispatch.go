package rag

import "github.com/BaSui01/groundrag/types"

// DispatchEntry 一个意图对应的后端计划
type DispatchEntry struct {
	Primary  []types.Backend `json:"primary"`
	Fallback []types.Backend `json:"fallback,omitempty"`
}

// DispatchTable 意图到后端计划的静态映射
type DispatchTable map[types.Intent]DispatchEntry

// DefaultDispatchTable returns the standard intent → backend plan.
func DefaultDispatchTable() DispatchTable {
	return DispatchTable{
		types.IntentFactual: {
			Primary: []types.Backend{types.BackendDense},
		},
		types.IntentRelational: {
			Primary:  []types.Backend{types.BackendGraph},
			Fallback: []types.Backend{types.BackendDense},
		},
		types.IntentSummary: {
			Primary:  []types.Backend{types.BackendSummary},
			Fallback: []types.Backend{types.BackendDense},
		},
		types.IntentMixed: {
			Primary: []types.Backend{types.BackendDense, types.BackendGraph, types.BackendSummary},
		},
	}
}

// Lookup returns the entry for intent. Unknown intents use the MIXED entry.
func (t DispatchTable) Lookup(intent types.Intent) DispatchEntry {
	if e, ok := t[intent]; ok {
		return e
	}
	return t[types.IntentMixed]
}

// Plan resolves the backends to query for intent given availability.
// The primary list is filtered by availability; when nothing is left the fallback
// list is tried, and finally dense is used unconditionally. Dense being part of the
// plan while unavailable is the only error.
func (t DispatchTable) Plan(intent types.Intent, avail Availability) ([]types.Backend, error) {
	entry := t.Lookup(intent)

	plan := filterAvailable(entry.Primary, avail)
	if len(plan) == 0 {
		plan = filterAvailable(entry.Fallback, avail)
	}
	if len(plan) == 0 {
		if !avail.Available(types.BackendDense) {
			return nil, types.NewDenseUnavailableError()
		}
		plan = []types.Backend{types.BackendDense}
	}
	return plan, nil
}

func filterAvailable(backends []types.Backend, avail Availability) []types.Backend {
	out := make([]types.Backend, 0, len(backends))
	seen := make(map[types.Backend]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		if avail.Available(b) {
			out = append(out, b)
		}
	}
	return out
}
