package rag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/groundrag/types"
)

// RouterConfig 检索路由配置
type RouterConfig struct {
	TopK           int           `json:"top_k"`
	AdapterTimeout time.Duration `json:"adapter_timeout"`
	// MixedPerSourceMin MIXED 意图下每个后端的最小 topK，实际为 max(MixedPerSourceMin, topK/3)
	MixedPerSourceMin int `json:"mixed_per_source_min"`
	// SupplementWithDense 主后端返回不足 topK 时用稠密检索补足
	SupplementWithDense bool `json:"supplement_with_dense"`
}

// DefaultRouterConfig 返回默认路由配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		TopK:              DefaultTopK,
		AdapterTimeout:    5 * time.Second,
		MixedPerSourceMin: 3,
	}
}

// RouterDeps 路由器的显式依赖，启动时构造一次
type RouterDeps struct {
	Adapters    Adapters
	Switches    BackendSwitches
	Table       DispatchTable
	Merger      *Merger
	Observer    RetrievalObserver
	Instruments *Instruments
	Logger      *zap.Logger
}

// Router 按意图分发检索请求并合并结果
type Router struct {
	config   RouterConfig
	adapters Adapters
	avail    Availability
	table    DispatchTable
	merger   *Merger
	observer RetrievalObserver
	inst     *Instruments
	logger   *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(config RouterConfig, deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.AdapterTimeout <= 0 {
		config.AdapterTimeout = 5 * time.Second
	}
	if config.MixedPerSourceMin <= 0 {
		config.MixedPerSourceMin = 3
	}
	table := deps.Table
	if table == nil {
		table = DefaultDispatchTable()
	}
	merger := deps.Merger
	if merger == nil {
		merger = NewMerger(DefaultMergerConfig(), nil, logger)
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Router{
		config:   config,
		adapters: deps.Adapters,
		avail:    NewAvailability(deps.Adapters, deps.Switches),
		table:    table,
		merger:   merger,
		observer: observer,
		inst:     deps.Instruments,
		logger:   logger.With(zap.String("component", "retrieval_router")),
	}
}

// Availability returns the current availability of each backend.
func (r *Router) Availability() map[types.Backend]bool {
	return r.avail.Snapshot()
}

// Plan returns the backends that Route would query for intent.
func (r *Router) Plan(intent types.Intent) ([]types.Backend, error) {
	return r.table.Plan(intent, r.avail)
}

// Route retrieves context for query using the configured topK.
func (r *Router) Route(ctx context.Context, query types.Query, intent types.Intent) ([]types.ContextItem, error) {
	return r.RouteTopK(ctx, query, intent, r.config.TopK)
}

// RouteTopK fans out to the planned adapters concurrently, each under its own
// timeout, and merges whatever completed. Adapter failures contribute nothing;
// when every planned adapter failed and dense was not among them, dense is
// queried instead. It fails only when the dense store is needed but
// unavailable, or when ctx is cancelled.
func (r *Router) RouteTopK(ctx context.Context, query types.Query, intent types.Intent, topK int) (items []types.ContextItem, err error) {
	if topK <= 0 {
		topK = r.config.TopK
	}
	if !intent.Valid() {
		intent = types.IntentMixed
	}

	start := time.Now()
	var plan []types.Backend
	if r.inst != nil {
		var span trace.Span
		ctx, span = r.inst.StartRoute(ctx, string(intent))
		defer func() {
			r.inst.EndRoute(ctx, span, string(intent), backendNames(plan), len(items), err)
		}()
	}

	if err := ctx.Err(); err != nil {
		return nil, types.NewCancelledError(err)
	}

	plan, err = r.Plan(intent)
	if err != nil {
		r.logger.Error("no retrieval backend available", zap.String("intent", string(intent)))
		return nil, err
	}

	text := query.SearchText()
	if text == "" {
		return []types.ContextItem{}, nil
	}

	perSource := topK
	if intent == types.IntentMixed {
		perSource = max(r.config.MixedPerSourceMin, topK/3)
	}

	lists, allFailed := r.fanOut(ctx, plan, text, perSource)
	if err := ctx.Err(); err != nil {
		r.logger.Debug("route cancelled", zap.String("intent", string(intent)))
		return nil, types.NewCancelledError(err)
	}

	if allFailed {
		lists = r.fallbackToDense(ctx, plan, lists, text, topK)
		if err := ctx.Err(); err != nil {
			return nil, types.NewCancelledError(err)
		}
	}

	if r.config.SupplementWithDense {
		lists = r.supplement(ctx, lists, text, topK)
		if err := ctx.Err(); err != nil {
			return nil, types.NewCancelledError(err)
		}
	}

	items = r.merger.Merge(lists, topK)
	r.observer.ObserveRoute(string(intent), len(plan), len(items), time.Since(start))
	r.logger.Debug("route completed",
		zap.String("intent", string(intent)),
		zap.Strings("backends", backendNames(plan)),
		zap.Int("items", len(items)),
		zap.Duration("duration", time.Since(start)))
	return items, nil
}

// fanOut 每个后端写入自己的槽位，goroutine 从不返回错误，互不取消。
// allFailed 表示计划内所有后端都超时、出错或 panic。
func (r *Router) fanOut(ctx context.Context, plan []types.Backend, text string, topK int) (lists []CandidateList, allFailed bool) {
	lists = make([]CandidateList, len(plan))
	outcomes := make([]string, len(plan))
	g, gctx := errgroup.WithContext(ctx)

	for i, b := range plan {
		lists[i].Backend = b
		g.Go(func() error {
			lists[i].Candidates, outcomes[i] = r.callAdapter(gctx, b, text, topK)
			return nil
		})
	}

	_ = g.Wait()

	allFailed = len(plan) > 0
	for _, o := range outcomes {
		if !failedOutcome(o) {
			allFailed = false
		}
	}
	return lists, allFailed
}

// fallbackToDense 主后端全部失败时视为不可用，改用稠密检索
func (r *Router) fallbackToDense(ctx context.Context, plan []types.Backend, lists []CandidateList, text string, topK int) []CandidateList {
	if slices.Contains(plan, types.BackendDense) || !r.avail.Available(types.BackendDense) {
		return lists
	}
	r.logger.Info("primary backends failed, falling back to dense",
		zap.Strings("backends", backendNames(plan)))
	cands, _ := r.callAdapter(ctx, types.BackendDense, text, topK)
	return append(lists, CandidateList{Backend: types.BackendDense, Candidates: cands})
}

func failedOutcome(outcome string) bool {
	switch outcome {
	case OutcomeTimeout, OutcomeError, OutcomePanic:
		return true
	}
	return false
}

// supplement 主后端结果不足时调用稠密检索补足剩余数量
func (r *Router) supplement(ctx context.Context, lists []CandidateList, text string, topK int) []CandidateList {
	total := 0
	for _, l := range lists {
		if l.Backend == types.BackendDense {
			return lists
		}
		total += len(l.Candidates)
	}
	if total >= topK || !r.avail.Available(types.BackendDense) {
		return lists
	}
	extra, _ := r.callAdapter(ctx, types.BackendDense, text, topK-total)
	return append(lists, CandidateList{Backend: types.BackendDense, Candidates: extra})
}

type adapterResult struct {
	candidates []types.Candidate
	err        error
}

// callAdapter 在独立超时内调用一个后端。超时、错误或 panic 都返回空结果。
func (r *Router) callAdapter(ctx context.Context, backend types.Backend, text string, topK int) (out []types.Candidate, outcome string) {
	retriever := r.adapters.Get(backend)
	if retriever == nil {
		return nil, OutcomeError
	}

	start := time.Now()
	outcome = OutcomeOK
	ctx, cancel := context.WithTimeout(ctx, r.config.AdapterTimeout)
	defer cancel()

	if r.inst != nil {
		var span trace.Span
		ctx, span = r.inst.StartAdapter(ctx, string(backend), topK)
		defer func() {
			r.inst.EndAdapter(ctx, span, string(backend), outcome, time.Since(start), len(out))
		}()
	}
	defer func() {
		r.observer.ObserveAdapterCall(string(backend), outcome, time.Since(start), len(out))
	}()

	done := make(chan adapterResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- adapterResult{err: fmt.Errorf("%w: %v", errAdapterPanic, rec)}
			}
		}()
		cands, err := retriever.Retrieve(ctx, text, topK)
		done <- adapterResult{candidates: cands, err: err}
	}()

	var res adapterResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = adapterResult{err: ctx.Err()}
	}

	if res.err != nil {
		outcome = classifyAdapterError(ctx, res.err)
		if outcome == OutcomeCancelled {
			r.logger.Debug("adapter call cancelled", zap.String("backend", string(backend)))
		} else {
			r.logger.Warn("retrieval adapter failed",
				zap.String("backend", string(backend)),
				zap.String("outcome", outcome),
				zap.Error(types.NewAdapterError(backend, res.err)))
		}
		return nil, outcome
	}

	if len(res.candidates) > topK {
		res.candidates = res.candidates[:topK]
	}
	if len(res.candidates) == 0 {
		outcome = OutcomeEmpty
	}
	return res.candidates, outcome
}

var errAdapterPanic = errors.New("adapter panicked")

func classifyAdapterError(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, errAdapterPanic):
		return OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

func backendNames(plan []types.Backend) []string {
	names := make([]string, len(plan))
	for i, b := range plan {
		names[i] = string(b)
	}
	return names
}
