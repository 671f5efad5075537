package rag

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/groundrag/types"
)

func cand(docID string, score float64, text string) types.Candidate {
	return types.Candidate{DocumentID: docID, Score: score, Text: text}
}

func candAt(docID string, score float64, text string, start, end int) types.Candidate {
	c := cand(docID, score, text)
	c.Start = types.IntPtr(start)
	c.End = types.IntPtr(end)
	return c
}

// staticRetriever 返回固定候选，并记录收到的 topK
type staticRetriever struct {
	mu         sync.Mutex
	candidates []types.Candidate
	err        error
	calls      int
	lastTopK   int
	lastQuery  string
}

func newStatic(cands ...types.Candidate) *staticRetriever {
	return &staticRetriever{candidates: cands}
}

func (s *staticRetriever) Retrieve(_ context.Context, query string, topK int) ([]types.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastTopK = topK
	s.lastQuery = query
	if s.err != nil {
		return nil, s.err
	}
	out := make([]types.Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}

func (s *staticRetriever) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *staticRetriever) LastTopK() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTopK
}

// notReady 实现 Readiness 但报告未就绪
type notReady struct{ staticRetriever }

func (*notReady) Ready() bool { return false }

func blockingRetriever() RetrieverFunc {
	return func(ctx context.Context, _ string, _ int) ([]types.Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func panickingRetriever() RetrieverFunc {
	return func(context.Context, string, int) ([]types.Candidate, error) {
		panic("index corrupted")
	}
}

type adapterCall struct {
	backend    string
	outcome    string
	candidates int
}

type routeCall struct {
	intent   string
	backends int
	items    int
}

type citationCall struct {
	format  string
	total   int
	unknown int
}

// recordingObserver 线程安全地记录所有回调
type recordingObserver struct {
	mu        sync.Mutex
	adapters  []adapterCall
	routes    []routeCall
	citations []citationCall
}

func (o *recordingObserver) ObserveAdapterCall(backend, outcome string, _ time.Duration, candidates int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters = append(o.adapters, adapterCall{backend: backend, outcome: outcome, candidates: candidates})
}

func (o *recordingObserver) ObserveRoute(intent string, backends, items int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, routeCall{intent: intent, backends: backends, items: items})
}

func (o *recordingObserver) ObserveCitations(format string, total, unknown int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.citations = append(o.citations, citationCall{format: format, total: total, unknown: unknown})
}

func (o *recordingObserver) outcomeOf(backend string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.adapters {
		if c.backend == backend {
			return c.outcome
		}
	}
	return ""
}

// fakeCompletion 可编程的补全实现
type fakeCompletion struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	panics   bool
	calls    int
	prompts  []string
}

func (f *fakeCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	resp, err, delay, panics := f.response, f.err, f.delay, f.panics
	f.mu.Unlock()

	if panics {
		panic("provider exploded")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return resp, err
}

func (f *fakeCompletion) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// mapCache 内存版 IntentCache
type mapCache struct {
	mu      sync.Mutex
	entries map[string]string
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]string)}
}

func (c *mapCache) GetJSON(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return errCacheMiss
	}
	return json.Unmarshal([]byte(v), dest)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = string(data)
	c.sets++
	return nil
}

type cacheMissError struct{}

func (cacheMissError) Error() string { return "cache miss" }

var errCacheMiss error = cacheMissError{}

// hashEmbedder 确定性词袋向量，用于不依赖外部模型的测试
type hashEmbedder struct {
	dim int
	err error
}

func (e hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	dim := e.dim
	if dim == 0 {
		dim = 16
	}
	vec := make([]float64, dim)
	for _, t := range terms(text) {
		h := 0
		for _, r := range strings.ToLower(t) {
			h = (h*31 + int(r)) % dim
		}
		vec[h]++
	}
	return vec, nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
