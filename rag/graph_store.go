package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

// GraphNode 知识图中的实体节点
type GraphNode struct {
	ID        string    `json:"id"`
	Type      string    `json:"type,omitempty"`
	Label     string    `json:"label"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GraphEdge 实体间的关系，附带其出处文档与证据文本
type GraphEdge struct {
	ID            string  `json:"id"`
	Source        string  `json:"source"`
	Target        string  `json:"target"`
	Predicate     string  `json:"predicate"`
	Weight        float64 `json:"weight"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title,omitempty"`
	Evidence      string  `json:"evidence,omitempty"`
	Start         *int    `json:"start_char_idx,omitempty"`
	End           *int    `json:"end_char_idx,omitempty"`
}

// Triple 主语-谓语-宾语三元组
type Triple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Evidence  string `json:"evidence,omitempty"`
	Start     *int   `json:"start_char_idx,omitempty"`
	End       *int   `json:"end_char_idx,omitempty"`
}

// GraphStoreConfig 图检索配置
type GraphStoreConfig struct {
	MaxDepth int `json:"max_depth"`
}

// DefaultGraphStoreConfig 返回默认配置
func DefaultGraphStoreConfig() GraphStoreConfig {
	return GraphStoreConfig{MaxDepth: 2}
}

// GraphStore 内存知识图，实现 Retriever 和 Readiness
type GraphStore struct {
	config   GraphStoreConfig
	nodes    map[string]*GraphNode
	edges    map[string]*GraphEdge
	outEdges map[string][]string // nodeID -> edgeIDs
	inEdges  map[string][]string // nodeID -> edgeIDs
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewGraphStore creates an empty knowledge graph store.
func NewGraphStore(config GraphStoreConfig, logger *zap.Logger) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = 2
	}
	return &GraphStore{
		config:   config,
		nodes:    make(map[string]*GraphNode),
		edges:    make(map[string]*GraphEdge),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "graph_store")),
	}
}

// EntityID returns the node ID used for an entity label.
func EntityID(label string) string {
	return "entity:" + strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// AddNode 添加节点
func (g *GraphStore) AddNode(node *GraphNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node.ID == "" {
		node.ID = EntityID(node.Label)
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	g.nodes[node.ID] = node
}

// AddEdge 添加关系。两端节点必须已存在。
func (g *GraphStore) AddEdge(edge *GraphEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[edge.Source]; !ok {
		return fmt.Errorf("unknown source node %q", edge.Source)
	}
	if _, ok := g.nodes[edge.Target]; !ok {
		return fmt.Errorf("unknown target node %q", edge.Target)
	}
	if edge.ID == "" {
		edge.ID = fmt.Sprintf("edge_%d", len(g.edges)+1)
	}
	if edge.Weight <= 0 {
		edge.Weight = 1
	}
	g.edges[edge.ID] = edge
	g.outEdges[edge.Source] = append(g.outEdges[edge.Source], edge.ID)
	g.inEdges[edge.Target] = append(g.inEdges[edge.Target], edge.ID)
	return nil
}

// AddTriples 将一个文档抽取出的三元组写入图中，缺失的实体节点自动创建
func (g *GraphStore) AddTriples(documentID, documentTitle string, triples []Triple) error {
	if documentID == "" {
		return fmt.Errorf("document id is required")
	}
	for i, t := range triples {
		if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Object) == "" {
			return fmt.Errorf("triple[%d] requires subject and object", i)
		}
		for _, label := range []string{t.Subject, t.Object} {
			if _, ok := g.GetNode(EntityID(label)); !ok {
				g.AddNode(&GraphNode{Label: strings.TrimSpace(label), Type: "entity"})
			}
		}
		edge := &GraphEdge{
			ID:            fmt.Sprintf("%s:rel_%d", documentID, i),
			Source:        EntityID(t.Subject),
			Target:        EntityID(t.Object),
			Predicate:     t.Predicate,
			DocumentID:    documentID,
			DocumentTitle: documentTitle,
			Evidence:      t.Evidence,
			Start:         t.Start,
			End:           t.End,
		}
		if err := g.AddEdge(edge); err != nil {
			return err
		}
	}
	g.logger.Debug("triples added",
		zap.String("document_id", documentID),
		zap.Int("count", len(triples)))
	return nil
}

// GetNode通过ID检索到一个节点.
func (g *GraphStore) GetNode(id string) (*GraphNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// GetNeighbors returns nodes reachable from nodeID within depth hops, in either direction.
func (g *GraphStore) GetNeighbors(nodeID string, depth int) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	hops := g.bfs([]string{nodeID}, depth)
	results := make([]*GraphNode, 0, len(hops))
	for id, h := range hops {
		if h == 0 {
			continue
		}
		results = append(results, g.nodes[id])
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// Size returns the node and edge counts.
func (g *GraphStore) Size() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// Ready implements Readiness.
func (g *GraphStore) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) > 0
}

// Retrieve implements Retriever. Entities named in the query seed a
// breadth-first walk; each relation touching a visited entity becomes a
// candidate scored weight/(1+hop).
func (g *GraphStore) Retrieve(ctx context.Context, query string, topK int) ([]types.Candidate, error) {
	if topK <= 0 {
		return []types.Candidate{}, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	seeds := g.matchEntities(query)
	if len(seeds) == 0 {
		return []types.Candidate{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hops := g.bfs(seeds, g.config.MaxDepth)

	best := make(map[string]float64)
	for nodeID, hop := range hops {
		for _, ids := range [][]string{g.outEdges[nodeID], g.inEdges[nodeID]} {
			for _, edgeID := range ids {
				edge := g.edges[edgeID]
				if edge.DocumentID == "" {
					continue
				}
				score := edge.Weight / float64(1+hop)
				if score > best[edgeID] {
					best[edgeID] = score
				}
			}
		}
	}

	out := make([]types.Candidate, 0, len(best))
	for edgeID, score := range best {
		out = append(out, g.candidate(g.edges[edgeID], score))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SourceID < out[j].SourceID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// matchEntities 查询文本中出现的实体标签或别名
func (g *GraphStore) matchEntities(query string) []string {
	lower := " " + strings.Join(terms(query), " ") + " "
	var seeds []string
	for id, n := range g.nodes {
		for _, label := range append([]string{n.Label}, n.Aliases...) {
			t := strings.Join(terms(label), " ")
			if t != "" && strings.Contains(lower, " "+t+" ") {
				seeds = append(seeds, id)
				break
			}
		}
	}
	sort.Strings(seeds)
	return seeds
}

// bfs 返回 depth 跳内每个节点到最近种子的跳数
func (g *GraphStore) bfs(seeds []string, depth int) map[string]int {
	hops := make(map[string]int, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := g.nodes[s]; ok {
			hops[s] = 0
			frontier = append(frontier, s)
		}
	}
	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, nodeID := range frontier {
			for _, edgeID := range g.outEdges[nodeID] {
				next = g.visit(g.edges[edgeID].Target, hop, hops, next)
			}
			for _, edgeID := range g.inEdges[nodeID] {
				next = g.visit(g.edges[edgeID].Source, hop, hops, next)
			}
		}
		frontier = next
	}
	return hops
}

func (g *GraphStore) visit(nodeID string, hop int, hops map[string]int, next []string) []string {
	if _, seen := hops[nodeID]; seen {
		return next
	}
	hops[nodeID] = hop
	return append(next, nodeID)
}

func (g *GraphStore) candidate(edge *GraphEdge, score float64) types.Candidate {
	text := edge.Evidence
	if text == "" {
		text = strings.TrimSpace(fmt.Sprintf("%s %s %s",
			g.nodes[edge.Source].Label, edge.Predicate, g.nodes[edge.Target].Label))
	}
	return types.Candidate{
		SourceID:      edge.ID,
		DocumentID:    edge.DocumentID,
		DocumentTitle: edge.DocumentTitle,
		Text:          text,
		Start:         edge.Start,
		End:           edge.End,
		Score:         score,
		Backend:       types.BackendGraph,
	}
}

// graphSnapshot 图的持久化格式
type graphSnapshot struct {
	Nodes []*GraphNode `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
}

// PersistFile writes the graph to path as JSON.
func (g *GraphStore) PersistFile(path string) error {
	g.mu.RLock()
	snap := graphSnapshot{
		Nodes: make([]*GraphNode, 0, len(g.nodes)),
		Edges: make([]*GraphEdge, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, e := range g.edges {
		snap.Edges = append(snap.Edges, e)
	}
	g.mu.RUnlock()

	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile 加载 PersistFile 写出的快照，文件不存在时返回 false
func (g *GraphStore) LoadFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var snap graphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("decode graph %s: %w", path, err)
	}
	for _, n := range snap.Nodes {
		if n != nil {
			g.AddNode(n)
		}
	}
	for _, e := range snap.Edges {
		if e == nil {
			continue
		}
		if err := g.AddEdge(e); err != nil {
			return false, fmt.Errorf("load graph edge %s: %w", e.ID, err)
		}
	}
	nodes, edges := g.Size()
	g.logger.Info("graph loaded", zap.String("path", path), zap.Int("nodes", nodes), zap.Int("edges", edges))
	return true, nil
}
