package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // "pass", "fail", "warn"
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health")),
		checks: make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（简单健康检查）
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针，只检查进程存活）
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 请求。必需检查失败返回 503，
// 可选检查失败只把状态降为 degraded。
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Evaluate(ctx)
	if status.Status == "unhealthy" {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// Evaluate 运行全部检查并汇总
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		_, optional := check.(*optionalCheck)
		result := CheckResult{
			Status:   "pass",
			Latency:  latency.String(),
			Optional: optional,
		}

		if err != nil {
			result.Message = err.Error()
			if optional {
				result.Status = "warn"
				if status.Status == "healthy" {
					status.Status = "degraded"
				}
			} else {
				result.Status = "fail"
				status.Status = "unhealthy"
			}

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Bool("optional", optional),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}
	return status
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		}

		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 基于 ping 函数的检查（数据库、Redis）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建基于 ping 的健康检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{
		name: name,
		ping: ping,
	}
}

func (c *PingCheck) Name() string {
	return c.name
}

func (c *PingCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}

type optionalCheck struct {
	HealthCheck
}

// Optional 包装为可选检查：失败时服务仍就绪，状态为 degraded
func Optional(check HealthCheck) HealthCheck {
	return &optionalCheck{HealthCheck: check}
}

// AvailabilityReporter 报告各检索后端是否可用（rag.Router 实现）
type AvailabilityReporter interface {
	Availability() map[types.Backend]bool
}

// BackendCheck 单个检索后端的可用性检查
type BackendCheck struct {
	reporter AvailabilityReporter
	backend  types.Backend
}

// NewBackendCheck 创建检索后端检查。稠密后端应注册为必需检查，其余用 Optional 包装
func NewBackendCheck(reporter AvailabilityReporter, backend types.Backend) *BackendCheck {
	return &BackendCheck{reporter: reporter, backend: backend}
}

func (c *BackendCheck) Name() string {
	return "backend_" + string(c.backend)
}

func (c *BackendCheck) Check(_ context.Context) error {
	if c.reporter.Availability()[c.backend] {
		return nil
	}
	if c.backend == types.BackendDense {
		return types.ErrDenseUnavailable
	}
	return fmt.Errorf("%s store is not available", c.backend)
}
