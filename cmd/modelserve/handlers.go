package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/modelserve"
	"github.com/BaSui01/modelserve/types"
)

// =============================================================================
// 🌐 HTTP Handlers
// =============================================================================

// handlers 将 Serving 上下文暴露为 JSON API。
type handlers struct {
	srv     *modelserve.Serving
	logger  *zap.Logger
	started time.Time
}

func newHandlers(srv *modelserve.Serving, logger *zap.Logger) *handlers {
	return &handlers{srv: srv, logger: logger, started: time.Now()}
}

// -----------------------------------------------------------------------------
// 健康检查
// -----------------------------------------------------------------------------

// HandleHealth 返回服务存活状态。
func (h *handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// HandleReady 检查存储后端可达性，不可达时返回 503。
func (h *handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.srv.Ping(ctx); err != nil {
		h.logger.Warn("readiness probe failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// HandleVersion 返回构建信息。
func (h *handlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// -----------------------------------------------------------------------------
// 推理端点
// -----------------------------------------------------------------------------

// sentimentRequest 是情感分析请求体。
// priority 可选（low | normal | high），默认 normal。
type sentimentRequest struct {
	Text     string `json:"text"`
	Priority string `json:"priority,omitempty"`
}

// HandleSentiment 对单条文本做情感分析。
// 批量化在处理器内部完成：并发请求会被合并成批提交给模型。
func (h *handlers) HandleSentiment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sentimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	priority, err := parsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.srv.Sentiment.Submit(r.Context(), req.Text, priority)
	if err != nil {
		h.writeSubmitError(w, "sentiment", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// recommendRequest 是推荐请求体。
type recommendRequest struct {
	UserID   string `json:"user_id"`
	Priority string `json:"priority,omitempty"`
}

// HandleRecommend 为单个用户生成推荐列表。
func (h *handlers) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id must not be empty")
		return
	}

	priority, err := parsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.srv.Recommend.Submit(r.Context(), req.UserID, priority)
	if err != nil {
		h.writeSubmitError(w, "recommend", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// -----------------------------------------------------------------------------
// 运维端点
// -----------------------------------------------------------------------------

// HandleCacheStats 返回模型缓存统计。
func (h *handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.srv.Cache.Stats())
}

// HandleCacheModels 返回当前缓存中的模型条目。
func (h *handlers) HandleCacheModels(w http.ResponseWriter, r *http.Request) {
	entries := h.srv.Cache.ListCachedModels(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(entries),
		"models": entries,
	})
}

// processorView 是单个处理器的运行状态快照。
type processorView struct {
	Name        string `json:"name"`
	Metrics     any    `json:"metrics"`
	QueueStatus any    `json:"queue_status"`
}

// HandleProcessors 返回全部注册处理器的计量和队列状态。
func (h *handlers) HandleProcessors(w http.ResponseWriter, r *http.Request) {
	names := h.srv.Registry.Names()
	views := make([]processorView, 0, len(names))
	for _, name := range names {
		rt, ok := h.srv.Registry.Get(name)
		if !ok {
			continue
		}
		views = append(views, processorView{
			Name:        name,
			Metrics:     rt.Metrics(),
			QueueStatus: rt.QueueStatus(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"processors": views})
}

// -----------------------------------------------------------------------------
// 工具函数
// -----------------------------------------------------------------------------

func parsePriority(s string) (types.Priority, error) {
	if s == "" {
		return types.PriorityNormal, nil
	}
	return types.ParsePriority(s)
}

// writeSubmitError 将处理器错误码映射为 HTTP 状态码。
func (h *handlers) writeSubmitError(w http.ResponseWriter, endpoint string, err error) {
	h.logger.Warn("inference request failed", zap.String("endpoint", endpoint), zap.Error(err))

	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest:
		writeError(w, http.StatusBadRequest, err.Error())
	case types.ErrProcessorClosed:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case types.ErrBatchCancelled:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
