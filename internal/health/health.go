package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	statusConnected    = "connected"
	statusDisconnected = "disconnected"
)

// Status 健康状态
type Status struct {
	Service  string `json:"service"`
	NATS     string `json:"nats"`
	Redis    string `json:"redis"`
	Database string `json:"database"`
}

// Healthy 三个依赖是否都可用
func (s *Status) Healthy() bool {
	return s.NATS == statusConnected && s.Redis == statusConnected && s.Database == statusConnected
}

// ConnChecker NATS 连接状态，*nats.Conn 满足该接口
type ConnChecker interface {
	IsConnected() bool
}

// Pinger 可 Ping 的存储，*pgxpool.Pool 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc 适配 go-redis 这类返回命令对象的 Ping
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker 健康检查器
type Checker struct {
	service string
	nc      ConnChecker
	redis   Pinger
	db      Pinger
	timeout time.Duration
}

// NewChecker 创建健康检查器
func NewChecker(service string, nc ConnChecker, redis, db Pinger) *Checker {
	return &Checker{
		service: service,
		nc:      nc,
		redis:   redis,
		db:      db,
		timeout: 2 * time.Second,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{Service: h.service}

	if h.nc != nil && h.nc.IsConnected() {
		status.NATS = statusConnected
	} else {
		status.NATS = statusDisconnected
	}
	status.Redis = h.ping(ctx, h.redis)
	status.Database = h.ping(ctx, h.db)
	return status
}

func (h *Checker) ping(ctx context.Context, p Pinger) string {
	if p == nil {
		return "not configured"
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return statusDisconnected
	}
	return statusConnected
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy()
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// ReadyHandler /ready 端点
func (h *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))
	}
}
