package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PingFunc 单次探活
type PingFunc func(ctx context.Context) error

// HealthChecker 外部依赖健康检查器
type HealthChecker struct {
	name          string
	ping          PingFunc
	logger        *zap.Logger
	checkInterval time.Duration
	timeout       time.Duration
	isHealthy     bool
	lastCheck     time.Time
	lastError     error
	responseTime  time.Duration
	mu            sync.RWMutex
	stopChan      chan struct{}
	running       bool
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(name string, ping PingFunc) *HealthChecker {
	return &HealthChecker{
		name:          name,
		ping:          ping,
		logger:        logger.Named("health").With(zap.String("dependency", name)),
		checkInterval: 30 * time.Second,
		timeout:       5 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// NewRedisHealthChecker Redis探活
func NewRedisHealthChecker(client *redis.Client) *HealthChecker {
	return NewHealthChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Name 依赖名
func (hc *HealthChecker) Name() string {
	return hc.name
}

// SetCheckInterval 设置检查间隔
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkInterval = interval
}

// Start 周期检查直到ctx结束或Stop，阻塞调用
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	interval := hc.checkInterval
	hc.mu.Unlock()

	_ = hc.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hc.setStopped()
			return
		case <-hc.stopChan:
			hc.setStopped()
			return
		case <-ticker.C:
			_ = hc.Check(ctx)
		}
	}
}

func (hc *HealthChecker) setStopped() {
	hc.mu.Lock()
	hc.running = false
	hc.mu.Unlock()
	hc.logger.Debug("Health checker stopped")
}

// Stop 停止健康检查，可重复调用
func (hc *HealthChecker) Stop() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	select {
	case <-hc.stopChan:
	default:
		close(hc.stopChan)
	}
	return nil
}

// Check 执行单次健康检查
func (hc *HealthChecker) Check(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	err := hc.ping(ctx)
	responseTime := time.Since(start)

	hc.mu.Lock()
	wasHealthy := hc.isHealthy
	hc.lastCheck = time.Now()
	hc.responseTime = responseTime
	hc.lastError = err
	hc.isHealthy = err == nil
	hc.mu.Unlock()

	switch {
	case err != nil:
		hc.logger.Warn("Health check failed", zap.Duration("response_time", responseTime), zap.Error(err))
	case !wasHealthy:
		hc.logger.Info("Connection restored", zap.Duration("response_time", responseTime))
	}
	return err
}

// IsHealthy 获取当前健康状态
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.isHealthy
}

// GetHealthResult 获取健康检查结果
func (hc *HealthChecker) GetHealthResult() HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := HealthCheckResult{
		Healthy:   hc.isHealthy,
		LastCheck: hc.lastCheck,
	}
	if hc.lastError != nil {
		result.LastError = hc.lastError.Error()
	}
	if !hc.lastCheck.IsZero() {
		result.ResponseTime = hc.responseTime.String()
	}
	return result
}

// HealthRegistry 汇总已启用的外部依赖
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers []*HealthChecker
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{}
}

// Register 注册检查器
func (r *HealthRegistry) Register(checker *HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// Results 按依赖名返回最近一次结果
func (r *HealthRegistry) Results() map[string]HealthCheckResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	results := make(map[string]HealthCheckResult, len(r.checkers))
	for _, c := range r.checkers {
		results[c.Name()] = c.GetHealthResult()
	}
	return results
}

// Healthy 全部依赖健康；没有注册任何依赖时为true
func (r *HealthRegistry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.checkers {
		if !c.IsHealthy() {
			return false
		}
	}
	return true
}

// Names 已注册依赖名，排序后返回
func (r *HealthRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for _, c := range r.checkers {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}
