package services

import (
	"errors"
	"sync"
	"time"

	"github.com/aihub/multimodal-rag/internal/logger"
	"go.uber.org/zap"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// ErrCircuitOpen 熔断期间直接拒绝调用
var ErrCircuitOpen = errors.New("circuit breaker is open")

// String 返回状态字符串
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker 连续失败failureThreshold次后打开，timeout后放行试探请求，
// 半开状态下连续成功successThreshold次关闭
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	mu              sync.Mutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	now             func() time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Call 执行函数调用（带熔断保护），fn的错误原样返回
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
		return false
	}
	cb.transition(StateHalfOpen)
	cb.successCount = 0
	return true
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				cb.transition(StateClosed)
				cb.failureCount = 0
			}
		case StateClosed:
			cb.failureCount = 0
		}
		return
	}

	cb.lastFailureTime = cb.now()
	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	}
}

// transition 调用方持有锁
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	if cb.state == to {
		return
	}
	logger.Info("熔断器状态变化",
		zap.String("name", cb.name),
		zap.String("from", cb.state.String()),
		zap.String("to", to.String()))
	cb.state = to
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
