package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/robinclaw/robinclaw/pkg/logger"
)

// Handler 关闭处理函数。Manager 已负责 wg.Done()，handler 只在自己额外启动 goroutine 时使用 wg。
type Handler func(ctx context.Context, wg *sync.WaitGroup)

type namedHandler struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{
		callbacks: make([]namedHandler, 0),
	}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(handler Handler) {
	m.OnShutdownNamed("", handler)
}

// OnShutdownNamed 注册带名字的关闭回调，名字只用于日志
func (m *Manager) OnShutdownNamed(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用）
// ctx 应该是一个带超时的 context，避免无限等待。超时返回 ctx.Err()。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("shutdown: no handlers registered")
		return nil
	}

	logger.Infof("shutdown: running %d handlers", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))

	// 并发执行所有关闭回调
	for _, cb := range callbacks {
		go func(cb namedHandler) {
			defer wg.Done()
			start := time.Now()
			cb.handler(ctx, &wg)
			if cb.name != "" {
				logger.Debugf("shutdown: %s done in %s", cb.name, time.Since(start))
			}
		}(cb)
	}

	// 等待所有回调完成或超时
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown: all handlers finished")
		return nil
	case <-ctx.Done():
		logger.Warnf("shutdown: timed out: %v", ctx.Err())
		return ctx.Err()
	}
}
