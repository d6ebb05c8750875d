package engine

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"FacePoseServer/challenge"
	iface "FacePoseServer/interface"
	"FacePoseServer/logger"
	"FacePoseServer/monitor"
	"FacePoseServer/store"
)

var ErrCapacity = errors.New("all sessions are in use")

// Info 是 List 返回的会话概要
type Info struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	State       int              `json:"state"`
	Status      challenge.Status `json:"status"`
}

// Registry 持有所有会话，空闲超时的会话由 Run 回收
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]*Engine
	store    store.Store
	defaults iface.EngineConfig

	idleTimeout time.Duration
	capacity    int

	hookMu    sync.Mutex
	onRelease []func(id string)
}

// NewRegistry capacity <= 0 表示不限制
func NewRegistry(st store.Store, defaults iface.EngineConfig, idleTimeout time.Duration, capacity int) *Registry {
	return &Registry{
		engines:     map[string]*Engine{},
		store:       st,
		defaults:    defaults,
		idleTimeout: idleTimeout,
		capacity:    capacity,
	}
}

func (r *Registry) Store() store.Store {
	return r.store
}

func (r *Registry) IdleTimeout() time.Duration {
	return r.idleTimeout
}

func (r *Registry) Capacity() int {
	return r.capacity
}

// OnRelease 注册会话释放时的回调（例如关闭 websocket）
func (r *Registry) OnRelease(fn func(id string)) {
	r.hookMu.Lock()
	r.onRelease = append(r.onRelease, fn)
	r.hookMu.Unlock()
}

// Create 用默认配置叠加 overrides 新建会话
func (r *Registry) Create(overrides iface.EngineConfig) (string, *Engine, error) {
	cfg := r.defaults.Merge(overrides)
	id := uuid.New().String()
	e := NewEngine(id, r.store)
	if err := e.New(cfg); err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	if r.capacity > 0 && len(r.engines) >= r.capacity {
		r.mu.Unlock()
		return "", nil, ErrCapacity
	}
	r.engines[id] = e
	n := len(r.engines)
	r.mu.Unlock()

	monitor.ActiveSessions.Set(float64(n))
	logger.Log().Info("Session created", zap.String("ID", id), zap.String("description", cfg.Description), zap.String("noFacePolicy", cfg.NoFacePolicy))
	return id, e, nil
}

func (r *Registry) Get(id string) (*Engine, bool) {
	r.mu.RLock()
	e, ok := r.engines[id]
	r.mu.RUnlock()
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// Release 销毁并移除会话，不存在时返回 false
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	e, ok := r.engines[id]
	if ok {
		delete(r.engines, id)
	}
	n := len(r.engines)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.Destroy()
	monitor.ActiveSessions.Set(float64(n))

	r.hookMu.Lock()
	hooks := append([]func(string){}, r.onRelease...)
	r.hookMu.Unlock()
	for _, fn := range hooks {
		fn(id)
	}
	logger.Log().Info("Session released", zap.String("ID", id))
	return true
}

func (r *Registry) List() []Info {
	r.mu.RLock()
	all := maps.Clone(r.engines)
	r.mu.RUnlock()
	infos := make([]Info, 0, len(all))
	for id, e := range all {
		infos = append(infos, Info{
			ID:          id,
			Description: e.CheckConfig().Description,
			State:       e.State(),
			Status:      e.Status(),
		})
	}
	return infos
}

// Run 定时回收空闲会话，直到 ctx 取消
func (r *Registry) Run(ctx context.Context) {
	if r.idleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	interval := r.idleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

func (r *Registry) reap() {
	r.mu.RLock()
	var idle []string
	for id, e := range r.engines {
		if time.Since(e.LastActive()) > r.idleTimeout {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range idle {
		if r.Release(id) {
			logger.Log().Info("IdleMonitor timed out", zap.String("ID", id))
		}
	}
}

// Close 释放全部会话
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Release(id)
	}
}
