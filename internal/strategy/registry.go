package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 管理已注册策略，按名称查找。
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry 返回预注册了内置策略的注册表。
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(NewMACross())
	r.Register(NewRSIReversal())
	return r
}

// Register 注册策略，同名覆盖。
func (r *Registry) Register(s Strategy) {
	if s == nil || s.Name() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get 按名称取回策略。
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	return s, nil
}

// Names 返回排序后的已注册策略名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
