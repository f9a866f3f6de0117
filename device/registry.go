package device

import "sync"

// Registry 以设备 ID 为键维护进程内唯一的连接监督器。
// 这是设备侧唯一的共享可变结构，所有操作都在内部锁下完成。
type Registry struct {
	mu     sync.RWMutex
	supers map[string]*Supervisor
}

// NewRegistry 创建空的注册表。
func NewRegistry() *Registry {
	return &Registry{supers: make(map[string]*Supervisor)}
}

// Put 登记或替换某设备的监督器。
// 参数：
// - id: 设备 ID
// - s: 新监督器
// 返回：
// - *Supervisor: 被替换的旧监督器（无则为 nil，调用方负责停掉它）
func (r *Registry) Put(id string, s *Supervisor) *Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.supers[id]
	r.supers[id] = s
	if old == s {
		return nil
	}
	return old
}

// Remove 摘除某设备的监督器。
// 参数：
// - id: 设备 ID
// 返回：
// - *Supervisor: 被摘除的监督器（无则为 nil）
func (r *Registry) Remove(id string) *Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.supers[id]
	delete(r.supers, id)
	return old
}

// Get 查询某设备的监督器。
// 参数：
// - id: 设备 ID
// 返回：
// - *Supervisor: 监督器
// - bool: 是否存在
func (r *Registry) Get(id string) (*Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.supers[id]
	return s, ok
}

// All 返回当前注册表的快照副本。
func (r *Registry) All() map[string]*Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Supervisor, len(r.supers))
	for id, s := range r.supers {
		out[id] = s
	}
	return out
}

// Len 返回当前登记的设备数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.supers)
}
