package batch

import "sync"

// Registry tracks which named jobs are executing in this process.
type Registry struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[string]bool)}
}

// TryAcquire marks job as running and reports whether it was idle.
func (r *Registry) TryAcquire(job string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[job] {
		return false
	}
	r.running[job] = true
	return true
}

// Release marks job idle.
func (r *Registry) Release(job string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, job)
}

// Running reports whether job holds the guard.
func (r *Registry) Running(job string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[job]
}
