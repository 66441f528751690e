package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("vm pool is closed")

// VMPool keeps sandboxed runtimes for reuse. A runtime is only ever used by
// the goroutine that acquired it.
type VMPool struct {
	pool          chan *pooledVM
	level         SecurityLevel
	maxSize       int
	maxReuseCount int
	currentSize   int32
	totalCreated  int64
	totalAcquired int64
	mu            sync.Mutex
	closed        bool
}

type pooledVM struct {
	vm         *goja.Runtime
	baseline   map[string]struct{}
	createdAt  time.Time
	reuseCount int
}

// PoolConfig sizes a VMPool.
type PoolConfig struct {
	MinSize       int // runtimes created up front
	MaxSize       int // runtimes alive at once
	MaxReuseCount int // runs before a runtime is replaced
	Security      SecurityLevel
}

// DefaultPoolConfig returns the default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:       2,
		MaxSize:       16,
		MaxReuseCount: 500,
		Security:      SecurityStandard,
	}
}

// NewVMPool creates a pool and pre-creates MinSize runtimes.
func NewVMPool(cfg PoolConfig) (*VMPool, error) {
	def := DefaultPoolConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}
	if cfg.MaxReuseCount <= 0 {
		cfg.MaxReuseCount = def.MaxReuseCount
	}
	if cfg.Security == "" {
		cfg.Security = def.Security
	}

	p := &VMPool{
		pool:          make(chan *pooledVM, cfg.MaxSize),
		level:         cfg.Security,
		maxSize:       cfg.MaxSize,
		maxReuseCount: cfg.MaxReuseCount,
	}
	for i := 0; i < cfg.MinSize; i++ {
		vm, err := p.createVM()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create initial VM: %w", err)
		}
		p.pool <- vm
	}
	return p, nil
}

// Acquire returns an idle runtime, creating one while below MaxSize and
// waiting otherwise.
func (p *VMPool) Acquire(ctx context.Context) (*pooledVM, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}
	atomic.AddInt64(&p.totalAcquired, 1)

	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, ErrPoolClosed
		}
		return p.recycle(vm)
	default:
	}

	if int(atomic.LoadInt32(&p.currentSize)) < p.maxSize {
		return p.createVM()
	}

	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, ErrPoolClosed
		}
		return p.recycle(vm)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recycle replaces runtimes that reached their reuse limit.
func (p *VMPool) recycle(vm *pooledVM) (*pooledVM, error) {
	vm.reuseCount++
	if vm.reuseCount < p.maxReuseCount {
		return vm, nil
	}
	p.destroyVM(vm)
	fresh, err := p.createVM()
	if err != nil {
		return nil, fmt.Errorf("failed to recreate VM: %w", err)
	}
	return fresh, nil
}

// Release returns a runtime to the pool. Runtimes that were interrupted or
// fail to reset are dropped.
func (p *VMPool) Release(vm *pooledVM, interrupted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || interrupted {
		p.destroyVM(vm)
		return
	}
	if err := vm.reset(); err != nil {
		p.destroyVM(vm)
		return
	}
	select {
	case p.pool <- vm:
	default:
		p.destroyVM(vm)
	}
}

func (p *VMPool) createVM() (*pooledVM, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := newSandbox(p.level).apply(rt); err != nil {
		return nil, fmt.Errorf("failed to create secure context: %w", err)
	}
	baseline := make(map[string]struct{})
	for _, name := range rt.GlobalObject().GetOwnPropertyNames() {
		baseline[name] = struct{}{}
	}
	atomic.AddInt32(&p.currentSize, 1)
	atomic.AddInt64(&p.totalCreated, 1)
	return &pooledVM{vm: rt, baseline: baseline, createdAt: time.Now()}, nil
}

func (p *VMPool) destroyVM(vm *pooledVM) {
	if vm == nil || vm.vm == nil {
		return
	}
	vm.vm = nil
	atomic.AddInt32(&p.currentSize, -1)
}

// Close drops every idle runtime. Runtimes in use are dropped on release.
func (p *VMPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.pool)
	for vm := range p.pool {
		p.destroyVM(vm)
	}
	return nil
}

// PoolStats contains pool statistics
type PoolStats struct {
	CurrentSize   int   `json:"current_size"`
	MaxSize       int   `json:"max_size"`
	TotalCreated  int64 `json:"total_created"`
	TotalAcquired int64 `json:"total_acquired"`
	Available     int   `json:"available"`
}

// Stats returns pool statistics
func (p *VMPool) Stats() PoolStats {
	return PoolStats{
		CurrentSize:   int(atomic.LoadInt32(&p.currentSize)),
		MaxSize:       p.maxSize,
		TotalCreated:  atomic.LoadInt64(&p.totalCreated),
		TotalAcquired: atomic.LoadInt64(&p.totalAcquired),
		Available:     len(p.pool),
	}
}

// reset deletes the globals a script defined so the next run starts clean.
func (vm *pooledVM) reset() error {
	global := vm.vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if _, ok := vm.baseline[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("failed to delete global %s: %w", name, err)
		}
	}
	return nil
}
