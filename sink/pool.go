package sink

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Pool owns a fixed set of driver instances sharing one configuration.
// Acquire hands them out round-robin; each instance is safe for concurrent
// sends, so lanes never wait on one another for a connection.
type Pool struct {
	adapters  []Adapter
	next      atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

func NewPool(cfg Config) (*Pool, error) {
	size := cfg.Connections
	if size < 1 {
		size = 1
	}
	adapters := make([]Adapter, 0, size)
	for i := 0; i < size; i++ {
		a, err := NewAdapter(cfg.Driver)
		if err == nil {
			err = a.Configure(cfg)
		}
		if err != nil {
			_ = PoolOf(adapters...).Close()
			return nil, fmt.Errorf("sink pool: connection %d: %w", i, err)
		}
		adapters = append(adapters, a)
	}
	return PoolOf(adapters...), nil
}

// PoolOf wraps already configured adapters.
func PoolOf(adapters ...Adapter) *Pool {
	return &Pool{adapters: adapters}
}

func (p *Pool) Acquire() Adapter {
	n := p.next.Add(1) - 1
	return p.adapters[n%uint64(len(p.adapters))]
}

func (p *Pool) Size() int { return len(p.adapters) }

func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		var merr *multierror.Error
		for _, a := range p.adapters {
			if err := a.Close(); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
		p.closeErr = merr.ErrorOrNil()
	})
	return p.closeErr
}
