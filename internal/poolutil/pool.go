// Package poolutil provides a small arena allocator reused by the symbol
// pool and the CFG container to avoid per-entity heap allocations.
package poolutil

const pageSize = 128

// Pool is a pool of T that can be allocated and reset in bulk.
type Pool[T any] struct {
	pages            []*[pageSize]T
	allocated, index int
	reset            func(*T)
}

// New returns a new Pool. reset, if non-nil, is invoked on every slot when
// the pool is Reset so stale pointers/slices don't linger.
func New[T any](reset func(*T)) Pool[T] {
	p := Pool[T]{reset: reset}
	p.Reset()
	return p
}

// Allocated returns the number of T currently allocated from the pool.
func (p *Pool[T]) Allocated() int { return p.allocated }

// Allocate returns a fresh *T, zero-valued.
func (p *Pool[T]) Allocate() *T {
	if p.index == pageSize {
		p.pages = append(p.pages, new([pageSize]T))
		p.index = 0
	}
	ret := &p.pages[len(p.pages)-1][p.index]
	p.index++
	p.allocated++
	return ret
}

// View returns the pointer to the i-th allocated item.
func (p *Pool[T]) View(i int) *T {
	page, index := i/pageSize, i%pageSize
	return &p.pages[page][index]
}

// Reset clears the pool for reuse, keeping the backing pages.
func (p *Pool[T]) Reset() {
	if p.reset != nil {
		for _, page := range p.pages {
			for i := range page {
				p.reset(&page[i])
			}
		}
	} else {
		for _, page := range p.pages {
			var zero T
			for i := range page {
				page[i] = zero
			}
		}
	}
	p.pages = p.pages[:0]
	p.index = pageSize
	p.allocated = 0
}
