package ports

import (
	"fmt"
	"net"
	"sync"

	"github.com/harunnryd/butai/internal/errors"
)

// Allocator hands out free TCP ports from a bounded range, skipping an
// excluded set. Reserved ports are remembered so concurrent Allocate
// calls never return the same port before anything binds it.
type Allocator struct {
	mu       sync.Mutex
	from     int
	to       int
	excluded map[int]bool
	reserved map[int]bool
}

func NewAllocator(from, to int, excluded []int) (*Allocator, error) {
	if from <= 0 || to < from {
		return nil, errors.InvalidInput(fmt.Sprintf("invalid port range %d-%d", from, to))
	}

	ex := make(map[int]bool, len(excluded))
	for _, p := range excluded {
		ex[p] = true
	}

	return &Allocator{
		from:     from,
		to:       to,
		excluded: ex,
		reserved: make(map[int]bool),
	}, nil
}

// Allocate scans the range with a listening-socket probe and returns the
// first free port.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.from; port <= a.to; port++ {
		if a.excluded[port] || a.reserved[port] {
			continue
		}
		if !probe(port) {
			continue
		}
		a.reserved[port] = true
		return port, nil
	}

	return 0, fmt.Errorf("no free port in range %d-%d: %w", a.from, a.to, errors.ErrPortExhausted)
}

// Release returns a port to the pool after the instance using it shuts down.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	delete(a.reserved, port)
	a.mu.Unlock()
}

func probe(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
