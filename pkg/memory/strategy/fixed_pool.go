// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package strategy

import (
	"math"
	"sort"

	"github.com/containers/memstrat/pkg/memory"
)

const (
	// DefaultObjectsPerPool is the default number of objects in a FixedPool slab.
	DefaultObjectsPerPool = 2048
)

// FixedPool sub-allocates objects of a fixed size from slabs obtained
// from its parent. Free objects are kept on a free list.
type FixedPool struct {
	named
	objectBytes    uint64
	objectsPerPool uint64
	slabs          []*fixedSlab
	free           []uintptr
	used           map[uintptr]*fixedSlab
}

type fixedSlab struct {
	addr uintptr
	used uint64
}

var _ memory.Strategy = &FixedPool{}

// NewFixedPool creates a pool of objectBytes sized objects, growing by
// objectsPerPool objects at a time.
func NewFixedPool(name string, id int, parent memory.Strategy, objectBytes, objectsPerPool uint64) (*FixedPool, error) {
	if objectBytes == 0 {
		return nil, invalidArgument(name, "zero object size")
	}
	if objectsPerPool == 0 {
		objectsPerPool = DefaultObjectsPerPool
	}
	if objectBytes > math.MaxUint64/objectsPerPool {
		return nil, invalidArgument(name, "slab of %d objects of %s overflows",
			objectsPerPool, memory.PrettySize(objectBytes))
	}

	p := &FixedPool{
		named:          named{name: name, id: id, parent: parent},
		objectBytes:    objectBytes,
		objectsPerPool: objectsPerPool,
		used:           make(map[uintptr]*fixedSlab),
	}

	log.Debug("%s: created fixed pool of %d objects of %s per slab over %s",
		name, objectsPerPool, memory.PrettySize(objectBytes), parent.Name())

	return p, nil
}

// ObjectSize returns the size of objects in the pool.
func (p *FixedPool) ObjectSize() uint64 {
	return p.objectBytes
}

func (p *FixedPool) slabBytes() uint64 {
	return p.objectBytes * p.objectsPerPool
}

func (p *FixedPool) Allocate(size uint64) (uintptr, error) {
	if size > p.objectBytes {
		return 0, invalidSize(p, size, p.objectBytes)
	}

	if len(p.free) == 0 {
		if err := p.grow(); err != nil {
			return 0, err
		}
	}

	ptr := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := p.slabOf(ptr)
	s.used++
	p.used[ptr] = s

	return ptr, nil
}

func (p *FixedPool) Deallocate(ptr uintptr) error {
	s, ok := p.used[ptr]
	if !ok {
		return invalidPointer(p, ptr)
	}

	delete(p.used, ptr)
	s.used--
	p.free = append(p.free, ptr)

	return nil
}

// Release returns completely free slabs to the parent.
func (p *FixedPool) Release() error {
	var (
		keep     = make([]*fixedSlab, 0, len(p.slabs))
		released []uintptr
	)

	for _, s := range p.slabs {
		if s.used > 0 {
			keep = append(keep, s)
			continue
		}
		if err := p.parent.Deallocate(s.addr); err != nil {
			log.Error("%s: failed to release slab %#x: %v", p.name, s.addr, err)
			keep = append(keep, s)
			continue
		}
		released = append(released, s.addr)
	}
	p.slabs = keep

	if len(released) == 0 {
		return nil
	}

	size := uintptr(p.slabBytes())
	free := p.free[:0]
	for _, ptr := range p.free {
		i := sort.Search(len(released), func(i int) bool { return released[i] > ptr })
		if i > 0 && ptr < released[i-1]+size {
			continue
		}
		free = append(free, ptr)
	}
	p.free = free

	log.Debug("%s: released %d slabs", p.name, len(released))

	return nil
}

// Close returns all slabs to the parent.
func (p *FixedPool) Close() error {
	var firstErr error
	for _, s := range p.slabs {
		if err := p.parent.Deallocate(s.addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.slabs = nil
	p.free = nil
	p.used = make(map[uintptr]*fixedSlab)
	return firstErr
}

// ActualSize returns the number of bytes obtained from the parent.
func (p *FixedPool) ActualSize() uint64 {
	return uint64(len(p.slabs)) * p.slabBytes()
}

// InUse returns the number of allocated objects.
func (p *FixedPool) InUse() int {
	return len(p.used)
}

func (p *FixedPool) grow() error {
	addr, err := p.parent.Allocate(p.slabBytes())
	if err != nil {
		return err
	}

	s := &fixedSlab{addr: addr}
	idx := sort.Search(len(p.slabs), func(i int) bool { return p.slabs[i].addr > addr })
	p.slabs = append(p.slabs, nil)
	copy(p.slabs[idx+1:], p.slabs[idx:])
	p.slabs[idx] = s

	// push in reverse so the lowest address is handed out first
	for i := p.objectsPerPool; i > 0; i-- {
		p.free = append(p.free, addr+uintptr((i-1)*p.objectBytes))
	}

	log.Debug("%s: grew by %s slab at %#x", p.name, memory.PrettySize(p.slabBytes()), addr)

	return nil
}

// slabOf returns the slab containing ptr, which must be one of ours.
func (p *FixedPool) slabOf(ptr uintptr) *fixedSlab {
	idx := sort.Search(len(p.slabs), func(i int) bool { return p.slabs[i].addr > ptr })
	return p.slabs[idx-1]
}
