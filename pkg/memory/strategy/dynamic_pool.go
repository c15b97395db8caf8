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
	"fmt"
	"math"
	"sort"

	"github.com/containers/memstrat/pkg/memory"
)

const (
	// DefaultInitialAllocSize is the default size of the first DynamicPool slab.
	DefaultInitialAllocSize = 512 << 20
	// DefaultMinAllocSize is the default minimum size of further slabs.
	DefaultMinAllocSize = 1 << 20
	// DefaultAlignment is the default alignment of DynamicPool allocations.
	DefaultAlignment = 16
)

// DynamicPool sub-allocates variable sized blocks from slabs obtained
// from its parent. Free blocks are indexed by size for best-fit
// allocation. Blocks are split on allocation and merged when the pool
// is coalesced.
type DynamicPool struct {
	named
	initialSize uint64
	minSize     uint64
	alignment   uint64
	heuristic   Heuristic
	slabs       []*dynSlab
	free        []*block // ordered by size, then by address
	used        map[uintptr]*block
	actual      uint64
	current     uint64
}

type dynSlab struct {
	addr uintptr
	size uint64
	head *block
	used int
}

// block is a range of a slab. Blocks of a slab are linked in address order.
type block struct {
	addr uintptr
	size uint64
	free bool
	slab *dynSlab
	next *block
}

var (
	_ memory.Strategy  = &DynamicPool{}
	_ memory.Coalescer = &DynamicPool{}
)

// NewDynamicPool creates a dynamic pool with the given configuration. The
// initial slab is allocated from the parent immediately.
func NewDynamicPool(name string, id int, parent memory.Strategy, cfg DynamicPoolConfig) (*DynamicPool, error) {
	p := &DynamicPool{
		named:       named{name: name, id: id, parent: parent},
		initialSize: cfg.InitialSize,
		minSize:     cfg.MinSize,
		alignment:   cfg.Alignment,
		heuristic:   cfg.Heuristic,
		used:        make(map[uintptr]*block),
	}

	if p.initialSize == 0 {
		p.initialSize = DefaultInitialAllocSize
	}
	if p.minSize == 0 {
		p.minSize = DefaultMinAllocSize
	}
	if p.alignment == 0 {
		p.alignment = DefaultAlignment
	}
	if !memory.IsPowerOfTwo(p.alignment) {
		return nil, invalidArgument(name, "alignment %d is not a power of two", p.alignment)
	}
	if p.heuristic == nil {
		p.heuristic = PercentReleasable(100)
	}

	if err := p.addSlab(p.initialSize); err != nil {
		return nil, fmt.Errorf("%s: failed to allocate initial slab: %w", name, err)
	}

	log.Debug("%s: created dynamic pool over %s (initial %s, min %s, alignment %d, %s)",
		name, parent.Name(), memory.PrettySize(p.initialSize), memory.PrettySize(p.minSize),
		p.alignment, p.heuristic)

	return p, nil
}

func (p *DynamicPool) Allocate(size uint64) (uintptr, error) {
	if limit := p.maxRequest(); size > limit {
		return 0, invalidSize(p, size, limit)
	}
	asize := memory.AlignUp(max(size, 1), p.alignment)

	b := p.findFree(asize)
	if b == nil {
		if err := p.grow(asize); err != nil {
			return 0, err
		}
		b = p.findFree(asize)
	}

	p.removeFree(b)
	if b.size > asize {
		rest := &block{
			addr: b.addr + uintptr(asize),
			size: b.size - asize,
			free: true,
			slab: b.slab,
			next: b.next,
		}
		b.next = rest
		b.size = asize
		p.insertFree(rest)
	}

	b.free = false
	b.slab.used++
	p.used[b.addr] = b
	p.current += b.size

	return b.addr, nil
}

func (p *DynamicPool) Deallocate(ptr uintptr) error {
	b, ok := p.used[ptr]
	if !ok {
		return invalidPointer(p, ptr)
	}

	delete(p.used, ptr)
	b.free = true
	b.slab.used--
	p.current -= b.size
	p.insertFree(b)

	if p.heuristic.ShouldCoalesce(p.Usage()) {
		log.Debug("%s: %s triggered coalescing", p.name, p.heuristic)
		return p.Coalesce()
	}

	return nil
}

// Coalesce merges adjacent free blocks, then replaces all completely
// free slabs with a single slab of their combined size.
func (p *DynamicPool) Coalesce() error {
	merged := p.mergeFree()

	var (
		empty []*dynSlab
		total uint64
	)
	for _, s := range p.slabs {
		if s.used == 0 {
			empty = append(empty, s)
			total += s.size
		}
	}

	if len(empty) < 2 {
		log.Debug("%s: coalesced, merged %d blocks", p.name, merged)
		return nil
	}

	for _, s := range empty {
		if err := p.releaseSlab(s); err != nil {
			return err
		}
	}

	if err := p.addSlab(total); err != nil {
		log.Warn("%s: failed to allocate coalesced slab of %s: %v", p.name,
			memory.PrettySize(total), err)
		return nil
	}

	log.Debug("%s: coalesced, merged %d blocks, %d slabs into one of %s", p.name,
		merged, len(empty), memory.PrettySize(total))

	return nil
}

// Release returns all completely free slabs to the parent.
func (p *DynamicPool) Release() error {
	var empty []*dynSlab
	for _, s := range p.slabs {
		if s.used == 0 {
			empty = append(empty, s)
		}
	}
	for _, s := range empty {
		if err := p.releaseSlab(s); err != nil {
			return err
		}
	}
	if len(empty) > 0 {
		log.Debug("%s: released %d slabs", p.name, len(empty))
	}
	return nil
}

// Close returns all slabs to the parent.
func (p *DynamicPool) Close() error {
	var firstErr error
	for _, s := range p.slabs {
		if err := p.parent.Deallocate(s.addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.slabs = nil
	p.free = nil
	p.used = make(map[uintptr]*block)
	p.actual = 0
	p.current = 0
	return firstErr
}

// Usage returns the current usage summary of the pool.
func (p *DynamicPool) Usage() PoolUsage {
	u := PoolUsage{
		ActualSize:  p.actual,
		CurrentSize: p.current,
		Slabs:       len(p.slabs),
	}
	for _, s := range p.slabs {
		if s.used == 0 {
			u.ReleasableSize += s.size
			u.FreeSlabs++
		}
	}
	return u
}

// ActualSize returns the number of bytes obtained from the parent.
func (p *DynamicPool) ActualSize() uint64 {
	return p.actual
}

// CurrentSize returns the number of bytes in allocated blocks.
func (p *DynamicPool) CurrentSize() uint64 {
	return p.current
}

// FreeBytes returns the number of bytes in free blocks.
func (p *DynamicPool) FreeBytes() uint64 {
	var total uint64
	for _, b := range p.free {
		total += b.size
	}
	return total
}

// BlockCount returns the number of blocks, free or allocated, in the pool.
func (p *DynamicPool) BlockCount() int {
	return len(p.free) + len(p.used)
}

// FreeBlockCount returns the number of free blocks in the pool.
func (p *DynamicPool) FreeBlockCount() int {
	return len(p.free)
}

// SlabCount returns the number of slabs in the pool.
func (p *DynamicPool) SlabCount() int {
	return len(p.slabs)
}

// Alignment returns the alignment of allocations.
func (p *DynamicPool) Alignment() uint64 {
	return p.alignment
}

// maxRequest is the largest request whose aligned size can still be
// padded for alignment when growing.
func (p *DynamicPool) maxRequest() uint64 {
	return (math.MaxUint64 - (p.alignment - 1)) &^ (p.alignment - 1)
}

func (p *DynamicPool) grow(asize uint64) error {
	if limit := p.maxRequest(); asize > limit {
		return invalidSize(p, asize, limit)
	}
	size := max(p.minSize, asize+p.alignment-1)

	err := p.addSlab(size)
	if err == nil {
		return nil
	}

	if p.Usage().FreeSlabs == 0 {
		return err
	}

	log.Debug("%s: growing by %s failed, retrying after release: %v", p.name,
		memory.PrettySize(size), err)

	if relErr := p.Release(); relErr != nil {
		return err
	}
	return p.addSlab(size)
}

func (p *DynamicPool) addSlab(size uint64) error {
	addr, err := p.parent.Allocate(size)
	if err != nil {
		return err
	}

	start := uintptr(memory.AlignUp(uint64(addr), p.alignment))
	usable := (size - uint64(start-addr)) &^ (p.alignment - 1)
	if start-addr >= uintptr(size) || usable == 0 {
		p.parent.Deallocate(addr)
		return outOfMemory(p, "slab of %s too small for alignment %d", memory.PrettySize(size), p.alignment)
	}

	s := &dynSlab{addr: addr, size: size}
	s.head = &block{addr: start, size: usable, free: true, slab: s}

	p.slabs = append(p.slabs, s)
	p.actual += size
	p.insertFree(s.head)

	log.Debug("%s: added slab of %s at %#x", p.name, memory.PrettySize(size), addr)

	return nil
}

func (p *DynamicPool) releaseSlab(s *dynSlab) error {
	if err := p.parent.Deallocate(s.addr); err != nil {
		return fmt.Errorf("%s: failed to release slab %#x: %w", p.name, s.addr, err)
	}

	for b := s.head; b != nil; b = b.next {
		p.removeFree(b)
	}
	for i, slab := range p.slabs {
		if slab == s {
			p.slabs = append(p.slabs[:i], p.slabs[i+1:]...)
			break
		}
	}
	p.actual -= s.size

	return nil
}

func (p *DynamicPool) mergeFree() int {
	merged := 0
	for _, s := range p.slabs {
		b := s.head
		for b != nil && b.next != nil {
			if !b.free || !b.next.free {
				b = b.next
				continue
			}
			n := b.next
			p.removeFree(b)
			p.removeFree(n)
			b.size += n.size
			b.next = n.next
			p.insertFree(b)
			merged++
		}
	}
	return merged
}

func blockLess(a, b *block) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.addr < b.addr
}

func (p *DynamicPool) findFree(size uint64) *block {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].size >= size })
	if i == len(p.free) {
		return nil
	}
	return p.free[i]
}

func (p *DynamicPool) insertFree(b *block) {
	i := sort.Search(len(p.free), func(i int) bool { return !blockLess(p.free[i], b) })
	p.free = append(p.free, nil)
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = b
}

func (p *DynamicPool) removeFree(b *block) {
	i := sort.Search(len(p.free), func(i int) bool { return !blockLess(p.free[i], b) })
	if i < len(p.free) && p.free[i] == b {
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
}
