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
	"github.com/containers/memstrat/pkg/memory"
)

// SlotPool caches up to a fixed number of parent allocations in slots.
// A freed slot keeps its memory and is reused for a request of the same
// size. The pool never grows beyond its slots.
type SlotPool struct {
	named
	slots []slot
	index map[uintptr]int
}

type slot struct {
	ptr   uintptr
	size  uint64
	inUse bool
}

var _ memory.Strategy = &SlotPool{}

// NewSlotPool creates a slot pool with the given number of slots.
func NewSlotPool(name string, id int, parent memory.Strategy, slots int) (*SlotPool, error) {
	if slots <= 0 {
		return nil, invalidArgument(name, "invalid number of slots %d", slots)
	}

	log.Debug("%s: created slot pool of %d slots over %s", name, slots, parent.Name())

	return &SlotPool{
		named: named{name: name, id: id, parent: parent},
		slots: make([]slot, slots),
		index: make(map[uintptr]int),
	}, nil
}

func (p *SlotPool) Allocate(size uint64) (uintptr, error) {
	empty, evict := -1, -1
	for i := range p.slots {
		s := &p.slots[i]
		switch {
		case s.inUse:
			continue
		case s.ptr != 0 && s.size == size:
			s.inUse = true
			return s.ptr, nil
		case s.ptr == 0 && empty < 0:
			empty = i
		case s.ptr != 0 && evict < 0:
			evict = i
		}
	}

	idx := empty
	if idx < 0 {
		idx = evict
	}
	if idx < 0 {
		return 0, outOfMemory(p, "all %d slots in use", len(p.slots))
	}

	s := &p.slots[idx]
	if s.ptr != 0 {
		if err := p.parent.Deallocate(s.ptr); err != nil {
			return 0, err
		}
		delete(p.index, s.ptr)
		*s = slot{}
	}

	ptr, err := p.parent.Allocate(size)
	if err != nil {
		return 0, err
	}

	*s = slot{ptr: ptr, size: size, inUse: true}
	p.index[ptr] = idx

	return ptr, nil
}

func (p *SlotPool) Deallocate(ptr uintptr) error {
	idx, ok := p.index[ptr]
	if !ok || !p.slots[idx].inUse {
		return invalidPointer(p, ptr)
	}
	p.slots[idx].inUse = false
	return nil
}

// Release returns the memory cached in free slots to the parent.
func (p *SlotPool) Release() error {
	for i := range p.slots {
		s := &p.slots[i]
		if s.inUse || s.ptr == 0 {
			continue
		}
		if err := p.parent.Deallocate(s.ptr); err != nil {
			return err
		}
		delete(p.index, s.ptr)
		*s = slot{}
	}
	return nil
}

// Close returns the memory of all slots to the parent.
func (p *SlotPool) Close() error {
	var firstErr error
	for i := range p.slots {
		if s := &p.slots[i]; s.ptr != 0 {
			if err := p.parent.Deallocate(s.ptr); err != nil && firstErr == nil {
				firstErr = err
			}
			*s = slot{}
		}
	}
	p.index = make(map[uintptr]int)
	return firstErr
}

// ActualSize returns the number of bytes held in slots.
func (p *SlotPool) ActualSize() uint64 {
	var total uint64
	for _, s := range p.slots {
		total += s.size
	}
	return total
}
