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

// Monotonic is an arena allocator. It obtains a single block of its
// capacity from its parent and serves requests by advancing a cursor.
// Deallocation never makes memory reusable.
type Monotonic struct {
	named
	capacity uint64
	arena    uintptr
	cursor   uint64
}

var _ memory.Strategy = &Monotonic{}

// NewMonotonic creates an arena of the given capacity.
func NewMonotonic(name string, id int, parent memory.Strategy, capacity uint64) (*Monotonic, error) {
	if capacity == 0 {
		return nil, invalidArgument(name, "zero capacity")
	}

	arena, err := parent.Allocate(capacity)
	if err != nil {
		return nil, err
	}

	log.Debug("%s: created %s arena at %#x over %s", name, memory.PrettySize(capacity),
		arena, parent.Name())

	return &Monotonic{
		named:    named{name: name, id: id, parent: parent},
		capacity: capacity,
		arena:    arena,
	}, nil
}

func (m *Monotonic) Allocate(size uint64) (uintptr, error) {
	size = max(size, 1)
	if size > m.capacity-m.cursor {
		return 0, outOfMemory(m, "%s requested, %s of %s left", memory.PrettySize(size),
			memory.PrettySize(m.capacity-m.cursor), memory.PrettySize(m.capacity))
	}

	ptr := m.arena + uintptr(m.cursor)
	m.cursor += size

	return ptr, nil
}

// Deallocate accepts any address inside the arena and does nothing.
func (m *Monotonic) Deallocate(ptr uintptr) error {
	if m.arena == 0 || ptr < m.arena || ptr >= m.arena+uintptr(m.cursor) {
		return invalidPointer(m, ptr)
	}
	return nil
}

// Release is a no-op, the arena is only returned on Close.
func (m *Monotonic) Release() error {
	return nil
}

// Close returns the arena to the parent.
func (m *Monotonic) Close() error {
	if m.arena == 0 {
		return nil
	}
	arena := m.arena
	m.arena, m.cursor = 0, 0
	return m.parent.Deallocate(arena)
}

// Capacity returns the size of the arena.
func (m *Monotonic) Capacity() uint64 {
	return m.capacity
}

// Cursor returns the offset of the next allocation in the arena.
func (m *Monotonic) Cursor() uint64 {
	return m.cursor
}

// ActualSize returns the number of bytes obtained from the parent.
func (m *Monotonic) ActualSize() uint64 {
	if m.arena == 0 {
		return 0
	}
	return m.capacity
}
