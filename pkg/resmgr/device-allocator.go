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

package resmgr

import (
	"fmt"
	"sync/atomic"

	"github.com/containers/memstrat/pkg/memory"
)

// DeviceAllocator is a bump allocator over an arena taken from another
// allocator. It is a value type: copies share the arena and its cursor,
// and may allocate concurrently.
type DeviceAllocator struct {
	id       int
	base     uintptr
	capacity uint64
	cursor   *atomic.Uint64
}

// device allocator ids are never reused within a process
var deviceIDs atomic.Int64

func nextDeviceID() int {
	return int(deviceIDs.Add(1) - 1)
}

// NewDeviceAllocator creates a device allocator over the given arena.
func NewDeviceAllocator(base uintptr, capacity uint64) DeviceAllocator {
	return newDeviceAllocator(nextDeviceID(), base, capacity)
}

func newDeviceAllocator(id int, base uintptr, capacity uint64) DeviceAllocator {
	return DeviceAllocator{
		id:       id,
		base:     base,
		capacity: capacity,
		cursor:   &atomic.Uint64{},
	}
}

// DeviceAllocatorOption is an option for MakeDeviceAllocator.
type DeviceAllocatorOption func(*deviceAllocatorOptions)

type deviceAllocatorOptions struct {
	id    int
	hasID bool
}

// WithDeviceID assigns the id of the device allocator instead of taking
// the next free one.
func WithDeviceID(id int) DeviceAllocatorOption {
	return func(o *deviceAllocatorOptions) {
		o.id = id
		o.hasID = true
	}
}

// IsValid returns true if the DeviceAllocator refers to an arena.
func (d DeviceAllocator) IsValid() bool {
	return d.cursor != nil
}

// ID returns the id of the DeviceAllocator.
func (d DeviceAllocator) ID() int {
	return d.id
}

// Base returns the address of the arena.
func (d DeviceAllocator) Base() uintptr {
	return d.base
}

// Capacity returns the size of the arena.
func (d DeviceAllocator) Capacity() uint64 {
	return d.capacity
}

// Used returns the number of bytes allocated from the arena.
func (d DeviceAllocator) Used() uint64 {
	if d.cursor == nil {
		return 0
	}
	return d.cursor.Load()
}

// Allocate allocates size bytes from the arena. It never advances the
// cursor past the end of the arena.
func (d DeviceAllocator) Allocate(size uint64) (uintptr, error) {
	if d.cursor == nil {
		return 0, fmt.Errorf("%w: invalid device allocator", memory.ErrInvalidArgument)
	}

	for {
		cur := d.cursor.Load()
		next := cur + size
		if next < cur || next > d.capacity {
			return 0, fmt.Errorf("%w: device allocator #%d: %s requested, %s of %s left",
				memory.ErrOutOfMemory, d.id, memory.PrettySize(size),
				memory.PrettySize(d.capacity-cur), memory.PrettySize(d.capacity))
		}
		if d.cursor.CompareAndSwap(cur, next) {
			return d.base + uintptr(cur), nil
		}
	}
}

// Reset makes the whole arena available again.
func (d DeviceAllocator) Reset() {
	if d.cursor != nil {
		d.cursor.Store(0)
	}
}

// MakeDeviceAllocator allocates an arena of capacity bytes from base and
// creates a DeviceAllocator for it. Unless WithDeviceID assigns one, the
// allocator gets the next unused process-wide id.
func (r *ResourceManager) MakeDeviceAllocator(base Allocator, capacity uint64, options ...DeviceAllocatorOption) (DeviceAllocator, error) {
	var o deviceAllocatorOptions
	for _, opt := range options {
		opt(&o)
	}

	if capacity == 0 {
		return DeviceAllocator{}, fmt.Errorf("%w: zero device allocator capacity", memory.ErrInvalidArgument)
	}
	if o.hasID && o.id < 0 {
		return DeviceAllocator{}, fmt.Errorf("%w: negative device allocator id %d", memory.ErrInvalidArgument, o.id)
	}

	ptr, err := base.Allocate(capacity)
	if err != nil {
		return DeviceAllocator{}, fmt.Errorf("failed to allocate device arena from %q: %w", base.Name(), err)
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		base.Deallocate(ptr)
		return DeviceAllocator{}, fmt.Errorf("%w: resource manager", memory.ErrClosed)
	}

	id := o.id
	if o.hasID {
		if _, taken := r.devices[id]; taken {
			base.Deallocate(ptr)
			return DeviceAllocator{}, fmt.Errorf("%w: device allocator #%d", memory.ErrDuplicateName, id)
		}
	} else {
		id = nextDeviceID()
		for r.devices[id] != nil {
			id = nextDeviceID()
		}
	}

	d := &device{
		DeviceAllocator: newDeviceAllocator(id, ptr, capacity),
		owner:           base,
	}
	r.devices[id] = d

	log.Info("created device allocator #%d of %s over %q", d.ID(), memory.PrettySize(capacity), base.Name())

	return d.DeviceAllocator, nil
}

// GetDeviceAllocator returns the device allocator with the given id.
func (r *ResourceManager) GetDeviceAllocator(id int) (DeviceAllocator, error) {
	r.RLock()
	defer r.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return DeviceAllocator{}, fmt.Errorf("%w: device allocator #%d", memory.ErrNotFound, id)
	}
	return d.DeviceAllocator, nil
}

// DestroyDeviceAllocator returns the arena of a device allocator to its base.
func (r *ResourceManager) DestroyDeviceAllocator(id int) error {
	r.Lock()
	d, ok := r.devices[id]
	delete(r.devices, id)
	r.Unlock()

	if !ok {
		return fmt.Errorf("%w: device allocator #%d", memory.ErrNotFound, id)
	}
	return d.owner.Deallocate(d.Base())
}
