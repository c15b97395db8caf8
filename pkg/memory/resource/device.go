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

package resource

import (
	"fmt"
	"sync"

	"github.com/containers/memstrat/pkg/memory"
)

const (
	// DefaultDeviceCapacity is the default capacity of a device resource.
	DefaultDeviceCapacity = 16 << 30
	// deviceAlignment is the alignment of device allocations.
	deviceAlignment = 256
	// deviceBase is the start of the first device address range.
	deviceBase = uint64(1) << 44
	// deviceSpan is the size of the address range of a single device.
	deviceSpan = uint64(1) << 40
)

// Device is a resource modelling the memory of an accelerator device.
// Its addresses are unique within a per-device address range but are
// not accessible to the host.
type Device struct {
	sync.Mutex
	name     string
	id       int
	traits   memory.Traits
	capacity uint64
	start    uint64
	cursor   uint64
	free     map[uint64][]uint64
	advice   map[uintptr]memory.Advice
	track    tracker
	closed   bool
}

type deviceFactory struct {
	capacity uint64
}

var _ memory.Resource = &Device{}
var _ memory.Advisable = &Device{}

// DeviceOption is an opaque option for a device Factory.
type DeviceOption func(*deviceFactory)

// WithDeviceCapacity sets the capacity of devices created by the Factory.
func WithDeviceCapacity(capacity uint64) DeviceOption {
	return func(f *deviceFactory) {
		f.capacity = capacity
	}
}

// NewDeviceFactory returns a Factory for DEVICE and DEVICE::<n> resources.
func NewDeviceFactory(options ...DeviceOption) Factory {
	f := &deviceFactory{
		capacity: DefaultDeviceCapacity,
	}
	for _, o := range options {
		o(f)
	}
	return f
}

func (f *deviceFactory) IsValidFor(name string) bool {
	_, ok := DeviceNumber(name)
	return ok
}

func (f *deviceFactory) Create(name string, id int) (memory.Resource, error) {
	n, ok := DeviceNumber(name)
	if !ok {
		return nil, fmt.Errorf("%w: device factory cannot create %q", memory.ErrWrongKind, name)
	}
	traits := f.DefaultTraits()
	traits.ID = n
	return f.CreateWithTraits(name, id, traits)
}

func (f *deviceFactory) CreateWithTraits(name string, id int, traits memory.Traits) (memory.Resource, error) {
	if !f.IsValidFor(name) {
		return nil, fmt.Errorf("%w: device factory cannot create %q", memory.ErrWrongKind, name)
	}
	return NewDevice(name, id, traits, f.capacity), nil
}

func (f *deviceFactory) DefaultTraits() memory.Traits {
	return memory.Traits{
		Platform: memory.PlatformDevice,
		Access:   memory.AccessReadWrite,
		Resident: true,
	}
}

// NewDevice creates a device resource with the given capacity.
func NewDevice(name string, id int, traits memory.Traits, capacity uint64) *Device {
	start := deviceBase + uint64(traits.ID%16)*deviceSpan
	return &Device{
		name:     name,
		id:       id,
		traits:   traits,
		capacity: capacity,
		start:    start,
		cursor:   start,
		free:     make(map[uint64][]uint64),
		advice:   make(map[uintptr]memory.Advice),
		track:    newTracker(),
	}
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) ID() int {
	return d.id
}

func (d *Device) Traits() memory.Traits {
	return d.traits
}

func (d *Device) Platform() memory.Platform {
	return d.traits.Platform
}

// Capacity returns the capacity of the device.
func (d *Device) Capacity() uint64 {
	return d.capacity
}

func (d *Device) Allocate(size uint64) (uintptr, error) {
	if err := checkSize(d.name, d.traits, size); err != nil {
		return 0, err
	}

	d.Lock()
	defer d.Unlock()

	if d.closed {
		return 0, fmt.Errorf("%w: %s", memory.ErrClosed, d.name)
	}

	actual, ok := memory.CheckedAlignUp(max(size, 1), deviceAlignment)
	if !ok || actual > d.capacity || d.track.actual+actual > d.capacity {
		return 0, fmt.Errorf("%w: %s: %s requested, %s of %s available", memory.ErrOutOfMemory,
			d.name, memory.PrettySize(size), memory.PrettySize(d.capacity-d.track.actual),
			memory.PrettySize(d.capacity))
	}

	var addr uint64
	if cached := d.free[actual]; len(cached) > 0 {
		addr = cached[len(cached)-1]
		d.free[actual] = cached[:len(cached)-1]
	} else {
		if d.cursor+actual > d.start+deviceSpan {
			return 0, fmt.Errorf("%w: %s: address space exhausted", memory.ErrOutOfMemory, d.name)
		}
		addr = d.cursor
		d.cursor += actual
	}

	ptr := uintptr(addr)
	d.track.add(ptr, size, actual)

	log.Debug("%s: allocated %s at %#x", d.name, memory.PrettySize(size), ptr)

	return ptr, nil
}

func (d *Device) Deallocate(ptr uintptr) error {
	d.Lock()
	defer d.Unlock()

	size, ok := d.track.live[ptr]
	if !ok {
		return fmt.Errorf("%w: %s: %#x", memory.ErrInvalidPointer, d.name, ptr)
	}

	actual := memory.AlignUp(max(size, 1), deviceAlignment)
	d.track.del(ptr, actual)
	d.free[actual] = append(d.free[actual], uint64(ptr))
	delete(d.advice, ptr)

	log.Debug("%s: deallocated %#x", d.name, ptr)

	return nil
}

// Release drops cached address ranges.
func (d *Device) Release() error {
	d.Lock()
	defer d.Unlock()

	if len(d.track.live) == 0 {
		d.cursor = d.start
		d.advice = make(map[uintptr]memory.Advice)
	}
	d.free = make(map[uint64][]uint64)
	return nil
}

func (d *Device) Close() error {
	d.Lock()
	defer d.Unlock()

	if n := len(d.track.live); n > 0 && !d.closed {
		log.Warn("%s: closing with %d outstanding allocations", d.name, n)
	}
	d.closed = true
	d.track = newTracker()
	d.advice = make(map[uintptr]memory.Advice)
	return nil
}

// Advise records a usage hint for an address of the device.
func (d *Device) Advise(ptr uintptr, size uint64, advice memory.Advice, device int) error {
	d.Lock()
	defer d.Unlock()

	if uint64(ptr) < d.start || uint64(ptr) >= d.cursor {
		return fmt.Errorf("%w: %s: advise %#x", memory.ErrInvalidPointer, d.name, ptr)
	}

	log.Debug("%s: advise %#x+%d %s (device %d)", d.name, ptr, size, advice, device)
	d.advice[ptr] = advice

	return nil
}

// AdviceFor returns the last advice applied to an allocation.
func (d *Device) AdviceFor(ptr uintptr) (memory.Advice, bool) {
	d.Lock()
	defer d.Unlock()
	a, ok := d.advice[ptr]
	return a, ok
}

// Stats returns the usage statistics of the resource.
func (d *Device) Stats() memory.Stats {
	d.Lock()
	defer d.Unlock()
	return d.track.stats()
}

// Records returns the live allocations of the resource.
func (d *Device) Records() []memory.AllocationRecord {
	d.Lock()
	defer d.Unlock()
	return d.track.records(d.id)
}
