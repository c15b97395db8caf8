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

// Package resource implements the leaf memory resources allocation
// strategies are built on, and the factories used to create them by
// name.
package resource

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	logger "github.com/containers/memstrat/pkg/log"
	"github.com/containers/memstrat/pkg/memory"
)

// Factory creates memory resources for the names it claims.
type Factory interface {
	// IsValidFor returns true if the Factory can create the named resource.
	IsValidFor(name string) bool
	// Create creates the named resource with the default traits.
	Create(name string, id int) (memory.Resource, error)
	// CreateWithTraits creates the named resource with the given traits.
	CreateWithTraits(name string, id int, traits memory.Traits) (memory.Resource, error)
	// DefaultTraits returns the default traits of resources the Factory creates.
	DefaultTraits() memory.Traits
}

const (
	// HostName is the name of the host heap resource.
	HostName = "HOST"
	// PinnedName is the name of the pinned host memory resource.
	PinnedName = "PINNED"
	// UnifiedName is the name of the unified memory resource.
	UnifiedName = "UM"
	// DeviceName is the name of the default device resource.
	DeviceName = "DEVICE"
	// FileName is the name of the memory mapped file resource.
	FileName = "FILE"

	// deviceSep separates the device number in device resource names.
	deviceSep = "::"
)

var log = logger.Get("resource")

// Builtin returns the factories for all built-in resources.
func Builtin() []Factory {
	return []Factory{
		NewHostFactory(),
		NewPinnedFactory(),
		NewUnifiedFactory(),
		NewDeviceFactory(),
		NewFileFactory(),
	}
}

// Lookup returns the first Factory which claims the named resource.
func Lookup(factories []Factory, name string) (Factory, error) {
	for _, f := range factories {
		if f.IsValidFor(name) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: no factory for resource %q", memory.ErrWrongKind, name)
}

// DeviceNumber returns the device number for a DEVICE or DEVICE::n name.
func DeviceNumber(name string) (int, bool) {
	if name == DeviceName {
		return 0, true
	}
	suffix, ok := strings.CutPrefix(name, DeviceName+deviceSep)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// tracker accounts for the live allocations of a resource.
type tracker struct {
	live    map[uintptr]uint64
	current uint64
	high    uint64
	actual  uint64
}

func newTracker() tracker {
	return tracker{live: make(map[uintptr]uint64)}
}

func (t *tracker) add(ptr uintptr, size, actual uint64) {
	t.live[ptr] = size
	t.current += size
	t.actual += actual
	if t.current > t.high {
		t.high = t.current
	}
}

func (t *tracker) del(ptr uintptr, actual uint64) (uint64, bool) {
	size, ok := t.live[ptr]
	if !ok {
		return 0, false
	}
	delete(t.live, ptr)
	t.current -= size
	t.actual -= actual
	return size, true
}

func (t *tracker) stats() memory.Stats {
	return memory.Stats{
		CurrentSize:     t.current,
		HighWatermark:   t.high,
		ActualSize:      t.actual,
		AllocationCount: uint64(len(t.live)),
	}
}

func (t *tracker) records(id int) []memory.AllocationRecord {
	records := make([]memory.AllocationRecord, 0, len(t.live))
	for ptr, size := range t.live {
		records = append(records, memory.AllocationRecord{Ptr: ptr, Size: size, AllocatorID: id})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Ptr < records[j].Ptr
	})
	return records
}

// checkSize checks a request against the traits of a resource.
func checkSize(name string, traits memory.Traits, size uint64) error {
	if traits.Size != 0 && size > traits.Size {
		return fmt.Errorf("%w: %s: request of %s exceeds limit %s", memory.ErrOutOfMemory,
			name, memory.PrettySize(size), memory.PrettySize(traits.Size))
	}
	return nil
}
