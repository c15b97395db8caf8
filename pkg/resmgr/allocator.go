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

	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/strategy"
)

// Allocator is a handle to an allocator or resource registered with a
// ResourceManager. Handles are cheap to copy and do not own the allocator.
// They stay usable until the ResourceManager is closed.
type Allocator struct {
	s memory.Strategy
}

// IsValid returns true if the handle refers to an allocator.
func (a Allocator) IsValid() bool {
	return a.s != nil
}

// Name returns the unique name of the allocator.
func (a Allocator) Name() string {
	if a.s == nil {
		return "<invalid>"
	}
	return a.s.Name()
}

// ID returns the unique id of the allocator.
func (a Allocator) ID() int {
	if a.s == nil {
		return -1
	}
	return a.s.ID()
}

// Allocate allocates size bytes.
func (a Allocator) Allocate(size uint64) (uintptr, error) {
	if a.s == nil {
		return 0, invalidHandle()
	}
	return a.s.Allocate(size)
}

// Deallocate frees an allocation made by this allocator.
func (a Allocator) Deallocate(ptr uintptr) error {
	if a.s == nil {
		return invalidHandle()
	}
	return a.s.Deallocate(ptr)
}

// Release returns unused memory held by the allocator to its base.
func (a Allocator) Release() error {
	if a.s == nil {
		return invalidHandle()
	}
	return a.s.Release()
}

// Coalesce coalesces the allocator, or the pool it wraps. It fails with
// memory.ErrUnsupportedOperation if the allocator can't be coalesced.
func (a Allocator) Coalesce() error {
	if a.s == nil {
		return invalidHandle()
	}
	return strategy.Coalesce(a.s)
}

// Traits returns the traits of the backing resource.
func (a Allocator) Traits() memory.Traits {
	if a.s == nil {
		return memory.Traits{}
	}
	return a.s.Traits()
}

// Platform returns the platform of the backing resource.
func (a Allocator) Platform() memory.Platform {
	return a.Traits().Platform
}

// Stats returns the usage statistics of an introspected allocator or a
// resource.
func (a Allocator) Stats() (memory.Stats, error) {
	if i, ok := a.s.(memory.Introspector); ok {
		return i.Stats(), nil
	}
	return memory.Stats{}, fmt.Errorf("%w: %s is not introspected", memory.ErrUnsupportedOperation, a.Name())
}

// Records returns the live allocations of an introspected allocator or a
// resource.
func (a Allocator) Records() ([]memory.AllocationRecord, error) {
	if i, ok := a.s.(memory.Introspector); ok {
		return i.Records(), nil
	}
	return nil, fmt.Errorf("%w: %s is not introspected", memory.ErrUnsupportedOperation, a.Name())
}

// Strategy returns the allocation strategy behind the handle.
func (a Allocator) Strategy() memory.Strategy {
	return a.s
}

func (a Allocator) String() string {
	return fmt.Sprintf("%s (#%d)", a.Name(), a.ID())
}

func invalidHandle() error {
	return fmt.Errorf("%w: invalid allocator handle", memory.ErrInvalidArgument)
}
