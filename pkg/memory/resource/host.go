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
	"unsafe"

	"github.com/smasher164/mem"
	"golang.org/x/sys/unix"

	"github.com/containers/memstrat/pkg/mempolicy"
	"github.com/containers/memstrat/pkg/memory"
)

// Host is a resource allocating from the host heap. It also serves
// pinned and unified memory, which are host memory with extra hints.
type Host struct {
	sync.Mutex
	name   string
	id     int
	traits memory.Traits
	blocks map[uintptr]unsafe.Pointer
	track  tracker
	closed bool
	// pinned counts the live pinned blocks touching each page
	pinned map[uintptr]int
}

type hostFactory struct {
	name   string
	traits memory.Traits
}

var _ memory.Resource = &Host{}
var _ memory.Advisable = &Host{}

// NewHostFactory returns a Factory for the HOST resource.
func NewHostFactory() Factory {
	return &hostFactory{
		name: HostName,
		traits: memory.Traits{
			Platform: memory.PlatformHost,
			Access:   memory.AccessReadWrite,
			Resident: true,
		},
	}
}

// NewPinnedFactory returns a Factory for the PINNED resource.
func NewPinnedFactory() Factory {
	return &hostFactory{
		name: PinnedName,
		traits: memory.Traits{
			Platform: memory.PlatformPinned,
			Access:   memory.AccessReadWrite,
			Resident: true,
		},
	}
}

// NewUnifiedFactory returns a Factory for the UM resource.
func NewUnifiedFactory() Factory {
	return &hostFactory{
		name: UnifiedName,
		traits: memory.Traits{
			Platform: memory.PlatformUnified,
			Access:   memory.AccessReadWrite,
			Unified:  true,
		},
	}
}

func (f *hostFactory) IsValidFor(name string) bool {
	return name == f.name
}

func (f *hostFactory) Create(name string, id int) (memory.Resource, error) {
	return f.CreateWithTraits(name, id, f.traits)
}

func (f *hostFactory) CreateWithTraits(name string, id int, traits memory.Traits) (memory.Resource, error) {
	if !f.IsValidFor(name) {
		return nil, fmt.Errorf("%w: %s factory cannot create %q", memory.ErrWrongKind, f.name, name)
	}
	return NewHost(name, id, traits), nil
}

func (f *hostFactory) DefaultTraits() memory.Traits {
	return f.traits
}

// NewHost creates a host heap resource with the given traits.
func NewHost(name string, id int, traits memory.Traits) *Host {
	return &Host{
		name:   name,
		id:     id,
		traits: traits,
		blocks: make(map[uintptr]unsafe.Pointer),
		track:  newTracker(),
		pinned: make(map[uintptr]int),
	}
}

func (h *Host) Name() string {
	return h.name
}

func (h *Host) ID() int {
	return h.id
}

func (h *Host) Traits() memory.Traits {
	return h.traits
}

func (h *Host) Platform() memory.Platform {
	return h.traits.Platform
}

func (h *Host) Allocate(size uint64) (uintptr, error) {
	if err := checkSize(h.name, h.traits, size); err != nil {
		return 0, err
	}

	h.Lock()
	defer h.Unlock()

	if h.closed {
		return 0, fmt.Errorf("%w: %s", memory.ErrClosed, h.name)
	}

	actual := max(size, 1)
	p := mem.Alloc(uint(actual))
	if p == nil {
		return 0, fmt.Errorf("%w: %s: failed to allocate %s", memory.ErrOutOfMemory,
			h.name, memory.PrettySize(size))
	}

	ptr := uintptr(p)
	h.blocks[ptr] = p
	h.track.add(ptr, size, actual)

	if h.traits.Platform == memory.PlatformPinned {
		h.pin(ptr, actual)
	}

	log.Debug("%s: allocated %s at %#x", h.name, memory.PrettySize(size), ptr)

	return ptr, nil
}

func (h *Host) Deallocate(ptr uintptr) error {
	h.Lock()
	defer h.Unlock()

	p, ok := h.blocks[ptr]
	if !ok {
		return fmt.Errorf("%w: %s: %#x", memory.ErrInvalidPointer, h.name, ptr)
	}

	size := h.track.live[ptr]
	if h.traits.Platform == memory.PlatformPinned {
		h.unpin(ptr, max(size, 1))
	}
	delete(h.blocks, ptr)
	h.track.del(ptr, max(size, 1))
	mem.Free(p)

	log.Debug("%s: deallocated %#x", h.name, ptr)

	return nil
}

// Release is a no-op, the host heap holds no cached memory.
func (h *Host) Release() error {
	return nil
}

// Close frees all outstanding allocations.
func (h *Host) Close() error {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if n := len(h.blocks); n > 0 {
		log.Warn("%s: closing with %d outstanding allocations", h.name, n)
	}
	for ptr, p := range h.blocks {
		if h.traits.Platform == memory.PlatformPinned {
			h.unpin(ptr, max(h.track.live[ptr], 1))
		}
		delete(h.blocks, ptr)
		mem.Free(p)
	}
	h.track = newTracker()

	return nil
}

// Advise applies a usage hint to a range of host memory.
func (h *Host) Advise(ptr uintptr, size uint64, advice memory.Advice, device int) error {
	h.Lock()
	closed := h.closed
	h.Unlock()

	if closed {
		return fmt.Errorf("%w: %s", memory.ErrClosed, h.name)
	}

	switch advice {
	case memory.AdviceNone:
		return nil
	case memory.AdviceReadMostly, memory.AdviceAccessedBy:
		return mempolicy.Madvise(ptr, size, unix.MADV_WILLNEED)
	case memory.AdvicePreferredLocation:
		if device < 0 {
			return nil
		}
		start, length := mempolicy.PageRange(ptr, size)
		return mempolicy.Mbind(start, length, mempolicy.MPOL_PREFERRED, []int{device}, 0)
	case memory.AdviceUnsetPreferredLocation:
		start, length := mempolicy.PageRange(ptr, size)
		return mempolicy.Mbind(start, length, mempolicy.MPOL_DEFAULT, nil, 0)
	case memory.AdviceUnsetReadMostly, memory.AdviceUnsetAccessedBy:
		return mempolicy.Madvise(ptr, size, unix.MADV_NORMAL)
	}

	return fmt.Errorf("%w: %s: unsupported advice %s", memory.ErrUnsupportedOperation, h.name, advice)
}

// Stats returns the usage statistics of the resource.
func (h *Host) Stats() memory.Stats {
	h.Lock()
	defer h.Unlock()
	return h.track.stats()
}

// Records returns the live allocations of the resource.
func (h *Host) Records() []memory.AllocationRecord {
	h.Lock()
	defer h.Unlock()
	return h.track.records(h.id)
}

func (h *Host) pin(ptr uintptr, size uint64) {
	start, length := mempolicy.PageRange(ptr, size)
	page := uintptr(unix.Getpagesize())
	for addr := start; addr < start+uintptr(length); addr += page {
		h.pinned[addr]++
	}
	if _, _, errno := unix.Syscall(unix.SYS_MLOCK, start, uintptr(length), 0); errno != 0 {
		log.Debug("%s: failed to pin %#x+%d: %v", h.name, ptr, size, errno)
	}
}

// unpin unlocks the pages of a block no other pinned block still uses.
// Locks don't nest, so shared pages stay locked until their last user
// is freed.
func (h *Host) unpin(ptr uintptr, size uint64) {
	start, length := mempolicy.PageRange(ptr, size)
	page := uintptr(unix.Getpagesize())

	var runStart, runEnd uintptr
	flush := func() {
		if runEnd > runStart {
			if _, _, errno := unix.Syscall(unix.SYS_MUNLOCK, runStart, runEnd-runStart, 0); errno != 0 {
				log.Debug("%s: failed to unpin %#x+%d: %v", h.name, runStart, runEnd-runStart, errno)
			}
		}
		runStart, runEnd = 0, 0
	}

	for addr := start; addr < start+uintptr(length); addr += page {
		cnt, ok := h.pinned[addr]
		if !ok {
			flush()
			continue
		}
		if cnt > 1 {
			h.pinned[addr] = cnt - 1
			flush()
			continue
		}
		delete(h.pinned, addr)
		if runEnd != addr {
			flush()
			runStart = addr
		}
		runEnd = addr + page
	}
	flush()
}

// PinnedPages returns the number of pages locked for live pinned blocks.
func (h *Host) PinnedPages() int {
	h.Lock()
	defer h.Unlock()
	return len(h.pinned)
}
