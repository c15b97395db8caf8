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

package memory

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Strategy is the contract of everything which allocates memory.
type Strategy interface {
	// Name returns the unique name of the Strategy.
	Name() string
	// ID returns the numeric id of the Strategy.
	ID() int
	// Allocate allocates size bytes and returns the address of the allocation.
	Allocate(size uint64) (uintptr, error)
	// Deallocate releases an allocation made by this Strategy.
	Deallocate(ptr uintptr) error
	// Release returns any unused memory held by the Strategy to its parent.
	Release() error
	// Traits returns the traits of the backing resource.
	Traits() Traits
}

// Resource is a leaf Strategy which provides memory of its own.
type Resource interface {
	Strategy
	// Platform returns the platform the Resource allocates memory on.
	Platform() Platform
	// Close releases all memory of the Resource.
	Close() error
}

// Parented is implemented by Strategies built on top of another Strategy.
type Parented interface {
	Parent() Strategy
}

// Wrapper is implemented by decorators which add behavior around a
// Strategy without managing memory themselves.
type Wrapper interface {
	Unwrap() Strategy
}

// Closer is implemented by Strategies which hold memory obtained from
// their parent until closed.
type Closer interface {
	Close() error
}

// Coalescer is implemented by Strategies which can defragment their memory.
type Coalescer interface {
	Coalesce() error
}

// Introspector is implemented by Strategies which record allocations.
type Introspector interface {
	Stats() Stats
	Records() []AllocationRecord
}

// Advisable is implemented by resources which accept placement hints.
// Device is the id of the device the advice targets, or -1 for the
// resource's own device.
type Advisable interface {
	Advise(ptr uintptr, size uint64, advice Advice, device int) error
}

// Stats are the usage statistics of a Strategy.
type Stats struct {
	// CurrentSize is the number of bytes currently allocated by clients.
	CurrentSize uint64 `json:"currentSize"`
	// HighWatermark is the largest CurrentSize seen so far.
	HighWatermark uint64 `json:"highWatermark"`
	// ActualSize is the number of bytes obtained from the parent.
	ActualSize uint64 `json:"actualSize"`
	// AllocationCount is the number of live allocations.
	AllocationCount uint64 `json:"allocationCount"`
}

func (s Stats) String() string {
	return fmt.Sprintf("current %s, high watermark %s, actual %s, %d allocations",
		PrettySize(s.CurrentSize), PrettySize(s.HighWatermark),
		PrettySize(s.ActualSize), s.AllocationCount)
}

// AllocationRecord describes a single live allocation.
type AllocationRecord struct {
	Ptr         uintptr `json:"ptr"`
	Size        uint64  `json:"size"`
	AllocatorID int     `json:"allocatorID"`
}

func (r AllocationRecord) String() string {
	return fmt.Sprintf("%#x+%d (allocator #%d)", r.Ptr, r.Size, r.AllocatorID)
}

// Base returns the Strategy s is built on, or nil for resources.
func Base(s Strategy) Strategy {
	switch b := s.(type) {
	case Wrapper:
		return b.Unwrap()
	case Parented:
		return b.Parent()
	}
	return nil
}

// ResourceOf walks the parents of s until it finds the backing Resource.
func ResourceOf(s Strategy) (Resource, bool) {
	for s != nil {
		if r, ok := s.(Resource); ok {
			return r, true
		}
		s = Base(s)
	}
	return nil, false
}

// AlignUp rounds size up to a multiple of align, which must be a power of two.
func AlignUp(size, align uint64) uint64 {
	if align <= 1 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}

// CheckedAlignUp is AlignUp which reports false instead of wrapping
// around for sizes too close to the top of the address space.
func CheckedAlignUp(size, align uint64) (uint64, bool) {
	if align > 1 && size > math.MaxUint64-(align-1) {
		return 0, false
	}
	return AlignUp(size, align), true
}

// IsPowerOfTwo returns true if v is a power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// PrettySize returns the given size as a human-readable string.
func PrettySize(size uint64) string {
	if size >= 1024 {
		units := []string{"k", "M", "G", "T"}

		for i, d := 0, uint64(1024); i < len(units); i, d = i+1, d<<10 {
			if val := size / d; 1 <= val && val < 1024 {
				if fval := float64(size) / float64(d); math.Floor(fval) != fval {
					return strings.TrimRight(fmt.Sprintf("%.3f", fval), "0") + units[i]
				}
				return fmt.Sprintf("%d%s", val, units[i])
			}
		}
	}

	return strconv.FormatUint(size, 10)
}

// ParseSize parses a size with an optional k, M, G or T suffix. The
// suffix may be followed by i or iB, as in 64Ki or 1GiB.
func ParseSize(str string) (uint64, error) {
	str = strings.TrimSpace(str)
	if trimmed, ok := strings.CutSuffix(str, "iB"); ok {
		str = trimmed
	} else if trimmed, ok := strings.CutSuffix(str, "i"); ok {
		str = trimmed
	}
	mult := uint64(1)
	if n := len(str); n > 0 {
		switch str[n-1] {
		case 'k', 'K':
			mult = 1 << 10
		case 'm', 'M':
			mult = 1 << 20
		case 'g', 'G':
			mult = 1 << 30
		case 't', 'T':
			mult = 1 << 40
		}
		if mult != 1 {
			str = str[:n-1]
		}
	}
	v, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid size %q", ErrInvalidArgument, str)
	}
	if v > math.MaxUint64/mult {
		return 0, fmt.Errorf("%w: size %q overflows", ErrInvalidArgument, str)
	}
	return v * mult, nil
}
