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

package strategy_test

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/resource"
	. "github.com/containers/memstrat/pkg/memory/strategy"
)

func newDevice(t *testing.T) *resource.Device {
	t.Helper()
	d := resource.NewDevice("DEVICE", 0, memory.Traits{Platform: memory.PlatformDevice}, resource.DefaultDeviceCapacity)
	t.Cleanup(func() { d.Close() })
	return d
}

type extent struct {
	ptr  uintptr
	size uint64
}

// requireNoOverlap checks that no two live extents overlap.
func requireNoOverlap(t *testing.T, live map[uintptr]uint64) {
	t.Helper()

	extents := make([]extent, 0, len(live))
	for ptr, size := range live {
		extents = append(extents, extent{ptr, max(size, 1)})
	}
	sort.Slice(extents, func(i, j int) bool { return extents[i].ptr < extents[j].ptr })

	for i := 1; i < len(extents); i++ {
		prev, cur := extents[i-1], extents[i]
		require.LessOrEqual(t, uint64(prev.ptr)+prev.size, uint64(cur.ptr),
			"extent %#x+%d overlaps %#x+%d", prev.ptr, prev.size, cur.ptr, cur.size)
	}
}

// exercise runs a random allocate/deallocate sequence against s.
func exercise(t *testing.T, s memory.Strategy, maxSize uint64, steps int) {
	t.Helper()

	var (
		rnd  = rand.New(rand.NewSource(1))
		live = map[uintptr]uint64{}
		ptrs []uintptr
	)

	for i := 0; i < steps; i++ {
		if len(ptrs) > 0 && rnd.Intn(3) == 0 {
			idx := rnd.Intn(len(ptrs))
			ptr := ptrs[idx]
			ptrs = append(ptrs[:idx], ptrs[idx+1:]...)
			require.Nil(t, s.Deallocate(ptr), "unexpected Deallocate(%#x) error", ptr)
			delete(live, ptr)
			continue
		}

		size := uint64(rnd.Int63n(int64(maxSize))) + 1
		ptr, err := s.Allocate(size)
		if errors.Is(err, memory.ErrOutOfMemory) {
			continue
		}
		require.Nil(t, err, "unexpected Allocate(%d) error", size)
		_, dup := live[ptr]
		require.False(t, dup, "address %#x handed out twice", ptr)
		live[ptr] = size
		ptrs = append(ptrs, ptr)

		requireNoOverlap(t, live)
	}
}

func TestNoOverlap(t *testing.T) {
	tcs := []struct {
		name    string
		maxSize uint64
		create  func(base memory.Strategy) (memory.Strategy, error)
	}{
		{
			name:    "fixed pool",
			maxSize: 64,
			create: func(base memory.Strategy) (memory.Strategy, error) {
				return FixedPoolConfig{ObjectBytes: 64, ObjectsPerPool: 8}.New("fixed", 1, base)
			},
		},
		{
			name:    "dynamic pool",
			maxSize: 5000,
			create: func(base memory.Strategy) (memory.Strategy, error) {
				return DynamicPoolConfig{InitialSize: 16 << 10, MinSize: 4 << 10}.New("dynamic", 1, base)
			},
		},
		{
			name:    "mixed pool",
			maxSize: 20000,
			create: func(base memory.Strategy) (memory.Strategy, error) {
				return MixedPoolConfig{
					SmallestFixedBlockSize:  64,
					LargestFixedBlockSize:   4096,
					MaxFixedBlockSize:       4096,
					SizeMultiplier:          4,
					DynamicInitialAllocSize: 64 << 10,
				}.New("mixed", 1, base)
			},
		},
		{
			name:    "slot pool",
			maxSize: 1000,
			create: func(base memory.Strategy) (memory.Strategy, error) {
				return SlotPoolConfig{Slots: 16}.New("slot", 1, base)
			},
		},
		{
			name:    "monotonic",
			maxSize: 100,
			create: func(base memory.Strategy) (memory.Strategy, error) {
				return MonotonicConfig{Capacity: 8 << 10}.New("monotonic", 1, base)
			},
		},
		{
			name:    "size limited thread-safe dynamic pool",
			maxSize: 3000,
			create: func(base memory.Strategy) (memory.Strategy, error) {
				pool, err := DynamicPoolConfig{InitialSize: 8 << 10}.New("dynamic", 1, base)
				if err != nil {
					return nil, err
				}
				return SizeLimiterConfig{Limit: 2048}.New("limited", 2, NewThreadSafe("ts", 3, pool))
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			s, err := tc.create(newDevice(t))
			require.Nil(t, err)
			exercise(t, s, tc.maxSize, 500)
		})
	}
}

func TestFixedPool(t *testing.T) {
	dev := newDevice(t)

	p, err := NewFixedPool("fixed", 1, dev, 32, 4)
	require.Nil(t, err)

	_, err = p.Allocate(33)
	require.True(t, errors.Is(err, memory.ErrInvalidSize))

	var ptrs []uintptr
	for i := 0; i < 5; i++ {
		ptr, err := p.Allocate(32)
		require.Nil(t, err)
		ptrs = append(ptrs, ptr)
	}
	require.Equal(t, ptrs[0]+32, ptrs[1], "objects are handed out in address order")
	require.Equal(t, uint64(2*4*32), p.ActualSize())
	require.Equal(t, 5, p.InUse())

	require.True(t, errors.Is(p.Deallocate(ptrs[0]+1), memory.ErrInvalidPointer))

	require.Nil(t, p.Deallocate(ptrs[4]))
	require.Nil(t, p.Release())
	require.Equal(t, uint64(4*32), p.ActualSize(), "the free second slab is released")

	ptr, err := p.Allocate(1)
	require.Nil(t, err)
	require.Equal(t, uint64(2*4*32), p.ActualSize())
	require.Nil(t, p.Deallocate(ptr))

	require.Nil(t, p.Close())
	require.Equal(t, uint64(0), dev.Stats().CurrentSize)
}

func TestDynamicPoolSplitAndBestFit(t *testing.T) {
	dev := newDevice(t)

	p, err := NewDynamicPool("dynamic", 1, dev, DynamicPoolConfig{
		InitialSize: 4096,
		MinSize:     1024,
		Heuristic:   PercentReleasable(0),
	})
	require.Nil(t, err)
	require.Equal(t, uint64(4096), p.ActualSize())

	a, err := p.Allocate(1024)
	require.Nil(t, err)
	_, err = p.Allocate(16)
	require.Nil(t, err)
	c, err := p.Allocate(500)
	require.Nil(t, err)
	_, err = p.Allocate(16)
	require.Nil(t, err)

	require.Equal(t, 5, p.BlockCount())
	require.Equal(t, 1, p.FreeBlockCount())

	require.Nil(t, p.Deallocate(a))
	require.Nil(t, p.Deallocate(c))

	ptr, err := p.Allocate(500)
	require.Nil(t, err)
	require.Equal(t, c, ptr, "best fit picks the smallest sufficient block")

	require.True(t, errors.Is(p.Deallocate(ptr+16), memory.ErrInvalidPointer))
}

func TestDynamicPoolAlignment(t *testing.T) {
	dev := newDevice(t)

	_, err := NewDynamicPool("bad", 1, dev, DynamicPoolConfig{InitialSize: 4096, Alignment: 48})
	require.True(t, errors.Is(err, memory.ErrInvalidArgument))

	p, err := NewDynamicPool("aligned", 1, dev, DynamicPoolConfig{InitialSize: 1 << 20, Alignment: 64})
	require.Nil(t, err)

	for _, size := range []uint64{1, 7, 63, 64, 65, 1000} {
		ptr, err := p.Allocate(size)
		require.Nil(t, err)
		require.Zero(t, ptr%64, "allocation of %d bytes at %#x is not aligned", size, ptr)
	}
}

func TestHugeRequests(t *testing.T) {
	dev := newDevice(t)

	p, err := NewDynamicPool("dynamic", 1, dev, DynamicPoolConfig{InitialSize: 4096})
	require.Nil(t, err)

	for _, size := range []uint64{math.MaxUint64, math.MaxUint64 - 1, math.MaxUint64 - 15} {
		_, err := p.Allocate(size)
		require.True(t, errors.Is(err, memory.ErrInvalidSize), "Allocate(%d): %v", size, err)
	}
	_, err = p.Allocate(math.MaxUint64 - 1<<20)
	require.True(t, errors.Is(err, memory.ErrOutOfMemory), "parent can't serve the request")

	small, err := p.Allocate(64)
	require.Nil(t, err)
	other, err := p.Allocate(64)
	require.Nil(t, err)
	require.NotEqual(t, small, other)
	require.Equal(t, uint64(128), p.CurrentSize())
	require.Nil(t, p.Deallocate(small))
	require.Nil(t, p.Deallocate(other))

	m, err := NewMixedPool("mixed", 2, dev, MixedPoolConfig{DynamicInitialAllocSize: 4096})
	require.Nil(t, err)
	_, err = m.Allocate(math.MaxUint64)
	require.True(t, errors.Is(err, memory.ErrInvalidSize))
	require.Nil(t, m.Close())

	_, err = NewFixedPool("fixed", 3, dev, math.MaxUint64/2, 4)
	require.True(t, errors.Is(err, memory.ErrInvalidArgument))

	_, err = dev.Allocate(math.MaxUint64)
	require.True(t, errors.Is(err, memory.ErrOutOfMemory))
}

func TestDynamicPoolCoalesce(t *testing.T) {
	dev := newDevice(t)

	p, err := NewDynamicPool("dynamic", 1, dev, DynamicPoolConfig{
		InitialSize: 1024,
		MinSize:     1024,
		Heuristic:   PercentReleasable(0),
	})
	require.Nil(t, err)

	a, err := p.Allocate(1000)
	require.Nil(t, err)
	b, err := p.Allocate(1000)
	require.Nil(t, err)
	require.Equal(t, 2, p.SlabCount())

	require.Nil(t, p.Deallocate(a))
	require.Nil(t, p.Deallocate(b))
	require.Equal(t, 4, p.FreeBlockCount())

	require.Nil(t, p.Coalesce())
	require.Equal(t, 1, p.SlabCount())
	require.Equal(t, 1, p.FreeBlockCount())
	require.Equal(t, uint64(2048), p.ActualSize())
	require.Equal(t, uint64(2048), p.FreeBytes())

	ptr, err := p.Allocate(2000)
	require.Nil(t, err, "coalesced slab serves a request larger than any original slab")
	require.Equal(t, 1, p.SlabCount())
	require.Nil(t, p.Deallocate(ptr))
}

func TestDynamicPoolCoalesceIsIdempotent(t *testing.T) {
	dev := newDevice(t)

	p, err := NewDynamicPool("dynamic", 1, dev, DynamicPoolConfig{
		InitialSize: 4096,
		MinSize:     2048,
		Heuristic:   PercentReleasable(0),
	})
	require.Nil(t, err)

	rnd := rand.New(rand.NewSource(7))
	var ptrs []uintptr
	for i := 0; i < 64; i++ {
		ptr, err := p.Allocate(uint64(rnd.Intn(700) + 1))
		require.Nil(t, err)
		ptrs = append(ptrs, ptr)
	}
	for i, ptr := range ptrs {
		if i%3 != 0 {
			require.Nil(t, p.Deallocate(ptr))
		}
	}

	require.Nil(t, p.Coalesce())
	free, blocks, slabs := p.FreeBytes(), p.BlockCount(), p.SlabCount()

	require.Nil(t, p.Coalesce())
	require.Equal(t, free, p.FreeBytes())
	require.Equal(t, blocks, p.BlockCount())
	require.Equal(t, slabs, p.SlabCount())
}

func TestDynamicPoolHeuristics(t *testing.T) {
	tcs := []struct {
		name      string
		heuristic Heuristic
		slabs     int
	}{
		{"percent releasable 100", PercentReleasable(100), 1},
		{"percent releasable disabled", PercentReleasable(0), 3},
		{"blocks releasable 2", BlocksReleasable(2), 1},
		{"blocks releasable 4", BlocksReleasable(4), 3},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewDynamicPool("dynamic", 1, newDevice(t), DynamicPoolConfig{
				InitialSize: 1024,
				MinSize:     1024,
				Heuristic:   tc.heuristic,
			})
			require.Nil(t, err)

			var ptrs []uintptr
			for i := 0; i < 3; i++ {
				ptr, err := p.Allocate(1000)
				require.Nil(t, err)
				ptrs = append(ptrs, ptr)
			}
			require.Equal(t, 3, p.SlabCount())

			for _, ptr := range ptrs {
				require.Nil(t, p.Deallocate(ptr))
			}
			require.Equal(t, tc.slabs, p.SlabCount())
		})
	}
}

func TestDynamicPoolRelease(t *testing.T) {
	dev := newDevice(t)

	p, err := NewDynamicPool("dynamic", 1, dev, DynamicPoolConfig{
		InitialSize: 1024,
		MinSize:     1024,
		Heuristic:   PercentReleasable(0),
	})
	require.Nil(t, err)

	a, err := p.Allocate(1000)
	require.Nil(t, err)
	b, err := p.Allocate(1000)
	require.Nil(t, err)

	require.Nil(t, p.Deallocate(b))
	require.Nil(t, p.Release())
	require.Equal(t, 1, p.SlabCount())
	require.Equal(t, uint64(1024), dev.Stats().CurrentSize)

	require.Nil(t, p.Deallocate(a))
	require.Nil(t, p.Close())
	require.Equal(t, uint64(0), dev.Stats().CurrentSize)
}

func TestMixedPoolRouting(t *testing.T) {
	dev := newDevice(t)

	p, err := NewMixedPool("mixed", 1, dev, MixedPoolConfig{
		SmallestFixedBlockSize:  256,
		LargestFixedBlockSize:   128 << 10,
		MaxFixedBlockSize:       4096,
		SizeMultiplier:          16,
		DynamicInitialAllocSize: 1 << 20,
	})
	require.Nil(t, err)

	buckets := p.Buckets()
	require.Len(t, buckets, 3)
	require.Equal(t, uint64(256), buckets[0].ObjectSize())
	require.Equal(t, uint64(4096), buckets[1].ObjectSize())
	require.Equal(t, uint64(65536), buckets[2].ObjectSize())

	require.Same(t, buckets[0], p.Route(256), "exact bucket size uses that bucket")
	require.Same(t, buckets[1], p.Route(257))
	require.Same(t, buckets[1], p.Route(4096))
	require.Same(t, p.Dynamic(), p.Route(4097), "max fixed size + 1 goes to the dynamic pool")

	small, err := p.Allocate(256)
	require.Nil(t, err)
	require.Equal(t, 1, buckets[0].InUse())

	large, err := p.Allocate(4097)
	require.Nil(t, err)
	require.NotZero(t, p.Dynamic().CurrentSize())

	require.Nil(t, p.Deallocate(small))
	require.Equal(t, 0, buckets[0].InUse())
	require.Nil(t, p.Deallocate(large))
	require.Zero(t, p.Dynamic().CurrentSize())

	require.True(t, errors.Is(p.Deallocate(large), memory.ErrInvalidPointer))

	require.Nil(t, p.Close())
	require.Equal(t, uint64(0), dev.Stats().CurrentSize)
}

func TestSlotPool(t *testing.T) {
	dev := newDevice(t)

	p, err := NewSlotPool("slot", 1, dev, 2)
	require.Nil(t, err)

	a, err := p.Allocate(100)
	require.Nil(t, err)
	b, err := p.Allocate(200)
	require.Nil(t, err)

	_, err = p.Allocate(100)
	require.True(t, errors.Is(err, memory.ErrOutOfMemory), "no growth beyond slots")

	require.Nil(t, p.Deallocate(a))
	again, err := p.Allocate(100)
	require.Nil(t, err)
	require.Equal(t, a, again, "free slot of equal size is reused")

	require.Nil(t, p.Deallocate(b))
	_, err = p.Allocate(300)
	require.Nil(t, err, "free slot of another size is refilled")

	require.True(t, errors.Is(p.Deallocate(b), memory.ErrInvalidPointer))
	require.Nil(t, p.Close())
	require.Equal(t, uint64(0), dev.Stats().CurrentSize)
}

func TestMonotonic(t *testing.T) {
	dev := newDevice(t)

	m, err := NewMonotonic("arena", 1, dev, 1000)
	require.Nil(t, err)

	a, err := m.Allocate(400)
	require.Nil(t, err)
	b, err := m.Allocate(400)
	require.Nil(t, err)
	require.Equal(t, a+400, b)

	require.Nil(t, m.Deallocate(a))
	require.Equal(t, uint64(800), m.Cursor(), "deallocation never moves the cursor")

	_, err = m.Allocate(201)
	require.True(t, errors.Is(err, memory.ErrOutOfMemory), "crossing the capacity fails")

	c, err := m.Allocate(200)
	require.Nil(t, err, "exactly filling the capacity succeeds")
	require.Equal(t, b+400, c)

	require.True(t, errors.Is(m.Deallocate(a+1000), memory.ErrInvalidPointer))

	require.Nil(t, m.Close())
	require.Equal(t, uint64(0), dev.Stats().CurrentSize)
}

func TestSizeLimiter(t *testing.T) {
	dev := newDevice(t)

	l := NewSizeLimiter("limited", 1, dev, 1024)

	ptr, err := l.Allocate(1024)
	require.Nil(t, err)

	_, err = l.Allocate(1025)
	require.True(t, errors.Is(err, memory.ErrOutOfMemory))

	_, err = l.Allocate(1024)
	require.Nil(t, err, "the limit applies to single requests")

	require.Nil(t, l.Deallocate(ptr))
	require.Same(t, dev, l.Unwrap())
}

func TestAdvisor(t *testing.T) {
	dev := newDevice(t)
	other := resource.NewDevice("DEVICE::3", 5, memory.Traits{Platform: memory.PlatformDevice, ID: 3}, 1<<20)

	pool, err := NewDynamicPool("pool", 1, dev, DynamicPoolConfig{InitialSize: 1 << 20})
	require.Nil(t, err)

	a, err := NewAdvisor("advised", 2, pool, memory.AdviceReadMostly, other, -1)
	require.Nil(t, err)
	require.Equal(t, 3, a.Device(), "advice targets the accessing allocator's device")

	ptr, err := a.Allocate(128)
	require.Nil(t, err)

	advice, ok := dev.AdviceFor(ptr)
	require.True(t, ok)
	require.Equal(t, memory.AdviceReadMostly, advice)

	require.Nil(t, a.Deallocate(ptr))

	_, err = NewAdvisor("bad", 3, pool, memory.Advice(100), nil, 0)
	require.True(t, errors.Is(err, memory.ErrInvalidArgument))
}

func TestCoalesceHelper(t *testing.T) {
	dev := newDevice(t)

	fixed, err := NewFixedPool("fixed", 1, dev, 64, 16)
	require.Nil(t, err)
	err = Coalesce(NewThreadSafe("ts", 2, fixed))
	require.True(t, errors.Is(err, memory.ErrUnsupportedOperation))

	require.True(t, errors.Is(Coalesce(dev), memory.ErrUnsupportedOperation))

	dynamic, err := NewDynamicPool("dynamic", 3, dev, DynamicPoolConfig{InitialSize: 4096})
	require.Nil(t, err)
	wrapped := NewSizeLimiter("limited", 4, NewThreadSafe("ts", 5, Introspect(dynamic)), 1024)
	require.Nil(t, Coalesce(wrapped))

	found, ok := As[*DynamicPool](wrapped)
	require.True(t, ok)
	require.Same(t, dynamic, found)

	_, ok = As[*FixedPool](wrapped)
	require.False(t, ok)
}

func TestIntrospection(t *testing.T) {
	dev := newDevice(t)

	pool, err := NewDynamicPool("dynamic", 1, dev, DynamicPoolConfig{InitialSize: 4096, Heuristic: PercentReleasable(0)})
	require.Nil(t, err)

	plain, err := NewDynamicPool("plain", 2, newDevice(t), DynamicPoolConfig{InitialSize: 4096, Heuristic: PercentReleasable(0)})
	require.Nil(t, err)

	i := Introspect(pool)
	require.Equal(t, "dynamic", i.Name())
	require.Equal(t, 1, i.ID())

	var got, want []uintptr
	for _, size := range []uint64{10, 300, 17, 1000} {
		p1, err := i.Allocate(size)
		require.Nil(t, err)
		p2, err := plain.Allocate(size)
		require.Nil(t, err)
		got = append(got, p1)
		want = append(want, p2)
	}

	for idx := range got {
		require.Equal(t, got[idx]-got[0], want[idx]-want[0], "introspection changes no results")
	}

	stats := i.Stats()
	require.Equal(t, uint64(1327), stats.CurrentSize)
	require.Equal(t, uint64(4), stats.AllocationCount)
	require.Equal(t, uint64(4096), stats.ActualSize)

	require.Nil(t, i.Deallocate(got[1]))
	stats = i.Stats()
	require.Equal(t, uint64(1027), stats.CurrentSize)
	require.Equal(t, uint64(1327), stats.HighWatermark)

	records := i.Records()
	require.Len(t, records, 3)
	require.Equal(t, got[0], records[0].Ptr)
	require.Equal(t, uint64(10), records[0].Size)
	require.Equal(t, 1, records[0].AllocatorID)
}

func TestThreadSafeConcurrency(t *testing.T) {
	const (
		workers    = 8
		iterations = 500
	)

	pool, err := NewDynamicPool("dynamic", 1, newDevice(t), DynamicPoolConfig{
		InitialSize: 1 << 20,
		MinSize:     64 << 10,
	})
	require.Nil(t, err)

	intro := Introspect(pool)
	ts := NewThreadSafe("ts", 2, intro)

	var (
		wg          sync.WaitGroup
		allocated   atomic.Uint64
		deallocated atomic.Uint64
		failures    atomic.Int64
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			type alloc struct {
				ptr  uintptr
				size uint64
			}
			var live []alloc
			for i := 0; i < iterations; i++ {
				size := uint64((i%7+1)*32 + w)
				ptr, err := ts.Allocate(size)
				if err != nil {
					failures.Add(1)
					continue
				}
				allocated.Add(size)
				live = append(live, alloc{ptr, size})

				if i%2 == 1 {
					a := live[0]
					live = live[1:]
					if err := ts.Deallocate(a.ptr); err != nil {
						failures.Add(1)
						continue
					}
					deallocated.Add(a.size)
				}
			}
		}(w)
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	require.Equal(t, allocated.Load()-deallocated.Load(), intro.Stats().CurrentSize)
	require.Equal(t, uint64(workers*iterations/2), intro.Stats().AllocationCount)
}

func TestParseHeuristic(t *testing.T) {
	h, err := ParseHeuristic("percent-releasable:75")
	require.Nil(t, err)
	require.Equal(t, "percent-releasable:75", h.String())

	h, err = ParseHeuristic("blocks:3")
	require.Nil(t, err)
	require.Equal(t, "blocks-releasable:3", h.String())

	for _, bad := range []string{"percent-releasable", "percent:101", "blocks:-1", "random:1"} {
		_, err := ParseHeuristic(bad)
		require.Error(t, err, bad)
	}

	u := PoolUsage{ActualSize: 1000, ReleasableSize: 750, Slabs: 4, FreeSlabs: 3}
	require.True(t, PercentReleasable(75).ShouldCoalesce(u))
	require.False(t, PercentReleasable(76).ShouldCoalesce(u))
	require.True(t, BlocksReleasable(3).ShouldCoalesce(u))
	require.False(t, BlocksReleasable(4).ShouldCoalesce(u))
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindFixedPool, KindDynamicPool, KindMixedPool, KindSlotPool,
		KindMonotonic, KindThreadSafe, KindAdvisor, KindSizeLimiter} {
		parsed, err := ParseKind(k.String())
		require.Nil(t, err)
		require.Equal(t, k, parsed)
	}
	_, err := ParseKind("unknown")
	require.Error(t, err)
}
