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

package replay_test

import (
	"bytes"
	"errors"
	"flag"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/strategy"
	. "github.com/containers/memstrat/pkg/replay"
	"github.com/containers/memstrat/pkg/resmgr"
)

func newManager(t *testing.T) (*Manager, *resmgr.ResourceManager) {
	t.Helper()
	rm, err := resmgr.New()
	require.NoError(t, err)
	t.Cleanup(func() { rm.Close() })
	return NewManager(rm), rm
}

func declareAllocate(t *testing.T, m *Manager, idx int, size, id uint64) {
	t.Helper()
	m.MakeAllocate(idx, size)
	require.NoError(t, m.MakeAllocateCont(id))
}

func TestReplayRoundTrip(t *testing.T) {
	m, rm := newManager(t)

	m.MakeResource("HOST")
	m.MakeDynamicPool(false, "P", "HOST", strategy.DynamicPoolConfig{InitialSize: 4096})
	require.NoError(t, m.MakeAllocatorCont())
	declareAllocate(t, m, 1, 100, 1)
	declareAllocate(t, m, 1, 200, 2)
	m.MakeDeallocate(1, 1)
	m.MakeCoalesce("P")

	ops := m.Operations()
	require.Len(t, ops, 6)
	require.Same(t, ops[2], ops[4].Allocation(), "deallocate bound at declaration")
	for _, op := range ops {
		require.Equal(t, Bound, op.State)
	}

	res, err := m.Run()
	require.NoError(t, err)

	expected := map[Kind]int{
		KindMakeResource:    1,
		KindMakeDynamicPool: 1,
		KindAllocate:        2,
		KindDeallocate:      1,
		KindCoalesce:        1,
	}
	require.Empty(t, cmp.Diff(expected, res.Counts), "operation counts")
	require.Zero(t, res.SkippedCoalesces)
	require.Equal(t, map[uint64]uint64{2: 200}, res.Outstanding)

	for _, op := range ops {
		require.Equal(t, Executed, op.State, "%s", op)
		require.NoError(t, op.Err)
	}
	require.NotZero(t, ops[2].Result)
	require.NotZero(t, ops[3].Result)

	allocators := m.Allocators()
	require.Len(t, allocators, 2)
	require.Equal(t, "HOST", allocators[0].Name())
	require.Equal(t, "P", allocators[1].Name())

	p, err := rm.GetAllocator("P")
	require.NoError(t, err)
	require.NoError(t, p.Deallocate(ops[3].Result))
}

func TestUnresolvedReference(t *testing.T) {
	t.Run("unknown id", func(t *testing.T) {
		m, _ := newManager(t)
		m.MakeResource("HOST")
		declareAllocate(t, m, 0, 64, 1)
		m.MakeDeallocate(0, 7)

		res, err := m.Run()
		require.Error(t, err)
		require.True(t, errors.Is(err, memory.ErrUnresolvedReference), "got %v", err)
		require.Contains(t, err.Error(), "operation #2")
		require.Equal(t, 1, res.Counts[KindAllocate])
		require.Zero(t, res.Counts[KindDeallocate])
		require.Equal(t, map[uint64]uint64{1: 64}, res.Outstanding)

		ops := m.Operations()
		require.Equal(t, Bound, ops[2].State)
		require.ErrorIs(t, ops[2].Err, memory.ErrUnresolvedReference)
	})

	t.Run("id allocated later", func(t *testing.T) {
		m, _ := newManager(t)
		m.MakeResource("HOST")
		m.MakeDeallocate(0, 1)
		declareAllocate(t, m, 0, 64, 1)

		_, err := m.Run()
		require.ErrorIs(t, err, memory.ErrUnresolvedReference)
	})
}

func TestLoggedIDReuse(t *testing.T) {
	m, _ := newManager(t)

	require.Error(t, m.MakeAllocateCont(1), "no preceding allocate")
	require.Error(t, m.MakeAllocatorCont(), "no preceding make")

	m.MakeResource("HOST")
	require.NoError(t, m.MakeAllocatorCont())
	declareAllocate(t, m, 0, 32, 1)
	require.Error(t, m.MakeAllocateCont(2), "id already assigned")

	m.MakeAllocate(0, 32)
	require.ErrorIs(t, m.MakeAllocateCont(1), memory.ErrDuplicateName)

	m.MakeDeallocate(0, 1)
	declareAllocate(t, m, 0, 48, 1)

	res, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, 3, res.Counts[KindAllocate])
	require.Equal(t, map[uint64]uint64{1: 48}, res.Outstanding)
}

func TestCoalesce(t *testing.T) {
	m, _ := newManager(t)

	m.MakeFixedPool(false, "fixed", "DEVICE", strategy.FixedPoolConfig{ObjectBytes: 64, ObjectsPerPool: 16})
	require.NoError(t, m.MakeAllocatorCont())
	m.MakeDynamicPool(true, "dyn", "DEVICE", strategy.DynamicPoolConfig{InitialSize: 1024, MinSize: 1024})
	require.NoError(t, m.MakeAllocatorCont())
	m.MakeThreadSafe(false, "safe", "dyn")
	require.NoError(t, m.MakeAllocatorCont())

	m.MakeCoalesce("fixed")
	m.MakeCoalesce("DEVICE")
	m.MakeCoalesce("dyn")
	m.MakeCoalesce("safe")

	res, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, 2, res.SkippedCoalesces)
	require.Equal(t, 2, res.Counts[KindCoalesce])

	m, _ = newManager(t)
	m.MakeCoalesce("nonexistent")
	_, err = m.Run()
	require.ErrorIs(t, err, memory.ErrNotFound)
}

func TestRunOnce(t *testing.T) {
	m, _ := newManager(t)
	m.MakeResource("HOST")

	_, err := m.Run()
	require.NoError(t, err)
	_, err = m.Run()
	require.ErrorIs(t, err, memory.ErrUnsupportedOperation)
}

func TestRunSummary(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	m, _ := newManager(t)
	m.MakeResource("HOST")
	declareAllocate(t, m, 0, 64, 1)
	m.MakeCoalesce("HOST")

	res, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, 2, res.Executed())
	require.Contains(t, buf.String(), `msg="replay finished" executed=2 skippedCoalesces=1 outstanding=1`)

	buf.Reset()
	m, _ = newManager(t)
	m.MakeResource("HOST")
	m.MakeDeallocate(0, 1)

	_, err = m.Run()
	require.Error(t, err)
	require.Contains(t, buf.String(), `msg="replay aborted" executed=1 skippedCoalesces=0 outstanding=0`)
}

func TestAllocatorsAndRelease(t *testing.T) {
	m, rm := newManager(t)

	m.MakeResource("DEVICE")
	m.MakeAdvisor(true, "advised", "DEVICE", memory.AdviceReadMostly, "DEVICE::1", -1)
	require.NoError(t, m.MakeAllocatorCont())
	m.MakeSizeLimiter(false, "limited", "advised", 1024)
	require.NoError(t, m.MakeAllocatorCont())
	m.MakeSlotPool(false, "slots", "limited", 4)
	require.NoError(t, m.MakeAllocatorCont())
	m.MakeMonotonic(false, "arena", "DEVICE", 4096)
	require.NoError(t, m.MakeAllocatorCont())
	m.MakeMixedPool(false, "mixed", "DEVICE", strategy.MixedPoolConfig{})
	require.NoError(t, m.MakeAllocatorCont())

	declareAllocate(t, m, 3, 128, 1)
	declareAllocate(t, m, 4, 1000, 2)
	declareAllocate(t, m, 5, 300, 3)
	m.MakeDeallocate(5, 3)
	m.MakeRelease(5)
	m.MakeAllocate(2, 2048)

	res, err := m.Run()
	require.ErrorIs(t, err, memory.ErrOutOfMemory, "size limiter rejects large requests")
	require.Equal(t, 3, res.Counts[KindAllocate])
	require.Equal(t, 1, res.Counts[KindRelease])
	require.Equal(t, map[uint64]uint64{1: 128, 2: 1000}, res.Outstanding)

	advised, err := rm.GetAllocator("advised")
	require.NoError(t, err)
	stats, err := advised.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.AllocationCount, "slot pool allocates its slots on first use")

	a, ok := strategy.As[*strategy.Advisor](advised.Strategy())
	require.True(t, ok)
	require.Equal(t, 1, a.Device())
}

const jsonLinesTrace = `
# a comment
{"kind": "make-dynamic-pool", "name": "P", "base": "DEVICE", "initialAllocSize": "4Ki", "heuristic": "percent-releasable:50"}

{"kind": "allocate", "allocator": "P", "size": 100, "id": 1}
{"kind": "allocate", "allocator": "P", "size": "1Ki", "id": 2}
{"kind": "deallocate", "allocator": "P", "id": 1}
{"kind": "coalesce", "name": "P"}
`

const yamlTrace = `
# a comment
- kind: make-fixed-pool
  name: F
  base: HOST
  objectBytes: 64
  objectsPerPool: 32
- kind: allocate
  allocatorIndex: 1
  size: 64
  id: 1
- kind: release
  allocator: F
`

func TestParseTrace(t *testing.T) {
	records, err := ParseTrace(strings.NewReader(jsonLinesTrace))
	require.NoError(t, err)
	require.Len(t, records, 5)
	require.Equal(t, KindMakeDynamicPool, records[0].Kind)
	require.Equal(t, Size(4096), records[0].InitialAllocSize)
	require.Equal(t, Size(1024), records[2].Size)
	require.NotNil(t, records[3].ID)
	require.Equal(t, uint64(1), *records[3].ID)

	records, err = ParseTrace(strings.NewReader(yamlTrace))
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, KindMakeFixedPool, records[0].Kind)
	require.NotNil(t, records[1].AllocatorIndex)
	require.Equal(t, 1, *records[1].AllocatorIndex)
	require.Equal(t, KindRelease, records[2].Kind)

	records, err = ParseTrace(strings.NewReader(`[{"kind": "coalesce", "name": "P"}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = ParseTrace(strings.NewReader(`{"kind": "allocate", "bogus": 1}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")

	_, err = ParseTrace(strings.NewReader(`{"kind": "frobnicate"}`))
	require.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func TestLoadAndRun(t *testing.T) {
	records, err := ParseTrace(strings.NewReader(jsonLinesTrace))
	require.NoError(t, err)

	m, _ := newManager(t)
	require.NoError(t, Load(m, records, Options{}))

	ops := m.Operations()
	require.Len(t, ops, 6, "base resource is declared implicitly")
	require.Equal(t, KindMakeResource, ops[0].Kind)
	require.Equal(t, "DEVICE", ops[0].Name)
	require.Equal(t, 1, ops[2].Allocator)

	res, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, 2, res.Counts[KindAllocate])
	require.Equal(t, 1, res.Counts[KindCoalesce])
	require.Equal(t, map[uint64]uint64{2: 1024}, res.Outstanding)
}

func TestLoadOptions(t *testing.T) {
	records, err := ParseTrace(strings.NewReader(yamlTrace))
	require.NoError(t, err)

	m, _ := newManager(t)
	require.NoError(t, Load(m, records, Options{SkipOperations: true}))
	require.Len(t, m.Operations(), 2)

	m, _ = newManager(t)
	require.NoError(t, Load(m, records, Options{UsePool: PoolDynamic}))
	ops := m.Operations()
	require.Len(t, ops, 4)
	require.Equal(t, KindMakeDynamicPool, ops[1].Kind)
	require.Equal(t, "F", ops[1].Name)

	m, _ = newManager(t)
	require.NoError(t, Load(m, records, Options{UsePool: PoolMixed}))
	require.Equal(t, KindMakeMixedPool, m.Operations()[1].Kind)
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		trace   string
		errorIs error
	}{
		{
			name:    "unknown base",
			trace:   `{"kind": "make-thread-safe", "name": "ts", "base": "nope"}`,
			errorIs: memory.ErrNotFound,
		},
		{
			name: "duplicate name",
			trace: `{"kind": "make-thread-safe", "name": "ts", "base": "HOST"}
{"kind": "make-thread-safe", "name": "ts", "base": "HOST"}`,
			errorIs: memory.ErrDuplicateName,
		},
		{
			name:    "unknown allocator",
			trace:   `{"kind": "allocate", "allocator": "nope", "size": 1}`,
			errorIs: memory.ErrNotFound,
		},
		{
			name:    "deallocate without id",
			trace:   `{"kind": "deallocate", "allocator": "HOST"}`,
			errorIs: memory.ErrInvalidArgument,
		},
		{
			name:    "bad advice",
			trace:   `{"kind": "make-advisor", "name": "a", "base": "UM", "advice": "bogus"}`,
			errorIs: memory.ErrInvalidArgument,
		},
		{
			name:    "bad heuristic",
			trace:   `{"kind": "make-dynamic-pool", "name": "p", "base": "HOST", "heuristic": "nope:1"}`,
			errorIs: memory.ErrInvalidArgument,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			records, err := ParseTrace(strings.NewReader(tc.trace))
			require.NoError(t, err)
			m, _ := newManager(t)
			err = Load(m, records, Options{})
			require.ErrorIs(t, err, tc.errorIs)
			require.Contains(t, err.Error(), "trace record #")
		})
	}
}

func TestOptions(t *testing.T) {
	o := Options{}
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"-i", "trace.jsonl", "--stats", "-t", "-p", "Mixed", "--skip-operations"}))
	require.Equal(t, Options{
		InFile:         "trace.jsonl",
		TimeRun:        true,
		Stats:          true,
		SkipOperations: true,
		UsePool:        PoolMixed,
	}, o)
	require.NoError(t, o.Validate())

	var p PoolKind
	require.ErrorIs(t, p.Set("list"), memory.ErrUnsupportedOperation)
	require.ErrorIs(t, p.Set("bogus"), memory.ErrInvalidArgument)
	require.ErrorIs(t, (&Options{}).Validate(), memory.ErrInvalidArgument)
}
