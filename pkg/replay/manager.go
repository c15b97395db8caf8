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

package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	logger "github.com/containers/memstrat/pkg/log"
	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/strategy"
	"github.com/containers/memstrat/pkg/resmgr"
)

// Manager declares and runs replayed operations against a ResourceManager.
// It is not safe for concurrent use.
type Manager struct {
	rm         *resmgr.ResourceManager
	ops        []*Operation
	allocators []resmgr.Allocator
	allocOps   map[uint64]*Operation
	ran        bool
}

// Result summarizes a replay run.
type Result struct {
	// Counts is the number of successfully executed operations per kind.
	Counts map[Kind]int
	// SkippedCoalesces is the number of coalesce operations skipped on
	// allocators which can't be coalesced.
	SkippedCoalesces int
	// Outstanding maps the logged id of every allocation never
	// deallocated to its size.
	Outstanding map[uint64]uint64
	// Duration is the time spent executing operations.
	Duration time.Duration
}

var (
	log = logger.Get("replay")
	// coalescing non-pools tends to repeat for every coalesce in a trace
	skipLog = logger.RateLimit(log, logger.Rate{Limit: logger.Every(time.Second)})
)

// NewManager creates a Manager for replaying operations against rm.
func NewManager(rm *resmgr.ResourceManager) *Manager {
	return &Manager{
		rm:       rm,
		allocOps: make(map[uint64]*Operation),
	}
}

// Operations returns the declared operations in execution order.
func (m *Manager) Operations() []*Operation {
	return m.ops
}

// Allocators returns the allocators created so far, in creation order.
func (m *Manager) Allocators() []resmgr.Allocator {
	return m.allocators
}

func (m *Manager) add(op *Operation) *Operation {
	op.State = Bound
	m.ops = append(m.ops, op)
	return op
}

func (m *Manager) last() *Operation {
	if len(m.ops) == 0 {
		return nil
	}
	return m.ops[len(m.ops)-1]
}

// MakeResource declares looking up or creating the named resource.
func (m *Manager) MakeResource(name string) {
	m.add(&Operation{Kind: KindMakeResource, Name: name})
}

func (m *Manager) makeAllocator(kind Kind, introspection bool, name, base string, cfg strategy.Config) *Operation {
	return m.add(&Operation{
		Kind:          kind,
		Introspection: introspection,
		Name:          name,
		Base:          base,
		Config:        cfg,
	})
}

// MakeAdvisor declares creating an Advisor. If accessing is not empty the
// advice targets the device of that allocator, otherwise device.
func (m *Manager) MakeAdvisor(introspection bool, name, base string, advice memory.Advice, accessing string, device int) {
	op := m.makeAllocator(KindMakeAdvisor, introspection, name, base,
		strategy.AdvisorConfig{Advice: advice, Device: device})
	op.Accessing = accessing
}

// MakeFixedPool declares creating a FixedPool.
func (m *Manager) MakeFixedPool(introspection bool, name, base string, cfg strategy.FixedPoolConfig) {
	m.makeAllocator(KindMakeFixedPool, introspection, name, base, cfg)
}

// MakeDynamicPool declares creating a DynamicPool.
func (m *Manager) MakeDynamicPool(introspection bool, name, base string, cfg strategy.DynamicPoolConfig) {
	m.makeAllocator(KindMakeDynamicPool, introspection, name, base, cfg)
}

// MakeMixedPool declares creating a MixedPool.
func (m *Manager) MakeMixedPool(introspection bool, name, base string, cfg strategy.MixedPoolConfig) {
	m.makeAllocator(KindMakeMixedPool, introspection, name, base, cfg)
}

// MakeMonotonic declares creating a Monotonic arena.
func (m *Manager) MakeMonotonic(introspection bool, name, base string, capacity uint64) {
	m.makeAllocator(KindMakeMonotonic, introspection, name, base,
		strategy.MonotonicConfig{Capacity: capacity})
}

// MakeSlotPool declares creating a SlotPool.
func (m *Manager) MakeSlotPool(introspection bool, name, base string, slots int) {
	m.makeAllocator(KindMakeSlotPool, introspection, name, base,
		strategy.SlotPoolConfig{Slots: slots})
}

// MakeSizeLimiter declares creating a SizeLimiter.
func (m *Manager) MakeSizeLimiter(introspection bool, name, base string, limit uint64) {
	m.makeAllocator(KindMakeSizeLimiter, introspection, name, base,
		strategy.SizeLimiterConfig{Limit: limit})
}

// MakeThreadSafe declares creating a ThreadSafe allocator.
func (m *Manager) MakeThreadSafe(introspection bool, name, base string) {
	m.makeAllocator(KindMakeThreadSafe, introspection, name, base, strategy.ThreadSafeConfig{})
}

// MakeAllocatorCont completes the declaration of the most recent make
// operation.
func (m *Manager) MakeAllocatorCont() error {
	if op := m.last(); op == nil || !op.Kind.IsMake() {
		return fmt.Errorf("%w: allocator continuation without a preceding make operation",
			memory.ErrInvalidArgument)
	}
	return nil
}

// MakeAllocate declares allocating size bytes from the allocator with
// the given index.
func (m *Manager) MakeAllocate(allocator int, size uint64) {
	m.add(&Operation{Kind: KindAllocate, Allocator: allocator, Size: size})
}

// MakeAllocateCont assigns the logged allocation id to the most recent
// allocate operation. An id can be reused once a deallocate referring to
// it has been declared.
func (m *Manager) MakeAllocateCont(loggedID uint64) error {
	op := m.last()
	if op == nil || op.Kind != KindAllocate {
		return fmt.Errorf("%w: allocation continuation without a preceding allocate",
			memory.ErrInvalidArgument)
	}
	if op.HasLoggedID {
		return fmt.Errorf("%w: allocation already has logged id %d",
			memory.ErrInvalidArgument, op.LoggedID)
	}
	if prev, ok := m.allocOps[loggedID]; ok {
		return fmt.Errorf("%w: logged id %d is still in use by %s",
			memory.ErrDuplicateName, loggedID, prev)
	}

	op.LoggedID = loggedID
	op.HasLoggedID = true
	m.allocOps[loggedID] = op

	return nil
}

// MakeDeallocate declares deallocating the allocation with the given
// logged id. The id is resolved now, the address once executed. An
// unknown id fails the run when this operation is reached.
func (m *Manager) MakeDeallocate(allocator int, loggedID uint64) {
	op := m.add(&Operation{
		Kind:        KindDeallocate,
		Allocator:   allocator,
		LoggedID:    loggedID,
		HasLoggedID: true,
	})

	alloc, ok := m.allocOps[loggedID]
	if !ok {
		log.Warn("deallocate of unknown logged allocation id %d", loggedID)
		return
	}

	op.alloc = alloc
	delete(m.allocOps, loggedID)
}

// MakeCoalesce declares coalescing the named allocator.
func (m *Manager) MakeCoalesce(name string) {
	m.add(&Operation{Kind: KindCoalesce, Name: name})
}

// MakeRelease declares releasing unused memory of the allocator with the
// given index.
func (m *Manager) MakeRelease(allocator int) {
	m.add(&Operation{Kind: KindRelease, Allocator: allocator})
}

// Executed returns the total number of executed operations.
func (r *Result) Executed() int {
	n := 0
	for _, cnt := range r.Counts {
		n += cnt
	}
	return n
}

// Run executes all declared operations once, in declaration order. It
// stops at the first failing operation, except for coalescing allocators
// which can't be coalesced. These are skipped. A summary of the run is
// logged through the default slog logger.
func (m *Manager) Run() (res *Result, retErr error) {
	if m.ran {
		return nil, fmt.Errorf("%w: operations already replayed", memory.ErrUnsupportedOperation)
	}
	m.ran = true

	res = &Result{
		Counts:      make(map[Kind]int),
		Outstanding: make(map[uint64]uint64),
	}

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		res.Outstanding = m.outstanding()

		attrs := []any{
			"executed", res.Executed(),
			"skippedCoalesces", res.SkippedCoalesces,
			"outstanding", len(res.Outstanding),
			"duration", res.Duration,
		}
		if retErr != nil {
			slog.Warn("replay aborted", append(attrs, "error", retErr)...)
		} else {
			slog.Info("replay finished", attrs...)
		}
	}()

	for i, op := range m.ops {
		if op.State != Bound {
			return res, fmt.Errorf("operation #%d (%s): %w: operation is %s", i, op,
				memory.ErrInvalidArgument, op.State)
		}

		err := m.execute(op)
		switch {
		case err == nil:
			op.State = Executed
			res.Counts[op.Kind]++
		case op.Kind == KindCoalesce && errors.Is(err, memory.ErrUnsupportedOperation):
			skipLog.Warn("%s is not a dynamic pool, skipping", op.Name)
			op.State = Executed
			res.SkippedCoalesces++
		default:
			op.Err = err
			return res, fmt.Errorf("operation #%d (%s): %w", i, op, err)
		}

		if log.DebugEnabled() {
			log.Debug("executed #%d %s", i, op)
		}
	}

	return res, nil
}

func (m *Manager) execute(op *Operation) error {
	switch op.Kind {
	case KindMakeResource:
		a, err := m.rm.GetAllocator(op.Name)
		if err != nil {
			return err
		}
		m.allocators = append(m.allocators, a)

	case KindMakeAdvisor, KindMakeFixedPool, KindMakeDynamicPool, KindMakeMixedPool,
		KindMakeMonotonic, KindMakeSlotPool, KindMakeSizeLimiter, KindMakeThreadSafe:
		return m.executeMake(op)

	case KindAllocate:
		a, err := m.allocator(op.Allocator)
		if err != nil {
			return err
		}
		ptr, err := a.Allocate(op.Size)
		if err != nil {
			return err
		}
		op.Result = ptr

	case KindDeallocate:
		if op.alloc == nil {
			return fmt.Errorf("%w: logged allocation id %d", memory.ErrUnresolvedReference, op.LoggedID)
		}
		if op.alloc.State != Executed {
			return fmt.Errorf("%w: logged allocation id %d was never allocated",
				memory.ErrUnresolvedReference, op.LoggedID)
		}
		a, err := m.allocator(op.Allocator)
		if err != nil {
			return err
		}
		return a.Deallocate(op.alloc.Result)

	case KindCoalesce:
		a, err := m.rm.GetAllocator(op.Name)
		if err != nil {
			return err
		}
		if _, ok := strategy.As[*strategy.DynamicPool](a.Strategy()); !ok {
			return fmt.Errorf("%w: %s is not a dynamic pool", memory.ErrUnsupportedOperation, op.Name)
		}
		return a.Coalesce()

	case KindRelease:
		a, err := m.allocator(op.Allocator)
		if err != nil {
			return err
		}
		return a.Release()

	default:
		return fmt.Errorf("%w: unknown operation %s", memory.ErrInvalidArgument, op.Kind)
	}

	return nil
}

func (m *Manager) executeMake(op *Operation) error {
	base, err := m.rm.GetAllocator(op.Base)
	if err != nil {
		return err
	}

	cfg := op.Config
	if advisor, ok := cfg.(strategy.AdvisorConfig); ok && op.Accessing != "" {
		accessing, err := m.rm.GetAllocator(op.Accessing)
		if err != nil {
			return err
		}
		advisor.Accessing = accessing.Strategy()
		cfg = advisor
	}

	a, err := m.rm.MakeAllocator(op.Name, base, cfg, resmgr.WithIntrospection(op.Introspection))
	if err != nil {
		return err
	}
	m.allocators = append(m.allocators, a)

	return nil
}

func (m *Manager) allocator(idx int) (resmgr.Allocator, error) {
	if idx < 0 || idx >= len(m.allocators) {
		return resmgr.Allocator{}, fmt.Errorf("%w: allocator #%d (%d allocators created)",
			memory.ErrNotFound, idx, len(m.allocators))
	}
	return m.allocators[idx], nil
}

func (m *Manager) outstanding() map[uint64]uint64 {
	live := make(map[*Operation]struct{})
	for _, op := range m.ops {
		switch {
		case op.Kind == KindAllocate && op.HasLoggedID && op.State == Executed:
			live[op] = struct{}{}
		case op.Kind == KindDeallocate && op.State == Executed:
			delete(live, op.alloc)
		}
	}

	outstanding := make(map[uint64]uint64, len(live))
	for op := range live {
		outstanding[op.LoggedID] = op.Size
	}
	return outstanding
}
