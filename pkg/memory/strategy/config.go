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

// Config is the configuration of an allocation strategy. It knows how to
// construct the strategy on top of a base.
type Config interface {
	// Kind returns the kind of strategy the configuration is for.
	Kind() Kind
	// New creates the configured strategy on top of base.
	New(name string, id int, base memory.Strategy) (memory.Strategy, error)
}

// FixedPoolConfig configures a FixedPool.
type FixedPoolConfig struct {
	ObjectBytes    uint64 `json:"objectBytes"`
	ObjectsPerPool uint64 `json:"objectsPerPool,omitempty"`
}

// DynamicPoolConfig configures a DynamicPool. Zero values select defaults.
type DynamicPoolConfig struct {
	InitialSize uint64    `json:"initialAllocSize,omitempty"`
	MinSize     uint64    `json:"minAllocSize,omitempty"`
	Alignment   uint64    `json:"alignment,omitempty"`
	Heuristic   Heuristic `json:"-"`
}

// MixedPoolConfig configures a MixedPool. Zero values select defaults.
type MixedPoolConfig struct {
	SmallestFixedBlockSize  uint64    `json:"smallestFixedBlocksize,omitempty"`
	LargestFixedBlockSize   uint64    `json:"largestFixedBlocksize,omitempty"`
	MaxFixedBlockSize       uint64    `json:"maxFixedBlocksize,omitempty"`
	SizeMultiplier          uint64    `json:"sizeMultiplier,omitempty"`
	DynamicInitialAllocSize uint64    `json:"dynamicInitialAllocSize,omitempty"`
	DynamicMinAllocSize     uint64    `json:"dynamicMinAllocSize,omitempty"`
	Alignment               uint64    `json:"alignment,omitempty"`
	Heuristic               Heuristic `json:"-"`
}

// SlotPoolConfig configures a SlotPool.
type SlotPoolConfig struct {
	Slots int `json:"slots"`
}

// MonotonicConfig configures a Monotonic arena.
type MonotonicConfig struct {
	Capacity uint64 `json:"capacity"`
}

// ThreadSafeConfig configures a ThreadSafe allocator.
type ThreadSafeConfig struct{}

// AdvisorConfig configures an Advisor.
type AdvisorConfig struct {
	Advice    memory.Advice   `json:"advice"`
	Accessing memory.Strategy `json:"-"`
	Device    int             `json:"device"`
}

// SizeLimiterConfig configures a SizeLimiter.
type SizeLimiterConfig struct {
	Limit uint64 `json:"limit"`
}

var (
	_ Config = FixedPoolConfig{}
	_ Config = DynamicPoolConfig{}
	_ Config = MixedPoolConfig{}
	_ Config = SlotPoolConfig{}
	_ Config = MonotonicConfig{}
	_ Config = ThreadSafeConfig{}
	_ Config = AdvisorConfig{}
	_ Config = SizeLimiterConfig{}
)

func (FixedPoolConfig) Kind() Kind {
	return KindFixedPool
}

func (c FixedPoolConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return asStrategy(NewFixedPool(name, id, base, c.ObjectBytes, c.ObjectsPerPool))
}

func (DynamicPoolConfig) Kind() Kind {
	return KindDynamicPool
}

func (c DynamicPoolConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return asStrategy(NewDynamicPool(name, id, base, c))
}

func (MixedPoolConfig) Kind() Kind {
	return KindMixedPool
}

func (c MixedPoolConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return asStrategy(NewMixedPool(name, id, base, c))
}

func (SlotPoolConfig) Kind() Kind {
	return KindSlotPool
}

func (c SlotPoolConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return asStrategy(NewSlotPool(name, id, base, c.Slots))
}

func (MonotonicConfig) Kind() Kind {
	return KindMonotonic
}

func (c MonotonicConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return asStrategy(NewMonotonic(name, id, base, c.Capacity))
}

func (ThreadSafeConfig) Kind() Kind {
	return KindThreadSafe
}

func (c ThreadSafeConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return NewThreadSafe(name, id, base), nil
}

func (AdvisorConfig) Kind() Kind {
	return KindAdvisor
}

func (c AdvisorConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return asStrategy(NewAdvisor(name, id, base, c.Advice, c.Accessing, c.Device))
}

func (SizeLimiterConfig) Kind() Kind {
	return KindSizeLimiter
}

func (c SizeLimiterConfig) New(name string, id int, base memory.Strategy) (memory.Strategy, error) {
	return NewSizeLimiter(name, id, base, c.Limit), nil
}

// asStrategy avoids returning a typed nil Strategy on errors.
func asStrategy[T memory.Strategy](s T, err error) (memory.Strategy, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
