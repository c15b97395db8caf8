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
	"fmt"
	"strings"

	"github.com/containers/memstrat/pkg/memory"
)

const (
	// DefaultSmallestFixedBlockSize is the default smallest MixedPool bucket.
	DefaultSmallestFixedBlockSize = 256
	// DefaultLargestFixedBlockSize is the default largest MixedPool bucket.
	DefaultLargestFixedBlockSize = 128 << 10
	// DefaultMaxFixedBlockSize is the default size limit for fixed buckets.
	DefaultMaxFixedBlockSize = 2 << 20
	// DefaultSizeMultiplier is the default ratio of consecutive buckets.
	DefaultSizeMultiplier = 16
	// fixedBucketSlabBytes is the targeted slab size of bucket pools.
	fixedBucketSlabBytes = 1 << 20
	// minObjectsPerBucket is the smallest number of objects per bucket slab.
	minObjectsPerBucket = 16
)

// MixedPool routes small requests to fixed pools bucketed by size, and
// everything else to a dynamic pool.
type MixedPool struct {
	named
	maxFixed uint64
	buckets  []*FixedPool
	dynamic  *DynamicPool
	owner    map[uintptr]memory.Strategy
}

var _ memory.Strategy = &MixedPool{}

// NewMixedPool creates a mixed pool with the given configuration.
func NewMixedPool(name string, id int, parent memory.Strategy, cfg MixedPoolConfig) (*MixedPool, error) {
	var (
		smallest = cfg.SmallestFixedBlockSize
		largest  = cfg.LargestFixedBlockSize
		maxFixed = cfg.MaxFixedBlockSize
		mult     = cfg.SizeMultiplier
	)

	if smallest == 0 {
		smallest = DefaultSmallestFixedBlockSize
	}
	if largest == 0 {
		largest = DefaultLargestFixedBlockSize
	}
	if maxFixed == 0 {
		maxFixed = DefaultMaxFixedBlockSize
	}
	if mult == 0 {
		mult = DefaultSizeMultiplier
	}
	if mult < 2 {
		return nil, invalidArgument(name, "size multiplier %d < 2", mult)
	}
	if largest < smallest {
		return nil, invalidArgument(name, "largest fixed block size %d < smallest %d", largest, smallest)
	}

	p := &MixedPool{
		named:    named{name: name, id: id, parent: parent},
		maxFixed: maxFixed,
		owner:    make(map[uintptr]memory.Strategy),
	}

	for size := smallest; size <= largest; size *= mult {
		objects := max(fixedBucketSlabBytes/size, minObjectsPerBucket)
		bucket, err := NewFixedPool(fmt.Sprintf("%s.fixed-%d", name, size), id, parent, size, objects)
		if err != nil {
			return nil, err
		}
		p.buckets = append(p.buckets, bucket)
		if size > largest/mult {
			break
		}
	}

	dynCfg := DynamicPoolConfig{
		InitialSize: cfg.DynamicInitialAllocSize,
		MinSize:     cfg.DynamicMinAllocSize,
		Alignment:   cfg.Alignment,
		Heuristic:   cfg.Heuristic,
	}
	if dynCfg.Heuristic == nil {
		dynCfg.Heuristic = PercentReleasable(0)
	}
	dynamic, err := NewDynamicPool(name+".dynamic", id, parent, dynCfg)
	if err != nil {
		p.closeBuckets()
		return nil, err
	}
	p.dynamic = dynamic

	log.Debug("%s: created mixed pool over %s with buckets %s, max fixed %s", name,
		parent.Name(), p.bucketSizes(), memory.PrettySize(maxFixed))

	return p, nil
}

// Route returns the pool a request of the given size is served from.
func (p *MixedPool) Route(size uint64) memory.Strategy {
	if size <= p.maxFixed {
		for _, b := range p.buckets {
			if size <= b.ObjectSize() {
				return b
			}
		}
	}
	return p.dynamic
}

// Buckets returns the fixed pools of the mixed pool, smallest first.
func (p *MixedPool) Buckets() []*FixedPool {
	return p.buckets
}

// Dynamic returns the dynamic pool of the mixed pool.
func (p *MixedPool) Dynamic() *DynamicPool {
	return p.dynamic
}

func (p *MixedPool) Allocate(size uint64) (uintptr, error) {
	pool := p.Route(size)

	ptr, err := pool.Allocate(size)
	if err != nil {
		return 0, err
	}

	p.owner[ptr] = pool
	return ptr, nil
}

func (p *MixedPool) Deallocate(ptr uintptr) error {
	pool, ok := p.owner[ptr]
	if !ok {
		return invalidPointer(p, ptr)
	}

	if err := pool.Deallocate(ptr); err != nil {
		return err
	}

	delete(p.owner, ptr)
	return nil
}

func (p *MixedPool) Release() error {
	for _, b := range p.buckets {
		if err := b.Release(); err != nil {
			return err
		}
	}
	return p.dynamic.Release()
}

// Close returns the memory of all pools to the parent.
func (p *MixedPool) Close() error {
	err := p.closeBuckets()
	if dynErr := p.dynamic.Close(); dynErr != nil && err == nil {
		err = dynErr
	}
	p.owner = make(map[uintptr]memory.Strategy)
	return err
}

// ActualSize returns the number of bytes obtained from the parent.
func (p *MixedPool) ActualSize() uint64 {
	total := p.dynamic.ActualSize()
	for _, b := range p.buckets {
		total += b.ActualSize()
	}
	return total
}

func (p *MixedPool) closeBuckets() error {
	var firstErr error
	for _, b := range p.buckets {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *MixedPool) bucketSizes() string {
	sizes := make([]string, 0, len(p.buckets))
	for _, b := range p.buckets {
		sizes = append(sizes, memory.PrettySize(b.ObjectSize()))
	}
	return "[" + strings.Join(sizes, ",") + "]"
}
