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
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/memstrat/pkg/memory"
)

// Introspected records every allocation made through the strategy it
// wraps. It never changes the results of the wrapped strategy. It is
// also a prometheus.Collector for the usage of the wrapped strategy.
type Introspected struct {
	base    memory.Strategy
	lock    sync.Mutex
	records map[uintptr]uint64
	current uint64
	high    uint64
	descs   introspectedDescs
}

type introspectedDescs struct {
	current *prometheus.Desc
	high    *prometheus.Desc
	actual  *prometheus.Desc
	count   *prometheus.Desc
}

// actualSizer is implemented by strategies which obtain memory from a parent.
type actualSizer interface {
	ActualSize() uint64
}

var (
	_ memory.Strategy      = &Introspected{}
	_ memory.Introspector  = &Introspected{}
	_ memory.Coalescer     = &Introspected{}
	_ prometheus.Collector = &Introspected{}
)

// Introspect wraps s for recording its allocations.
func Introspect(s memory.Strategy) *Introspected {
	labels := prometheus.Labels{"allocator": s.Name()}
	return &Introspected{
		base:    s,
		records: make(map[uintptr]uint64),
		descs: introspectedDescs{
			current: prometheus.NewDesc("current_bytes",
				"Bytes currently allocated by clients.", nil, labels),
			high: prometheus.NewDesc("high_watermark_bytes",
				"Highest number of bytes allocated by clients at any time.", nil, labels),
			actual: prometheus.NewDesc("actual_bytes",
				"Bytes obtained from the parent allocator.", nil, labels),
			count: prometheus.NewDesc("allocation_count",
				"Number of live allocations.", nil, labels),
		},
	}
}

func (i *Introspected) Name() string {
	return i.base.Name()
}

func (i *Introspected) ID() int {
	return i.base.ID()
}

func (i *Introspected) Traits() memory.Traits {
	return i.base.Traits()
}

// Unwrap returns the recorded strategy.
func (i *Introspected) Unwrap() memory.Strategy {
	return i.base
}

func (i *Introspected) Allocate(size uint64) (uintptr, error) {
	ptr, err := i.base.Allocate(size)
	if err != nil {
		return 0, err
	}

	i.lock.Lock()
	defer i.lock.Unlock()

	i.records[ptr] = size
	i.current += size
	if i.current > i.high {
		i.high = i.current
	}

	return ptr, nil
}

func (i *Introspected) Deallocate(ptr uintptr) error {
	if err := i.base.Deallocate(ptr); err != nil {
		return err
	}

	i.lock.Lock()
	defer i.lock.Unlock()

	if size, ok := i.records[ptr]; ok {
		delete(i.records, ptr)
		i.current -= size
	}

	return nil
}

func (i *Introspected) Release() error {
	return i.base.Release()
}

// Coalesce coalesces the wrapped strategy if it supports coalescing.
func (i *Introspected) Coalesce() error {
	return Coalesce(i.base)
}

// Close closes the wrapped strategy.
func (i *Introspected) Close() error {
	return Close(i.base)
}

// Stats returns the usage statistics of the wrapped strategy.
func (i *Introspected) Stats() memory.Stats {
	i.lock.Lock()
	defer i.lock.Unlock()

	stats := memory.Stats{
		CurrentSize:     i.current,
		HighWatermark:   i.high,
		ActualSize:      i.current,
		AllocationCount: uint64(len(i.records)),
	}

	if a, ok := As[actualSizer](i.base); ok {
		stats.ActualSize = a.ActualSize()
	} else if r, ok := i.base.(memory.Introspector); ok {
		stats.ActualSize = r.Stats().ActualSize
	}

	return stats
}

// Records returns the live allocations, ordered by address.
func (i *Introspected) Records() []memory.AllocationRecord {
	i.lock.Lock()
	defer i.lock.Unlock()

	records := make([]memory.AllocationRecord, 0, len(i.records))
	for ptr, size := range i.records {
		records = append(records, memory.AllocationRecord{
			Ptr:         ptr,
			Size:        size,
			AllocatorID: i.base.ID(),
		})
	}
	sort.Slice(records, func(a, b int) bool {
		return records[a].Ptr < records[b].Ptr
	})

	return records
}

// Describe implements the prometheus.Collector interface.
func (i *Introspected) Describe(ch chan<- *prometheus.Desc) {
	ch <- i.descs.current
	ch <- i.descs.high
	ch <- i.descs.actual
	ch <- i.descs.count
}

// Collect implements the prometheus.Collector interface.
func (i *Introspected) Collect(ch chan<- prometheus.Metric) {
	stats := i.Stats()
	ch <- prometheus.MustNewConstMetric(i.descs.current, prometheus.GaugeValue, float64(stats.CurrentSize))
	ch <- prometheus.MustNewConstMetric(i.descs.high, prometheus.GaugeValue, float64(stats.HighWatermark))
	ch <- prometheus.MustNewConstMetric(i.descs.actual, prometheus.GaugeValue, float64(stats.ActualSize))
	ch <- prometheus.MustNewConstMetric(i.descs.count, prometheus.GaugeValue, float64(stats.AllocationCount))
}
