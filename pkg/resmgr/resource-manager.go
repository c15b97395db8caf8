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

// Package resmgr implements the registry of memory resources and
// allocators. A ResourceManager assigns every resource and allocation
// strategy a unique name and id, and hands out Allocator handles for
// them.
package resmgr

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	logger "github.com/containers/memstrat/pkg/log"
	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/resource"
	"github.com/containers/memstrat/pkg/memory/strategy"
	"github.com/containers/memstrat/pkg/metrics"
)

const (
	// MetricsGroup is the metrics group introspected allocators are registered in.
	MetricsGroup = "allocators"
)

// ResourceManager is a registry of named memory resources and allocators.
// It is safe for concurrent use. Entries become visible only once fully
// constructed.
type ResourceManager struct {
	sync.RWMutex
	factories []resource.Factory
	resources []string
	byName    map[string]*entry
	byID      map[int]*entry
	order     []*entry
	devices   map[int]*device
	metrics   *metrics.Registry
	nextID    atomic.Int64
	closed    bool
}

type entry struct {
	strategy memory.Strategy
	intro    *strategy.Introspected
}

type device struct {
	DeviceAllocator
	owner Allocator
}

// Option is an option for a ResourceManager.
type Option func(*ResourceManager) error

// WithFactories sets the resource factories used to create resources.
func WithFactories(factories ...resource.Factory) Option {
	return func(r *ResourceManager) error {
		if len(factories) == 0 {
			return fmt.Errorf("no resource factories given")
		}
		r.factories = factories
		return nil
	}
}

// WithResources sets the resources created along with the ResourceManager.
func WithResources(names ...string) Option {
	return func(r *ResourceManager) error {
		r.resources = names
		return nil
	}
}

// WithMetrics registers introspected allocators with the given registry.
func WithMetrics(registry *metrics.Registry) Option {
	return func(r *ResourceManager) error {
		r.metrics = registry
		return nil
	}
}

var (
	log = logger.Get("resmgr")

	// DefaultResources are the resources created by default.
	DefaultResources = []string{
		resource.HostName,
		resource.PinnedName,
		resource.UnifiedName,
		resource.DeviceName,
		resource.FileName,
	}
)

// New creates a ResourceManager with the given options.
func New(options ...Option) (*ResourceManager, error) {
	r := &ResourceManager{
		factories: resource.Builtin(),
		resources: DefaultResources,
		byName:    make(map[string]*entry),
		byID:      make(map[int]*entry),
		devices:   make(map[int]*device),
	}

	for _, o := range options {
		if err := o(r); err != nil {
			return nil, fmt.Errorf("%w: %w", memory.ErrFailedOption, err)
		}
	}

	for _, name := range r.resources {
		if _, err := r.MakeResource(name); err != nil {
			r.Close()
			return nil, err
		}
	}

	return r, nil
}

// MakeResource creates and registers the named resource using the first
// factory which claims the name.
func (r *ResourceManager) MakeResource(name string) (Allocator, error) {
	f, err := resource.Lookup(r.factories, name)
	if err != nil {
		return Allocator{}, err
	}

	if r.has(name) {
		return Allocator{}, duplicateName(name)
	}

	res, err := f.Create(name, r.newID())
	if err != nil {
		return Allocator{}, fmt.Errorf("failed to create resource %q: %w", name, err)
	}

	if err := r.register(&entry{strategy: res}); err != nil {
		res.Close()
		return Allocator{}, err
	}

	log.Info("created resource %q (#%d, %s)", name, res.ID(), res.Traits())

	return Allocator{s: res}, nil
}

// GetAllocator returns the named allocator or resource. Resources which
// have not been created yet are created on first lookup.
func (r *ResourceManager) GetAllocator(name string) (Allocator, error) {
	if a, ok := r.lookup(name); ok {
		return a, nil
	}

	if _, err := resource.Lookup(r.factories, name); err != nil {
		return Allocator{}, fmt.Errorf("%w: allocator %q", memory.ErrNotFound, name)
	}

	a, err := r.MakeResource(name)
	if errors.Is(err, memory.ErrDuplicateName) {
		if a, ok := r.lookup(name); ok {
			return a, nil
		}
	}

	return a, err
}

// GetAllocatorByID returns the allocator or resource with the given id.
func (r *ResourceManager) GetAllocatorByID(id int) (Allocator, error) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return Allocator{}, fmt.Errorf("%w: allocator #%d", memory.ErrNotFound, id)
	}

	return Allocator{s: e.strategy}, nil
}

// Allocators returns the names of all allocators and resources in the
// order they were created.
func (r *ResourceManager) Allocators() []string {
	r.RLock()
	defer r.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, e := range r.order {
		names = append(names, e.strategy.Name())
	}
	return names
}

// AllocatorOption is an option for creating an allocator.
type AllocatorOption func(*allocatorOptions)

type allocatorOptions struct {
	introspection bool
}

// WithIntrospection selects whether the allocations of an allocator are recorded.
func WithIntrospection(enabled bool) AllocatorOption {
	return func(o *allocatorOptions) {
		o.introspection = enabled
	}
}

// MakeAllocator creates an allocator using the given strategy configuration
// on top of base and registers it by name.
func (r *ResourceManager) MakeAllocator(name string, base Allocator, cfg strategy.Config, options ...AllocatorOption) (Allocator, error) {
	if !base.IsValid() {
		return Allocator{}, fmt.Errorf("%w: invalid base allocator for %q", memory.ErrInvalidArgument, name)
	}

	opts := allocatorOptions{}
	for _, o := range options {
		o(&opts)
	}

	if r.has(name) {
		return Allocator{}, duplicateName(name)
	}

	s, err := cfg.New(name, r.newID(), base.Strategy())
	if err != nil {
		return Allocator{}, fmt.Errorf("failed to create %s allocator %q: %w", cfg.Kind(), name, err)
	}

	e := &entry{strategy: s}
	if opts.introspection {
		e.intro = strategy.Introspect(s)
		e.strategy = e.intro
	}

	if err := r.register(e); err != nil {
		strategy.Close(s)
		return Allocator{}, err
	}

	log.Info("created %s allocator %q (#%d) over %q", cfg.Kind(), name, s.ID(), base.Name())

	return Allocator{s: e.strategy}, nil
}

// MakeFixedPool creates a FixedPool allocator.
func (r *ResourceManager) MakeFixedPool(name string, base Allocator, objectBytes, objectsPerPool uint64, options ...AllocatorOption) (Allocator, error) {
	return r.MakeAllocator(name, base, strategy.FixedPoolConfig{
		ObjectBytes:    objectBytes,
		ObjectsPerPool: objectsPerPool,
	}, options...)
}

// MakeDynamicPool creates a DynamicPool allocator.
func (r *ResourceManager) MakeDynamicPool(name string, base Allocator, cfg strategy.DynamicPoolConfig, options ...AllocatorOption) (Allocator, error) {
	return r.MakeAllocator(name, base, cfg, options...)
}

// MakeMixedPool creates a MixedPool allocator.
func (r *ResourceManager) MakeMixedPool(name string, base Allocator, cfg strategy.MixedPoolConfig, options ...AllocatorOption) (Allocator, error) {
	return r.MakeAllocator(name, base, cfg, options...)
}

// MakeSlotPool creates a SlotPool allocator.
func (r *ResourceManager) MakeSlotPool(name string, base Allocator, slots int, options ...AllocatorOption) (Allocator, error) {
	return r.MakeAllocator(name, base, strategy.SlotPoolConfig{Slots: slots}, options...)
}

// MakeMonotonic creates a Monotonic arena allocator.
func (r *ResourceManager) MakeMonotonic(name string, base Allocator, capacity uint64, options ...AllocatorOption) (Allocator, error) {
	return r.MakeAllocator(name, base, strategy.MonotonicConfig{Capacity: capacity}, options...)
}

// MakeThreadSafe creates a ThreadSafe allocator.
func (r *ResourceManager) MakeThreadSafe(name string, base Allocator, options ...AllocatorOption) (Allocator, error) {
	return r.MakeAllocator(name, base, strategy.ThreadSafeConfig{}, options...)
}

// MakeSizeLimiter creates a SizeLimiter allocator.
func (r *ResourceManager) MakeSizeLimiter(name string, base Allocator, limit uint64, options ...AllocatorOption) (Allocator, error) {
	return r.MakeAllocator(name, base, strategy.SizeLimiterConfig{Limit: limit}, options...)
}

// MakeAdvisor creates an Advisor allocator. If accessing is valid, the
// advice targets its device, otherwise the given device.
func (r *ResourceManager) MakeAdvisor(name string, base Allocator, advice memory.Advice, accessing Allocator, device int, options ...AllocatorOption) (Allocator, error) {
	cfg := strategy.AdvisorConfig{
		Advice: advice,
		Device: device,
	}
	if accessing.IsValid() {
		cfg.Accessing = accessing.Strategy()
	}
	return r.MakeAllocator(name, base, cfg, options...)
}

// Close closes all allocators and resources, most recently created first.
func (r *ResourceManager) Close() error {
	r.Lock()
	defer r.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var result *multierror.Error

	for id, d := range r.devices {
		if err := d.owner.Deallocate(d.Base()); err != nil {
			result = multierror.Append(result, fmt.Errorf("device allocator #%d: %w", id, err))
		}
		delete(r.devices, id)
	}

	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.order[i]
		if e.intro != nil && r.metrics != nil {
			r.metrics.Unregister(MetricsGroup, e.strategy.Name())
		}
		if err := strategy.Close(e.strategy); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.strategy.Name(), err))
		}
	}

	log.Info("closed %d allocators", len(r.order))

	return result.ErrorOrNil()
}

func (r *ResourceManager) newID() int {
	return int(r.nextID.Add(1) - 1)
}

func (r *ResourceManager) has(name string) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.byName[name]
	return ok
}

func (r *ResourceManager) lookup(name string) (Allocator, bool) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return Allocator{}, false
	}
	return Allocator{s: e.strategy}, true
}

func (r *ResourceManager) register(e *entry) error {
	r.Lock()
	defer r.Unlock()

	name := e.strategy.Name()

	if r.closed {
		return fmt.Errorf("%w: resource manager, can't register %q", memory.ErrClosed, name)
	}
	if _, ok := r.byName[name]; ok {
		return duplicateName(name)
	}

	if e.intro != nil && r.metrics != nil {
		if err := r.metrics.Register(name, e.intro, metrics.WithGroup(MetricsGroup)); err != nil {
			log.Warn("failed to register metrics collector for %q: %v", name, err)
		}
	}

	r.byName[name] = e
	r.byID[e.strategy.ID()] = e
	r.order = append(r.order, e)

	return nil
}

func duplicateName(name string) error {
	return fmt.Errorf("%w: allocator %q already exists", memory.ErrDuplicateName, name)
}
