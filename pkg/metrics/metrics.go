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

package metrics

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	logger "github.com/containers/memstrat/pkg/log"
)

const (
	// DefaultGroup is the group of collectors registered without one.
	DefaultGroup = "default"
)

var log = logger.Get("metrics")

// Collector is a prometheus.Collector registered under a group and name.
// Its metrics are prefixed with the group and the gatherer namespace
// unless these are turned off with CollectorOptions.
type Collector struct {
	prometheus.Collector
	group      string
	name       string
	enabled    bool
	namespaced bool
	grouped    bool
}

// CollectorOption is an option for a Collector.
type CollectorOption func(*Collector)

// WithoutNamespace turns off gatherer namespace prefixing for a collector.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.namespaced = false
	}
}

// WithoutSubsystem turns off group prefixing for a collector.
func WithoutSubsystem() CollectorOption {
	return func(c *Collector) {
		c.grouped = false
	}
}

// Name returns the group/name of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// Enabled returns true if the collector is enabled.
func (c *Collector) Enabled() bool {
	return c.enabled
}

// Matches returns true if glob matches the group, name or group/name of
// the collector.
func (c *Collector) Matches(glob string) bool {
	for _, str := range []string{c.group, c.name, c.Name()} {
		ok, err := path.Match(glob, str)
		if err != nil {
			log.Warn("invalid glob pattern %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Collect implements prometheus.Collector. Disabled collectors collect nothing.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.enabled {
		c.Collector.Collect(ch)
	}
}

func (c *Collector) prefix(namespace string) string {
	var parts []string
	if c.namespaced && namespace != "" {
		parts = append(parts, namespace)
	}
	if c.grouped {
		parts = append(parts, c.group)
	}
	return strings.Join(parts, "_")
}

// Registry is a set of collectors. It is safe for concurrent use.
type Registry struct {
	sync.RWMutex
	collectors map[string]*Collector
}

// RegisterOption is an option for registering a collector.
type RegisterOption func(*Collector)

// WithGroup registers a collector in the given group.
func WithGroup(name string) RegisterOption {
	return func(c *Collector) {
		if name != "" {
			c.group = name
		}
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(opts ...CollectorOption) RegisterOption {
	return func(c *Collector) {
		for _, o := range opts {
			o(c)
		}
	}
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[string]*Collector),
	}
}

// Register registers a collector with the registry. Collector names are
// unique within a group.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	c := &Collector{
		Collector:  collector,
		group:      DefaultGroup,
		name:       name,
		enabled:    true,
		namespaced: true,
		grouped:    true,
	}
	for _, o := range opts {
		o(c)
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.collectors[c.Name()]; ok {
		return fmt.Errorf("metrics: collector %q already registered in group %q", name, c.group)
	}
	r.collectors[c.Name()] = c

	log.Debug("registered collector %s", c.Name())

	return nil
}

// Unregister removes the named collector of the given group.
func (r *Registry) Unregister(group, name string) bool {
	if group == "" {
		group = DefaultGroup
	}

	r.Lock()
	defer r.Unlock()

	key := group + "/" + name
	if _, ok := r.collectors[key]; !ok {
		return false
	}
	delete(r.collectors, key)

	log.Debug("unregistered collector %s", key)

	return true
}

// Collectors returns the group/names of all registered collectors, sorted.
func (r *Registry) Collectors() []string {
	r.RLock()
	defer r.RUnlock()
	return r.sortedNames()
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configure enables the collectors matching any of the given globs and
// disables all others. It returns the number of enabled collectors. Globs
// matching no collector are an error.
func (r *Registry) Configure(enabled []string) (int, error) {
	r.Lock()
	defer r.Unlock()

	var (
		matched = make(map[string]bool)
		count   int
	)

	for _, c := range r.collectors {
		c.enabled = false
		for _, glob := range enabled {
			if c.Matches(glob) {
				matched[glob] = true
				c.enabled = true
				count++
				break
			}
		}
	}

	var unmatched []string
	for _, glob := range enabled {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return count, fmt.Errorf("metrics: no collectors match globs %s", strings.Join(unmatched, ", "))
	}

	log.Debug("enabled %d of %d collectors with [%s]", count, len(r.collectors), strings.Join(enabled, ","))

	return count, nil
}

// Gatherer is a prometheus gatherer for the enabled collectors of a registry.
type Gatherer struct {
	*prometheus.Registry
	namespace string
	enabled   []string
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the namespace prefix of gathered metrics.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithMetrics sets the globs selecting the collectors gathered.
func WithMetrics(enabled []string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = enabled
	}
}

// NewGatherer configures the registry with the enabled collectors of the
// options and creates a gatherer for them.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry: prometheus.NewPedanticRegistry(),
	}
	for _, o := range opts {
		o(g)
	}

	if _, err := r.Configure(g.enabled); err != nil {
		return nil, err
	}

	r.RLock()
	defer r.RUnlock()

	for _, name := range r.sortedNames() {
		c := r.collectors[name]
		if !c.enabled {
			continue
		}

		var reg prometheus.Registerer = g.Registry
		if prefix := c.prefix(g.namespace); prefix != "" {
			reg = prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
		}
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: failed to register collector %q: %w", name, err)
		}
	}

	return g, nil
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	return g.Registry.Gather()
}

// WriteText gathers metrics from g and writes them to w in the prometheus
// text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: failed to gather: %w", err)
	}

	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: failed to encode %s: %w", mf.GetName(), err)
		}
	}

	return nil
}
