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

package metrics_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/containers/memstrat/pkg/metrics"
	"github.com/containers/memstrat/pkg/metrics/collectors"
)

func TestMetricsDescriptors(t *testing.T) {
	r := metrics.NewRegistry()
	require.NotNil(t, r, "non-nil registry")

	newTestGauge(t, r, "test1", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test2", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test3", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))

	descriptors, _ := collect(t, newTestGatherer(t, r, "*"))
	require.True(t, descriptors.HasEntry("test1", "gauge"))
	require.True(t, descriptors.HasEntry("test2", "gauge"))
	require.True(t, descriptors.HasEntry("test3", "gauge"))
}

func TestPrefixedDefaultCollection(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "test1")
	newTestGauge(t, r, "test2")

	_, collected := collect(t, newTestGatherer(t, r, "*"))
	require.Equal(t, "0", collected.GetValue("default_test1"))
	require.Equal(t, "0", collected.GetValue("default_test2"))
}

func TestNamespacedCollection(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "test1", metrics.WithGroup("group1"))
	newTestGauge(t, r, "test2", metrics.WithGroup("group1"),
		metrics.WithCollectorOptions(metrics.WithoutNamespace()))

	g, err := r.NewGatherer(metrics.WithNamespace("ns"), metrics.WithMetrics([]string{"*"}))
	require.NoError(t, err)

	_, collected := collect(t, g)
	require.True(t, collected.HasEntry("ns_group1_test1"))
	require.True(t, collected.HasEntry("group1_test2"))
}

func TestUpdatedMetricsCollection(t *testing.T) {
	r := metrics.NewRegistry()

	g1 := newTestGauge(t, r, "test1", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	g2 := newTestGauge(t, r, "test2", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))

	g := newTestGatherer(t, r, "*")

	_, collected := collect(t, g)
	require.Equal(t, "0", collected.GetValue("test1"))
	require.Equal(t, "0", collected.GetValue("test2"))

	g1.gauge.Inc()
	g2.gauge.Set(5)

	_, collected = collect(t, g)
	require.Equal(t, "1", collected.GetValue("test1"))
	require.Equal(t, "5", collected.GetValue("test2"))

	g1.gauge.Set(4)
	g2.gauge.Dec()

	_, collected = collect(t, g)
	require.Equal(t, "4", collected.GetValue("test1"))
	require.Equal(t, "4", collected.GetValue("test2"))
}

func TestMetricsConfiguration(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "test1", metrics.WithGroup("group1"))
	newTestGauge(t, r, "test2", metrics.WithGroup("group1"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test3", metrics.WithGroup("group2"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test4", metrics.WithGroup("group2"))

	described, collected := collect(t, newTestGatherer(t, r, "test1", "group2"))
	require.True(t, described.HasEntry("group1_test1", "gauge"))
	require.True(t, described.HasEntry("test3", "gauge"))
	require.True(t, described.HasEntry("group2_test4", "gauge"))

	require.True(t, collected.HasEntry("group1_test1"), "group1_test1 collected")
	require.False(t, collected.HasEntry("test2"), "test2 not collected")
	require.True(t, collected.HasEntry("test3"), "test3 collected")
	require.True(t, collected.HasEntry("group2_test4"), "group2_test4 collected")
}

func TestUnmatchedGlob(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "test1")

	_, err := r.NewGatherer(metrics.WithMetrics([]string{"test1", "nothing*"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "nothing*")
}

func TestRegistration(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "test1", metrics.WithGroup("group1"))
	err := r.Register("test1", prometheus.NewGauge(prometheus.GaugeOpts{Name: "x", Help: "x"}),
		metrics.WithGroup("group1"))
	require.Error(t, err, "duplicate collector name in group")

	newTestGauge(t, r, "test1", metrics.WithGroup("group2"))
	require.Equal(t, []string{"group1/test1", "group2/test1"}, r.Collectors())

	require.True(t, r.Unregister("group1", "test1"))
	require.False(t, r.Unregister("group1", "test1"))
	require.Equal(t, []string{"group2/test1"}, r.Collectors())
}

func TestStandardCollectors(t *testing.T) {
	r := metrics.NewRegistry()
	require.NoError(t, collectors.RegisterStandard(r))

	described, _ := collect(t, newTestGatherer(t, r, collectors.StandardGroup))
	require.True(t, described.HasEntry("version_info", "gauge"))
	require.True(t, described.HasEntry("go_goroutines", "gauge"))
}

type testGauge struct {
	name  string
	gauge prometheus.Gauge
}

func newTestGauge(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) *testGauge {
	g := &testGauge{
		name: name,
	}
	g.gauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: name,
			Help: "Test gauge " + name,
		},
	)

	require.NoError(t, r.Register(g.name, g.gauge, options...))

	return g
}

func newTestGatherer(t *testing.T, r *metrics.Registry, enabled ...string) *metrics.Gatherer {
	g, err := r.NewGatherer(metrics.WithMetrics(enabled))
	require.NoError(t, err)
	require.NotNil(t, g)
	return g
}

type described []string

func (d described) HasEntry(name, kind string) bool {
	for _, e := range d {
		split := strings.Split(e, " ")
		if len(split) >= 2 && split[0] == name && split[1] == kind {
			return true
		}
	}

	return false
}

type collected []string

func (c collected) HasEntry(name string) bool {
	for _, e := range c {
		split := strings.SplitN(e, " ", 2)
		if len(split) > 0 && split[0] == name {
			return true
		}
	}

	return false
}

func (c collected) GetValue(name string) string {
	for _, e := range c {
		split := strings.SplitN(e, " ", 2)
		if len(split) == 2 && split[0] == name {
			return split[1]
		}
	}

	return ""
}

func collect(t *testing.T, g *metrics.Gatherer) (described, collected) {
	buf := &bytes.Buffer{}
	require.NoError(t, metrics.WriteText(buf, g))

	var (
		types   []string
		values  []string
		scanner = bufio.NewScanner(buf)
	)

	for scanner.Scan() {
		e := scanner.Text()

		switch {
		case strings.HasPrefix(e, "# HELP"):
		case strings.HasPrefix(e, "# TYPE "):
			types = append(types, strings.TrimPrefix(e, "# TYPE "))
		default:
			values = append(values, e)
		}
	}

	return described(types), collected(values)
}
