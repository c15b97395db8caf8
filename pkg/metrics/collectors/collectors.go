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

package collectors

import (
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	logger "github.com/containers/memstrat/pkg/log"
	"github.com/containers/memstrat/pkg/metrics"
)

const (
	// StandardGroup is the group standard collectors are registered in.
	StandardGroup = "standard"
)

var (
	log = logger.Get("metrics")
)

// NewVersionInfoCollector returns a constant gauge labelled by version.
func NewVersionInfoCollector(v string) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "version_info",
			Help: "A metric with constant '1' value labeled by version.",
			ConstLabels: prometheus.Labels{
				"version": v,
			},
		},
		func() float64 { return 1 },
	)
}

func mainVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "unknown"
}

// RegisterStandard registers the go runtime, process and version info
// collectors with the given registry.
func RegisterStandard(r *metrics.Registry) error {
	var (
		standard = map[string]prometheus.Collector{
			"golang":      collectors.NewGoCollector(),
			"process":     collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			"versioninfo": NewVersionInfoCollector(mainVersion()),
		}
		options = []metrics.RegisterOption{
			metrics.WithGroup(StandardGroup),
			metrics.WithCollectorOptions(
				metrics.WithoutNamespace(),
				metrics.WithoutSubsystem(),
			),
		}
	)

	for name, collector := range standard {
		if err := r.Register(name, collector, options...); err != nil {
			log.Error("failed to register %s collector: %v", name, err)
			return err
		}
	}

	return nil
}
