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

// Package metrics wraps prometheus collectors into a registry of named
// collectors, organized into groups. Gatherers select the collectors they
// export with glob patterns matched against the group, the name or the
// group/name of each collector, and prefix the exported metrics with the
// group and an optional common namespace.
//
// Allocators with introspection register their statistics in a registry
// like this:
//
//	r := metrics.NewRegistry()
//	if err := collectors.RegisterStandard(r); err != nil {
//		return err
//	}
//	rm, err := resmgr.New(resmgr.WithMetrics(r))
//	...
//	g, err := r.NewGatherer(
//		metrics.WithNamespace("replay"),
//		metrics.WithMetrics([]string{"allocators/*", "standard/golang"}),
//	)
//	if err != nil {
//		return err
//	}
//	return metrics.WriteText(os.Stdout, g)
package metrics
