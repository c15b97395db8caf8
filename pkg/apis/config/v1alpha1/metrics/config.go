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

// Config selects the metrics collected.
// +k8s:deepcopy-gen=true
type Config struct {
	// Enabled lists the metrics to collect as group/name globs, for
	// instance "allocators/*" or "standard/*".
	// +optional
	// +kubebuilder:default={"allocators/*"}
	Enabled []string `json:"enabled,omitempty"`
	// Namespace is prepended to the names of all collected metrics.
	// +optional
	Namespace string `json:"namespace,omitempty"`
}
