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

// Package v1alpha1 holds the configuration of the replay driver.
package v1alpha1

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/containers/memstrat/pkg/apis/config/v1alpha1/log"
	"github.com/containers/memstrat/pkg/apis/config/v1alpha1/metrics"
	"github.com/containers/memstrat/pkg/memory"
)

// ReplayConfig is the configuration of the replay driver.
// +k8s:deepcopy-gen=true
type ReplayConfig struct {
	// Log configures logging.
	// +optional
	Log log.Config `json:"log,omitempty"`
	// Resources lists the resources created before replaying. By default
	// all built-in resources are created.
	// +optional
	Resources []string `json:"resources,omitempty"`
	// Metrics selects the metrics dumped with allocator statistics.
	// +optional
	Metrics metrics.Config `json:"metrics,omitempty"`
	// FileDir is the directory for files backing FILE allocations.
	// +optional
	FileDir string `json:"fileDir,omitempty"`
	// DeviceCapacity is the capacity of each simulated device, for
	// instance "16Gi".
	// +optional
	DeviceCapacity string `json:"deviceCapacity,omitempty"`
}

// DefaultReplayConfig returns the configuration used without a
// configuration file.
func DefaultReplayConfig() *ReplayConfig {
	return &ReplayConfig{
		Log: log.Config{
			Level: "info",
		},
		Metrics: metrics.Config{
			Enabled: []string{"allocators/*"},
		},
	}
}

// ReadReplayConfig reads a YAML or JSON configuration file. Settings
// missing from the file keep their defaults.
func ReadReplayConfig(path string) (*ReplayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultReplayConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *ReplayConfig) Validate() error {
	if c.DeviceCapacity != "" {
		if _, err := c.DeviceCapacityBytes(); err != nil {
			return err
		}
	}
	if c.FileDir != "" {
		if info, err := os.Stat(c.FileDir); err != nil || !info.IsDir() {
			return fmt.Errorf("%w: fileDir %q is not a directory", memory.ErrInvalidArgument, c.FileDir)
		}
	}
	return nil
}

// DeviceCapacityBytes returns the configured device capacity, or 0 if
// the default is used.
func (c *ReplayConfig) DeviceCapacityBytes() (uint64, error) {
	if c.DeviceCapacity == "" {
		return 0, nil
	}
	capacity, err := memory.ParseSize(c.DeviceCapacity)
	if err != nil {
		return 0, err
	}
	if capacity == 0 {
		return 0, fmt.Errorf("%w: zero device capacity", memory.ErrInvalidArgument)
	}
	return capacity, nil
}
