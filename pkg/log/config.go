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

package log

import (
	"os"
	"sort"
	"strings"

	cfgapi "github.com/containers/memstrat/pkg/apis/config/v1alpha1/log"
	"github.com/containers/memstrat/pkg/log/klogcontrol"
	"github.com/containers/memstrat/pkg/utils"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// debugEnvVar is the environment variable used to seed debugging flags.
	debugEnvVar = "LOGGER_DEBUG"
	// logSourceEnvVar is the environment variable used to seed source prefixing.
	logSourceEnvVar = "LOGGER_LOG_SOURCE"
)

// srcmap tracks debugging settings for sources. The key "*" covers all sources.
type srcmap map[string]bool

var klogctl = klogcontrol.Get()

// parse parses a comma-separated list of [state:]source entries into the map.
// A state carries over to subsequent entries without one, "all" means "*".
func (m *srcmap) parse(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}

	state := ""
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry == "" {
			continue
		}

		src := entry
		if st, s, ok := strings.Cut(entry, ":"); ok {
			if strings.Contains(s, ":") {
				return loggerError("invalid state spec '%s' in source map", entry)
			}
			state, src = strings.TrimSpace(st), strings.TrimSpace(s)
		}
		if src == "all" {
			src = "*"
		}

		enabled := true
		if state != "" {
			on, err := utils.ParseEnabled(state)
			if err != nil {
				return loggerError("invalid state '%s' in source map", state)
			}
			enabled = on
		}
		(*m)[src] = enabled
	}

	return nil
}

// enabled checks if debugging is enabled for the source.
func (m srcmap) enabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	return m["*"]
}

// String returns a string representation of the srcmap, parseable by parse.
func (m srcmap) String() string {
	var on, off []string
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	var parts []string
	if len(on) > 0 {
		parts = append(parts, "on:"+strings.Join(on, ","))
	}
	if len(off) > 0 {
		parts = append(parts, "off:"+strings.Join(off, ","))
	}
	return strings.Join(parts, ",")
}

// ParseLevel parses the name of a logging level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return DefaultLevel, loggerError("invalid logging level %q", name)
}

// Configure updates the logging configuration.
func Configure(cfg *cfgapi.Config) error {
	deflog.Debug("logger configuration update %+v", cfg)

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	debugFlags := make(srcmap)
	for _, value := range cfg.Debug {
		if err := debugFlags.parse(value); err != nil {
			return loggerError("failed to parse debug setting %q: %v", value, err)
		}
	}

	prefix := cfg.LogSource
	if toStderr := cfg.Klog.Logtostderr; toStderr != nil && *toStderr {
		if skipHeaders := cfg.Klog.Skip_headers; skipHeaders != nil && *skipHeaders {
			prefix = true
		}
	}

	log.Lock()
	log.level = level
	log.setDbgMap(debugFlags)
	log.setPrefix(prefix)
	log.Unlock()

	return klogctl.Configure(&cfg.Klog)
}

// Initialize debug logging from the environment.
func init() {
	cfg := &cfgapi.Config{
		LogSource: os.Getenv(logSourceEnvVar) != "",
	}
	if value, ok := os.LookupEnv(debugEnvVar); ok {
		debugFlags := make(srcmap)
		if err := debugFlags.parse(value); err != nil {
			Default().Error("failed to parse $%s %q: %v", debugEnvVar, value, err)
		} else {
			cfg.Debug = []string{debugFlags.String()}
		}
	}

	if err := Configure(cfg); err != nil {
		Default().Error("initial logging configuration failed: %v", err)
	}
}
