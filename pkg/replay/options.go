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

package replay

import (
	"flag"
	"fmt"
	"strings"

	"github.com/containers/memstrat/pkg/memory"
)

// PoolKind selects the kind of pool used in place of traced pools.
type PoolKind string

const (
	// PoolAsTraced keeps pools as they were traced.
	PoolAsTraced PoolKind = ""
	// PoolDynamic replaces traced pools with dynamic pools.
	PoolDynamic PoolKind = "dynamic"
	// PoolMixed replaces traced pools with mixed pools.
	PoolMixed PoolKind = "mixed"
)

// Set implements flag.Value.
func (p *PoolKind) Set(value string) error {
	switch kind := PoolKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case PoolAsTraced, PoolDynamic, PoolMixed:
		*p = kind
		return nil
	case "list":
		return fmt.Errorf("%w: list pools are not supported", memory.ErrUnsupportedOperation)
	}
	return fmt.Errorf("%w: unknown pool kind %q", memory.ErrInvalidArgument, value)
}

func (p *PoolKind) String() string {
	if p == nil {
		return ""
	}
	return string(*p)
}

// Options control loading and running a replay.
type Options struct {
	// InFile is the trace to replay.
	InFile string
	// TimeRun reports the time taken to run the replayed operations.
	TimeRun bool
	// TimeParse reports the time taken to parse the trace.
	TimeParse bool
	// Info prints the loaded operations instead of running them.
	Info bool
	// Stats dumps allocator statistics after the run.
	Stats bool
	// SkipOperations only creates allocators, skipping allocation
	// operations.
	SkipOperations bool
	// UsePool replaces traced pools with pools of this kind.
	UsePool PoolKind
}

// AddFlags registers command line flags for the options in fs. Options with
// a short name are registered under both names.
func (o *Options) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.InFile, "infile", o.InFile, "trace file to replay")
	fs.StringVar(&o.InFile, "i", o.InFile, "shorthand for -infile")
	fs.BoolVar(&o.TimeRun, "time-run", o.TimeRun, "report the time taken to replay operations")
	fs.BoolVar(&o.TimeRun, "t", o.TimeRun, "shorthand for -time-run")
	fs.BoolVar(&o.TimeParse, "time-parse", o.TimeParse, "report the time taken to parse the trace")
	fs.BoolVar(&o.Info, "info", o.Info, "print the loaded operations and exit")
	fs.BoolVar(&o.Stats, "stats", o.Stats, "dump allocator statistics after the replay")
	fs.BoolVar(&o.Stats, "s", o.Stats, "shorthand for -stats")
	fs.BoolVar(&o.SkipOperations, "skip-operations", o.SkipOperations, "only create allocators")
	fs.Var(&o.UsePool, "use-pool", "replace traced pools with dynamic or mixed pools")
	fs.Var(&o.UsePool, "p", "shorthand for -use-pool")
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.InFile == "" {
		return fmt.Errorf("%w: no trace file given", memory.ErrInvalidArgument)
	}
	return o.UsePool.Set(string(o.UsePool))
}
