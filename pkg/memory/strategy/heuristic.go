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
	"fmt"
	"strconv"
	"strings"

	"github.com/containers/memstrat/pkg/memory"
)

// PoolUsage is the usage summary a coalescing Heuristic decides on.
type PoolUsage struct {
	// ActualSize is the number of bytes obtained from the parent.
	ActualSize uint64
	// CurrentSize is the number of bytes in use.
	CurrentSize uint64
	// ReleasableSize is the number of bytes in completely free slabs.
	ReleasableSize uint64
	// Slabs is the number of slabs in the pool.
	Slabs int
	// FreeSlabs is the number of completely free slabs.
	FreeSlabs int
}

// Heuristic decides whether a DynamicPool should coalesce itself after
// a deallocation.
type Heuristic interface {
	ShouldCoalesce(PoolUsage) bool
	String() string
}

type percentReleasable int

// PercentReleasable coalesces once at least percent of the pool is
// releasable. Zero disables automatic coalescing.
func PercentReleasable(percent int) Heuristic {
	return percentReleasable(min(max(percent, 0), 100))
}

func (p percentReleasable) ShouldCoalesce(u PoolUsage) bool {
	if p == 0 || u.ActualSize == 0 {
		return false
	}
	// at 100% only a completely free pool coalesces
	return u.ReleasableSize*100 >= uint64(p)*u.ActualSize
}

func (p percentReleasable) String() string {
	return "percent-releasable:" + strconv.Itoa(int(p))
}

type blocksReleasable int

// BlocksReleasable coalesces once at least n slabs are completely free.
// Zero disables automatic coalescing.
func BlocksReleasable(n int) Heuristic {
	return blocksReleasable(max(n, 0))
}

func (b blocksReleasable) ShouldCoalesce(u PoolUsage) bool {
	return b > 0 && u.FreeSlabs >= int(b)
}

func (b blocksReleasable) String() string {
	return "blocks-releasable:" + strconv.Itoa(int(b))
}

// ParseHeuristic parses a heuristic of the form <name>:<value>, where name is
// percent-releasable or blocks-releasable.
func ParseHeuristic(str string) (Heuristic, error) {
	name, value, ok := strings.Cut(strings.TrimSpace(str), ":")
	if !ok {
		return nil, fmt.Errorf("%w: invalid heuristic %q", memory.ErrInvalidArgument, str)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid heuristic value %q", memory.ErrInvalidArgument, str)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "percent-releasable", "percent":
		if n > 100 {
			return nil, fmt.Errorf("%w: invalid heuristic percentage %q", memory.ErrInvalidArgument, str)
		}
		return PercentReleasable(n), nil
	case "blocks-releasable", "blocks":
		return BlocksReleasable(n), nil
	}

	return nil, fmt.Errorf("%w: unknown heuristic %q", memory.ErrInvalidArgument, str)
}
