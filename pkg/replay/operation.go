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
	"fmt"
	"strings"

	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/strategy"
)

// Operation is a single declared allocator operation. Which fields are
// used depends on its Kind.
type Operation struct {
	Kind  Kind
	State State

	// Introspection selects a recording allocator for make operations.
	Introspection bool
	// Name is the allocator created by make operations, or coalesced.
	Name string
	// Base is the name of the allocator a new allocator is built on.
	Base string
	// Accessing is the name of the allocator an advice targets.
	Accessing string
	// Allocator is the index of the allocator used by allocate,
	// deallocate and release.
	Allocator int
	// Size is the number of bytes to allocate.
	Size uint64
	// LoggedID is the logged allocation id of allocate and deallocate.
	LoggedID    uint64
	HasLoggedID bool
	// Config is the strategy configuration of make operations.
	Config strategy.Config

	// Result is the address an allocate produced.
	Result uintptr
	// Err is the error execution failed with.
	Err error

	alloc *Operation
}

// Allocation returns the allocate operation a deallocate refers to.
func (op *Operation) Allocation() *Operation {
	return op.alloc
}

func (op *Operation) String() string {
	var args []string

	switch k := op.Kind; {
	case k == KindMakeResource:
		args = append(args, op.Name)
	case k.IsMake():
		args = append(args, op.Name, op.Base)
		if op.Accessing != "" {
			args = append(args, "accessing="+op.Accessing)
		}
		if op.Introspection {
			args = append(args, "introspection")
		}
	case k == KindAllocate:
		args = append(args, fmt.Sprintf("#%d", op.Allocator), memory.PrettySize(op.Size))
	case k == KindDeallocate, k == KindRelease:
		args = append(args, fmt.Sprintf("#%d", op.Allocator))
	case k == KindCoalesce:
		args = append(args, op.Name)
	}

	if op.HasLoggedID {
		args = append(args, fmt.Sprintf("id=%d", op.LoggedID))
	}

	return op.Kind.String() + "(" + strings.Join(args, ", ") + ")"
}
