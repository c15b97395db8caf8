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

// Package replay rebuilds a graph of allocators and re-executes a logged
// sequence of allocator operations against a ResourceManager.
//
// A Manager collects Operations in the order they are declared. Arguments
// referring to allocators or earlier allocations are captured when an
// Operation is declared but resolved only when it is executed, so an
// operation may refer to an allocator created by an earlier operation
// which has not run yet.
package replay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/containers/memstrat/pkg/memory"
)

// Kind is the kind of a replayed operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindMakeResource
	KindMakeAdvisor
	KindMakeFixedPool
	KindMakeDynamicPool
	KindMakeMixedPool
	KindMakeMonotonic
	KindMakeSlotPool
	KindMakeSizeLimiter
	KindMakeThreadSafe
	KindAllocate
	KindDeallocate
	KindCoalesce
	KindRelease
)

var (
	kindToString = map[Kind]string{
		KindUnknown:         "unknown",
		KindMakeResource:    "make-resource",
		KindMakeAdvisor:     "make-advisor",
		KindMakeFixedPool:   "make-fixed-pool",
		KindMakeDynamicPool: "make-dynamic-pool",
		KindMakeMixedPool:   "make-mixed-pool",
		KindMakeMonotonic:   "make-monotonic",
		KindMakeSlotPool:    "make-slot-pool",
		KindMakeSizeLimiter: "make-size-limiter",
		KindMakeThreadSafe:  "make-thread-safe",
		KindAllocate:        "allocate",
		KindDeallocate:      "deallocate",
		KindCoalesce:        "coalesce",
		KindRelease:         "release",
	}
	stringToKind = map[string]Kind{}
)

func init() {
	for k, str := range kindToString {
		stringToKind[str] = k
	}
}

// ParseKind parses the given string into a Kind.
func ParseKind(str string) (Kind, error) {
	if k, ok := stringToKind[strings.ToLower(strings.TrimSpace(str))]; ok && k != KindUnknown {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: unknown operation %q", memory.ErrInvalidArgument, str)
}

func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("%%!(replay:Bad-Kind %d)", k)
}

// IsMake returns true for operations which create an allocator.
func (k Kind) IsMake() bool {
	return k >= KindMakeResource && k <= KindMakeThreadSafe
}

// MarshalJSON is the json.Marshaller for Kind.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON is the json.Unmarshaller for Kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("failed to unmarshal Kind: %w", err)
	}
	kind, err := ParseKind(str)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// State is the lifecycle state of an Operation.
type State int

const (
	// Unbound operations have not been declared through a Manager.
	Unbound State = iota
	// Bound operations have their arguments captured.
	Bound
	// Executed operations have been run successfully.
	Executed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Executed:
		return "executed"
	}
	return fmt.Sprintf("%%!(replay:Bad-State %d)", s)
}
