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

// Package strategy implements allocation strategies: named allocators
// stacked on top of a memory resource or another strategy.
//
// Pools (FixedPool, DynamicPool, MixedPool, SlotPool) and the Monotonic
// arena obtain large blocks of memory from their parent and sub-allocate
// them. Decorators (ThreadSafe, Advisor, SizeLimiter and the
// introspection wrapper) add behavior around their parent without
// managing memory themselves.
//
// Strategies are not safe for concurrent use unless wrapped in a
// ThreadSafe allocator.
package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	logger "github.com/containers/memstrat/pkg/log"
	"github.com/containers/memstrat/pkg/memory"
)

// Kind identifies an allocation strategy.
type Kind int

const (
	KindUnknown Kind = iota
	KindFixedPool
	KindDynamicPool
	KindMixedPool
	KindSlotPool
	KindMonotonic
	KindThreadSafe
	KindAdvisor
	KindSizeLimiter
)

var (
	kindToString = map[Kind]string{
		KindUnknown:     "unknown",
		KindFixedPool:   "fixed-pool",
		KindDynamicPool: "dynamic-pool",
		KindMixedPool:   "mixed-pool",
		KindSlotPool:    "slot-pool",
		KindMonotonic:   "monotonic",
		KindThreadSafe:  "thread-safe",
		KindAdvisor:     "advisor",
		KindSizeLimiter: "size-limiter",
	}
	stringToKind = map[string]Kind{}
)

var log = logger.Get("strategy")

func init() {
	for k, str := range kindToString {
		stringToKind[str] = k
	}
}

// ParseKind parses the given string into a Kind.
func ParseKind(str string) (Kind, error) {
	if k, ok := stringToKind[strings.ToLower(str)]; ok && k != KindUnknown {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: unknown strategy %q", memory.ErrInvalidArgument, str)
}

func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("%%!(strategy:Bad-Kind %d)", k)
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

// named provides the identity of a strategy built over a parent.
type named struct {
	name   string
	id     int
	parent memory.Strategy
}

func (n *named) Name() string {
	return n.name
}

func (n *named) ID() int {
	return n.id
}

func (n *named) Traits() memory.Traits {
	return n.parent.Traits()
}

// Parent returns the strategy memory is obtained from.
func (n *named) Parent() memory.Strategy {
	return n.parent
}

// decorator provides the identity of a strategy wrapping another one.
type decorator struct {
	name string
	id   int
	base memory.Strategy
}

func (d *decorator) Name() string {
	return d.name
}

func (d *decorator) ID() int {
	return d.id
}

func (d *decorator) Traits() memory.Traits {
	return d.base.Traits()
}

// Unwrap returns the wrapped strategy.
func (d *decorator) Unwrap() memory.Strategy {
	return d.base
}

// Coalesce coalesces s, or the first strategy it wraps which supports
// coalescing. It fails with ErrUnsupportedOperation if there is none.
func Coalesce(s memory.Strategy) error {
	for cur := s; cur != nil; {
		if c, ok := cur.(memory.Coalescer); ok {
			return c.Coalesce()
		}
		w, ok := cur.(memory.Wrapper)
		if !ok {
			break
		}
		cur = w.Unwrap()
	}
	return notCoalescable(s)
}

// As unwraps decorators around s until it finds a T.
func As[T any](s memory.Strategy) (T, bool) {
	for s != nil {
		if t, ok := s.(T); ok {
			return t, true
		}
		w, ok := s.(memory.Wrapper)
		if !ok {
			break
		}
		s = w.Unwrap()
	}
	var none T
	return none, false
}

// Close closes s if it holds memory from its parent.
func Close(s memory.Strategy) error {
	if c, ok := s.(memory.Closer); ok {
		return c.Close()
	}
	return nil
}

func notCoalescable(s memory.Strategy) error {
	name := "<nil>"
	if s != nil {
		name = s.Name()
	}
	return fmt.Errorf("%w: %s is not coalescable", memory.ErrUnsupportedOperation, name)
}

func invalidPointer(s memory.Strategy, ptr uintptr) error {
	return fmt.Errorf("%w: %s: %#x", memory.ErrInvalidPointer, s.Name(), ptr)
}

func outOfMemory(s memory.Strategy, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", memory.ErrOutOfMemory, s.Name(), fmt.Sprintf(format, args...))
}

func invalidArgument(name string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", memory.ErrInvalidArgument, name, fmt.Sprintf(format, args...))
}

func invalidSize(s memory.Strategy, size, limit uint64) error {
	return fmt.Errorf("%w: %s: request of %s exceeds %s", memory.ErrInvalidSize,
		s.Name(), memory.PrettySize(size), memory.PrettySize(limit))
}
