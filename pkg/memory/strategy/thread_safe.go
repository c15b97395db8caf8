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
	"sync"

	"github.com/containers/memstrat/pkg/memory"
)

// ThreadSafe serializes all calls to the strategy it wraps.
type ThreadSafe struct {
	decorator
	lock sync.Mutex
}

var (
	_ memory.Strategy  = &ThreadSafe{}
	_ memory.Coalescer = &ThreadSafe{}
)

// NewThreadSafe wraps base for concurrent use.
func NewThreadSafe(name string, id int, base memory.Strategy) *ThreadSafe {
	log.Debug("%s: created thread-safe allocator over %s", name, base.Name())
	return &ThreadSafe{
		decorator: decorator{name: name, id: id, base: base},
	}
}

func (t *ThreadSafe) Allocate(size uint64) (uintptr, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.base.Allocate(size)
}

func (t *ThreadSafe) Deallocate(ptr uintptr) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.base.Deallocate(ptr)
}

func (t *ThreadSafe) Release() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.base.Release()
}

// Coalesce coalesces the wrapped strategy if it supports coalescing.
func (t *ThreadSafe) Coalesce() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return Coalesce(t.base)
}
