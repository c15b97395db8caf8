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
	"github.com/containers/memstrat/pkg/memory"
)

// SizeLimiter rejects any single request larger than its limit.
type SizeLimiter struct {
	decorator
	limit uint64
}

var _ memory.Strategy = &SizeLimiter{}

// NewSizeLimiter wraps base, limiting requests to limit bytes.
func NewSizeLimiter(name string, id int, base memory.Strategy, limit uint64) *SizeLimiter {
	log.Debug("%s: created size limiter of %s over %s", name, memory.PrettySize(limit), base.Name())
	return &SizeLimiter{
		decorator: decorator{name: name, id: id, base: base},
		limit:     limit,
	}
}

// Limit returns the size limit.
func (l *SizeLimiter) Limit() uint64 {
	return l.limit
}

func (l *SizeLimiter) Allocate(size uint64) (uintptr, error) {
	if size > l.limit {
		return 0, outOfMemory(l, "request of %s exceeds limit %s", memory.PrettySize(size),
			memory.PrettySize(l.limit))
	}
	return l.base.Allocate(size)
}

func (l *SizeLimiter) Deallocate(ptr uintptr) error {
	return l.base.Deallocate(ptr)
}

func (l *SizeLimiter) Release() error {
	return l.base.Release()
}
