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
	"time"

	logger "github.com/containers/memstrat/pkg/log"
	"github.com/containers/memstrat/pkg/memory"
)

// Advisor applies a placement or access hint to every allocation made
// through it. The hint targets either the given device or the device of
// an accessing allocator.
type Advisor struct {
	decorator
	advice    memory.Advice
	accessing memory.Strategy
	device    int
	target    memory.Advisable
}

var (
	_ memory.Strategy = &Advisor{}

	adviceLog = logger.RateLimit(log, logger.Rate{Limit: logger.Every(time.Second)})
)

// NewAdvisor wraps base, applying advice to its allocations. If accessing
// is not nil, the advice targets its device. Otherwise device is used,
// with -1 meaning the device of the backing resource.
func NewAdvisor(name string, id int, base memory.Strategy, advice memory.Advice, accessing memory.Strategy, device int) (*Advisor, error) {
	if !advice.IsValid() {
		return nil, invalidArgument(name, "invalid advice %d", advice)
	}

	a := &Advisor{
		decorator: decorator{name: name, id: id, base: base},
		advice:    advice,
		accessing: accessing,
		device:    device,
	}

	if accessing != nil {
		a.device = accessing.Traits().ID
	}

	if r, ok := memory.ResourceOf(base); ok {
		if target, ok := r.(memory.Advisable); ok {
			a.target = target
		}
	}
	if a.target == nil {
		log.Warn("%s: resource of %s does not accept advice, %s will be ignored",
			name, base.Name(), advice)
	}

	log.Debug("%s: created advisor (%s, device %d) over %s", name, advice, a.device, base.Name())

	return a, nil
}

// Advice returns the advice applied to allocations.
func (a *Advisor) Advice() memory.Advice {
	return a.advice
}

// Device returns the device id the advice targets.
func (a *Advisor) Device() int {
	return a.device
}

// Accessing returns the accessing allocator, if any.
func (a *Advisor) Accessing() memory.Strategy {
	return a.accessing
}

func (a *Advisor) Allocate(size uint64) (uintptr, error) {
	ptr, err := a.base.Allocate(size)
	if err != nil {
		return 0, err
	}

	if a.target != nil && a.advice != memory.AdviceNone {
		if err := a.target.Advise(ptr, size, a.advice, a.device); err != nil {
			adviceLog.Warn("%s: failed to apply %s to %#x+%d: %v", a.name, a.advice, ptr, size, err)
		}
	}

	return ptr, nil
}

func (a *Advisor) Deallocate(ptr uintptr) error {
	return a.base.Deallocate(ptr)
}

func (a *Advisor) Release() error {
	return a.base.Release()
}
