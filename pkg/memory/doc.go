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

// Package memory defines the common data model of composable memory
// allocators: platforms, resource traits, the Strategy contract every
// resource and allocation strategy implements, and the error taxonomy
// shared by all of them.
//
// # Resources, Strategies
//
// A Resource is a leaf memory provider, for instance the host heap or
// a device address space. A Strategy is anything which can allocate and
// deallocate memory. Every Resource is also a Strategy. Allocation
// strategies, for instance pools or size limiters, are Strategies which
// are built on top of another Strategy, their parent. Strategies which
// only add behavior around their parent without managing memory of
// their own are decorators and can be unwrapped.
//
// Addresses are represented as uintptr values. Strategies never
// dereference the memory they hand out, so an address might as well
// refer to memory which is not accessible to the host at all.
package memory
