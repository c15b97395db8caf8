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

package memory

import "fmt"

var (
	ErrNotFound             = fmt.Errorf("memory: not found")
	ErrDuplicateName        = fmt.Errorf("memory: duplicate name")
	ErrOutOfMemory          = fmt.Errorf("memory: out of memory")
	ErrInvalidSize          = fmt.Errorf("memory: invalid size")
	ErrInvalidPointer       = fmt.Errorf("memory: invalid pointer")
	ErrUnresolvedReference  = fmt.Errorf("memory: unresolved reference")
	ErrUnsupportedOperation = fmt.Errorf("memory: unsupported operation")
	ErrWrongKind            = fmt.Errorf("memory: wrong kind of resource")
	ErrInvalidArgument      = fmt.Errorf("memory: invalid argument")
	ErrFailedOption         = fmt.Errorf("memory: failed to apply option")
	ErrClosed               = fmt.Errorf("memory: already closed")
)
