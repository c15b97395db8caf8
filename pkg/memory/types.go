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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Platform is the kind of memory a resource provides.
type Platform int

const (
	PlatformUndefined Platform = iota
	PlatformHost               // ordinary host heap memory
	PlatformDevice             // device-local memory, not host accessible
	PlatformPinned             // page-locked host memory
	PlatformUnified            // unified/managed memory, migrated on demand
	PlatformFile               // memory mapped files
)

var (
	platformToString = map[Platform]string{
		PlatformUndefined: "undefined",
		PlatformHost:      "host",
		PlatformDevice:    "device",
		PlatformPinned:    "pinned",
		PlatformUnified:   "unified",
		PlatformFile:      "file",
	}
	stringToPlatform = map[string]Platform{
		"undefined": PlatformUndefined,
		"host":      PlatformHost,
		"device":    PlatformDevice,
		"pinned":    PlatformPinned,
		"unified":   PlatformUnified,
		"um":        PlatformUnified,
		"file":      PlatformFile,
	}
)

// ParsePlatform parses the given string into a Platform.
func ParsePlatform(str string) (Platform, error) {
	if p, ok := stringToPlatform[strings.ToLower(str)]; ok {
		return p, nil
	}
	return PlatformUndefined, fmt.Errorf("%w: unknown platform %q", ErrInvalidArgument, str)
}

// String returns a string representation of the Platform.
func (p Platform) String() string {
	if str, ok := platformToString[p]; ok {
		return str
	}
	return fmt.Sprintf("%%!(memory:Bad-Platform %d)", p)
}

// IsHostAccessible returns true if the host can access memory of the Platform.
func (p Platform) IsHostAccessible() bool {
	switch p {
	case PlatformHost, PlatformPinned, PlatformUnified, PlatformFile:
		return true
	}
	return false
}

// MarshalJSON is the json.Marshaller for Platform.
func (p Platform) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON is the json.Unmarshaller for Platform.
func (p *Platform) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("failed to unmarshal Platform: %w", err)
	}
	platform, err := ParsePlatform(str)
	if err != nil {
		return err
	}
	*p = platform
	return nil
}

// Access is a bit mask of permitted memory accesses.
type Access int

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessExec

	AccessNone      Access = 0
	AccessReadWrite        = AccessRead | AccessWrite
)

// String returns an 'ls -l'-like representation of the Access.
func (a Access) String() string {
	b := []byte("---")
	if a&AccessRead != 0 {
		b[0] = 'r'
	}
	if a&AccessWrite != 0 {
		b[1] = 'w'
	}
	if a&AccessExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Traits describe a memory resource. They are immutable once the resource
// is created. Size is the largest single allocation the resource serves,
// 0 means no limit.
type Traits struct {
	Platform Platform `json:"platform"`
	Access   Access   `json:"access"`
	Resident bool     `json:"resident,omitempty"`
	Unified  bool     `json:"unified,omitempty"`
	ID       int      `json:"id"`
	Size     uint64   `json:"size,omitempty"`
}

func (t Traits) String() string {
	kind := t.Platform.String()
	if t.Unified {
		kind += "/unified"
	}
	if t.Resident {
		kind += "/resident"
	}
	limit := "unlimited"
	if t.Size != 0 {
		limit = PrettySize(t.Size)
	}
	return fmt.Sprintf("%s#%d %s (max %s)", kind, t.ID, t.Access, limit)
}

// Advice is a placement or access hint for allocated memory.
type Advice int

const (
	AdviceNone Advice = iota
	AdviceReadMostly
	AdviceUnsetReadMostly
	AdvicePreferredLocation
	AdviceUnsetPreferredLocation
	AdviceAccessedBy
	AdviceUnsetAccessedBy
)

var (
	adviceToString = map[Advice]string{
		AdviceNone:                   "NONE",
		AdviceReadMostly:             "SET_READ_MOSTLY",
		AdviceUnsetReadMostly:        "UNSET_READ_MOSTLY",
		AdvicePreferredLocation:      "SET_PREFERRED_LOCATION",
		AdviceUnsetPreferredLocation: "UNSET_PREFERRED_LOCATION",
		AdviceAccessedBy:             "SET_ACCESSED_BY",
		AdviceUnsetAccessedBy:        "UNSET_ACCESSED_BY",
	}
	stringToAdvice = map[string]Advice{}
)

func init() {
	for a, str := range adviceToString {
		stringToAdvice[str] = a
	}
}

// ParseAdvice parses the given advice operation name.
func ParseAdvice(str string) (Advice, error) {
	if a, ok := stringToAdvice[strings.ToUpper(strings.TrimSpace(str))]; ok {
		return a, nil
	}
	return AdviceNone, fmt.Errorf("%w: unknown advice %q", ErrInvalidArgument, str)
}

// IsValid returns true if the advice is known.
func (a Advice) IsValid() bool {
	_, ok := adviceToString[a]
	return ok
}

func (a Advice) String() string {
	if str, ok := adviceToString[a]; ok {
		return str
	}
	return fmt.Sprintf("%%!(memory:Bad-Advice %d)", a)
}

// MarshalJSON is the json.Marshaller for Advice.
func (a Advice) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON is the json.Unmarshaller for Advice.
func (a *Advice) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("failed to unmarshal Advice: %w", err)
	}
	advice, err := ParseAdvice(str)
	if err != nil {
		return err
	}
	*a = advice
	return nil
}
