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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/containers/memstrat/pkg/memory"
	"github.com/containers/memstrat/pkg/memory/resource"
	"github.com/containers/memstrat/pkg/memory/strategy"
)

// Record is a single serialized trace entry.
type Record struct {
	Kind          Kind   `json:"kind"`
	Introspection bool   `json:"introspection,omitempty"`
	Name          string `json:"name,omitempty"`
	Base          string `json:"base,omitempty"`

	// Allocator refers to the allocator of an allocate, deallocate or
	// release by name. AllocatorIndex refers to it by creation order.
	Allocator      string  `json:"allocator,omitempty"`
	AllocatorIndex *int    `json:"allocatorIndex,omitempty"`
	Size           Size    `json:"size,omitempty"`
	ID             *uint64 `json:"id,omitempty"`

	// advisor
	Advice    string `json:"advice,omitempty"`
	Accessing string `json:"accessing,omitempty"`
	Device    *int   `json:"device,omitempty"`

	// fixed pool
	ObjectBytes    Size   `json:"objectBytes,omitempty"`
	ObjectsPerPool uint64 `json:"objectsPerPool,omitempty"`

	// dynamic and mixed pools
	InitialAllocSize        Size   `json:"initialAllocSize,omitempty"`
	MinAllocSize            Size   `json:"minAllocSize,omitempty"`
	Alignment               uint64 `json:"alignment,omitempty"`
	Heuristic               string `json:"heuristic,omitempty"`
	SmallestFixedBlockSize  Size   `json:"smallestFixedBlocksize,omitempty"`
	LargestFixedBlockSize   Size   `json:"largestFixedBlocksize,omitempty"`
	MaxFixedBlockSize       Size   `json:"maxFixedBlocksize,omitempty"`
	SizeMultiplier          uint64 `json:"sizeMultiplier,omitempty"`
	DynamicInitialAllocSize Size   `json:"dynamicInitialAllocSize,omitempty"`
	DynamicMinAllocSize     Size   `json:"dynamicMinAllocSize,omitempty"`

	// monotonic, slot pool and size limiter
	Capacity Size `json:"capacity,omitempty"`
	Slots    int  `json:"slots,omitempty"`
	Limit    Size `json:"limit,omitempty"`
}

// Size is a byte count given either as a number or as a string with an
// optional unit suffix, for instance "64Ki".
type Size uint64

// UnmarshalJSON is the json.Unmarshaller for Size.
func (s *Size) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("failed to unmarshal Size: %w", err)
		}
		v, err := memory.ParseSize(str)
		if err != nil {
			return err
		}
		*s = Size(v)
		return nil
	}

	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid size %s", memory.ErrInvalidArgument, data)
	}
	*s = Size(v)
	return nil
}

// ParseTrace reads trace records from r. The trace is either a YAML or JSON
// list of records, or one JSON record per line. In the latter, empty lines
// and lines starting with '#' are ignored.
func ParseTrace(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	if isJSONLines(data) {
		return parseJSONLines(data)
	}

	var records []Record
	if err := yaml.Unmarshal(data, &records, yaml.DisallowUnknownFields); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}

	return records, nil
}

func isJSONLines(data []byte) bool {
	s := bufio.NewScanner(bytes.NewReader(data))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.HasPrefix(line, "{")
	}
	return false
}

func parseJSONLines(data []byte) ([]Record, error) {
	var (
		records []Record
		s       = bufio.NewScanner(bytes.NewReader(data))
		lineNo  = 0
	)

	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for s.Scan() {
		lineNo++
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()

		rec := Record{}
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to parse trace line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}

	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return records, nil
}

// Load declares the operations of the given records in m. Allocators are
// referred to by name or by creation index. Built-in resources referred to
// by name are created on first reference.
func Load(m *Manager, records []Record, opts Options) error {
	l := &loader{
		m:       m,
		opts:    opts,
		indices: make(map[string]int),
	}

	for _, op := range m.Operations() {
		if op.Kind.IsMake() {
			l.indices[op.Name] = l.next
			l.next++
		}
	}

	for i, rec := range records {
		if err := l.load(rec); err != nil {
			return fmt.Errorf("trace record #%d (%s): %w", i, rec.Kind, err)
		}
	}

	log.Info("loaded %d operations from %d trace records", len(m.Operations()), len(records))

	return nil
}

type loader struct {
	m       *Manager
	opts    Options
	indices map[string]int
	next    int
}

func (l *loader) load(rec Record) error {
	if l.opts.UsePool != "" {
		rec = rewritePool(rec, l.opts.UsePool)
	}

	switch k := rec.Kind; {
	case k == KindMakeResource:
		if err := l.declare(rec.Name); err != nil {
			return err
		}
		l.m.MakeResource(rec.Name)
		return nil

	case k.IsMake():
		return l.loadMake(rec)
	}

	if l.opts.SkipOperations {
		return nil
	}

	switch rec.Kind {
	case KindAllocate:
		idx, err := l.allocator(rec)
		if err != nil {
			return err
		}
		l.m.MakeAllocate(idx, uint64(rec.Size))
		if rec.ID != nil {
			return l.m.MakeAllocateCont(*rec.ID)
		}

	case KindDeallocate:
		if rec.ID == nil {
			return fmt.Errorf("%w: deallocate without a logged id", memory.ErrInvalidArgument)
		}
		idx, err := l.allocator(rec)
		if err != nil {
			return err
		}
		l.m.MakeDeallocate(idx, *rec.ID)

	case KindCoalesce:
		name := rec.Name
		if name == "" {
			name = rec.Allocator
		}
		if name == "" {
			return fmt.Errorf("%w: coalesce without an allocator name", memory.ErrInvalidArgument)
		}
		l.m.MakeCoalesce(name)

	case KindRelease:
		idx, err := l.allocator(rec)
		if err != nil {
			return err
		}
		l.m.MakeRelease(idx)

	default:
		return fmt.Errorf("%w: unexpected operation %s", memory.ErrInvalidArgument, rec.Kind)
	}

	return nil
}

func (l *loader) loadMake(rec Record) error {
	if rec.Base == "" {
		return fmt.Errorf("%w: %s without a base allocator", memory.ErrInvalidArgument, rec.Kind)
	}
	if _, ok := l.indices[rec.Base]; !ok {
		if !isBuiltin(rec.Base) {
			return fmt.Errorf("%w: base allocator %q of %q", memory.ErrNotFound, rec.Base, rec.Name)
		}
		if err := l.implicitResource(rec.Base); err != nil {
			return err
		}
	}
	if rec.Accessing != "" {
		if _, ok := l.indices[rec.Accessing]; !ok && !isBuiltin(rec.Accessing) {
			return fmt.Errorf("%w: accessing allocator %q of %q", memory.ErrNotFound, rec.Accessing, rec.Name)
		}
	}

	if err := l.declare(rec.Name); err != nil {
		return err
	}

	m := l.m
	switch rec.Kind {
	case KindMakeAdvisor:
		advice, err := memory.ParseAdvice(rec.Advice)
		if err != nil {
			return err
		}
		device := -1
		if rec.Device != nil {
			device = *rec.Device
		}
		m.MakeAdvisor(rec.Introspection, rec.Name, rec.Base, advice, rec.Accessing, device)

	case KindMakeFixedPool:
		m.MakeFixedPool(rec.Introspection, rec.Name, rec.Base, strategy.FixedPoolConfig{
			ObjectBytes:    uint64(rec.ObjectBytes),
			ObjectsPerPool: rec.ObjectsPerPool,
		})

	case KindMakeDynamicPool:
		h, err := parseHeuristic(rec.Heuristic)
		if err != nil {
			return err
		}
		m.MakeDynamicPool(rec.Introspection, rec.Name, rec.Base, strategy.DynamicPoolConfig{
			InitialSize: uint64(rec.InitialAllocSize),
			MinSize:     uint64(rec.MinAllocSize),
			Alignment:   rec.Alignment,
			Heuristic:   h,
		})

	case KindMakeMixedPool:
		h, err := parseHeuristic(rec.Heuristic)
		if err != nil {
			return err
		}
		m.MakeMixedPool(rec.Introspection, rec.Name, rec.Base, strategy.MixedPoolConfig{
			SmallestFixedBlockSize:  uint64(rec.SmallestFixedBlockSize),
			LargestFixedBlockSize:   uint64(rec.LargestFixedBlockSize),
			MaxFixedBlockSize:       uint64(rec.MaxFixedBlockSize),
			SizeMultiplier:          rec.SizeMultiplier,
			DynamicInitialAllocSize: uint64(rec.DynamicInitialAllocSize),
			DynamicMinAllocSize:     uint64(rec.DynamicMinAllocSize),
			Alignment:               rec.Alignment,
			Heuristic:               h,
		})

	case KindMakeMonotonic:
		m.MakeMonotonic(rec.Introspection, rec.Name, rec.Base, uint64(rec.Capacity))

	case KindMakeSlotPool:
		m.MakeSlotPool(rec.Introspection, rec.Name, rec.Base, rec.Slots)

	case KindMakeSizeLimiter:
		m.MakeSizeLimiter(rec.Introspection, rec.Name, rec.Base, uint64(rec.Limit))

	case KindMakeThreadSafe:
		m.MakeThreadSafe(rec.Introspection, rec.Name, rec.Base)
	}

	return m.MakeAllocatorCont()
}

func (l *loader) declare(name string) error {
	if name == "" {
		return fmt.Errorf("%w: allocator without a name", memory.ErrInvalidArgument)
	}
	if _, ok := l.indices[name]; ok {
		return fmt.Errorf("%w: allocator %q", memory.ErrDuplicateName, name)
	}
	l.indices[name] = l.next
	l.next++
	return nil
}

func (l *loader) implicitResource(name string) error {
	if err := l.declare(name); err != nil {
		return err
	}
	l.m.MakeResource(name)
	log.Debug("implicitly declared resource %s", name)
	return nil
}

func (l *loader) allocator(rec Record) (int, error) {
	if rec.AllocatorIndex != nil {
		idx := *rec.AllocatorIndex
		if idx < 0 || idx >= l.next {
			return 0, fmt.Errorf("%w: allocator #%d", memory.ErrNotFound, idx)
		}
		return idx, nil
	}

	name := rec.Allocator
	if name == "" {
		return 0, fmt.Errorf("%w: %s without an allocator", memory.ErrInvalidArgument, rec.Kind)
	}
	if idx, ok := l.indices[name]; ok {
		return idx, nil
	}
	if !isBuiltin(name) {
		return 0, fmt.Errorf("%w: allocator %q", memory.ErrNotFound, name)
	}
	if err := l.implicitResource(name); err != nil {
		return 0, err
	}

	return l.indices[name], nil
}

func isBuiltin(name string) bool {
	_, err := resource.Lookup(resource.Builtin(), name)
	return err == nil
}

func parseHeuristic(str string) (strategy.Heuristic, error) {
	if str == "" {
		return nil, nil
	}
	return strategy.ParseHeuristic(str)
}

// rewritePool turns pool records into records for the given pool kind,
// carrying over the settings both kinds share.
func rewritePool(rec Record, pool PoolKind) Record {
	switch rec.Kind {
	case KindMakeFixedPool, KindMakeDynamicPool, KindMakeMixedPool:
	default:
		return rec
	}

	var kind Kind
	switch pool {
	case PoolDynamic:
		kind = KindMakeDynamicPool
	case PoolMixed:
		kind = KindMakeMixedPool
	default:
		return rec
	}
	if rec.Kind == kind {
		return rec
	}

	out := Record{
		Kind:          kind,
		Introspection: rec.Introspection,
		Name:          rec.Name,
		Base:          rec.Base,
		Alignment:     rec.Alignment,
		Heuristic:     rec.Heuristic,
	}

	switch {
	case kind == KindMakeDynamicPool && rec.Kind == KindMakeMixedPool:
		out.InitialAllocSize = rec.DynamicInitialAllocSize
		out.MinAllocSize = rec.DynamicMinAllocSize
	case kind == KindMakeMixedPool && rec.Kind == KindMakeDynamicPool:
		out.DynamicInitialAllocSize = rec.InitialAllocSize
		out.DynamicMinAllocSize = rec.MinAllocSize
	}

	log.Debug("using %s instead of %s for %q", kind, rec.Kind, rec.Name)

	return out
}
