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

package resource

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/containers/memstrat/pkg/memory"
)

const (
	// FileDirEnvVar overrides the directory of files backing FILE allocations.
	FileDirEnvVar = "MEMSTRAT_FILE_DIR"
)

// File is a resource serving each allocation from a shared mapping of
// a temporary file.
type File struct {
	sync.Mutex
	name   string
	id     int
	dir    string
	traits memory.Traits
	maps   map[uintptr]*mapping
	track  tracker
	closed bool
}

type mapping struct {
	data []byte
	path string
}

type fileFactory struct {
	dir string
}

var _ memory.Resource = &File{}

// FileOption is an opaque option for a file Factory.
type FileOption func(*fileFactory)

// WithFileDir sets the directory for files backing allocations.
func WithFileDir(dir string) FileOption {
	return func(f *fileFactory) {
		if dir != "" {
			f.dir = dir
		}
	}
}

// NewFileFactory returns a Factory for the FILE resource.
func NewFileFactory(options ...FileOption) Factory {
	f := &fileFactory{
		dir: os.Getenv(FileDirEnvVar),
	}
	for _, o := range options {
		o(f)
	}
	if f.dir == "" {
		f.dir = os.TempDir()
	}
	return f
}

func (f *fileFactory) IsValidFor(name string) bool {
	return name == FileName
}

func (f *fileFactory) Create(name string, id int) (memory.Resource, error) {
	return f.CreateWithTraits(name, id, f.DefaultTraits())
}

func (f *fileFactory) CreateWithTraits(name string, id int, traits memory.Traits) (memory.Resource, error) {
	if !f.IsValidFor(name) {
		return nil, fmt.Errorf("%w: file factory cannot create %q", memory.ErrWrongKind, name)
	}
	return NewFile(name, id, f.dir, traits), nil
}

func (f *fileFactory) DefaultTraits() memory.Traits {
	return memory.Traits{
		Platform: memory.PlatformFile,
		Access:   memory.AccessReadWrite,
	}
}

// NewFile creates a file backed resource using the given directory.
func NewFile(name string, id int, dir string, traits memory.Traits) *File {
	return &File{
		name:   name,
		id:     id,
		dir:    dir,
		traits: traits,
		maps:   make(map[uintptr]*mapping),
		track:  newTracker(),
	}
}

func (f *File) Name() string {
	return f.name
}

func (f *File) ID() int {
	return f.id
}

func (f *File) Traits() memory.Traits {
	return f.traits
}

func (f *File) Platform() memory.Platform {
	return f.traits.Platform
}

// Dir returns the directory of files backing allocations.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) Allocate(size uint64) (uintptr, error) {
	if err := checkSize(f.name, f.traits, size); err != nil {
		return 0, err
	}

	f.Lock()
	defer f.Unlock()

	if f.closed {
		return 0, fmt.Errorf("%w: %s", memory.ErrClosed, f.name)
	}

	length, ok := memory.CheckedAlignUp(max(size, 1), uint64(unix.Getpagesize()))
	if !ok {
		return 0, fmt.Errorf("%w: %s: cannot map %s", memory.ErrOutOfMemory, f.name,
			memory.PrettySize(size))
	}
	m, err := f.mmap(length)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", memory.ErrOutOfMemory, f.name, err)
	}

	ptr := uintptr(unsafe.Pointer(&m.data[0]))
	f.maps[ptr] = m
	f.track.add(ptr, size, uint64(len(m.data)))

	log.Debug("%s: allocated %s at %#x (%s)", f.name, memory.PrettySize(size), ptr, m.path)

	return ptr, nil
}

func (f *File) Deallocate(ptr uintptr) error {
	f.Lock()
	defer f.Unlock()

	m, ok := f.maps[ptr]
	if !ok {
		return fmt.Errorf("%w: %s: %#x", memory.ErrInvalidPointer, f.name, ptr)
	}

	delete(f.maps, ptr)
	f.track.del(ptr, uint64(len(m.data)))

	return m.unmap()
}

// Release is a no-op, every allocation is returned to the OS on deallocation.
func (f *File) Release() error {
	return nil
}

func (f *File) Close() error {
	f.Lock()
	defer f.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var firstErr error
	for ptr, m := range f.maps {
		delete(f.maps, ptr)
		if err := m.unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.track = newTracker()

	return firstErr
}

// Stats returns the usage statistics of the resource.
func (f *File) Stats() memory.Stats {
	f.Lock()
	defer f.Unlock()
	return f.track.stats()
}

// Records returns the live allocations of the resource.
func (f *File) Records() []memory.AllocationRecord {
	f.Lock()
	defer f.Unlock()
	return f.track.records(f.id)
}

func (f *File) mmap(size uint64) (*mapping, error) {
	file, err := os.CreateTemp(f.dir, "memstrat-*")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create backing file in %s", f.dir)
	}
	defer file.Close()

	path := file.Name()
	if err := file.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, errors.Wrapf(err, "failed to resize backing file %s", path)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, errors.Wrapf(err, "failed to mmap backing file %s", path)
	}

	return &mapping{data: data, path: path}, nil
}

func (m *mapping) unmap() error {
	if err := unix.Munmap(m.data); err != nil {
		return errors.Wrapf(err, "failed to munmap backing file %s", m.path)
	}
	if err := os.Remove(m.path); err != nil {
		return errors.Wrapf(err, "failed to remove backing file %s", m.path)
	}
	return nil
}
