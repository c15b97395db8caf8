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

// Package mempolicy provides low-level functions for controlling the NUMA
// memory policy of a process or a memory range, and for giving the kernel
// usage hints about memory ranges, using the set_mempolicy, get_mempolicy,
// mbind and madvise syscalls.
package mempolicy

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	logger "github.com/containers/memstrat/pkg/log"
)

const (
	MPOL_DEFAULT = iota
	MPOL_PREFERRED
	MPOL_BIND
	MPOL_INTERLEAVE
	MPOL_LOCAL
	MPOL_PREFERRED_MANY
	MPOL_WEIGHTED_INTERLEAVE

	MPOL_F_STATIC_NODES   uint = (1 << 15)
	MPOL_F_RELATIVE_NODES uint = (1 << 14)
	MPOL_F_NUMA_BALANCING uint = (1 << 13)

	MPOL_MF_STRICT uint = (1 << 0)
	MPOL_MF_MOVE   uint = (1 << 1)

	MAX_NUMA_NODES = 1024
)

var Modes = map[string]uint{
	"MPOL_DEFAULT":             MPOL_DEFAULT,
	"MPOL_PREFERRED":           MPOL_PREFERRED,
	"MPOL_BIND":                MPOL_BIND,
	"MPOL_INTERLEAVE":          MPOL_INTERLEAVE,
	"MPOL_LOCAL":               MPOL_LOCAL,
	"MPOL_PREFERRED_MANY":      MPOL_PREFERRED_MANY,
	"MPOL_WEIGHTED_INTERLEAVE": MPOL_WEIGHTED_INTERLEAVE,
}

var Flags = map[string]uint{
	"MPOL_F_STATIC_NODES":   MPOL_F_STATIC_NODES,
	"MPOL_F_RELATIVE_NODES": MPOL_F_RELATIVE_NODES,
	"MPOL_F_NUMA_BALANCING": MPOL_F_NUMA_BALANCING,
}

var ModeNames map[uint]string

var FlagNames map[uint]string

var log = logger.Get("mempolicy")

func nodesToMask(nodes []int) ([]uint64, error) {
	maxNode := 0
	for _, node := range nodes {
		if node < 0 {
			return nil, fmt.Errorf("node %d out of range", node)
		}
		if node > maxNode {
			maxNode = node
		}
	}
	if maxNode >= MAX_NUMA_NODES {
		return nil, fmt.Errorf("node %d out of range", maxNode)
	}
	mask := make([]uint64, (maxNode/64)+1)
	for _, node := range nodes {
		mask[node/64] |= (1 << (node % 64))
	}
	return mask, nil
}

func maskToNodes(mask []uint64) []int {
	nodes := make([]int, 0)
	for i := 0; i < len(mask)*64; i++ {
		if (mask[i/64] & (1 << (i % 64))) != 0 {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

// ModeString returns a string representation of a mode with flags.
func ModeString(mode uint) string {
	var flags []string
	for f, name := range FlagNames {
		if mode&f != 0 {
			flags = append(flags, name)
			mode &^= f
		}
	}
	name, ok := ModeNames[mode]
	if !ok {
		name = fmt.Sprintf("MPOL_%d", mode)
	}
	if len(flags) == 0 {
		return name
	}
	return name + "|" + strings.Join(flags, "|")
}

// SetMempolicy calls set_mempolicy syscall
func SetMempolicy(mpol uint, nodes []int) error {
	nodeMask, err := nodesToMask(nodes)
	if err != nil {
		return err
	}
	nodeMaskPtr := unsafe.Pointer(&nodeMask[0])
	_, _, errno := unix.Syscall(unix.SYS_SET_MEMPOLICY, uintptr(mpol), uintptr(nodeMaskPtr), uintptr(len(nodeMask)*64))
	if errno != 0 {
		return errno
	}
	return nil
}

// GetMempolicy calls get_mempolicy syscall
func GetMempolicy() (uint, []int, error) {
	var mpol uint
	maxNode := uint64(MAX_NUMA_NODES)
	nodeMask := make([]uint64, maxNode/64)
	nodeMaskPtr := unsafe.Pointer(&nodeMask[0])
	_, _, errno := unix.Syscall(unix.SYS_GET_MEMPOLICY, uintptr(unsafe.Pointer(&mpol)), uintptr(nodeMaskPtr), uintptr(maxNode))
	if errno != 0 {
		return 0, []int{}, errno
	}
	return mpol, maskToNodes(nodeMask), nil
}

// Mbind calls mbind syscall to set the memory policy of an address range.
// The range must start at a page boundary.
func Mbind(addr uintptr, length uint64, mpol uint, nodes []int, flags uint) error {
	nodeMask, err := nodesToMask(nodes)
	if err != nil {
		return err
	}
	log.Debug("mbind(%#x, %d, %s, %v, %#x)", addr, length, ModeString(mpol), nodes, flags)
	nodeMaskPtr := unsafe.Pointer(&nodeMask[0])
	_, _, errno := unix.Syscall6(unix.SYS_MBIND, addr, uintptr(length), uintptr(mpol),
		uintptr(nodeMaskPtr), uintptr(len(nodeMask)*64+1), uintptr(flags))
	if errno != 0 {
		return errno
	}
	return nil
}

// Madvise calls madvise syscall to give a usage hint about an address range.
// The range is extended to page boundaries.
func Madvise(addr uintptr, length uint64, advice int) error {
	start, size := PageRange(addr, length)
	log.Debug("madvise(%#x, %d, %d)", start, size, advice)
	_, _, errno := unix.Syscall(unix.SYS_MADVISE, start, uintptr(size), uintptr(advice))
	if errno != 0 {
		return errno
	}
	return nil
}

// PageRange returns the smallest page-aligned range covering the given one.
func PageRange(addr uintptr, length uint64) (uintptr, uint64) {
	page := uintptr(unix.Getpagesize())
	start := addr &^ (page - 1)
	end := (addr + uintptr(length) + page - 1) &^ (page - 1)
	if end == start {
		end = start + page
	}
	return start, uint64(end - start)
}

func init() {
	ModeNames = make(map[uint]string)
	for k, v := range Modes {
		ModeNames[v] = k
	}
	FlagNames = make(map[uint]string)
	for k, v := range Flags {
		FlagNames[v] = k
	}
}
