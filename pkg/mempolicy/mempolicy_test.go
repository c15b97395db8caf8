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

package mempolicy

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNodesToMask(t *testing.T) {
	tcs := []struct {
		name    string
		nodes   []int
		mask    []uint64
		invalid bool
	}{
		{
			name:  "single node",
			nodes: []int{0},
			mask:  []uint64{1},
		},
		{
			name:  "multiple nodes",
			nodes: []int{0, 2, 3},
			mask:  []uint64{0xd},
		},
		{
			name:  "second word",
			nodes: []int{1, 65},
			mask:  []uint64{2, 2},
		},
		{
			name:    "negative node",
			nodes:   []int{-1},
			invalid: true,
		},
		{
			name:    "too large node",
			nodes:   []int{MAX_NUMA_NODES},
			invalid: true,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			mask, err := nodesToMask(tc.nodes)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.mask, mask)
			require.Equal(t, tc.nodes, maskToNodes(mask))
		})
	}
}

func TestModeString(t *testing.T) {
	require.Equal(t, "MPOL_BIND", ModeString(MPOL_BIND))
	require.Equal(t, "MPOL_PREFERRED|MPOL_F_STATIC_NODES", ModeString(MPOL_PREFERRED|MPOL_F_STATIC_NODES))
}

func TestPageRange(t *testing.T) {
	page := uint64(unix.Getpagesize())

	start, size := PageRange(uintptr(page)+10, 20)
	require.Equal(t, uintptr(page), start)
	require.Equal(t, page, size)

	start, size = PageRange(uintptr(page)*2-1, 2)
	require.Equal(t, uintptr(page), start)
	require.Equal(t, 2*page, size)

	_, size = PageRange(uintptr(page), 0)
	require.Equal(t, page, size)
}
