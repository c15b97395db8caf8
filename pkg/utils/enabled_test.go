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

package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/memstrat/pkg/utils"
)

func TestParseEnabled(t *testing.T) {
	for value, expected := range map[string]bool{
		"on": true, "ON": true, " true ": true, "enabled": true, "1": true,
		"off": false, "False": false, "disable": false, "0": false, "no": false,
	} {
		t.Run(value, func(t *testing.T) {
			enabled, err := utils.ParseEnabled(value)
			require.NoError(t, err)
			require.Equal(t, expected, enabled)
		})
	}

	_, err := utils.ParseEnabled("maybe")
	require.Error(t, err)
}
