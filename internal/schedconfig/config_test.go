/*
Copyright 2015 The Kubernetes Authors All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package schedconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizedFillsTaskReservationTimeoutDefault(t *testing.T) {
	cfg := Config{}.Normalized()
	assert.Equal(t, DefaultTaskReservationTimeout, cfg.TaskReservationTimeout)
}

func TestNormalizedPreservesExplicitTimeout(t *testing.T) {
	cfg := Config{TaskReservationTimeout: 42}.Normalized()
	assert.EqualValues(t, 42, cfg.TaskReservationTimeout)
}

func TestNormalizedFillsDefaultAcceptedResourceRoles(t *testing.T) {
	cfg := Config{}.Normalized()
	assert.Equal(t, map[string]struct{}{"*": {}}, cfg.DefaultAcceptedResourceRoles)
}

func TestNormalizedPreservesExplicitRoles(t *testing.T) {
	cfg := Config{DefaultAcceptedResourceRoles: map[string]struct{}{"prod": {}}}.Normalized()
	assert.Equal(t, map[string]struct{}{"prod": {}}, cfg.DefaultAcceptedResourceRoles)
}

func TestNormalizedLeavesBoolDefaultsAlone(t *testing.T) {
	cfg := Config{}.Normalized()
	assert.False(t, cfg.PodTasksCarryHostPorts)
	assert.False(t, cfg.StatusLastUpdatedEqualsLastChanged)
}
