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

// Package instance defines the Instance and Task data model: the status
// lattice, the ephemeral/reserved/launched-on-reservation task variants,
// and their cross-field invariants.
package instance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sebbe54/marathon/internal/reservation"
	"github.com/sebbe54/marathon/internal/runspec"
	"github.com/sebbe54/marathon/internal/schedconfig"
	"github.com/sebbe54/marathon/internal/schederrors"
)

// Status is a position in the instance status lattice.
type Status string

const (
	StatusCreated     Status = "Created"
	StatusReserved    Status = "Reserved"
	StatusStaging     Status = "Staging"
	StatusStarting    Status = "Starting"
	StatusRunning     Status = "Running"
	StatusKilling     Status = "Killing"
	StatusKilled      Status = "Killed"
	StatusFailed      Status = "Failed"
	StatusFinished    Status = "Finished"
	StatusGone        Status = "Gone"
	StatusDropped     Status = "Dropped"
	StatusUnreachable Status = "Unreachable"
	StatusUnknown     Status = "Unknown"
	StatusError       Status = "Error"
)

// IsTerminal reports whether status is a terminal status, at which point an
// ephemeral task is destroyed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusKilled, StatusGone, StatusDropped, StatusError:
		return true
	default:
		return false
	}
}

// State is the instance's current status snapshot.
type State struct {
	Status         Status
	Since          time.Time
	RunSpecVersion time.Time
	Healthy        *bool
}

// AgentInfo is a snapshot of the agent a task is (or was) placed on.
type AgentInfo struct {
	AgentID  string
	Hostname string
}

// TaskKind discriminates the three task variants.
type TaskKind int

const (
	TaskLaunchedEphemeral TaskKind = iota
	TaskReserved
	TaskLaunchedOnReservation
)

// TaskStatus is a task's own status snapshot, distinct from the instance
// aggregate State: a value plus the time it was entered.
type TaskStatus struct {
	Value Status
	Since time.Time
}

// DeriveLastUpdated computes the LastUpdated timestamp to report for a task
// status update, given the time the status last changed and the time this
// particular update was observed. With StatusLastUpdatedEqualsLastChanged
// set, every update collapses onto lastChanged; otherwise a repeated status
// observation moves LastUpdated forward without moving lastChanged.
func DeriveLastUpdated(cfg schedconfig.Config, lastChanged, observedAt time.Time) time.Time {
	if cfg.StatusLastUpdatedEqualsLastChanged {
		return lastChanged
	}
	return observedAt
}

// Task is a tagged variant: LaunchedEphemeral carries HostPorts and no
// Reservation; Reserved and LaunchedOnReservation carry a Reservation and
// no HostPorts (an ephemeral task has none; a task with any persistent
// volume id is always in one of the reservation states).
type Task struct {
	Kind TaskKind

	TaskID string
	// ContainerName is empty for an App task; for a Pod task it names the
	// container in the pod spec this task corresponds to.
	ContainerName string

	AgentInfo      AgentInfo
	RunSpecVersion time.Time
	Status         TaskStatus

	HostPorts   []uint64
	Reservation *reservation.Reservation
}

// IsEphemeral reports whether t is a LaunchedEphemeral task.
func (t *Task) IsEphemeral() bool { return t.Kind == TaskLaunchedEphemeral }

// IsStateful reports whether t carries a reservation (Reserved or
// LaunchedOnReservation).
func (t *Task) IsStateful() bool {
	return t.Kind == TaskReserved || t.Kind == TaskLaunchedOnReservation
}

// Instance is a running or pending incarnation of a run spec.
type Instance struct {
	InstanceID string
	RunSpecID  string
	AgentInfo  AgentInfo
	State      State
	Tasks      map[string]*Task // keyed by TaskID
}

// NewTaskID mints a fresh task id scoped to runSpecID, matching the
// hierarchical-id invariant that a task id is prefixed by its run spec id.
func NewTaskID(runSpecID string) string {
	return fmt.Sprintf("%s.%s", strings.Trim(runSpecID, "/"), uuid.New().String())
}

// NewInstanceID mints a fresh instance id scoped to runSpecID.
func NewInstanceID(runSpecID string) string {
	return fmt.Sprintf("%s.instance-%s", strings.Trim(runSpecID, "/"), uuid.New().String())
}

// ReservedInstances filters instances down to those holding at least one
// Reserved task.
func ReservedInstances(instances map[string]*Instance) []*Instance {
	var out []*Instance
	for _, inst := range instances {
		for _, t := range inst.Tasks {
			if t.Kind == TaskReserved {
				out = append(out, inst)
				break
			}
		}
	}
	return out
}

// CheckInvariants validates inst's cross-field invariants against its
// owning podSpec (nil for an App instance, where there is only one,
// unnamed, container). cfg determines whether the per-task host-port-count
// invariant applies: with PodTasksCarryHostPorts false, a pod task's
// HostPorts is intentionally empty (the ports live on LaunchGroupOp.HostPorts
// instead), so the count check is vacuous. It returns the first violation
// found.
func CheckInvariants(inst *Instance, podSpec *runspec.RunSpec, cfg schedconfig.Config) error {
	for taskID, t := range inst.Tasks {
		if !strings.HasPrefix(taskID, inst.RunSpecID) && !strings.HasPrefix(taskID, strings.TrimPrefix(inst.RunSpecID, "/")) {
			return schederrors.Invariant(fmt.Sprintf("task id %q is not scoped to run spec %q", taskID, inst.RunSpecID))
		}
		if taskID != t.TaskID {
			return schederrors.Invariant(fmt.Sprintf("task map key %q does not match task id %q", taskID, t.TaskID))
		}

		hasVolumes := t.Reservation != nil && len(t.Reservation.VolumeIDs) > 0
		if hasVolumes && t.Kind == TaskLaunchedEphemeral {
			return schederrors.Invariant(fmt.Sprintf("task %q carries persistent volumes but is LaunchedEphemeral", taskID))
		}
		if t.Kind == TaskLaunchedEphemeral && t.Reservation != nil {
			return schederrors.Invariant(fmt.Sprintf("task %q is LaunchedEphemeral but carries a reservation", taskID))
		}

		if podSpec != nil && podSpec.IsPod() {
			found := false
			for _, c := range podSpec.Containers {
				if c.Name == t.ContainerName {
					found = true
					break
				}
			}
			if !found {
				return schederrors.Invariant(fmt.Sprintf("task %q names container %q which is not present in pod spec %q", taskID, t.ContainerName, podSpec.ID))
			}
		}

		if podSpec != nil && podSpec.IsPod() && t.Kind == TaskLaunchedEphemeral && cfg.PodTasksCarryHostPorts {
			var container *runspec.ContainerSpec
			for i := range podSpec.Containers {
				if podSpec.Containers[i].Name == t.ContainerName {
					container = &podSpec.Containers[i]
					break
				}
			}
			if container != nil {
				wantPorts := 0
				for _, ep := range container.Endpoints {
					if ep.Port != nil {
						wantPorts++
					}
				}
				if wantPorts != len(t.HostPorts) {
					return schederrors.Invariant(fmt.Sprintf("task %q has %d host ports, want %d matching declared host-port endpoints", taskID, len(t.HostPorts), wantPorts))
				}
			}
		}
	}
	return nil
}
