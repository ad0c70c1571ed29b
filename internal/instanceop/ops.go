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

// Package instanceop implements the instance-op factory: the entry point of
// the offer-to-instance-operation pipeline. It dispatches between App and
// Pod, stateless and stateful, launch and reserve, and packages the
// matcher and builder's output as one of the four typed instance
// operations below.
package instanceop

import (
	"time"

	mesos "github.com/mesos/mesos-go/api/v1/lib"

	"github.com/sebbe54/marathon/internal/instance"
	"github.com/sebbe54/marathon/internal/mesosres"
)

// Kind discriminates the instance operation taxonomy.
type Kind int

const (
	KindLaunchEphemeral Kind = iota
	KindLaunchGroup
	KindLaunchOnReservation
	KindReserveAndCreateVolumes
)

// LaunchEphemeralOp launches a fresh, stateless App task.
type LaunchEphemeralOp struct {
	TaskInfo mesos.TaskInfo
	Task     *instance.Task
}

// LaunchGroupOp launches a Pod's shared executor and task group.
type LaunchGroupOp struct {
	ExecutorInfo  mesos.ExecutorInfo
	TaskGroupInfo mesos.TaskGroupInfo
	Instance      *instance.Instance
	HostPorts     map[string][]uint64
}

// StateOp records the task-state transition that accompanies a launch-on-
// reservation operation.
type StateOp struct {
	InstanceID     string
	RunSpecVersion time.Time
	Status         instance.TaskStatus
	HostPorts      []uint64
}

// LaunchOnReservationOp launches a stateful task bound to a previously
// reserved persistent volume.
type LaunchOnReservationOp struct {
	TaskInfo mesos.TaskInfo
	StateOp  StateOp
	Task     *instance.Task
}

// LocalVolume is one persistent volume minted by a ReserveAndCreateVolumes
// operation.
type LocalVolume struct {
	Name          string
	PersistenceID string
	Resource      mesosres.Resource
}

// ReserveAndCreateVolumesOp reserves disk and creates the persistent
// volumes a stateful task will later launch on.
type ReserveAndCreateVolumesOp struct {
	FrameworkID  string
	Task         *instance.Task
	Resources    []mesosres.Resource
	LocalVolumes []LocalVolume
}

// InstanceOp is the tagged union of instance operations the core produces;
// exactly one of the pointer fields matching Kind is non-nil.
type InstanceOp struct {
	Kind Kind

	LaunchEphemeral         *LaunchEphemeralOp
	LaunchGroup             *LaunchGroupOp
	LaunchOnReservation     *LaunchOnReservationOp
	ReserveAndCreateVolumes *ReserveAndCreateVolumesOp
}
