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

// wire.go is the one place this module constructs the resource manager's
// own protobuf types, the same narrow boundary pod_task.go's T.BuildTaskInfo
// draws in pkg/scheduler/podtask: internal/instanceop only carries the
// values built here, everything else works with plain Go structs, and only
// at the very edge does a *mesos.TaskInfo get assembled for the driver to
// serialize and send.
package taskbuild

import (
	"github.com/gogo/protobuf/proto"
	mesos "github.com/mesos/mesos-go/api/v1/lib"

	"github.com/sebbe54/marathon/internal/mesosres"
)

func scalarResource(name, role string, value float64) mesos.Resource {
	return mesos.Resource{
		Name:   name,
		Type:   mesos.SCALAR.Enum(),
		Scalar: &mesos.Value_Scalar{Value: value},
		Role:   proto.String(role),
	}
}

func rangesResource(name, role string, ranges []mesosres.PortRange) mesos.Resource {
	vr := make([]mesos.Value_Range, 0, len(ranges))
	for _, r := range ranges {
		vr = append(vr, mesos.Value_Range{Begin: r.Begin, End: r.End})
	}
	return mesos.Resource{
		Name:   name,
		Type:   mesos.RANGES.Enum(),
		Ranges: &mesos.Value_Ranges{Range: vr},
		Role:   proto.String(role),
	}
}

func reservationInfo(res *mesosres.Reservation) []mesos.Resource_ReservationInfo {
	if res == nil {
		return nil
	}
	labels := make([]mesos.Label, 0, len(res.Labels))
	for _, k := range res.Labels.Keys() {
		v := res.Labels[k]
		labels = append(labels, mesos.Label{Key: k, Value: &v})
	}
	kind := mesos.Resource_ReservationInfo_DYNAMIC
	info := mesos.Resource_ReservationInfo{
		Type:   &kind,
		Role:   proto.String(res.Role),
		Labels: &mesos.Labels{Labels: labels},
	}
	if res.Principal != "" {
		info.Principal = proto.String(res.Principal)
	}
	return []mesos.Resource_ReservationInfo{info}
}

func diskSourceType(d mesosres.DiskSource) mesos.Resource_DiskInfo_Source_Type {
	switch d {
	case mesosres.DiskSourceMount:
		return mesos.Resource_DiskInfo_Source_MOUNT
	case mesosres.DiskSourcePath:
		return mesos.Resource_DiskInfo_Source_PATH
	default:
		return mesos.Resource_DiskInfo_Source_PATH
	}
}

// ToMesosResource converts one resource ledger fragment into the resource
// manager's wire Resource type, preserving role, reservation and disk
// source metadata.
func ToMesosResource(r mesosres.Resource) mesos.Resource {
	var out mesos.Resource
	switch r.Name {
	case "ports":
		out = rangesResource(r.Name, r.Role, r.Ranges)
	default:
		out = scalarResource(r.Name, r.Role, r.Scalar)
	}

	if r.IsReserved() {
		out.Reservations = reservationInfo(r.Reservation)
	}

	if r.Name == "disk" {
		disk := &mesos.Resource_DiskInfo{}
		if r.DiskSource != mesosres.DiskSourceRoot {
			disk.Source = &mesos.Resource_DiskInfo_Source{Type: diskSourceType(r.DiskSource)}
		}
		if r.PersistenceID != "" {
			disk.Persistence = &mesos.Resource_DiskInfo_Persistence{ID: r.PersistenceID}
			if r.Reservation != nil && r.Reservation.Principal != "" {
				disk.Persistence.Principal = proto.String(r.Reservation.Principal)
			}
		}
		out.Disk = disk
	}

	return out
}

func toMesosResources(rs []mesosres.Resource) []mesos.Resource {
	out := make([]mesos.Resource, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToMesosResource(r))
	}
	return out
}

func toMesosCommand(command []string, env map[string]string) *mesos.CommandInfo {
	cmd := &mesos.CommandInfo{}
	shell := true
	cmd.Shell = &shell
	if len(command) > 0 {
		cmd.Value = proto.String(command[0])
		cmd.Arguments = append([]string(nil), command[1:]...)
	}
	if len(env) > 0 {
		vars := make([]mesos.Environment_Variable, 0, len(env))
		for _, k := range sortedKeys(env) {
			v := env[k]
			vars = append(vars, mesos.Environment_Variable{Name: k, Value: &v})
		}
		cmd.Environment = &mesos.Environment{Variables: vars}
	}
	return cmd
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func toMesosLabels(labels map[string]string) *mesos.Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make([]mesos.Label, 0, len(labels))
	for _, k := range sortedKeys(labels) {
		v := labels[k]
		out = append(out, mesos.Label{Key: k, Value: &v})
	}
	return &mesos.Labels{Labels: out}
}

// ToMesosTaskInfo converts a TaskPayload into the resource manager's wire
// TaskInfo. Endpoint health checks are not attached here - only the
// command-line variant is attached to the task; an HTTP/TCP endpoint check
// is recorded on payload.EndpointHealthCheck for a separate
// health-evaluation surface to consume.
func ToMesosTaskInfo(payload *TaskPayload) mesos.TaskInfo {
	info := mesos.TaskInfo{
		Name:      payload.Name,
		TaskID:    mesos.TaskID{Value: payload.TaskID},
		AgentID:   mesos.AgentID{Value: payload.AgentID},
		Resources: toMesosResources(payload.Resources),
		Command:   toMesosCommand(payload.Command, payload.EnvVars),
		Labels:    toMesosLabels(payload.Labels),
	}
	if payload.Image != "" {
		info.Container = &mesos.ContainerInfo{
			Type:   mesos.ContainerInfo_DOCKER.Enum(),
			Docker: &mesos.ContainerInfo_DockerInfo{Image: payload.Image},
		}
	}
	if payload.CommandHealthCheck != nil {
		shell := true
		info.HealthCheck = &mesos.HealthCheck{
			Type: mesos.HealthCheck_COMMAND,
			Command: &mesos.CommandInfo{
				Shell: &shell,
				Value: proto.String(joinCommand(payload.CommandHealthCheck.Command)),
			},
		}
	}
	return info
}

func joinCommand(cmd []string) string {
	if len(cmd) == 0 {
		return ""
	}
	out := cmd[0]
	for _, a := range cmd[1:] {
		out += " " + a
	}
	return out
}

// ToMesosExecutorInfo converts an ExecutorPayload into the resource
// manager's wire ExecutorInfo, used as the shared executor of a Pod launch.
func ToMesosExecutorInfo(payload *ExecutorPayload) mesos.ExecutorInfo {
	return mesos.ExecutorInfo{
		Type:      mesos.ExecutorInfo_DEFAULT,
		ExecutorID: mesos.ExecutorID{Value: payload.ExecutorID},
		Resources: toMesosResources(payload.Resources),
		Labels:    toMesosLabels(payload.Labels),
	}
}

// ToMesosTaskGroupInfo converts a TaskGroupPayload's tasks into the
// resource manager's wire TaskGroupInfo.
func ToMesosTaskGroupInfo(payload *TaskGroupPayload) mesos.TaskGroupInfo {
	tasks := make([]mesos.TaskInfo, 0, len(payload.Tasks))
	for _, t := range payload.Tasks {
		tasks = append(tasks, ToMesosTaskInfo(t))
	}
	return mesos.TaskGroupInfo{Tasks: tasks}
}
