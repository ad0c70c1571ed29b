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

package taskbuild

import (
	"fmt"
	"sort"

	"github.com/sebbe54/marathon/internal/mesosres"
	"github.com/sebbe54/marathon/internal/resourcematch"
	"github.com/sebbe54/marathon/internal/runspec"
	"github.com/sebbe54/marathon/internal/schedconfig"
)

// RunSpecTaskProcessor is the builder's plugin capability: a pair of
// mutating callbacks applied in registration order. A plugin may only
// mutate the builder it is handed - it may never reject the pipeline.
type RunSpecTaskProcessor interface {
	TaskInfo(payload *TaskPayload, spec runspec.RunSpec)
	TaskGroup(payload *TaskGroupPayload, spec runspec.RunSpec)
}

func applyEnvVars(payload *TaskPayload, vars map[string]string, prefix string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		payload.SetEnvVar(prefix+k, vars[k])
	}
}

func applyHealthCheck(payload *TaskPayload, hc *runspec.HealthCheck) {
	if hc == nil {
		return
	}
	switch hc.Kind {
	case runspec.HealthCheckCommand:
		payload.CommandHealthCheck = &CommandHealthCheck{Command: append([]string(nil), hc.Command...)}
	case runspec.HealthCheckEndpoint:
		payload.EndpointHealthCheck = &EndpointHealthCheckRef{EndpointName: hc.EndpointName}
	}
}

// portResourcesFromAssignments turns the matcher's per-endpoint port
// assignments back into offer-shaped "ports" resources, grouped by role, so
// that the consumed ports are attached to the task the same way any other
// consumed resource is: preserving the role and reservation metadata the
// matcher computed for them.
func portResourcesFromAssignments(assignments []resourcematch.PortAssignment) []mesosres.Resource {
	byRole := map[string][]mesosres.PortRange{}
	roleOrder := []string{}
	for _, a := range assignments {
		if _, seen := byRole[a.Role]; !seen {
			roleOrder = append(roleOrder, a.Role)
		}
		byRole[a.Role] = append(byRole[a.Role], mesosres.PortRange{Begin: a.Port, End: a.Port})
	}
	out := make([]mesosres.Resource, 0, len(roleOrder))
	for _, role := range roleOrder {
		out = append(out, mesosres.Resource{Name: "ports", Role: role, Ranges: byRole[role]})
	}
	return out
}

// zipHostPorts returns the resolved host port values in the container's own
// endpoint declaration order: the number of reserved host ports on a
// LaunchedEphemeral pod task must equal the number of host-port endpoints
// declared on its container spec, in the same order.
func zipHostPorts(container runspec.ContainerSpec, assignments []resourcematch.PortAssignment) []uint64 {
	byName := make(map[string]uint64, len(assignments))
	for _, a := range assignments {
		byName[a.EndpointName] = a.Port
	}
	ports := make([]uint64, 0, len(assignments))
	for _, ep := range container.Endpoints {
		if ep.Port == nil {
			continue
		}
		ports = append(ports, byName[ep.Name])
	}
	return ports
}

// BuildTaskInfo builds the single-container App launch payload from a
// successful match. taskID is the caller-provided id: a fresh one for an
// ordinary launch, or the Reserved task's existing id when launching on a
// reservation, forcing the new TaskInfo's id to equal it.
func BuildTaskInfo(spec runspec.RunSpec, match *resourcematch.RunSpecMatch, agentID, taskID string, cfg schedconfig.Config, plugins []RunSpecTaskProcessor) (*TaskPayload, []uint64, error) {
	if spec.IsPod() {
		return nil, nil, fmt.Errorf("BuildTaskInfo called with a Pod run spec %q", spec.ID)
	}
	if len(spec.Containers) != 1 || len(match.Containers) != 1 {
		return nil, nil, fmt.Errorf("app run spec %q must have exactly one container", spec.ID)
	}

	container := spec.Containers[0]
	cm := match.Containers[0]

	payload := newTaskPayload(taskID, spec.ID, agentID)
	payload.Image = container.Image
	payload.Command = append([]string(nil), container.Command...)

	payload.Resources = append(payload.Resources, cm.Resources...)
	payload.Resources = append(payload.Resources, portResourcesFromAssignments(cm.PortAssignments)...)
	for _, v := range match.Volumes {
		payload.Resources = append(payload.Resources, v.Resource)
	}

	applyEnvVars(payload, container.EnvVars, cfg.EnvVarsPrefix)
	applyHealthCheck(payload, container.HealthCheck)

	for _, plugin := range plugins {
		plugin.TaskInfo(payload, spec)
	}

	return payload, zipHostPorts(container, cm.PortAssignments), nil
}

// BuildTaskGroup builds the shared-executor, multi-task Pod launch payload
// from a successful match. taskIDs must be parallel to spec.Containers and
// match.Containers, in declaration order.
func BuildTaskGroup(spec runspec.RunSpec, match *resourcematch.RunSpecMatch, agentID, executorID string, taskIDs []string, cfg schedconfig.Config, plugins []RunSpecTaskProcessor) (*TaskGroupPayload, map[string][]uint64, error) {
	if !spec.IsPod() {
		return nil, nil, fmt.Errorf("BuildTaskGroup called with a non-Pod run spec %q", spec.ID)
	}
	if len(taskIDs) != len(spec.Containers) || len(match.Containers) != len(spec.Containers) {
		return nil, nil, fmt.Errorf("pod run spec %q: task id / container / match count mismatch", spec.ID)
	}

	group := &TaskGroupPayload{Executor: newExecutorPayload(agentID+"."+spec.ID, agentID)}
	if executorID != "" {
		group.Executor.ExecutorID = executorID
	}

	hostPortsByContainer := make(map[string][]uint64, len(spec.Containers))

	for i, container := range spec.Containers {
		cm := match.Containers[i]
		t := newTaskPayload(taskIDs[i], container.Name, agentID)
		t.Image = container.Image
		t.Command = append([]string(nil), container.Command...)
		t.Resources = append(t.Resources, cm.Resources...)
		t.Resources = append(t.Resources, portResourcesFromAssignments(cm.PortAssignments)...)

		applyEnvVars(t, container.EnvVars, cfg.EnvVarsPrefix)
		applyHealthCheck(t, container.HealthCheck)

		group.Tasks = append(group.Tasks, t)
		hostPortsByContainer[container.Name] = zipHostPorts(container, cm.PortAssignments)
	}

	for _, plugin := range plugins {
		plugin.TaskGroup(group, spec)
	}

	return group, hostPortsByContainer, nil
}
