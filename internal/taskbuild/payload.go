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

// Package taskbuild implements the task and task-group builders: it turns
// a RunSpec and its RunSpecMatch (including any persistent-volume
// placements) into the resource manager's launch payload, applying plugin-authored mutations along the
// way. The in-progress payload is represented by the plain structs in this
// file; conversion to the resource manager's actual protobuf wire types
// happens at the very edge, in wire.go, mirroring how podtask.T.BuildTaskInfo
// in pkg/scheduler/podtask/pod_task.go assembles a *mesos.TaskInfo from a
// podtask.Spec just before handing it to the driver.
package taskbuild

import "github.com/sebbe54/marathon/internal/mesosres"

// CommandHealthCheck is a command-line health check attached directly to a
// task.
type CommandHealthCheck struct {
	Command []string
}

// EndpointHealthCheckRef records that a task's health is evaluated via one
// of its endpoints; the endpoint association is kept for the caller's
// health-check evaluator (out of scope for the core itself).
type EndpointHealthCheckRef struct {
	EndpointName string
}

// TaskPayload is the in-progress, mutable representation of a single task's
// launch payload.
type TaskPayload struct {
	TaskID  string
	Name    string
	AgentID string

	Resources []mesosres.Resource

	Image   string
	Command []string
	EnvVars map[string]string
	Labels  map[string]string

	CommandHealthCheck  *CommandHealthCheck
	EndpointHealthCheck *EndpointHealthCheckRef
}

func newTaskPayload(taskID, name, agentID string) *TaskPayload {
	return &TaskPayload{
		TaskID:  taskID,
		Name:    name,
		AgentID: agentID,
		EnvVars: map[string]string{},
		Labels:  map[string]string{},
	}
}

// SetEnvVar is the mutation surface a RunSpecTaskProcessor plugin uses to
// add or override an environment variable.
func (p *TaskPayload) SetEnvVar(name, value string) {
	p.EnvVars[name] = value
}

// SetLabel is the mutation surface a plugin uses to attach a task label.
func (p *TaskPayload) SetLabel(key, value string) {
	p.Labels[key] = value
}

// ExecutorPayload is the in-progress, mutable representation of the shared
// executor a Pod's tasks launch under.
type ExecutorPayload struct {
	ExecutorID string
	AgentID    string
	Resources  []mesosres.Resource
	Labels     map[string]string
}

func newExecutorPayload(executorID, agentID string) *ExecutorPayload {
	return &ExecutorPayload{ExecutorID: executorID, AgentID: agentID, Labels: map[string]string{}}
}

// SetLabel is the mutation surface a plugin uses to attach an executor
// label.
func (e *ExecutorPayload) SetLabel(key, value string) {
	e.Labels[key] = value
}

// TaskGroupPayload bundles the tasks launched atomically under one
// executor, as a Pod launch does.
type TaskGroupPayload struct {
	Executor *ExecutorPayload
	Tasks    []*TaskPayload
}
