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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sebbe54/marathon/internal/mesosres"
	"github.com/sebbe54/marathon/internal/resourcematch"
	"github.com/sebbe54/marathon/internal/runspec"
	"github.com/sebbe54/marathon/internal/schedconfig"
)

type recordingPlugin struct {
	name           string
	order          *[]string
	taskInfoCalls  []string
	taskGroupCalls []string
}

func (p *recordingPlugin) TaskInfo(payload *TaskPayload, spec runspec.RunSpec) {
	p.taskInfoCalls = append(p.taskInfoCalls, payload.TaskID)
	if p.order != nil {
		*p.order = append(*p.order, p.name)
	}
	payload.SetLabel("seen-by", "recording-plugin")
}

func (p *recordingPlugin) TaskGroup(payload *TaskGroupPayload, spec runspec.RunSpec) {
	p.taskGroupCalls = append(p.taskGroupCalls, payload.Executor.ExecutorID)
	if p.order != nil {
		*p.order = append(*p.order, p.name)
	}
	payload.Executor.SetLabel("seen-by", "recording-plugin")
}

func portEndpoint(name string, value uint64) runspec.Endpoint {
	return runspec.Endpoint{Name: name, Port: &runspec.PortRequest{Value: value}}
}

func TestBuildTaskInfoAppliesPluginsInOrder(t *testing.T) {
	spec := runspec.RunSpec{
		Kind: runspec.KindApp,
		ID:   "/app",
		Containers: []runspec.ContainerSpec{
			{Name: "app", Image: "nginx", Command: []string{"nginx"}, Endpoints: []runspec.Endpoint{portEndpoint("http", 31000)}},
		},
	}
	match := &resourcematch.RunSpecMatch{
		Role: "*",
		Containers: []resourcematch.ContainerMatch{
			{
				ContainerName:   "app",
				Resources:       []mesosres.Resource{{Name: "cpus", Role: "*", Scalar: 1}},
				PortAssignments: []resourcematch.PortAssignment{{EndpointName: "http", Port: 31000, Role: "*"}},
			},
		},
	}

	var order []string
	first := &recordingPlugin{name: "first", order: &order}
	second := &recordingPlugin{name: "second", order: &order}

	payload, hostPorts, err := BuildTaskInfo(spec, match, "agent-1", "app.t1", schedconfig.Config{}, []RunSpecTaskProcessor{first, second})
	assert.NoError(t, err)
	assert.Equal(t, []uint64{31000}, hostPorts)
	assert.Equal(t, []string{"app.t1"}, first.taskInfoCalls)
	assert.Equal(t, []string{"app.t1"}, second.taskInfoCalls)
	assert.Equal(t, "recording-plugin", payload.Labels["seen-by"])
	assert.Equal(t, []string{"first", "second"}, order, "plugins must run in registration order")
}

func TestBuildTaskInfoRejectsPodSpec(t *testing.T) {
	spec := runspec.RunSpec{Kind: runspec.KindPod, ID: "/pod"}
	_, _, err := BuildTaskInfo(spec, &resourcematch.RunSpecMatch{}, "agent-1", "t1", schedconfig.Config{}, nil)
	assert.Error(t, err)
}

func TestBuildTaskInfoEnvVarsPrefixedAndSorted(t *testing.T) {
	spec := runspec.RunSpec{
		Kind: runspec.KindApp,
		ID:   "/app",
		Containers: []runspec.ContainerSpec{
			{Name: "app", EnvVars: map[string]string{"B": "2", "A": "1"}},
		},
	}
	match := &resourcematch.RunSpecMatch{
		Containers: []resourcematch.ContainerMatch{{ContainerName: "app"}},
	}

	payload, _, err := BuildTaskInfo(spec, match, "agent-1", "app.t1", schedconfig.Config{EnvVarsPrefix: "MARATHON_"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "1", payload.EnvVars["MARATHON_A"])
	assert.Equal(t, "2", payload.EnvVars["MARATHON_B"])
}

func TestBuildTaskInfoCommandHealthCheck(t *testing.T) {
	spec := runspec.RunSpec{
		Kind: runspec.KindApp,
		ID:   "/app",
		Containers: []runspec.ContainerSpec{
			{Name: "app", HealthCheck: &runspec.HealthCheck{Kind: runspec.HealthCheckCommand, Command: []string{"curl", "-f", "localhost"}}},
		},
	}
	match := &resourcematch.RunSpecMatch{Containers: []resourcematch.ContainerMatch{{ContainerName: "app"}}}

	payload, _, err := BuildTaskInfo(spec, match, "agent-1", "app.t1", schedconfig.Config{}, nil)
	assert.NoError(t, err)
	assert.NotNil(t, payload.CommandHealthCheck)
	assert.Nil(t, payload.EndpointHealthCheck)
	assert.Equal(t, []string{"curl", "-f", "localhost"}, payload.CommandHealthCheck.Command)
}

func TestBuildTaskInfoEndpointHealthCheck(t *testing.T) {
	spec := runspec.RunSpec{
		Kind: runspec.KindApp,
		ID:   "/app",
		Containers: []runspec.ContainerSpec{
			{Name: "app", HealthCheck: &runspec.HealthCheck{Kind: runspec.HealthCheckEndpoint, EndpointName: "http"}},
		},
	}
	match := &resourcematch.RunSpecMatch{Containers: []resourcematch.ContainerMatch{{ContainerName: "app"}}}

	payload, _, err := BuildTaskInfo(spec, match, "agent-1", "app.t1", schedconfig.Config{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, payload.CommandHealthCheck)
	assert.Equal(t, "http", payload.EndpointHealthCheck.EndpointName)
}

func TestBuildTaskGroupSharesOneExecutorAcrossContainers(t *testing.T) {
	spec := runspec.RunSpec{
		Kind: runspec.KindPod,
		ID:   "/pod",
		Containers: []runspec.ContainerSpec{
			{Name: "main", Endpoints: []runspec.Endpoint{portEndpoint("http", 31000)}},
			{Name: "sidecar"},
		},
	}
	match := &resourcematch.RunSpecMatch{
		Containers: []resourcematch.ContainerMatch{
			{ContainerName: "main", PortAssignments: []resourcematch.PortAssignment{{EndpointName: "http", Port: 31000, Role: "*"}}},
			{ContainerName: "sidecar"},
		},
	}

	plugin := &recordingPlugin{}
	group, hostPorts, err := BuildTaskGroup(spec, match, "agent-1", "pod.executor-1", []string{"pod.t1", "pod.t2"}, schedconfig.Config{}, []RunSpecTaskProcessor{plugin})
	assert.NoError(t, err)
	assert.Len(t, group.Tasks, 2)
	assert.Equal(t, "pod.executor-1", group.Executor.ExecutorID)
	assert.Equal(t, []uint64{31000}, hostPorts["main"])
	assert.Empty(t, hostPorts["sidecar"])
	assert.Equal(t, []string{"pod.executor-1"}, plugin.taskGroupCalls)
	assert.Equal(t, "recording-plugin", group.Executor.Labels["seen-by"])
}

func TestBuildTaskGroupRejectsAppSpec(t *testing.T) {
	spec := runspec.RunSpec{Kind: runspec.KindApp, ID: "/app"}
	_, _, err := BuildTaskGroup(spec, &resourcematch.RunSpecMatch{}, "agent-1", "exec-1", nil, schedconfig.Config{}, nil)
	assert.Error(t, err)
}

func TestBuildTaskGroupRejectsMismatchedCounts(t *testing.T) {
	spec := runspec.RunSpec{
		Kind:       runspec.KindPod,
		ID:         "/pod",
		Containers: []runspec.ContainerSpec{{Name: "main"}, {Name: "sidecar"}},
	}
	match := &resourcematch.RunSpecMatch{Containers: []resourcematch.ContainerMatch{{ContainerName: "main"}}}
	_, _, err := BuildTaskGroup(spec, match, "agent-1", "exec-1", []string{"t1"}, schedconfig.Config{}, nil)
	assert.Error(t, err)
}
