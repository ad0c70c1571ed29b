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

// Package runspec defines the run specification data model: the tagged
// App/Pod variant operators submit, and the nested endpoint, health-check,
// volume-request and constraint types it carries.
package runspec

import (
	"time"

	"github.com/sebbe54/marathon/internal/mesosres"
)

// Kind discriminates the two run specification variants.
type Kind int

const (
	KindApp Kind = iota
	KindPod
)

func (k Kind) String() string {
	if k == KindPod {
		return "pod"
	}
	return "app"
}

// PortRequest describes a single requested host port: either an explicit
// value, or "any", meaning the matcher should draw the lowest free port.
type PortRequest struct {
	Any   bool
	Value uint64
}

// Endpoint is a named network endpoint exposed by a container. Port is nil
// when the endpoint requests no host port mapping at all.
type Endpoint struct {
	Name string
	Port *PortRequest
}

// HealthCheckKind discriminates how a health check is evaluated.
type HealthCheckKind int

const (
	HealthCheckEndpoint HealthCheckKind = iota // HTTP/TCP check against a named endpoint
	HealthCheckCommand                         // command-line check run inside the container
)

// HealthCheck is either a reference to one of the container's endpoints, or
// an inline command line.
type HealthCheck struct {
	Kind         HealthCheckKind
	EndpointName string
	Command      []string
}

// VolumeRequest is a persistent-volume request on a stateful app.
type VolumeRequest struct {
	Name          string
	ContainerPath string
	Size          float64
	Source        mesosres.DiskSource
}

// Constraint is a placement constraint triple, in Marathon's own vocabulary:
// a field (an agent attribute name, or "hostname"), an operator, and an
// optional operator argument.
type Constraint struct {
	Field    string
	Operator ConstraintOperator
	Value    string
}

// ConstraintOperator enumerates the supported placement-constraint operators.
type ConstraintOperator int

const (
	ConstraintUnique ConstraintOperator = iota
	ConstraintCluster
	ConstraintGroupBy
	ConstraintLike
	ConstraintUnlike
	ConstraintMaxPer
)

// ContainerSpec is a single container's demand, image/command and endpoints.
// An App run spec carries exactly one; a Pod carries one or more, ordered.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string

	CPU  float64
	Mem  float64
	Disk float64
	GPU  float64

	Endpoints   []Endpoint
	HealthCheck *HealthCheck
	EnvVars     map[string]string
}

// ContainerResourceRequirement is the scalar demand for a single container,
// named so the matcher's per-container consumption pass can report which
// container a ResourceMatch fragment belongs to.
type ContainerResourceRequirement struct {
	ContainerName string
	CPU           float64
	Mem           float64
	Disk          float64
	GPU           float64
}

// RunSpec is the tagged App/Pod variant.
type RunSpec struct {
	Kind    Kind
	ID      string
	Version time.Time

	// AcceptedResourceRoles is empty when the run spec does not restrict
	// roles, in which case the caller's configured defaults apply.
	AcceptedResourceRoles map[string]struct{}

	Constraints    []Constraint
	VolumeRequests []VolumeRequest // stateful apps only
	HostNetwork    bool            // pods sharing the agent's network namespace

	// Containers holds exactly one entry for an App, and one-or-more,
	// ordered, for a Pod.
	Containers []ContainerSpec
}

func (s RunSpec) IsApp() bool { return s.Kind == KindApp }
func (s RunSpec) IsPod() bool { return s.Kind == KindPod }

// IsResident reports whether this spec is a stateful workload, i.e. it
// declares at least one persistent-volume request.
func (s RunSpec) IsResident() bool { return len(s.VolumeRequests) > 0 }

// ResourceRequirements returns the per-container scalar demand, in
// container declaration order.
func (s RunSpec) ResourceRequirements() []ContainerResourceRequirement {
	reqs := make([]ContainerResourceRequirement, 0, len(s.Containers))
	for _, c := range s.Containers {
		reqs = append(reqs, ContainerResourceRequirement{
			ContainerName: c.Name,
			CPU:           c.CPU,
			Mem:           c.Mem,
			Disk:          c.Disk,
			GPU:           c.GPU,
		})
	}
	return reqs
}

// EffectiveRoles returns the role set this spec may be launched under:
// its own AcceptedResourceRoles if set, otherwise the caller-supplied
// defaults.
func (s RunSpec) EffectiveRoles(defaults map[string]struct{}) map[string]struct{} {
	if len(s.AcceptedResourceRoles) > 0 {
		return s.AcceptedResourceRoles
	}
	return defaults
}
