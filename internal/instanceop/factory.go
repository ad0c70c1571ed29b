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

package instanceop

import (
	"fmt"

	log "github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/sebbe54/marathon/internal/instance"
	"github.com/sebbe54/marathon/internal/mesosres"
	"github.com/sebbe54/marathon/internal/metrics"
	"github.com/sebbe54/marathon/internal/reservation"
	"github.com/sebbe54/marathon/internal/resourcematch"
	"github.com/sebbe54/marathon/internal/runspec"
	"github.com/sebbe54/marathon/internal/schedconfig"
	"github.com/sebbe54/marathon/internal/schederrors"
	"github.com/sebbe54/marathon/internal/taskbuild"
	"github.com/sebbe54/marathon/internal/volumematch"
	"github.com/sebbe54/marathon/pkg/clock"
)

// Request bundles everything the instance-op factory needs to consider a
// single offer against a single run spec.
type Request struct {
	RunSpec             runspec.RunSpec
	Offer               mesosres.Offer
	CurrentInstances    map[string]*instance.Instance
	AdditionalLaunches  int
	FrameworkID         string
	Peers               []resourcematch.ConstraintPeer
	Clock               clock.Clock
	Config              schedconfig.Config
	Plugins             []taskbuild.RunSpecTaskProcessor
	Metrics             *metrics.Counters
}

func (r Request) metrics() *metrics.Counters {
	if r.Metrics != nil {
		return r.Metrics
	}
	return metrics.Global
}

// BuildInstanceOp is the instance-op factory entry point. It returns
// (nil, nil) for a normal mismatch - the expected outcome for most offers -
// and (nil, err) only for the fatal, logged error kinds.
func BuildInstanceOp(req Request) (*InstanceOp, error) {
	cfg := req.Config.Normalized()
	req.Config = cfg

	switch {
	case req.RunSpec.IsApp() && !req.RunSpec.IsResident():
		return inferEphemeralApp(req)
	case req.RunSpec.IsApp() && req.RunSpec.IsResident():
		return inferStateful(req)
	case req.RunSpec.IsPod():
		return inferPodInstance(req)
	default:
		return nil, schederrors.UnsupportedRunSpec(req.RunSpec.Kind)
	}
}

func inferEphemeralApp(req Request) (*InstanceOp, error) {
	selector := mesosres.AnyRole(req.RunSpec.EffectiveRoles(req.Config.DefaultAcceptedResourceRoles))
	match, ok, constraintFailed := resourcematch.MatchRunSpec(req.Offer, req.RunSpec, req.Peers, selector, "")
	req.metrics().RecordMatchAttempt(ok, constraintFailed)
	if !ok {
		log.V(4).Infof("offer %s/%s does not satisfy app %s", req.Offer.AgentID, req.Offer.Hostname, req.RunSpec.ID)
		return nil, nil
	}

	taskID := instance.NewTaskID(req.RunSpec.ID)
	payload, hostPorts, err := taskbuild.BuildTaskInfo(req.RunSpec, match, req.Offer.AgentID, taskID, req.Config, req.Plugins)
	if err != nil {
		req.metrics().RecordBuilderFailure()
		return nil, schederrors.BuilderFailure(err.Error())
	}

	now := req.Clock.Now()
	task := &instance.Task{
		Kind:           instance.TaskLaunchedEphemeral,
		TaskID:         taskID,
		AgentInfo:      instance.AgentInfo{AgentID: req.Offer.AgentID, Hostname: req.Offer.Hostname},
		RunSpecVersion: req.RunSpec.Version,
		Status:         instance.TaskStatus{Value: instance.StatusCreated, Since: now},
		HostPorts:      hostPorts,
	}

	wireTask := taskbuild.ToMesosTaskInfo(payload)
	return &InstanceOp{
		Kind:            KindLaunchEphemeral,
		LaunchEphemeral: &LaunchEphemeralOp{TaskInfo: wireTask, Task: task},
	}, nil
}

func inferPodInstance(req Request) (*InstanceOp, error) {
	// The Pod branch accepts the union of the run spec's own roles and the
	// configured defaults, unlike the App branches, which fall back to
	// defaults only when the run spec declares none of its own.
	acceptedRoles := unionRoles(req.RunSpec.AcceptedResourceRoles, req.Config.DefaultAcceptedResourceRoles)
	selector := mesosres.AnyRole(acceptedRoles)

	match, ok, constraintFailed := resourcematch.MatchRunSpec(req.Offer, req.RunSpec, req.Peers, selector, "")
	req.metrics().RecordMatchAttempt(ok, constraintFailed)
	if !ok {
		return nil, nil
	}

	instanceID := instance.NewInstanceID(req.RunSpec.ID)
	taskIDs := make([]string, len(req.RunSpec.Containers))
	for i := range taskIDs {
		taskIDs[i] = instance.NewTaskID(req.RunSpec.ID)
	}
	executorID := fmt.Sprintf("%s.executor-%s", req.RunSpec.ID, uuid.New().String())

	group, hostPortsByContainer, err := taskbuild.BuildTaskGroup(req.RunSpec, match, req.Offer.AgentID, executorID, taskIDs, req.Config, req.Plugins)
	if err != nil {
		req.metrics().RecordBuilderFailure()
		return nil, schederrors.BuilderFailure(err.Error())
	}

	now := req.Clock.Now()
	tasks := make(map[string]*instance.Task, len(req.RunSpec.Containers))
	for i, container := range req.RunSpec.Containers {
		taskID := taskIDs[i]
		t := &instance.Task{
			Kind:           instance.TaskLaunchedEphemeral,
			TaskID:         taskID,
			ContainerName:  container.Name,
			AgentInfo:      instance.AgentInfo{AgentID: req.Offer.AgentID, Hostname: req.Offer.Hostname},
			RunSpecVersion: req.RunSpec.Version,
			Status:         instance.TaskStatus{Value: instance.StatusCreated, Since: now},
		}
		if req.Config.PodTasksCarryHostPorts {
			t.HostPorts = hostPortsByContainer[container.Name]
		}
		tasks[taskID] = t
	}

	inst := &instance.Instance{
		InstanceID: instanceID,
		RunSpecID:  req.RunSpec.ID,
		AgentInfo:  instance.AgentInfo{AgentID: req.Offer.AgentID, Hostname: req.Offer.Hostname},
		State: instance.State{
			Status:         instance.StatusCreated,
			Since:          now,
			RunSpecVersion: req.RunSpec.Version,
		},
		Tasks: tasks,
	}

	wireExecutor := taskbuild.ToMesosExecutorInfo(group.Executor)
	wireGroup := taskbuild.ToMesosTaskGroupInfo(group)

	return &InstanceOp{
		Kind: KindLaunchGroup,
		LaunchGroup: &LaunchGroupOp{
			ExecutorInfo:  wireExecutor,
			TaskGroupInfo: wireGroup,
			Instance:      inst,
			HostPorts:     hostPortsByContainer,
		},
	}, nil
}

func inferStateful(req Request) (*InstanceOp, error) {
	if op, err := tryLaunchOnReservation(req); op != nil || err != nil {
		return op, err
	}
	return tryReserveAndCreateVolumes(req)
}

// tryLaunchOnReservation launches on an existing reservation, preferred
// whenever the offer carries one. It returns (nil, nil) - not an error -
// when this branch simply does not apply, so the caller falls through to
// tryReserveAndCreateVolumes.
func tryLaunchOnReservation(req Request) (*InstanceOp, error) {
	if req.AdditionalLaunches <= 0 {
		return nil, nil
	}

	reservedTasks := reservedCandidates(req.CurrentInstances, req.RunSpec.ID)
	if len(reservedTasks) == 0 {
		return nil, nil
	}

	vmatch, ok := volumeMatchFor(req.Offer, reservedTasks)
	if !ok {
		return nil, nil
	}

	owningInstanceID := ownerOf(req.CurrentInstances, vmatch.taskID)
	acceptedRoles := req.RunSpec.EffectiveRoles(req.Config.DefaultAcceptedResourceRoles)
	labels := mesosres.LabelsForTask(req.FrameworkID, vmatch.taskID)
	selector := mesosres.ReservedWithLabels(acceptedRoles, labels)

	// Exclude the target Reserved task's own instance from constraint
	// evaluation, otherwise the task about to be launched would violate a
	// uniqueness constraint against itself.
	match, ok, constraintFailed := resourcematch.MatchRunSpec(req.Offer, req.RunSpec, req.Peers, selector, owningInstanceID)
	req.metrics().RecordMatchAttempt(ok, constraintFailed)
	if !ok {
		return nil, nil
	}

	payload, hostPorts, err := taskbuild.BuildTaskInfo(req.RunSpec, match, req.Offer.AgentID, vmatch.taskID, req.Config, req.Plugins)
	if err != nil {
		req.metrics().RecordBuilderFailure()
		return nil, schederrors.BuilderFailure(err.Error())
	}

	now := req.Clock.Now()
	promoted := vmatch.reservation.Promote()
	task := &instance.Task{
		Kind:           instance.TaskLaunchedOnReservation,
		TaskID:         vmatch.taskID,
		AgentInfo:      instance.AgentInfo{AgentID: req.Offer.AgentID, Hostname: req.Offer.Hostname},
		RunSpecVersion: req.RunSpec.Version,
		Status:         instance.TaskStatus{Value: instance.StatusCreated, Since: now},
		Reservation:    &promoted,
	}

	req.metrics().RecordLaunchOnReservation()
	wireTask := taskbuild.ToMesosTaskInfo(payload)
	return &InstanceOp{
		Kind: KindLaunchOnReservation,
		LaunchOnReservation: &LaunchOnReservationOp{
			TaskInfo: wireTask,
			StateOp: StateOp{
				InstanceID:     owningInstanceID,
				RunSpecVersion: req.RunSpec.Version,
				Status:         task.Status,
				HostPorts:      hostPorts,
			},
			Task: task,
		},
	}, nil
}

// tryReserveAndCreateVolumes reserves disk and creates fresh persistent
// volumes, pursued only when there is no matching reservation to launch on
// and more reservations are still needed.
func tryReserveAndCreateVolumes(req Request) (*InstanceOp, error) {
	waiting := countWaitingReservations(req.CurrentInstances, req.RunSpec.ID)
	if waiting >= req.AdditionalLaunches {
		return nil, nil
	}

	roles := req.RunSpec.EffectiveRoles(req.Config.DefaultAcceptedResourceRoles)
	reservable := intersectUnreserved(roles)
	if len(reservable) == 0 {
		log.Warningf("run spec %s: accepted roles %v contain no unreserved-eligible role, skipping reservation", req.RunSpec.ID, roleNames(roles))
		return nil, nil
	}

	selector := mesosres.Reservable(reservable)
	match, ok, constraintFailed := resourcematch.MatchRunSpec(req.Offer, req.RunSpec, req.Peers, selector, "")
	req.metrics().RecordMatchAttempt(ok, constraintFailed)
	if !ok {
		return nil, nil
	}

	taskID := instance.NewTaskID(req.RunSpec.ID)
	now := req.Clock.Now()

	reservedRole := req.Config.MesosRole
	if reservedRole == "" {
		// No framework role configured: fall back to the role the fragment
		// was matched under, matching prior behavior rather than refusing
		// to reserve outright.
		reservedRole = mesosres.Unreserved
	}

	volumeIDs := make([]string, 0, len(match.Volumes))
	localVolumes := make([]LocalVolume, 0, len(match.Volumes))
	resources := make([]mesosres.Resource, 0, len(match.Volumes))
	for _, vp := range match.Volumes {
		persistenceID := uuid.New().String()
		frag := vp.Resource
		frag.PersistenceID = persistenceID
		frag.Role = reservedRole
		frag.Reservation = &mesosres.Reservation{
			Role:      reservedRole,
			Principal: req.Config.MesosAuthenticationPrincipal,
			Labels:    mesosres.LabelsForTask(req.FrameworkID, taskID),
		}
		volumeIDs = append(volumeIDs, persistenceID)
		localVolumes = append(localVolumes, LocalVolume{Name: vp.Name, PersistenceID: persistenceID, Resource: frag})
		resources = append(resources, frag)
	}

	res := reservation.New(volumeIDs, now, req.Config.TaskReservationTimeout)
	task := &instance.Task{
		Kind:           instance.TaskReserved,
		TaskID:         taskID,
		AgentInfo:      instance.AgentInfo{AgentID: req.Offer.AgentID, Hostname: req.Offer.Hostname},
		RunSpecVersion: req.RunSpec.Version,
		Status:         instance.TaskStatus{Value: instance.StatusReserved, Since: now},
		Reservation:    &res,
	}

	req.metrics().RecordReservationCreated()
	return &InstanceOp{
		Kind: KindReserveAndCreateVolumes,
		ReserveAndCreateVolumes: &ReserveAndCreateVolumesOp{
			FrameworkID:  req.FrameworkID,
			Task:         task,
			Resources:    resources,
			LocalVolumes: localVolumes,
		},
	}, nil
}

func unionRoles(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for r := range a {
		out[r] = struct{}{}
	}
	for r := range b {
		out[r] = struct{}{}
	}
	return out
}

func intersectUnreserved(roles map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	if _, ok := roles[mesosres.Unreserved]; ok {
		out[mesosres.Unreserved] = struct{}{}
	}
	return out
}

func roleNames(roles map[string]struct{}) []string {
	out := make([]string, 0, len(roles))
	for r := range roles {
		out = append(out, r)
	}
	return out
}

type volumeMatchResult struct {
	taskID      string
	reservation reservation.Reservation
}

// volumeMatchFor adapts volumematch.Find's *instance.Task-keyed result into
// the (taskID, reservation) pair the launch-on-reservation branch needs.
func volumeMatchFor(offer mesosres.Offer, candidates []*instance.Task) (volumeMatchResult, bool) {
	m, ok := volumematch.Find(offer, candidates)
	if !ok {
		return volumeMatchResult{}, false
	}
	return volumeMatchResult{taskID: m.Task.TaskID, reservation: *m.Task.Reservation}, true
}

func reservedCandidates(instances map[string]*instance.Instance, runSpecID string) []*instance.Task {
	var out []*instance.Task
	for _, inst := range instances {
		if inst.RunSpecID != runSpecID {
			continue
		}
		for _, t := range inst.Tasks {
			if t.Kind == instance.TaskReserved {
				out = append(out, t)
			}
		}
	}
	return out
}

func countWaitingReservations(instances map[string]*instance.Instance, runSpecID string) int {
	return len(reservedCandidates(instances, runSpecID))
}

func ownerOf(instances map[string]*instance.Instance, taskID string) string {
	for _, inst := range instances {
		if _, ok := inst.Tasks[taskID]; ok {
			return inst.InstanceID
		}
	}
	return ""
}
