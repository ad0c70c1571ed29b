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

// Package resourcematch implements the resource matcher: given an offer, a
// run spec, peer instances and a mesosres.Selector, it either returns a
// concrete RunSpecMatch assigning offer fragments to the run spec's
// requirements, or reports no match. The algorithm never mutates its
// inputs - it operates over a private, per-call pool cloned from the offer,
// so repeated invocations with the same inputs produce byte-identical
// output.
package resourcematch

import (
	"sort"
	"strings"

	"github.com/sebbe54/marathon/internal/mesosres"
	"github.com/sebbe54/marathon/internal/runspec"
)

const epsilon = 1e-9

// PortAssignment is one endpoint's resolved host port.
type PortAssignment struct {
	EndpointName string
	Port         uint64
	Role         string
}

// ContainerMatch is the portion of a RunSpecMatch belonging to a single
// container: its consumed scalar fragments and its resolved port
// assignments, the latter in the container's endpoint declaration order.
type ContainerMatch struct {
	ContainerName   string
	Resources       []mesosres.Resource
	PortAssignments []PortAssignment
}

// VolumePlacement names the disk fragment chosen for one volume request.
type VolumePlacement struct {
	Name     string
	Resource mesosres.Resource
}

// RunSpecMatch is the resource matcher's successful output: the role
// actually matched, the per-container resource/port assignments, and any
// persistent-volume placements. All resource fragments are copies of the
// offer's - a RunSpecMatch never back-references the offer it was drawn
// from.
type RunSpecMatch struct {
	Role       string
	Containers []ContainerMatch
	Volumes    []VolumePlacement
}

type trackedResource struct {
	base       mesosres.Resource
	remaining  float64
	freeRanges []mesosres.PortRange
	origIndex  int
}

func (t *trackedResource) view() mesosres.Resource {
	r := t.base
	r.Scalar = t.remaining
	r.Ranges = append([]mesosres.PortRange(nil), t.freeRanges...)
	return r
}

func buildPool(offer mesosres.Offer) []*trackedResource {
	pool := make([]*trackedResource, 0, len(offer.Resources))
	for i, r := range offer.Resources {
		pool = append(pool, &trackedResource{
			base:       r,
			remaining:  r.Scalar,
			freeRanges: append([]mesosres.PortRange(nil), r.Ranges...),
			origIndex:  i,
		})
	}
	return pool
}

func reservationSortKey(r *mesosres.Reservation) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, k := range r.Labels.Keys() {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(r.Labels[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

// consumeScalar greedily satisfies amount of resource name from pool,
// preferring the fragment with the smallest remaining quantity first (to
// minimize fragmentation), tie-broken deterministically by role,
// reservation labels, disk source kind and offer order.
func consumeScalar(pool []*trackedResource, name string, amount float64, selector mesosres.Selector) ([]mesosres.Resource, bool) {
	if amount <= epsilon {
		return nil, true
	}

	var candidates []int
	for i, r := range pool {
		if r.base.Name != name || r.remaining <= epsilon {
			continue
		}
		if !selector(r.view()) {
			continue
		}
		candidates = append(candidates, i)
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		ra, rb := pool[candidates[a]], pool[candidates[b]]
		if ra.remaining != rb.remaining {
			return ra.remaining < rb.remaining
		}
		if ra.base.Role != rb.base.Role {
			return ra.base.Role < rb.base.Role
		}
		la, lb := reservationSortKey(ra.base.Reservation), reservationSortKey(rb.base.Reservation)
		if la != lb {
			return la < lb
		}
		if ra.base.DiskSource != rb.base.DiskSource {
			return ra.base.DiskSource < rb.base.DiskSource
		}
		return ra.origIndex < rb.origIndex
	})

	var consumed []mesosres.Resource
	need := amount
	for _, idx := range candidates {
		if need <= epsilon {
			break
		}
		r := pool[idx]
		take := r.remaining
		if take > need {
			take = need
		}
		r.remaining -= take
		need -= take

		frag := r.base
		frag.Scalar = take
		consumed = append(consumed, frag)
	}

	if need > epsilon {
		return nil, false
	}
	return consumed, true
}

type portRequestItem struct {
	endpointName string
	req          runspec.PortRequest
}

func removeValueFromRange(r *trackedResource, rangeIdx int, value uint64) {
	rng := r.freeRanges[rangeIdx]
	switch {
	case rng.Begin == value && rng.End == value:
		r.freeRanges = append(r.freeRanges[:rangeIdx], r.freeRanges[rangeIdx+1:]...)
	case rng.Begin == value:
		r.freeRanges[rangeIdx].Begin = value + 1
	case rng.End == value:
		r.freeRanges[rangeIdx].End = value - 1
	default:
		left := mesosres.PortRange{Begin: rng.Begin, End: value - 1}
		right := mesosres.PortRange{Begin: value + 1, End: rng.End}
		r.freeRanges[rangeIdx] = left
		tail := append([]mesosres.PortRange{right}, r.freeRanges[rangeIdx+1:]...)
		r.freeRanges = append(r.freeRanges[:rangeIdx+1], tail...)
	}
}

func findExactPort(pool []*trackedResource, value uint64, selector mesosres.Selector) (resIdx, rangeIdx int, ok bool) {
	for i, r := range pool {
		if r.base.Name != "ports" {
			continue
		}
		if !selector(r.view()) {
			continue
		}
		for j, rng := range r.freeRanges {
			if rng.Contains(value) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func findLowestFreePort(pool []*trackedResource, selector mesosres.Selector) (resIdx, rangeIdx int, ok bool) {
	bestBegin := ^uint64(0)
	found := false
	for i, r := range pool {
		if r.base.Name != "ports" {
			continue
		}
		if !selector(r.view()) {
			continue
		}
		for j, rng := range r.freeRanges {
			if rng.Size() == 0 {
				continue
			}
			if !found || rng.Begin < bestBegin {
				bestBegin = rng.Begin
				resIdx, rangeIdx = i, j
				found = true
			}
		}
	}
	return resIdx, rangeIdx, found
}

// assignPorts resolves every entry of reqs, in order, against pool,
// returning parallel PortAssignments or false if any request cannot be
// satisfied.
func assignPorts(pool []*trackedResource, reqs []portRequestItem, selector mesosres.Selector) ([]PortAssignment, bool) {
	assignments := make([]PortAssignment, 0, len(reqs))
	for _, item := range reqs {
		var resIdx, rangeIdx int
		var ok bool
		var port uint64

		if item.req.Any {
			resIdx, rangeIdx, ok = findLowestFreePort(pool, selector)
			if !ok {
				return nil, false
			}
			port = pool[resIdx].freeRanges[rangeIdx].Begin
		} else {
			port = item.req.Value
			resIdx, rangeIdx, ok = findExactPort(pool, port, selector)
			if !ok {
				return nil, false
			}
		}

		role := pool[resIdx].base.Role
		removeValueFromRange(pool[resIdx], rangeIdx, port)
		assignments = append(assignments, PortAssignment{EndpointName: item.endpointName, Port: port, Role: role})
	}
	return assignments, true
}

func consumeVolume(pool []*trackedResource, vr runspec.VolumeRequest, selector mesosres.Selector) (mesosres.Resource, bool) {
	var candidates []int
	for i, r := range pool {
		if r.base.Name != "disk" || r.base.DiskSource != vr.Source || r.remaining <= epsilon {
			continue
		}
		if !selector(r.view()) {
			continue
		}
		if vr.Source != mesosres.DiskSourceMount && r.remaining+epsilon < vr.Size {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return mesosres.Resource{}, false
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		ra, rb := pool[candidates[a]], pool[candidates[b]]
		if ra.remaining != rb.remaining {
			return ra.remaining < rb.remaining
		}
		return ra.origIndex < rb.origIndex
	})

	idx := candidates[0]
	r := pool[idx]
	frag := r.base
	if vr.Source == mesosres.DiskSourceMount {
		frag.Scalar = r.remaining
		r.remaining = 0
	} else {
		frag.Scalar = vr.Size
		r.remaining -= vr.Size
	}
	return frag, true
}

// MatchRunSpec runs the full matcher algorithm against a single offer:
// constraint pre-filter, then scalar consumption per
// container, then port assignment, then persistent-volume placement. It
// returns nil, false on any failure in any step, never a partial match.
// The third return value reports whether a failure was the constraint
// pre-filter rejecting the offer, as opposed to a resource shortfall, so a
// caller's metrics can distinguish the two failure reasons.
func MatchRunSpec(offer mesosres.Offer, spec runspec.RunSpec, peers []ConstraintPeer, selector mesosres.Selector, excludeInstanceID string) (*RunSpecMatch, bool, bool) {
	if !EvaluateConstraints(offer, spec.Constraints, peers, excludeInstanceID) {
		return nil, false, true
	}

	pool := buildPool(offer)
	matchedRole := ""

	containerMatches := make([]ContainerMatch, 0, len(spec.Containers))
	for _, req := range spec.ResourceRequirements() {
		var consumedAll []mesosres.Resource
		for _, item := range []struct {
			name   string
			amount float64
		}{
			{"cpus", req.CPU}, {"mem", req.Mem}, {"disk", req.Disk}, {"gpus", req.GPU},
		} {
			if item.amount <= epsilon {
				continue
			}
			frags, ok := consumeScalar(pool, item.name, item.amount, selector)
			if !ok {
				return nil, false, false
			}
			consumedAll = append(consumedAll, frags...)
			if matchedRole == "" && len(frags) > 0 {
				matchedRole = frags[0].Role
			}
		}
		containerMatches = append(containerMatches, ContainerMatch{
			ContainerName: req.ContainerName,
			Resources:     consumedAll,
		})
	}

	var portReqs []portRequestItem
	var containerForPort []int
	for ci, c := range spec.Containers {
		for _, ep := range c.Endpoints {
			if ep.Port == nil {
				continue
			}
			portReqs = append(portReqs, portRequestItem{endpointName: ep.Name, req: *ep.Port})
			containerForPort = append(containerForPort, ci)
		}
	}
	assignments, ok := assignPorts(pool, portReqs, selector)
	if !ok {
		return nil, false, false
	}
	for i, a := range assignments {
		ci := containerForPort[i]
		containerMatches[ci].PortAssignments = append(containerMatches[ci].PortAssignments, a)
		if matchedRole == "" {
			matchedRole = a.Role
		}
	}

	var volumes []VolumePlacement
	for _, vr := range spec.VolumeRequests {
		frag, ok := consumeVolume(pool, vr, selector)
		if !ok {
			return nil, false, false
		}
		volumes = append(volumes, VolumePlacement{Name: vr.Name, Resource: frag})
		if matchedRole == "" {
			matchedRole = frag.Role
		}
	}

	return &RunSpecMatch{Role: matchedRole, Containers: containerMatches, Volumes: volumes}, true, false
}
