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

// Package volumematch implements the persistent-volume matcher: given an
// offer and the set of currently Reserved tasks of a run spec, find the one
// whose reservation volume ids are all present among the offer's
// persistent-volume-bearing disk resources.
package volumematch

import (
	"sort"

	"github.com/sebbe54/marathon/internal/instance"
	"github.com/sebbe54/marathon/internal/mesosres"
)

// Match pairs a Reserved task with the offer's persistent-volume resources
// that satisfy its reservation.
type Match struct {
	Task    *instance.Task
	Volumes []mesosres.Resource
}

// Find looks for a Reserved task among candidates whose every volume id is
// backed by a persistent-volume resource in offer. When several candidates
// qualify, the one with the earliest reservation creation time wins; ties
// are broken by task id, lexicographically, for determinism.
func Find(offer mesosres.Offer, candidates []*instance.Task) (*Match, bool) {
	offeredVolumes := make(map[string]mesosres.Resource, len(offer.Resources))
	for _, r := range offer.Resources {
		if r.Name == "disk" && r.PersistenceID != "" {
			offeredVolumes[r.PersistenceID] = r
		}
	}

	var matches []*instance.Task
	for _, t := range candidates {
		if t.Kind != instance.TaskReserved || t.Reservation == nil {
			continue
		}
		if len(t.Reservation.VolumeIDs) == 0 {
			continue
		}
		allPresent := true
		for _, id := range t.Reservation.VolumeIDs {
			if _, ok := offeredVolumes[id]; !ok {
				allPresent = false
				break
			}
		}
		if allPresent {
			matches = append(matches, t)
		}
	}

	if len(matches) == 0 {
		return nil, false
	}

	sort.SliceStable(matches, func(i, j int) bool {
		ti, tj := matches[i], matches[j]
		ci, cj := ti.Reservation.CreatedAt, tj.Reservation.CreatedAt
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return ti.TaskID < tj.TaskID
	})

	winner := matches[0]
	volumes := make([]mesosres.Resource, 0, len(winner.Reservation.VolumeIDs))
	for _, id := range winner.Reservation.VolumeIDs {
		volumes = append(volumes, offeredVolumes[id].Clone())
	}

	return &Match{Task: winner, Volumes: volumes}, true
}
