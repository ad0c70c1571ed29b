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

package resourcematch

import (
	"github.com/sebbe54/marathon/internal/mesosres"
	"github.com/sebbe54/marathon/internal/runspec"
)

// ConstraintPeer is the minimal view of a peer instance the constraint
// evaluator needs: which agent it landed on, and the instance id (so the
// launch-on-reservation branch can exclude the target Reserved task from
// its own uniqueness check).
type ConstraintPeer struct {
	InstanceID string
	AgentID    string
	Hostname   string
	Attributes map[string]string
}

func fieldValue(field string, agentID, hostname string, attrs map[string]string) (string, bool) {
	if field == "hostname" {
		return hostname, true
	}
	v, ok := attrs[field]
	return v, ok
}

// EvaluateConstraints reports whether offer satisfies every constraint in
// constraints, given peers already placed for this run spec. excludeID, if
// non-empty, names a peer InstanceID to ignore - used by the
// launch-on-reservation branch so that the task about to be (re-)launched
// does not count as its own peer.
func EvaluateConstraints(offer mesosres.Offer, constraints []runspec.Constraint, peers []ConstraintPeer, excludeID string) bool {
	for _, c := range constraints {
		if !evaluateOne(offer, c, peers, excludeID) {
			return false
		}
	}
	return true
}

func evaluateOne(offer mesosres.Offer, c runspec.Constraint, peers []ConstraintPeer, excludeID string) bool {
	offerValue, haveOfferValue := fieldValue(c.Field, offer.AgentID, offer.Hostname, offer.Attributes)

	switch c.Operator {
	case runspec.ConstraintLike:
		if !haveOfferValue {
			return false
		}
		return offerValue == c.Value

	case runspec.ConstraintUnlike:
		if !haveOfferValue {
			return true
		}
		return offerValue != c.Value

	case runspec.ConstraintUnique:
		if !haveOfferValue {
			return true
		}
		for _, p := range peers {
			if p.InstanceID == excludeID {
				continue
			}
			pv, ok := fieldValue(c.Field, p.AgentID, p.Hostname, p.Attributes)
			if ok && pv == offerValue {
				return false
			}
		}
		return true

	case runspec.ConstraintCluster:
		if !haveOfferValue {
			return false
		}
		if c.Value != "" && offerValue != c.Value {
			return false
		}
		for _, p := range peers {
			if p.InstanceID == excludeID {
				continue
			}
			pv, ok := fieldValue(c.Field, p.AgentID, p.Hostname, p.Attributes)
			if ok && pv != offerValue {
				return false
			}
		}
		return true

	case runspec.ConstraintGroupBy, runspec.ConstraintMaxPer:
		// Both balance placement across distinct field values rather than
		// rejecting outright. The fleet-wide group counts they depend on are
		// not visible to the core (those live in the excluded deployment
		// planner), so both operators always evaluate to true here and
		// never reject an offer.
		return true

	default:
		return true
	}
}
