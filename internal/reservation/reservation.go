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

// Package reservation implements the reservation state machine a stateful
// task traverses: New -> Launched -> Suspended -> Garbage/Unknown, with
// timeout-driven recovery.
package reservation

import "time"

// StateKind enumerates the reservation state machine's states.
type StateKind int

const (
	StateNew StateKind = iota
	StateLaunched
	StateSuspended
	StateGarbage
	StateUnknown
)

func (k StateKind) String() string {
	switch k {
	case StateNew:
		return "New"
	case StateLaunched:
		return "Launched"
	case StateSuspended:
		return "Suspended"
	case StateGarbage:
		return "Garbage"
	case StateUnknown:
		return "Unknown"
	default:
		return "Invalid"
	}
}

// Timeout carries the bookkeeping for a timed-out-eligible state.
type Timeout struct {
	Initiated time.Time
	Deadline  time.Time
	Reason    string
}

// Reasons assigned to a Timeout, named after the transition that created it.
const (
	ReasonNewReservationGC       = "new-reservation-gc"
	ReasonSuspendedReservationGC = "suspended-reservation-gc"
	ReasonAgentGone              = "agent-gone"
	ReasonReconciliationLoss     = "reconciliation-loss"
)

// State is the current reservation state: a kind, plus a Timeout when the
// kind carries one (New, Suspended, Garbage, Unknown); Timeout is nil for
// Launched.
type State struct {
	Kind    StateKind
	Timeout *Timeout
}

// Reservation is the persistent-volume-backed claim held by a stateful
// task: the list of volume ids it owns, plus its state-machine position.
type Reservation struct {
	VolumeIDs []string
	State     State
	CreatedAt time.Time
}

// New constructs a fresh Reservation in state New, with a deadline computed
// from now and the configured reservation timeout. Per the timeout
// monotonicity property, Initiated always equals now.
func New(volumeIDs []string, now time.Time, timeout time.Duration) Reservation {
	return Reservation{
		VolumeIDs: append([]string(nil), volumeIDs...),
		CreatedAt: now,
		State: State{
			Kind: StateNew,
			Timeout: &Timeout{
				Initiated: now,
				Deadline:  now.Add(timeout),
				Reason:    ReasonNewReservationGC,
			},
		},
	}
}

// Promote transitions a New or Suspended reservation to Launched, dropping
// its timeout, upon a matching offer being used to launch the task.
func (r Reservation) Promote() Reservation {
	r.State = State{Kind: StateLaunched}
	return r
}

// Suspend transitions a Launched reservation to Suspended after its task
// has terminated but its volumes are retained, arming a fresh GC timeout.
func (r Reservation) Suspend(now time.Time, timeout time.Duration) Reservation {
	r.State = State{
		Kind: StateSuspended,
		Timeout: &Timeout{
			Initiated: now,
			Deadline:  now.Add(timeout),
			Reason:    ReasonSuspendedReservationGC,
		},
	}
	return r
}

// MarkUnknown transitions any reservation to Unknown, e.g. because its
// agent disappeared or reconciliation lost track of it.
func (r Reservation) MarkUnknown(now time.Time, timeout time.Duration) Reservation {
	r.State = State{
		Kind: StateUnknown,
		Timeout: &Timeout{
			Initiated: now,
			Deadline:  now.Add(timeout),
			Reason:    ReasonAgentGone,
		},
	}
	return r
}

// ExpireAction is the outcome of a reservation's timeout firing.
type ExpireAction int

const (
	ActionToGarbage ExpireAction = iota
	ActionDestroy
)

// Expired names one reservation (by owning task id) whose timeout fired,
// and what the caller should do about it.
type Expired struct {
	TaskID string
	Action ExpireAction
}

// Sweep is a pure function evaluating every reservation's timeout against
// now: New/Suspended reservations past their deadline move to Garbage;
// Garbage/Unknown reservations past their deadline are reported for
// destruction (the state machine does not mutate its own map - the caller
// applies the returned actions against its instance store). Sweep performs
// no I/O and blocks on nothing, consistent with the core's synchronous,
// single-threaded-per-run-spec design.
func Sweep(now time.Time, reservations map[string]Reservation) []Expired {
	var expired []Expired
	for taskID, r := range reservations {
		if r.State.Timeout == nil || now.Before(r.State.Timeout.Deadline) {
			continue
		}
		switch r.State.Kind {
		case StateNew, StateSuspended:
			expired = append(expired, Expired{TaskID: taskID, Action: ActionToGarbage})
		case StateGarbage, StateUnknown:
			expired = append(expired, Expired{TaskID: taskID, Action: ActionDestroy})
		}
	}
	return expired
}

// ApplyGarbage transitions r (assumed New or Suspended, past deadline) into
// Garbage, arming the same deadline-from-now policy as other GC timeouts.
func (r Reservation) ApplyGarbage(now time.Time, timeout time.Duration) Reservation {
	r.State = State{
		Kind: StateGarbage,
		Timeout: &Timeout{
			Initiated: now,
			Deadline:  now.Add(timeout),
			Reason:    ReasonNewReservationGC,
		},
	}
	return r
}
