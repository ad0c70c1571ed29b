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

// Package metrics holds the plain counters the offer-matching core
// increments as it works, in the same minimal style as the
// metrics.QueueWaitTime.Observe(...) call in
// pkg/scheduler/podtask/pod_task.go's T.Set method.
package metrics

import "sync/atomic"

// Counters aggregates the instance-op factory and matcher's bookkeeping.
// The zero value is ready to use; all fields may be read concurrently with
// the Record methods via atomic loads.
type Counters struct {
	MatchAttempts          int64
	MatchSucceeded         int64
	MatchFailedConstraint  int64
	MatchFailedResources   int64
	ReservationsCreated    int64
	ReservationsExpired    int64
	ReservationsDestroyed  int64
	LaunchOnReservationOps int64
	BuilderFailures        int64
}

func (c *Counters) incrMatchAttempts() { atomic.AddInt64(&c.MatchAttempts, 1) }

// RecordMatchAttempt increments MatchAttempts, and MatchSucceeded or one of
// the failure counters depending on succeeded/constraintFailed.
func (c *Counters) RecordMatchAttempt(succeeded, constraintFailed bool) {
	c.incrMatchAttempts()
	switch {
	case succeeded:
		atomic.AddInt64(&c.MatchSucceeded, 1)
	case constraintFailed:
		atomic.AddInt64(&c.MatchFailedConstraint, 1)
	default:
		atomic.AddInt64(&c.MatchFailedResources, 1)
	}
}

func (c *Counters) RecordReservationCreated()    { atomic.AddInt64(&c.ReservationsCreated, 1) }
func (c *Counters) RecordReservationExpired()    { atomic.AddInt64(&c.ReservationsExpired, 1) }
func (c *Counters) RecordReservationDestroyed()  { atomic.AddInt64(&c.ReservationsDestroyed, 1) }
func (c *Counters) RecordLaunchOnReservation()   { atomic.AddInt64(&c.LaunchOnReservationOps, 1) }
func (c *Counters) RecordBuilderFailure()        { atomic.AddInt64(&c.BuilderFailures, 1) }

// Global is a process-wide Counters instance, mirroring the package-level
// metrics.QueueWaitTime pattern. Prefer threading an explicit *Counters
// through for testability; Global exists for callers that don't need
// per-instance isolation.
var Global = &Counters{}
