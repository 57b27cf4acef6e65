// Copyright © 2024 Genome Research Limited
//
//  This file is part of qcpipe.
//
//  qcpipe is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  qcpipe is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with qcpipe. If not, see <http://www.gnu.org/licenses/>.

package pipeline

// This file contains code for keeping track of how long jobs take.

import (
	"math"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/carbocation/runningvariance"
)

// runtimes accumulates the wall times of finished jobs. The mean and standard
// deviation are over every job; the moving average favours recent jobs and is
// used to estimate how long is left.
type runtimes struct {
	all    *runningvariance.RunningStat
	recent ewma.MovingAverage
	n      int
}

func newRuntimes() *runtimes {
	return &runtimes{
		all:    runningvariance.NewRunningStat(),
		recent: ewma.NewMovingAverage(),
	}
}

// add records the wall time of a job that ran.
func (r *runtimes) add(d time.Duration) {
	r.all.Push(float64(d))
	r.recent.Add(float64(d))
	r.n++
}

// mean returns the mean wall time, or 0 if no jobs were added.
func (r *runtimes) mean() time.Duration {
	if r.n == 0 {
		return 0
	}
	return time.Duration(r.all.Mean())
}

// stdDev returns the standard deviation of wall times, which is 0 until at
// least 2 jobs were added.
func (r *runtimes) stdDev() time.Duration {
	if r.n < 2 {
		return 0
	}
	sd := r.all.StandardDeviation()
	if math.IsNaN(sd) {
		return 0
	}
	return time.Duration(sd)
}

// eta estimates how long it will take to run the given number of remaining
// jobs with the given number of slots (0 meaning unlimited). It returns 0
// when nothing is known yet.
func (r *runtimes) eta(remaining, slots int) time.Duration {
	if r.n == 0 || remaining <= 0 {
		return 0
	}
	if slots <= 0 || slots > remaining {
		slots = remaining
	}
	rounds := math.Ceil(float64(remaining) / float64(slots))
	return time.Duration(r.recent.Value() * rounds).Round(time.Second)
}
