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

/*
Package limiter provides a way of limiting how many jobs can be in flight at
once, across one or more named slot groups. It can be used concurrently.

You first create a Limiter with a callback that provides the number of slots in
each group. Then when you want to start a job that belongs to one or more of
those groups, you call Increment(). If no group is full, it takes a slot in each
and returns true. When the job is done, Decrement().

The limiter also remembers the highest number of slots that were ever in use at
once in each group, which is how a pipeline can prove it never went over its
concurrency limit.

	import "github.com/VertebrateResequencing/qcpipe/limiter"

	cb := func(name string) int {
	    if name == "jobs" {
	        return 2
	    }
	    return -1
	}

	l := limiter.New(cb)

	l.Increment([]string{"jobs"}) // true
	l.Increment([]string{"jobs"}) // true
	l.Increment([]string{"jobs"}) // false
	l.Decrement([]string{"jobs"})
	l.Increment([]string{"jobs"}) // true
	l.Peak("jobs") // 2

	l.Increment([]string{"other"}) // true since callback returns -1: unlimited
*/
package limiter
