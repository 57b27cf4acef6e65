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

// This file contains error handling code.

import (
	"time"
)

// pipeline has some typical errors
const (
	ErrBadStage  = "batch is not at the right stage for this operation"
	ErrNoJobs    = "batch has no file groups to process"
	ErrTimedOut  = "job ran for longer than the time limit"
	ErrCancelled = "batch was cancelled"
	ErrNoScript  = "QC script not supplied"
)

// Error records an error and the operation and batch that caused it.
type Error struct {
	Batch  string // the batch's ID
	Op     string // name of the method
	Err    string // one of our Err* consts
	Detail string // extra information, if any
}

func (e Error) Error() string {
	msg := "pipeline(" + e.Batch + ") " + e.Op + "(): " + e.Err
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// timedOut returns the Error a job is failed with when it exceeds limit.
func timedOut(batch string, limit time.Duration) error {
	return Error{Batch: batch, Op: "Run", Err: ErrTimedOut, Detail: limit.String()}
}
