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

package job

import "fmt"

// Err* constants are found in our returned Errors under err.Err, so you can
// cross-check the type of error that occurred.
const (
	ErrBadTransition = "illegal job status transition"
)

// Error records an error and the operation and job that caused it.
type Error struct {
	Job    string // the job's Name
	Op     string // name of the method
	Err    string // one of our Err* vars
	Detail string // extra information, if any
}

func (e Error) Error() string {
	msg := "job(" + e.Job + ") " + e.Op + "(): " + e.Err
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// JobFailure is the error recorded against a job whose script exited non-zero.
type JobFailure struct {
	Job      string
	ExitCode int
}

func (e JobFailure) Error() string {
	return fmt.Sprintf("job %s exited with code %d", e.Job, e.ExitCode)
}
