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

package reporter

// This file contains error handling code.

import (
	"fmt"
	"strings"
)

// reporter has some typical errors
const (
	ErrUnknownPlatform = "unknown sequencing platform"
	ErrFormatMismatch  = "input format is not produced by this platform"
	ErrUnknownKind     = "unknown report kind"
	ErrWrite           = "report could not be written"
)

// Error records an error and the operation and directory that caused it.
type Error struct {
	Dir    string // the directory being reported on
	Op     string // name of the method
	Err    string // one of our Err* consts
	Detail string // extra information, if any
}

func (e Error) Error() string {
	msg := "reporter(" + e.Dir + ") " + e.Op + "(): " + e.Err
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// VerificationFailure is returned by Failures() when some groups are missing
// expected QC artifacts.
type VerificationFailure struct {
	Dir    string
	Failed []Result
}

func (e VerificationFailure) Error() string {
	lines := make([]string, 0, len(e.Failed)+1)
	lines = append(lines, fmt.Sprintf("%s: %d groups failed verification", e.Dir, len(e.Failed)))
	for _, r := range e.Failed {
		lines = append(lines, fmt.Sprintf("  %s: missing %s", r.Group.Name, strings.Join(r.Missing, ", ")))
	}
	return strings.Join(lines, "\n")
}
