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

package fileset

// This file contains error handling code.

import (
	"strings"
)

// fileset has some typical errors
const (
	ErrUnknownFormat = "unknown input format"
	ErrUnreadable    = "directory could not be read"
	ErrPartial       = "files are missing their partners"
	ErrAmbiguous     = "files could belong to more than one group"
	ErrNoGroups      = "no file groups found"
	ErrBadFilter     = "invalid file name filter"
)

// DiscoveryError records an error and the directory and files that caused it.
// Any DiscoveryError aborts a batch before any jobs are created.
type DiscoveryError struct {
	Dir    string   // the directory being searched
	Err    string   // one of our Err constants
	Detail string   // extra information, if any
	Files  []string // the offending file names, if any
}

func (e DiscoveryError) Error() string {
	msg := "fileset(" + e.Dir + ") Discover(): " + e.Err
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if len(e.Files) > 0 {
		msg += ": " + strings.Join(e.Files, ", ")
	}
	return msg
}
