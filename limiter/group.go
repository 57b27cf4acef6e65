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

package limiter

// This file contains the implementation of the group stuct. Groups are only
// ever touched while the Limiter's lock is held, so they have none of their
// own.

// group struct describes an individual slot group.
type group struct {
	name    string
	limit   uint
	current uint
	peak    uint
}

// newGroup creates a new group.
func newGroup(name string, limit uint) *group {
	return &group{
		name:  name,
		limit: limit,
	}
}

// canIncrement tells you if the group has a free slot.
func (g *group) canIncrement() bool {
	return g.current < g.limit
}

// increment takes a slot, updating our peak usage. You must check
// canIncrement() first.
func (g *group) increment() {
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
}

// decrement frees a slot. Returns false if there were none in use.
func (g *group) decrement() bool {
	if g.current == 0 {
		return false
	}
	g.current--
	return true
}
