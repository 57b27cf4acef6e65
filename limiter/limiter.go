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

// This file contains the implementation of the main struct in the limiter
// package, the Limiter.

import (
	sync "github.com/sasha-s/go-deadlock"
)

// SetLimitCallback is provided to New(). Your function should take the name of
// a group and return the number of slots in that group. If the group doesn't
// exist or has no limit, return -1.
type SetLimitCallback func(name string) int

// Limiter struct is used to limit usage of slot groups.
type Limiter struct {
	cb     SetLimitCallback
	groups map[string]*group
	peaks  map[string]uint
	mu     sync.Mutex
}

// New creates a new Limiter.
func New(cb SetLimitCallback) *Limiter {
	return &Limiter{
		cb:     cb,
		groups: make(map[string]*group),
		peaks:  make(map[string]uint),
	}
}

// Peak tells you the highest number of slots of the given group that were ever
// in use at the same time. This survives the group being forgotten by
// Decrement().
func (l *Limiter) Peak(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.peaks[name])
}

// Increment sees if it would be possible to take a slot in every supplied
// group, without making any of them go over their limit.
//
// If this is the first time we're seeing a group name, or a Decrement() call
// has made us forget about that group, the callback provided to New() will be
// called with the name, and the returned value will be used to create a new
// group with that limit and initial count of 0 (which will become 1 if this
// returns true). Groups with a limit of 0 will not be able to be Increment()ed.
//
// If possible, the group counts are actually incremented and this returns
// true. If not possible, no group counts are altered and this returns false.
func (l *Limiter) Increment(groups []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, name := range groups {
		if g := l.vivifyGroup(name); g != nil && !g.canIncrement() {
			return false
		}
	}

	for _, name := range groups {
		if g := l.vivifyGroup(name); g != nil {
			g.increment()
			if g.peak > l.peaks[name] {
				l.peaks[name] = g.peak
			}
		}
	}
	return true
}

// vivifyGroup either returns a stored group or creates a new one based on the
// results of calling the SetLimitCallback. You must have the mu.Lock() before
// calling this. Can return nil if the callback doesn't know about this group
// and returns a -1 limit.
func (l *Limiter) vivifyGroup(name string) *group {
	g, exists := l.groups[name]
	if !exists {
		if limit := l.cb(name); limit >= 0 {
			g = newGroup(name, uint(limit))
			l.groups[name] = g
		}
	}
	return g
}

// Decrement frees a slot in every supplied group.
//
// To save memory, if a group reaches a count of 0, it is forgotten.
//
// If a group isn't known about (because it was never previously Increment()ed,
// or was previously Decrement()ed to 0 and forgotten about), an Error with
// ErrNotIncremented is returned, but the other groups are still decremented.
func (l *Limiter) Decrement(groups []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for _, name := range groups {
		g, exists := l.groups[name]
		if !exists || !g.decrement() {
			err = Error{Group: name, Op: "Decrement", Err: ErrNotIncremented}
			continue
		}
		if g.current == 0 {
			delete(l.groups, name)
		}
	}
	return err
}
