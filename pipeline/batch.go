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

// This file contains the Batch type, which tracks the lifecycle of one
// invocation of a QC script over a set of input directories.

import (
	"fmt"
	"regexp"
	"time"

	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/gofrs/uuid"
	sync "github.com/sasha-s/go-deadlock"
)

// Stage is how we describe where a Batch is in its lifecycle.
type Stage int

// Stage* constants are the stages a batch passes through, in order.
const (
	StageIdle Stage = iota
	StageDiscovering
	StageScheduling
	StageDraining
	StageDone
)

var stageNames = [...]string{"idle", "discovering", "scheduling", "draining", "done"}

func (s Stage) String() string {
	if s < StageIdle || s > StageDone {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Batch is a QC script and the file groups it is to be run against. A batch
// only ever moves forward through the Stage* constants; a failed discovery
// moves it straight to StageDone, so no job is ever created for an ill-formed
// set of inputs.
type Batch struct {
	ID      string
	Script  string
	Format  fileset.Format
	Dirs    []string
	Groups  []fileset.FileGroup
	Jobs    []*job.Job
	Created time.Time
	stage   Stage
	mu      sync.RWMutex
}

// NewBatch creates an idle batch that will run the given script.
func NewBatch(script string) (*Batch, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	if script == "" {
		return nil, Error{Batch: u.String(), Op: "NewBatch", Err: ErrNoScript}
	}
	return &Batch{ID: u.String(), Script: script, Created: time.Now()}, nil
}

// Stage tells you where the batch is in its lifecycle.
func (b *Batch) Stage() Stage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stage
}

// advance moves the batch on to the given stage, which must be later than the
// current one.
func (b *Batch) advance(op string, to Stage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if to <= b.stage {
		return Error{Batch: b.ID, Op: op, Err: ErrBadStage, Detail: fmt.Sprintf("%s -> %s", b.stage, to)}
	}
	b.stage = to
	return nil
}

// Discover finds the file groups of the given format in each of dirs, in
// order. Any fileset.DiscoveryError ends the batch, and is returned.
func (b *Batch) Discover(dirs []string, format fileset.Format, filter *regexp.Regexp) error {
	if err := b.advance("Discover", StageDiscovering); err != nil {
		return err
	}

	groups, err := fileset.DiscoverAll(dirs, format, filter)
	if err != nil {
		if errs := b.advance("Discover", StageDone); errs != nil {
			return errs
		}
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.Format = format
	b.Dirs = append([]string(nil), dirs...)
	b.Groups = groups
	return nil
}

// SetGroups supplies already discovered file groups to an idle batch.
func (b *Batch) SetGroups(groups []fileset.FileGroup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stage != StageIdle {
		return Error{Batch: b.ID, Op: "SetGroups", Err: ErrBadStage, Detail: b.stage.String()}
	}
	b.Groups = groups
	seen := make(map[string]bool)
	b.Dirs = nil
	for _, g := range groups {
		if !seen[g.Dir] {
			seen[g.Dir] = true
			b.Dirs = append(b.Dirs, g.Dir)
		}
		b.Format = g.Format
	}
	return nil
}

// createJobs makes one queued job per group, in group order. The script is
// given the absolute paths of the group's files and runs in the group's
// directory.
func (b *Batch) createJobs() []*job.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Jobs = make([]*job.Job, len(b.Groups))
	for i, g := range b.Groups {
		b.Jobs[i] = job.New(g.Name, b.Script, g.Paths(), g.Dir)
	}
	return b.Jobs
}
