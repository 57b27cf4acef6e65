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

// This file contains the Summary of a finished batch.

import (
	"fmt"
	"sort"
	"time"

	"github.com/VertebrateResequencing/qcpipe/job"
	multierror "github.com/hashicorp/go-multierror"
)

// maxExitCode is the largest exit code a process can return.
const maxExitCode = 255

// Summary describes the outcome of running a batch.
type Summary struct {
	// ID is the ID of the batch.
	ID string

	// Script is the QC script that was run.
	Script string

	// Dirs are the directories the file groups were found in.
	Dirs []string

	// Jobs are the batch's jobs, one per file group, in submission order.
	Jobs []*job.Job

	Completed int
	Failed    int

	// Cancelled is true if the batch was stopped early.
	Cancelled bool

	// Err aggregates the reasons every failed job failed, or is nil.
	Err error

	// MaxRunning is the most jobs that ever held a run slot at once.
	MaxRunning int

	// MeanRuntime and StdDevRuntime describe the wall times of the jobs that
	// ran.
	MeanRuntime   time.Duration
	StdDevRuntime time.Duration

	Started time.Time
	Ended   time.Time
}

// newSummary tallies the terminal state of a batch's jobs.
func newSummary(b *Batch, rt *runtimes, maxRunning int, cancelled bool, started time.Time) *Summary {
	s := &Summary{
		ID:            b.ID,
		Script:        b.Script,
		Dirs:          b.Dirs,
		Jobs:          b.Jobs,
		Cancelled:     cancelled,
		MaxRunning:    maxRunning,
		MeanRuntime:   rt.mean(),
		StdDevRuntime: rt.stdDev(),
		Started:       started,
		Ended:         time.Now(),
	}

	var merr *multierror.Error
	for _, j := range b.Jobs {
		switch j.Status() {
		case job.StatusCompleted:
			s.Completed++
		case job.StatusFailed:
			s.Failed++
			err := j.Err()
			if err == nil {
				err = job.JobFailure{Job: j.Name, ExitCode: j.ExitCode()}
			}
			merr = multierror.Append(merr, err)
		}
	}
	s.Err = merr.ErrorOrNil()
	return s
}

// ExitCode returns the number of failed jobs, capped at 255, suitable for
// exiting with.
func (s *Summary) ExitCode() int {
	if s.Failed > maxExitCode {
		return maxExitCode
	}
	return s.Failed
}

// String returns the one line description of the outcome of the batch.
func (s *Summary) String() string {
	return fmt.Sprintf("%d groups: %d completed, %d failed", len(s.Jobs), s.Completed, s.Failed)
}

// Record is what we store about a batch in the history database.
type Record struct {
	ID            string
	Script        string
	Dirs          []string
	Groups        int
	Completed     int
	Failed        int
	Cancelled     bool
	MaxRunning    int
	MeanRuntime   time.Duration
	StdDevRuntime time.Duration
	Started       time.Time
	Ended         time.Time

	// Failures maps the names of failed jobs to why they failed.
	Failures map[string]string
}

// Record converts the Summary for storage.
func (s *Summary) Record() *Record {
	r := &Record{
		ID:            s.ID,
		Script:        s.Script,
		Dirs:          s.Dirs,
		Groups:        len(s.Jobs),
		Completed:     s.Completed,
		Failed:        s.Failed,
		Cancelled:     s.Cancelled,
		MaxRunning:    s.MaxRunning,
		MeanRuntime:   s.MeanRuntime,
		StdDevRuntime: s.StdDevRuntime,
		Started:       s.Started,
		Ended:         s.Ended,
		Failures:      make(map[string]string),
	}
	for _, j := range s.Jobs {
		if j.Status() == job.StatusFailed {
			reason := "unknown"
			if err := j.Err(); err != nil {
				reason = err.Error()
			}
			r.Failures[j.Name] = reason
		}
	}
	return r
}

// FailedJobs returns the sorted names of the jobs that failed.
func (r *Record) FailedJobs() []string {
	names := make([]string, 0, len(r.Failures))
	for name := range r.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
