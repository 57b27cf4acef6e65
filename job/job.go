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
Package job describes a single unit of QC work: one execution of a QC script
against one group of input files, and its lifecycle.

A Job starts out queued. A backend moves it to running when the script has
been started or accepted by a batch queue, and then to completed or failed
once the script exits. Status only ever moves forwards; attempts to move it
backwards (or sideways between the two terminal states) are rejected.

	import "github.com/VertebrateResequencing/qcpipe/job"
	j := job.New("sample1", "/path/to/illumina_qc.sh", []string{"s1_R1.fastq.gz", "s1_R2.fastq.gz"}, "/data/run1")
	err := j.Start("12345")
	// ... later
	err = j.Finish(0)
	j.Status() // job.StatusCompleted
*/
package job

import (
	"fmt"
	"strings"
	"time"

	sync "github.com/sasha-s/go-deadlock"
)

// Status is how we describe the possible job states.
type Status string

// Status* constants represent all the possible job states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// NoExitCode is the ExitCode of jobs that failed without their script ever
// reporting an exit code, eg. because submission failed or they were killed.
const NoExitCode = -1

// Terminal tells you if a job in this state is finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowed lists the legal transitions out of each state.
var allowed = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// canMove tells you if going from one state to another is legal.
func canMove(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a QC script to run against an ordered set of input files.
type Job struct {
	// Name is unique within a batch; it is the name of the file group.
	Name string

	// Script is the absolute path to the QC script.
	Script string

	// Args are the positional arguments to give Script, typically the paths
	// of the files in a group.
	Args []string

	// Dir is the working directory the script runs in.
	Dir string

	status   Status
	exitCode int
	handle   string
	err      error
	started  time.Time
	ended    time.Time
	stdout   string
	stderr   string
	mu       sync.RWMutex
}

// New creates a queued Job.
func New(name, script string, args []string, dir string) *Job {
	a := make([]string, len(args))
	copy(a, args)
	return &Job{
		Name:     name,
		Script:   script,
		Args:     a,
		Dir:      dir,
		status:   StatusQueued,
		exitCode: NoExitCode,
	}
}

// Cmdline returns the script and its args as a single string, suitable for
// logging.
func (j *Job) Cmdline() string {
	return strings.Join(append([]string{j.Script}, j.Args...), " ")
}

// transition moves us to the given state, or returns an ErrBadTransition
// Error. You must hold the write lock.
func (j *Job) transition(op string, to Status) error {
	if !canMove(j.status, to) {
		return Error{Job: j.Name, Op: op, Err: ErrBadTransition, Detail: fmt.Sprintf("%s -> %s", j.status, to)}
	}
	j.status = to
	return nil
}

// Start records that the job's script has been started or submitted, and the
// backend-specific handle (eg. a pid or queue job id) that identifies it.
func (j *Job) Start(handle string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition("Start", StatusRunning); err != nil {
		return err
	}
	j.handle = handle
	j.started = time.Now()
	return nil
}

// Finish records the exit code of the job's script. 0 means completed,
// anything else means failed.
func (j *Job) Finish(exitCode int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	to := StatusCompleted
	if exitCode != 0 {
		to = StatusFailed
	}
	if err := j.transition("Finish", to); err != nil {
		return err
	}
	j.exitCode = exitCode
	j.ended = time.Now()
	if exitCode != 0 {
		j.err = JobFailure{Job: j.Name, ExitCode: exitCode}
	}
	return nil
}

// Fail records that the job failed for a reason other than its script exiting
// non-zero, such as the backend rejecting it, it being killed or it getting
// lost. The exit code becomes NoExitCode.
func (j *Job) Fail(reason error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition("Fail", StatusFailed); err != nil {
		return err
	}
	j.exitCode = NoExitCode
	j.ended = time.Now()
	j.err = reason
	return nil
}

// Status tells you the job's current state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// ExitCode tells you the exit code of the job's script. It is NoExitCode until
// the job is terminal, and remains so if the script never reported one.
func (j *Job) ExitCode() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.exitCode
}

// Handle returns the backend-specific identifier set by Start().
func (j *Job) Handle() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.handle
}

// Err returns the reason the job failed, or nil if it didn't (yet).
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// SetLogFiles records where the script's STDOUT and STDERR are being written.
func (j *Job) SetLogFiles(stdout, stderr string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stdout = stdout
	j.stderr = stderr
}

// LogFiles returns the paths set with SetLogFiles().
func (j *Job) LogFiles() (stdout, stderr string) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stdout, j.stderr
}

// Started returns when the job was started, or the zero time.
func (j *Job) Started() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.started
}

// Ended returns when the job became terminal, or the zero time.
func (j *Job) Ended() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.ended
}

// WallTime returns the time the job has been running for, or the total time it
// ran for if it has finished. Jobs that never started have 0 WallTime.
func (j *Job) WallTime() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.started.IsZero() {
		return 0
	}
	if j.ended.IsZero() {
		return time.Since(j.started)
	}
	return j.ended.Sub(j.started)
}
