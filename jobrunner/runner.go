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
Package jobrunner lets a pipeline execute QC jobs, either as child processes of
the current process or by submitting them to a cluster batch queue, and then
find out when they finish.

Currently implemented backends are local, SGE and LSF. The implementation of
each backend is in its own .go file.

It's a pseudo plug-in system in that it is designed so that you can easily add
a go file that implements the methods of the runneri interface, to support a
new batch queue. On the other hand, there is no dynamic loading of these go
files; they are all imported (they all belong to the jobrunner package), and
the correct one used at run time. To "register" a new runneri implementation
you must add a case for it to New() and rebuild.

None of the methods block waiting for jobs to finish: Submit() returns as soon
as the script has started or the queue has accepted it, and Poll() just tells
you the current state.

	import "github.com/VertebrateResequencing/qcpipe/jobrunner"
	r, err := jobrunner.New("local", &jobrunner.ConfigLocal{LogDir: "/tmp/logs"})
	j := job.New("sample1", "/path/to/illumina_qc.sh", files, "/data/run1")
	err = r.Submit(j)
	for {
	    status, err := r.Poll(j)
	    if status.Terminal() {
	        break
	    }
	    <-time.After(5 * time.Second)
	}
	j.ExitCode()
*/
package jobrunner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/dgryski/go-farm"
	"github.com/hashicorp/go-multierror"
	"github.com/inconshreveable/log15"
	"github.com/inconshreveable/log15/ext"
	sync "github.com/sasha-s/go-deadlock"
)

const (
	logPerms     os.FileMode = 0666
	dirPerms     os.FileMode = 0777
	wrapperPerms os.FileMode = 0777
)

// Err* constants are found in the returned Errors under err.Err, so you can
// cast and check if it's a certain type of error.
const (
	ErrBadRunner    = "unknown runner name"
	ErrBadConfig    = "config is of the wrong type for this runner"
	ErrNoQueue      = "batch queue commands were not found in $PATH"
	ErrNotQueued    = "job is not in the queued state"
	ErrNotSubmitted = "job was not submitted by this runner"
	ErrTerminated   = "job was terminated"
	ErrSignalled    = "job was killed by a signal"
	ErrQueueState   = "job entered an error state in the batch queue"
	ErrLost         = "job left the batch queue but its exit code could not be determined"
	ErrLogDir       = "log directory could not be used"
	ErrCommand      = "batch queue command failed"
	ErrWait         = "waiting for the job's process failed"
)

// Error records an error and the operation and runner that caused it.
type Error struct {
	Runner string // the runner's Name
	Op     string // name of the method
	Err    string // one of our Err* consts
	Detail string // extra information, if any
}

func (e Error) Error() string {
	msg := "jobrunner(" + e.Runner + ") " + e.Op + "(): " + e.Err
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// SubmissionError is returned by Submit() when a job could not be started or
// accepted by the batch queue. The job will have been marked failed.
type SubmissionError struct {
	Runner string
	Job    string
	Err    error
}

func (e SubmissionError) Error() string {
	return fmt.Sprintf("jobrunner(%s) failed to submit job %s: %s", e.Runner, e.Job, e.Err)
}

// outcome is what a runneri reports about a job when polled.
type outcome struct {
	finished bool
	exitCode int   // the script's exit code, when finished and reason is nil
	reason   error // set if finished without the script reporting an exit code
}

// runneri interface must be satisfied to add support for a particular way of
// running jobs.
type runneri interface {
	// do any initial set up to be able to use the backend
	initialize(config interface{}, logger log15.Logger) error

	// start the job, without waiting for it to finish, returning the handle
	// that identifies it and the paths of its stdout and stderr logs
	submit(j *job.Job) (handle, stdout, stderr string, err error)

	// find out what has happened to a submitted job, without blocking for
	// long
	poll(j *job.Job) (outcome, error)

	// kill a submitted job, and forget about it
	terminate(handle string) error

	// release any resources
	cleanup()
}

// Runner gives you access to all of the methods you'll need to interact with
// a way of running jobs.
type Runner struct {
	impl runneri
	Name string
	jobs map[*job.Job]bool
	mu   sync.Mutex
	log15.Logger
}

// New creates a new Runner to execute jobs the given way. Possible names so far
// are "local", "sge" and "lsf". You must also provide a config struct
// appropriate for your chosen runner, eg. for the local runner you will provide
// a *ConfigLocal.
//
// Providing a logger allows for debug messages to be logged somewhere, along
// with any "harmless" or unreturnable errors. If not supplied, we use a default
// logger that discards all log messages.
func New(name string, config interface{}, logger ...log15.Logger) (*Runner, error) {
	var r *Runner
	switch name {
	case "local":
		r = &Runner{impl: new(local)}
	case "sge":
		r = &Runner{impl: new(sge)}
	case "lsf":
		r = &Runner{impl: new(lsf)}
	default:
		return nil, Error{Runner: name, Op: "New", Err: ErrBadRunner}
	}

	var l log15.Logger
	if len(logger) == 1 {
		l = logger[0].New()
	} else {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}
	r.Logger = l

	r.Name = name
	r.jobs = make(map[*job.Job]bool)
	err := r.impl.initialize(config, l)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Submit starts the given queued job, returning as soon as it is running or
// has been accepted by the batch queue, at which point the job will be in the
// running state. If that isn't possible, the job is marked failed and a
// SubmissionError is returned. There are no retries.
func (r *Runner) Submit(j *job.Job) error {
	if j.Status() != job.StatusQueued {
		return Error{Runner: r.Name, Op: "Submit", Err: ErrNotQueued}
	}

	handle, stdout, stderr, err := r.impl.submit(j)
	if err != nil {
		serr := SubmissionError{Runner: r.Name, Job: j.Name, Err: err}
		if ferr := j.Fail(serr); ferr != nil {
			r.Warn("could not mark unsubmittable job as failed", "job", j.Name, "err", ferr)
		}
		r.Error("job submission failed", "job", j.Name, "err", err)
		return serr
	}

	j.SetLogFiles(stdout, stderr)
	if err = j.Start(handle); err != nil {
		// the job wasn't queued; don't leave it running unmanaged
		if terr := r.impl.terminate(handle); terr != nil {
			r.Warn("could not kill job submitted in the wrong state", "job", j.Name, "err", terr)
		}
		return err
	}

	r.mu.Lock()
	r.jobs[j] = true
	r.mu.Unlock()

	r.Debug("submitted job", "job", j.Name, "handle", handle, "cmd", j.Cmdline())
	return nil
}

// Poll tells you the current status of a job, recording a terminal state on the
// job if it has just finished. An error is returned if the backend could not be
// queried, in which case the job's status is unchanged.
func (r *Runner) Poll(j *job.Job) (job.Status, error) {
	status := j.Status()
	if status != job.StatusRunning {
		return status, nil
	}

	r.mu.Lock()
	tracked := r.jobs[j]
	r.mu.Unlock()
	if !tracked {
		return status, Error{Runner: r.Name, Op: "Poll", Err: ErrNotSubmitted}
	}

	out, err := r.impl.poll(j)
	if err != nil {
		return status, err
	}
	if !out.finished {
		return status, nil
	}

	r.forget(j)
	if out.reason != nil {
		err = j.Fail(out.reason)
	} else {
		err = j.Finish(out.exitCode)
	}
	if err != nil {
		return j.Status(), err
	}

	r.Debug("job finished", "job", j.Name, "status", j.Status(), "exit", j.ExitCode())
	return j.Status(), nil
}

// Terminate kills a running job and marks it failed with the given reason, or
// with ErrTerminated if reason is nil. Killing is best-effort: any partial
// output the job wrote is left in place. Jobs that are not running are
// ignored.
func (r *Runner) Terminate(j *job.Job, reason error) error {
	if j.Status() != job.StatusRunning {
		return nil
	}

	r.mu.Lock()
	tracked := r.jobs[j]
	r.mu.Unlock()
	if !tracked {
		return Error{Runner: r.Name, Op: "Terminate", Err: ErrNotSubmitted}
	}

	kerr := r.impl.terminate(j.Handle())
	r.forget(j)

	if reason == nil {
		reason = Error{Runner: r.Name, Op: "Terminate", Err: ErrTerminated}
	}
	if err := j.Fail(reason); err != nil {
		return err
	}

	r.Debug("terminated job", "job", j.Name, "handle", j.Handle())
	return kerr
}

// Running tells you how many submitted jobs have not yet been seen to finish.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Cleanup means you've finished using a runner; it terminates any jobs that
// are still running and releases any other used resources.
func (r *Runner) Cleanup() error {
	r.mu.Lock()
	jobs := make([]*job.Job, 0, len(r.jobs))
	for j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	var merr *multierror.Error
	for _, j := range jobs {
		if err := r.Terminate(j, nil); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	r.impl.cleanup()
	return merr.ErrorOrNil()
}

// forget stops tracking a job.
func (r *Runner) forget(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, j)
}

// jobName could be useful to a runneri implementer if it needs a constant-
// width (length 35) string unique to the job's command line and working
// directory, and optionally suffixed with a random string (total length 44).
func jobName(j *job.Job, unique bool) string {
	l, h := farm.Hash128([]byte(j.Dir + "\x00" + j.Cmdline()))
	name := fmt.Sprintf("qc_%016x%016x", l, h)

	if unique {
		name += "_" + ext.RandId(4)
	}

	return name
}

// logPaths returns the paths that a job with the given jobName() should use
// for its STDOUT, STDERR and (for batch queue jobs) exit code file. When
// logDir is empty, these are in the job's working directory. The directory is
// created if necessary.
func logPaths(logDir string, umask os.FileMode, j *job.Job, name string) (stdout, stderr, exit string, err error) {
	dir := logDir
	if dir == "" {
		dir = j.Dir
	}
	if err = internal.MkdirAll(dir, dirPerms, umask); err != nil {
		return "", "", "", err
	}

	base := filepath.Join(dir, filepath.Base(j.Script)+"."+j.Name+"."+name)
	return base + ".out", base + ".err", base + ".exit", nil
}

// absLogDir makes a configured log directory absolute, so that it isn't
// affected by jobs having different working directories.
func absLogDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	return filepath.Abs(internal.TildaToHome(dir))
}
