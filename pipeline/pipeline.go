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
Package pipeline runs a QC script against every group of files discovered in
some directories, through a jobrunner, without ever having more than a given
number of jobs running at once.

A batch moves through the stages idle, discovering, scheduling, draining and
done. Failure to discover a complete set of file groups ends the batch before
any job is created. After that, the failure of individual jobs never stops the
batch: every group gets its job, and the failures are summarised at the end.

	import (
	    "github.com/VertebrateResequencing/qcpipe/jobrunner"
	    "github.com/VertebrateResequencing/qcpipe/pipeline"
	)

	runner, err := jobrunner.New("local", &jobrunner.ConfigLocal{})
	p := pipeline.New(runner, pipeline.Config{Limit: 2, PollInterval: 5 * time.Second})
	b, err := pipeline.NewBatch("/path/to/illumina_qc.sh")
	err = b.Discover([]string{"/data/run1"}, fileset.FormatFastqGz, nil)
	summary, err := p.RunBatch(ctx, b)
	fmt.Println(summary) // 2 groups: 2 completed, 0 failed
	os.Exit(summary.ExitCode())
*/
package pipeline

import (
	"context"
	"time"

	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/VertebrateResequencing/qcpipe/limiter"
	"github.com/inconshreveable/log15"
	"github.com/jpillora/backoff"
)

const (
	// limitGroup is the limiter group every job takes a slot in.
	limitGroup = "jobs"

	defaultPollInterval = 5 * time.Second
)

// Backend is the way jobs get executed. *jobrunner.Runner satisfies it.
type Backend interface {
	// Submit starts a queued job without waiting for it to finish, or marks
	// it failed and returns an error.
	Submit(j *job.Job) error

	// Poll returns the current status of a job, recording on the job that it
	// finished if it has.
	Poll(j *job.Job) (job.Status, error)

	// Terminate kills a running job and marks it failed with reason.
	Terminate(j *job.Job, reason error) error

	// Cleanup kills anything still running and releases resources.
	Cleanup() error
}

// Config describes how a Pipeline runs batches.
type Config struct {
	// Limit is the most jobs that can be running at once. 0 means no limit.
	Limit int

	// PollInterval is how long to wait between checking on running jobs.
	// Defaults to 5 seconds.
	PollInterval time.Duration

	// MaxPollInterval, if greater than PollInterval, lets the wait between
	// checks grow while nothing changes, up to this amount. The wait returns
	// to PollInterval as soon as a job starts or finishes.
	MaxPollInterval time.Duration

	// Timeout is the longest a job may run for before it is terminated and
	// failed. 0 means jobs may run forever.
	Timeout time.Duration
}

// Pipeline runs batches of jobs through a Backend.
type Pipeline struct {
	backend Backend
	config  Config
	log15.Logger
}

// New creates a Pipeline that will execute jobs using backend. If a logger is
// not supplied, log messages are discarded.
func New(backend Backend, config Config, logger ...log15.Logger) *Pipeline {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.MaxPollInterval < config.PollInterval {
		config.MaxPollInterval = config.PollInterval
	}
	if config.Limit < 0 {
		config.Limit = 0
	}

	var l log15.Logger
	if len(logger) == 1 {
		l = logger[0].New()
	} else {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}

	return &Pipeline{backend: backend, config: config, Logger: l}
}

// Run creates a batch for the given already-discovered groups and runs it
// with RunBatch().
func (p *Pipeline) Run(ctx context.Context, script string, groups []fileset.FileGroup) (*Summary, error) {
	b, err := NewBatch(script)
	if err != nil {
		return nil, err
	}
	if err = b.SetGroups(groups); err != nil {
		return nil, err
	}
	return p.RunBatch(ctx, b)
}

// schedule is the state of one RunBatch() call.
type schedule struct {
	*Pipeline
	batch    *Batch
	limiter  *limiter.Limiter
	pending  []*job.Job
	inflight []*job.Job
	runtimes *runtimes
	done     int
	log      log15.Logger
}

// RunBatch creates one job per file group in the batch and runs them all,
// submitting them in group order, with no more than Config.Limit running at
// once. It returns once every job has completed or failed, or ctx is done.
//
// On ctx being done, running jobs are terminated, jobs not yet submitted are
// failed, and the Summary returned says it was cancelled.
//
// An error is only returned if the batch has no groups or has already been
// run; job failures are reported in the Summary.
func (p *Pipeline) RunBatch(ctx context.Context, b *Batch) (*Summary, error) {
	if len(b.Groups) == 0 {
		return nil, Error{Batch: b.ID, Op: "RunBatch", Err: ErrNoJobs}
	}
	if err := b.advance("RunBatch", StageScheduling); err != nil {
		return nil, err
	}
	started := time.Now()

	limit := p.config.Limit
	jobs := b.createJobs()
	slots := limit
	if slots <= 0 {
		slots = len(jobs)
	}
	s := &schedule{
		Pipeline: p,
		batch:    b,
		limiter: limiter.New(func(name string) int {
			if name == limitGroup {
				return slots
			}
			return -1
		}),
		pending:  jobs,
		runtimes: newRuntimes(),
		log:      p.Logger.New("batch", b.ID),
	}
	s.log.Info("starting batch", "script", b.Script, "groups", len(s.pending), "limit", limit)

	bo := &backoff.Backoff{
		Min:    p.config.PollInterval,
		Max:    p.config.MaxPollInterval,
		Factor: 2,
	}

	cancelled := false
	for {
		changed := s.retire()
		if ctx.Err() != nil {
			cancelled = true
			s.cancel()
			break
		}
		if s.fill() {
			changed = true
		}

		if len(s.pending) == 0 && b.Stage() == StageScheduling {
			if err := b.advance("RunBatch", StageDraining); err != nil {
				s.log.Warn("batch stage change failed", "err", err)
			}
		}
		if len(s.pending) == 0 && len(s.inflight) == 0 {
			break
		}

		if changed {
			bo.Reset()
			s.progress()
		}

		wait := time.NewTimer(bo.Duration())
		select {
		case <-ctx.Done():
		case <-wait.C:
		}
		wait.Stop()
	}

	if err := p.backend.Cleanup(); err != nil {
		s.log.Warn("backend cleanup failed", "err", err)
	}
	if err := b.advance("RunBatch", StageDone); err != nil {
		s.log.Warn("batch stage change failed", "err", err)
	}

	summary := newSummary(b, s.runtimes, s.limiter.Peak(limitGroup), cancelled, started)
	s.log.Info("batch finished", "completed", summary.Completed, "failed", summary.Failed, "cancelled", cancelled, "maxRunning", summary.MaxRunning, "meanRuntime", summary.MeanRuntime)
	return summary, nil
}

// retire polls every in-flight job, removing those that have finished and
// terminating those that have run for too long. Returns true if any job was
// retired.
func (s *schedule) retire() bool {
	retired := false
	still := s.inflight[:0]
	for _, j := range s.inflight {
		status, err := s.backend.Poll(j)
		if err != nil {
			s.log.Warn("polling job failed", "job", j.Name, "err", err)
		}

		if !status.Terminal() && s.config.Timeout > 0 && j.WallTime() > s.config.Timeout {
			s.log.Warn("job timed out", "job", j.Name, "limit", s.config.Timeout)
			s.kill(j, timedOut(s.batch.ID, s.config.Timeout))
			status = j.Status()
		}

		if !status.Terminal() {
			still = append(still, j)
			continue
		}

		s.finished(j)
		retired = true
	}
	s.inflight = still
	return retired
}

// fill submits pending jobs, in order, while there are free slots. Returns
// true if any job was submitted.
func (s *schedule) fill() bool {
	submitted := false
	for len(s.pending) > 0 && s.limiter.Increment([]string{limitGroup}) {
		j := s.pending[0]
		s.pending = s.pending[1:]
		submitted = true

		if err := s.backend.Submit(j); err != nil {
			s.log.Error("job submission failed", "job", j.Name, "err", err)
			if j.Status() == job.StatusQueued {
				if errf := j.Fail(err); errf != nil {
					s.log.Warn("could not fail job", "job", j.Name, "err", errf)
				}
			}
			s.release()
			s.done++
			continue
		}

		s.inflight = append(s.inflight, j)
		s.log.Debug("job running", "job", j.Name, "handle", j.Handle())
	}
	return submitted
}

// finished records a terminal job and frees its slot.
func (s *schedule) finished(j *job.Job) {
	s.release()
	s.done++
	if !j.Started().IsZero() {
		s.runtimes.add(j.WallTime())
	}

	if j.Status() == job.StatusCompleted {
		s.log.Info("job completed", "job", j.Name, "walltime", j.WallTime())
		return
	}
	stdout, stderr := j.LogFiles()
	s.log.Warn("job failed", "job", j.Name, "exit", j.ExitCode(), "err", j.Err(), "stdout", stdout, "stderr", stderr)
}

// release frees a slot in the limiter.
func (s *schedule) release() {
	if err := s.limiter.Decrement([]string{limitGroup}); err != nil {
		s.log.Warn("slot release failed", "err", err)
	}
}

// kill terminates a running job, making sure it ends up failed even if the
// backend could not be told.
func (s *schedule) kill(j *job.Job, reason error) {
	if err := s.backend.Terminate(j, reason); err != nil {
		s.log.Warn("terminating job failed", "job", j.Name, "err", err)
	}
	if !j.Status().Terminal() {
		if err := j.Fail(reason); err != nil {
			s.log.Warn("could not fail job", "job", j.Name, "err", err)
		}
	}
}

// cancel terminates the in-flight jobs and fails the pending ones.
func (s *schedule) cancel() {
	reason := Error{Batch: s.batch.ID, Op: "RunBatch", Err: ErrCancelled}
	s.log.Warn("batch cancelled", "running", len(s.inflight), "pending", len(s.pending))

	for _, j := range s.inflight {
		s.kill(j, reason)
		s.finished(j)
	}
	s.inflight = nil

	for _, j := range s.pending {
		if err := j.Fail(reason); err != nil {
			s.log.Warn("could not fail job", "job", j.Name, "err", err)
		}
		s.done++
	}
	s.pending = nil
}

// progress logs how far through the batch we are.
func (s *schedule) progress() {
	remaining := len(s.pending) + len(s.inflight)
	s.log.Info("progress", "done", s.done, "running", len(s.inflight), "pending", len(s.pending), "eta", s.runtimes.eta(remaining, s.config.Limit))
}
