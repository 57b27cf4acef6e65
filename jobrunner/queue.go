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

package jobrunner

// This file contains code shared by the batch queue runneri implementations:
// wrapper scripts that record exit codes, and tracking of submitted jobs.

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/inconshreveable/log15"
	"github.com/patrickmn/go-cache"
	sync "github.com/sasha-s/go-deadlock"
)

const (
	// defaultLostGrace is how many polls a job may be absent from the queue
	// without us finding its exit code before we consider it lost.
	defaultLostGrace = 5

	// listingTTL is how long a listing of the queue is reused for, so that
	// polling every in-flight job in one cycle costs a single query.
	listingTTL   = 1 * time.Second
	listingKey   = "listing"
	cacheCleanup = 1 * time.Minute
)

// ConfigQueue represents the configuration options shared by the batch queue
// runners.
type ConfigQueue struct {
	// LogDir is the directory that jobs' STDOUT, STDERR, wrapper scripts and
	// exit code files are written to. If empty, they are written to each
	// job's working directory. It must be on a filesystem shared with the
	// execution hosts.
	LogDir string

	// Umask is applied to the files and directories we create.
	Umask os.FileMode

	// Args are extra space separated arguments for the submission command,
	// eg. "-q long -P myproject". Quote arguments containing spaces with
	// double quotes.
	Args string

	// LostGrace is the number of polls a job can be missing from the queue
	// listing, with no known exit code, before it is considered lost. Defaults
	// to 5.
	LostGrace int
}

// queueJob is what we remember about a job we submitted to a batch queue.
type queueJob struct {
	exitFile string
	absent   int
}

// queueTracker holds the state common to batch queue runners.
type queueTracker struct {
	name      string
	config    *ConfigQueue
	logDir    string
	extraArgs []string
	jobs      map[string]*queueJob
	listings  *cache.Cache
	mu        sync.Mutex
	log15.Logger
}

// init sets up a queueTracker for the named runner.
func (q *queueTracker) init(name string, config *ConfigQueue, logger log15.Logger) error {
	q.name = name
	q.config = config
	q.Logger = logger.New("runner", name)

	dir, err := absLogDir(config.LogDir)
	if err != nil {
		return Error{Runner: name, Op: "initialize", Err: ErrLogDir, Detail: err.Error()}
	}
	q.logDir = dir

	if config.LostGrace <= 0 {
		config.LostGrace = defaultLostGrace
	}

	q.extraArgs = splitArgs(config.Args, q.Logger)
	q.jobs = make(map[string]*queueJob)
	q.listings = cache.New(listingTTL, cacheCleanup)
	return nil
}

// prepare creates the log dir, the wrapper script for the job and works out
// the paths it will use. The wrapper runs the job's script from the job's Dir
// and records its exit code in the exit file.
func (q *queueTracker) prepare(j *job.Job) (name, wrapper, stdout, stderr, exit string, err error) {
	name = jobName(j, true)
	stdout, stderr, exit, err = logPaths(q.logDir, q.config.Umask, j, name)
	if err != nil {
		return "", "", "", "", "", err
	}
	wrapper = strings.TrimSuffix(exit, ".exit") + ".sh"

	err = internal.WriteFileAtomic(wrapper, wrapperScript(j, exit), wrapperPerms, q.config.Umask)
	return name, wrapper, stdout, stderr, exit, err
}

// track starts remembering a submitted job. It also invalidates any cached
// queue listing, which would not include the new job.
func (q *queueTracker) track(handle, exitFile string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[handle] = &queueJob{exitFile: exitFile}
	q.listings.Delete(listingKey)
}

// forget stops remembering a job.
func (q *queueTracker) forget(handle string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, handle)
}

// listing returns the cached result of calling fetch, or calls it and caches
// the result. fetch should return the state of every job in the queue, keyed
// on job id.
func (q *queueTracker) listing(fetch func() (map[string]string, error)) (map[string]string, error) {
	if cached, found := q.listings.Get(listingKey); found {
		return cached.(map[string]string), nil
	}
	states, err := fetch()
	if err != nil {
		return nil, err
	}
	q.listings.Set(listingKey, states, cache.DefaultExpiration)
	return states, nil
}

// vanished is called when a submitted job is no longer active in the queue.
// It finds the exit code from the wrapper's exit file, or else from the given
// accounting func, if any. If neither know, we wait for LostGrace calls before
// declaring the job lost.
func (q *queueTracker) vanished(handle string, accounting func(handle string) (int, bool)) (outcome, error) {
	q.mu.Lock()
	qj, exists := q.jobs[handle]
	q.mu.Unlock()
	if !exists {
		return outcome{}, Error{Runner: q.name, Op: "poll", Err: ErrNotSubmitted}
	}

	if code, ok := readExitFile(qj.exitFile); ok {
		q.forget(handle)
		return outcome{finished: true, exitCode: code}, nil
	}

	if accounting != nil {
		if code, ok := accounting(handle); ok {
			q.forget(handle)
			return outcome{finished: true, exitCode: code}, nil
		}
	}

	q.mu.Lock()
	qj.absent++
	absent := qj.absent
	q.mu.Unlock()

	if absent >= q.config.LostGrace {
		q.forget(handle)
		q.Warn("job lost", "id", handle, "exitFile", qj.exitFile)
		return outcome{finished: true, reason: Error{Runner: q.name, Op: "poll", Err: ErrLost}}, nil
	}
	return outcome{}, nil
}

// present is called when a submitted job is seen in the queue, resetting its
// count of polls spent absent.
func (q *queueTracker) present(handle string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if qj, exists := q.jobs[handle]; exists {
		qj.absent = 0
	}
}

// handles returns the ids of all the jobs we're tracking.
func (q *queueTracker) handles() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	handles := make([]string, 0, len(q.jobs))
	for handle := range q.jobs {
		handles = append(handles, handle)
	}
	return handles
}

// reset forgets everything.
func (q *queueTracker) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = make(map[string]*queueJob)
	q.listings.Flush()
}

// wrapperScript returns the content of a shell script that runs the job and
// writes its exit code to exitFile. The exit code is written to a temporary
// file and renamed, so a partially written exit file is never seen.
func wrapperScript(j *job.Job, exitFile string) []byte {
	quoted := make([]string, 0, len(j.Args)+1)
	quoted = append(quoted, shellQuote(j.Script))
	for _, arg := range j.Args {
		quoted = append(quoted, shellQuote(arg))
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("cd " + shellQuote(j.Dir) + " || exit 1\n")
	b.WriteString(strings.Join(quoted, " ") + "\n")
	b.WriteString("qcpipe_exit=$?\n")
	b.WriteString("echo $qcpipe_exit > " + shellQuote(exitFile+".tmp") + " && mv " + shellQuote(exitFile+".tmp") + " " + shellQuote(exitFile) + "\n")
	b.WriteString("exit $qcpipe_exit\n")
	return []byte(b.String())
}

// shellQuote single-quotes s for sh.
func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

// readExitFile returns the exit code recorded by a wrapper script.
func readExitFile(path string) (int, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, false
	}
	return code, true
}

// splitArgs splits a string of space separated args, respecting double quotes.
// Strings that can't be parsed, or that contain single quotes, are ignored
// with a warning.
func splitArgs(val string, logger log15.Logger) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	if strings.Contains(val, `'`) {
		logger.Warn("queue args ignored due to containing single quotes", "args", val)
		return nil
	}

	r := csv.NewReader(strings.NewReader(strings.TrimSpace(val)))
	r.Comma = ' '
	fields, err := r.Read()
	if err != nil {
		logger.Warn("queue args ignored", "args", val, "err", err)
		return nil
	}

	args := make([]string, 0, len(fields))
	for _, field := range fields {
		if field != "" {
			args = append(args, field)
		}
	}
	return args
}
