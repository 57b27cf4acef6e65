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

// This file contains a runneri implementation for 'sge': running jobs via
// (Sun|Oracle|Son of|Univa) Grid Engine's qsub.

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/inconshreveable/log15"
)

// sge is our implementer of runneri
type sge struct {
	queueTracker
	qsubExe     string
	qstatExe    string
	qacctExe    string
	qdelExe     string
	qsubRegex   *regexp.Regexp
	qacctRegex  *regexp.Regexp
	qstatIDExpr *regexp.Regexp
}

// ConfigSGE represents the configuration options required by the SGE runner.
type ConfigSGE struct {
	ConfigQueue
}

// initialize finds the SGE commands.
func (s *sge) initialize(config interface{}, logger log15.Logger) error {
	c, ok := config.(*ConfigSGE)
	if !ok {
		return Error{Runner: "sge", Op: "initialize", Err: ErrBadConfig}
	}

	s.qsubExe = internal.Which("qsub")
	s.qstatExe = internal.Which("qstat")
	s.qacctExe = internal.Which("qacct")
	s.qdelExe = internal.Which("qdel")
	if s.qsubExe == "" || s.qstatExe == "" || s.qdelExe == "" {
		return Error{Runner: "sge", Op: "initialize", Err: ErrNoQueue, Detail: "need qsub, qstat and qdel"}
	}

	s.qsubRegex = regexp.MustCompile(`Your job(?:-array)? (\d+)`)
	s.qacctRegex = regexp.MustCompile(`(?m)^exit_status\s+(\d+)`)
	s.qstatIDExpr = regexp.MustCompile(`^\d+$`)

	return s.queueTracker.init("sge", &c.ConfigQueue, logger)
}

// submit writes a wrapper script and qsubs it, returning the SGE job id.
func (s *sge) submit(j *job.Job) (string, string, string, error) {
	name, wrapper, stdout, stderr, exit, err := s.prepare(j)
	if err != nil {
		return "", "", "", err
	}

	args := []string{"-N", name, "-o", stdout, "-e", stderr, "-wd", j.Dir, "-S", "/bin/sh"}
	args = append(args, s.extraArgs...)
	args = append(args, wrapper)

	out, err := exec.Command(s.qsubExe, args...).CombinedOutput() // #nosec
	if err != nil {
		return "", "", "", fmt.Errorf("failed to run %s %s: %s (%s)", s.qsubExe, args, err, bytes.TrimSpace(out))
	}

	matches := s.qsubRegex.FindSubmatch(out)
	if len(matches) != 2 {
		return "", "", "", fmt.Errorf("qsub %s returned unexpected output: %s", args, bytes.TrimSpace(out))
	}
	handle := string(matches[1])

	s.track(handle, exit)
	return handle, stdout, stderr, nil
}

// poll checks the (cached) qstat listing. Jobs in an error state are qdel'd
// and failed. Jobs no longer listed have finished.
func (s *sge) poll(j *job.Job) (outcome, error) {
	handle := j.Handle()
	states, err := s.listing(s.qstat)
	if err != nil {
		return outcome{}, err
	}

	if state, listed := states[handle]; listed {
		if strings.Contains(state, "E") {
			if errd := s.qdel(handle); errd != nil {
				s.Warn("failed to delete errored job", "id", handle, "err", errd)
			}
			s.forget(handle)
			return outcome{finished: true, reason: Error{Runner: "sge", Op: "poll", Err: ErrQueueState, Detail: state}}, nil
		}
		s.present(handle)
		return outcome{}, nil
	}

	return s.vanished(handle, s.qacct)
}

// qstat runs qstat and returns the state of each listed job, keyed on job id.
func (s *sge) qstat() (map[string]string, error) {
	out, err := exec.Command(s.qstatExe).Output() // #nosec
	if err != nil {
		return nil, Error{Runner: "sge", Op: "qstat", Err: ErrCommand, Detail: fmt.Sprintf("failed to run [%s]: %s", s.qstatExe, err)}
	}

	states := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !s.qstatIDExpr.MatchString(fields[0]) {
			continue
		}
		states[fields[0]] = fields[4]
	}
	if err = scanner.Err(); err != nil {
		return nil, Error{Runner: "sge", Op: "qstat", Err: ErrCommand, Detail: fmt.Sprintf("failed to read everything from [%s]: %s", s.qstatExe, err)}
	}
	return states, nil
}

// qacct asks SGE's accounting for the exit status of a finished job.
func (s *sge) qacct(handle string) (int, bool) {
	if s.qacctExe == "" {
		return 0, false
	}
	out, err := exec.Command(s.qacctExe, "-j", handle).Output() // #nosec
	if err != nil {
		return 0, false
	}
	matches := s.qacctRegex.FindSubmatch(out)
	if len(matches) != 2 {
		return 0, false
	}
	code, err := strconv.Atoi(string(matches[1]))
	if err != nil {
		return 0, false
	}
	return code, true
}

// qdel deletes a job from the queue.
func (s *sge) qdel(handle string) error {
	out, err := exec.Command(s.qdelExe, handle).CombinedOutput() // #nosec
	if err != nil {
		return Error{Runner: "sge", Op: "qdel", Err: ErrCommand, Detail: fmt.Sprintf("failed to run [%s %s]: %s (%s)", s.qdelExe, handle, err, bytes.TrimSpace(out))}
	}
	return nil
}

// terminate qdels the job.
func (s *sge) terminate(handle string) error {
	s.forget(handle)
	return s.qdel(handle)
}

// cleanup qdels anything we're still tracking.
func (s *sge) cleanup() {
	for _, handle := range s.handles() {
		if err := s.qdel(handle); err != nil {
			s.Warn("cleanup qdel failed", "id", handle, "err", err)
		}
	}
	s.reset()
}
