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

// This file contains a runneri implementation for 'lsf': running jobs
// via IBM's (ne Platform's) Load Sharing Facility.

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/inconshreveable/log15"
)

const (
	lsfDone = "DONE"
	lsfExit = "EXIT"
)

// lsf is our implementer of runneri
type lsf struct {
	queueTracker
	bsubExe   string
	bjobsExe  string
	bkillExe  string
	bsubRegex *regexp.Regexp
	idRegex   *regexp.Regexp
}

// ConfigLSF represents the configuration options required by the LSF runner.
type ConfigLSF struct {
	ConfigQueue
}

// initialize finds the LSF commands.
func (s *lsf) initialize(config interface{}, logger log15.Logger) error {
	c, ok := config.(*ConfigLSF)
	if !ok {
		return Error{Runner: "lsf", Op: "initialize", Err: ErrBadConfig}
	}

	s.bsubExe = internal.Which("bsub")
	s.bjobsExe = internal.Which("bjobs")
	s.bkillExe = internal.Which("bkill")
	if s.bsubExe == "" || s.bjobsExe == "" || s.bkillExe == "" {
		return Error{Runner: "lsf", Op: "initialize", Err: ErrNoQueue, Detail: "need bsub, bjobs and bkill"}
	}

	s.bsubRegex = regexp.MustCompile(`^Job <(\d+)>`)
	s.idRegex = regexp.MustCompile(`^\d+$`)

	return s.queueTracker.init("lsf", &c.ConfigQueue, logger)
}

// submit writes a wrapper script and bsubs it, returning the LSF job id.
func (s *lsf) submit(j *job.Job) (string, string, string, error) {
	name, wrapper, stdout, stderr, exit, err := s.prepare(j)
	if err != nil {
		return "", "", "", err
	}

	args := []string{"-J", name, "-o", stdout, "-e", stderr, "-cwd", j.Dir}
	args = append(args, s.extraArgs...)
	args = append(args, wrapper)

	out, err := exec.Command(s.bsubExe, args...).Output() // #nosec
	if err != nil {
		return "", "", "", fmt.Errorf("failed to run %s %s: %s", s.bsubExe, args, err)
	}

	matches := s.bsubRegex.FindSubmatch(bytes.TrimSpace(out))
	if len(matches) != 2 {
		return "", "", "", fmt.Errorf("bsub %s returned unexpected output: %s", args, bytes.TrimSpace(out))
	}
	handle := string(matches[1])

	s.track(handle, exit)
	return handle, stdout, stderr, nil
}

// poll checks the (cached) bjobs listing. DONE jobs exited 0 and EXIT jobs
// exited non-zero, but we prefer the exit code our wrapper recorded. Jobs no
// longer listed at all are treated like SGE jobs that left the queue.
func (s *lsf) poll(j *job.Job) (outcome, error) {
	handle := j.Handle()
	states, err := s.listing(s.bjobs)
	if err != nil {
		return outcome{}, err
	}

	state, listed := states[handle]
	if !listed {
		return s.vanished(handle, nil)
	}

	switch state {
	case lsfDone, lsfExit:
		fallback := 0
		if state == lsfExit {
			fallback = 1
		}
		return s.vanished(handle, func(string) (int, bool) { return fallback, true })
	default:
		s.present(handle)
		return outcome{}, nil
	}
}

// bjobs runs bjobs -w -a and gives column 1 (JOBID) and 3 (STAT) of each
// line, keyed on job id.
func (s *lsf) bjobs() (map[string]string, error) {
	bjcmd := exec.Command(s.bjobsExe, "-w", "-a") // #nosec
	var stderr bytes.Buffer
	bjcmd.Stderr = &stderr
	out, err := bjcmd.Output()
	if err != nil {
		// bjobs exits non-zero when there are no jobs at all
		if strings.Contains(stderr.String(), "job found") {
			return map[string]string{}, nil
		}
		return nil, Error{Runner: "lsf", Op: "bjobs", Err: ErrCommand, Detail: fmt.Sprintf("failed to run [%s -w -a]: %s", s.bjobsExe, err)}
	}

	states := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || !s.idRegex.MatchString(fields[0]) {
			continue
		}
		states[fields[0]] = fields[2]
	}
	if err = scanner.Err(); err != nil {
		return nil, Error{Runner: "lsf", Op: "bjobs", Err: ErrCommand, Detail: fmt.Sprintf("failed to read everything from [%s -w -a]: %s", s.bjobsExe, err)}
	}
	return states, nil
}

// bkill kills a job.
func (s *lsf) bkill(handle string) error {
	out, err := exec.Command(s.bkillExe, handle).CombinedOutput() // #nosec
	if err != nil {
		return Error{Runner: "lsf", Op: "bkill", Err: ErrCommand, Detail: fmt.Sprintf("failed to run [%s %s]: %s (%s)", s.bkillExe, handle, err, bytes.TrimSpace(out))}
	}
	return nil
}

// terminate bkills the job.
func (s *lsf) terminate(handle string) error {
	s.forget(handle)
	return s.bkill(handle)
}

// cleanup bkills any remaining jobs we created.
func (s *lsf) cleanup() {
	handles := s.handles()
	if len(handles) > 0 {
		args := append([]string{"-b"}, handles...)
		if out, err := exec.Command(s.bkillExe, args...).CombinedOutput(); err != nil { // #nosec
			s.Warn("cleanup bkill failed", "err", err, "out", string(out))
		}
	}
	s.reset()
}
