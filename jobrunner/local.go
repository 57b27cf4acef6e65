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

// This file contains a runneri implementation for 'local': running jobs as
// child processes of the current process.

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/inconshreveable/log15"
	sync "github.com/sasha-s/go-deadlock"
	"github.com/shirou/gopsutil/process"
)

// local is our implementer of runneri
type local struct {
	config *ConfigLocal
	logDir string
	procs  map[string]*localProc
	mu     sync.Mutex
	log15.Logger
}

// ConfigLocal represents the configuration options required by the local
// runner.
type ConfigLocal struct {
	// LogDir is the directory that jobs' STDOUT and STDERR files are written
	// to. If empty, they are written to each job's working directory.
	LogDir string

	// Umask is applied to the log files and directories we create.
	Umask os.FileMode
}

// localProc tracks a running child process. The fields after cmd are set by
// the goroutine waiting on it, under the local's mu.
type localProc struct {
	cmd      *exec.Cmd
	outFile  *os.File
	errFile  *os.File
	done     bool
	exitCode int
	signal   string
	waitErr  error
}

// initialize sets up our process tracking.
func (s *local) initialize(config interface{}, logger log15.Logger) error {
	c, ok := config.(*ConfigLocal)
	if !ok {
		return Error{Runner: "local", Op: "initialize", Err: ErrBadConfig}
	}
	s.config = c
	s.Logger = logger.New("runner", "local")

	dir, err := absLogDir(c.LogDir)
	if err != nil {
		return Error{Runner: "local", Op: "initialize", Err: ErrLogDir, Detail: err.Error()}
	}
	s.logDir = dir
	s.procs = make(map[string]*localProc)
	return nil
}

// submit starts the job's script in its own process group, with the job's
// args as positional arguments and its Dir as the working directory. The
// handle is the pid.
func (s *local) submit(j *job.Job) (string, string, string, error) {
	stdout, stderr, _, err := logPaths(s.logDir, s.config.Umask, j, jobName(j, true))
	if err != nil {
		return "", "", "", err
	}

	outFile, err := internal.CreateFile(stdout, logPerms, s.config.Umask)
	if err != nil {
		return "", "", "", err
	}
	errFile, err := internal.CreateFile(stderr, logPerms, s.config.Umask)
	if err != nil {
		outFile.Close()
		return "", "", "", err
	}

	ec := exec.Command(j.Script, j.Args...) // #nosec
	ec.Dir = j.Dir
	ec.Stdout = outFile
	ec.Stderr = errFile
	ec.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err = ec.Start(); err != nil {
		outFile.Close()
		errFile.Close()
		return "", "", "", err
	}

	p := &localProc{cmd: ec, outFile: outFile, errFile: errFile, exitCode: job.NoExitCode}
	handle := strconv.Itoa(ec.Process.Pid)

	s.mu.Lock()
	s.procs[handle] = p
	s.mu.Unlock()

	go s.wait(handle, p)

	return handle, stdout, stderr, nil
}

// wait waits for the process to exit and records how it did so.
func (s *local) wait(handle string, p *localProc) {
	defer internal.LogPanic(s.Logger, "local job waiting", false)

	err := p.cmd.Wait()
	p.outFile.Close()
	p.errFile.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	p.done = true

	state := p.cmd.ProcessState
	if state == nil {
		p.waitErr = err
		return
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		p.signal = ws.Signal().String()
		return
	}
	p.exitCode = state.ExitCode()
	if err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			p.waitErr = err
		}
	}
	s.Debug("process exited", "pid", handle, "exit", p.exitCode)
}

// poll checks if our waiter has seen the process exit.
func (s *local) poll(j *job.Job) (outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := j.Handle()
	p, exists := s.procs[handle]
	if !exists {
		return outcome{}, Error{Runner: "local", Op: "poll", Err: ErrNotSubmitted}
	}
	if !p.done {
		return outcome{}, nil
	}
	delete(s.procs, handle)

	switch {
	case p.signal != "":
		return outcome{finished: true, reason: Error{Runner: "local", Op: "poll", Err: ErrSignalled, Detail: p.signal}}, nil
	case p.waitErr != nil:
		return outcome{finished: true, reason: Error{Runner: "local", Op: "poll", Err: ErrWait, Detail: p.waitErr.Error()}}, nil
	}
	return outcome{finished: true, exitCode: p.exitCode}, nil
}

// terminate sends SIGTERM to the job's process group, and then to any
// descendants that had moved out of it.
func (s *local) terminate(handle string) error {
	s.mu.Lock()
	p, exists := s.procs[handle]
	if exists {
		delete(s.procs, handle)
	}
	s.mu.Unlock()
	if !exists {
		return Error{Runner: "local", Op: "terminate", Err: ErrNotSubmitted}
	}

	pid := p.cmd.Process.Pid

	// find descendants before we kill their parent and they get reparented
	var descendants []*process.Process
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		descendants = processDescendants(proc)
	}

	err := syscall.Kill(-pid, syscall.SIGTERM)
	if err != nil && err != syscall.ESRCH {
		s.Warn("failed to signal process group", "pid", pid, "err", err)
	}

	for _, d := range descendants {
		if running, errr := d.IsRunning(); errr != nil || !running {
			continue
		}
		if errt := d.Terminate(); errt != nil {
			s.Debug("failed to terminate descendant", "pid", d.Pid, "err", errt)
		}
	}

	if err == syscall.ESRCH {
		return nil
	}
	return err
}

// processDescendants returns all the children of the given process, their
// children and so on.
func processDescendants(proc *process.Process) []*process.Process {
	children, err := proc.Children()
	if err != nil {
		return nil
	}
	all := append([]*process.Process{}, children...)
	for _, child := range children {
		all = append(all, processDescendants(child)...)
	}
	return all
}

// cleanup forgets about any processes whose exit was never polled. Processes
// still running are killed by Runner.Cleanup() before we are called.
func (s *local) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs = make(map[string]*localProc)
}
