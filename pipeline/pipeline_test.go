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

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/VertebrateResequencing/qcpipe/jobrunner"
	multierror "github.com/hashicorp/go-multierror"
	sync "github.com/sasha-s/go-deadlock"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeBackend runs jobs instantly, finishing each one after a configurable
// number of polls with a configurable exit code.
type fakeBackend struct {
	polls      map[string]int
	exits      map[string]int
	reject     map[string]bool
	order      []string
	terminated []string
	running    int
	maxRunning int
	cleanups   int
	mu         sync.Mutex
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		polls:  make(map[string]int),
		exits:  make(map[string]int),
		reject: make(map[string]bool),
	}
}

func (f *fakeBackend) Submit(j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, j.Name)
	if f.reject[j.Name] {
		err := errors.New("queue unreachable")
		if errf := j.Fail(err); errf != nil {
			return errf
		}
		return err
	}
	if err := j.Start("fake-" + j.Name); err != nil {
		return err
	}
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	return nil
}

func (f *fakeBackend) Poll(j *job.Job) (job.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j.Status() != job.StatusRunning {
		return j.Status(), nil
	}
	if f.polls[j.Name] > 0 {
		f.polls[j.Name]--
		return job.StatusRunning, nil
	}
	if err := j.Finish(f.exits[j.Name]); err != nil {
		return j.Status(), err
	}
	f.running--
	return j.Status(), nil
}

func (f *fakeBackend) Terminate(j *job.Job, reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j.Status() != job.StatusRunning {
		return nil
	}
	f.terminated = append(f.terminated, j.Name)
	f.running--
	return j.Fail(reason)
}

func (f *fakeBackend) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

// makeGroups returns n fastqgz groups named sample1..samplen.
func makeGroups(n int) []fileset.FileGroup {
	groups := make([]fileset.FileGroup, n)
	for i := range groups {
		name := fmt.Sprintf("sample%d", i+1)
		groups[i] = fileset.FileGroup{
			Name:   name,
			Dir:    "/data/run1",
			Format: fileset.FormatFastqGz,
			Files:  []string{name + "_R1.fastq.gz", name + "_R2.fastq.gz"},
		}
	}
	return groups
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()
	fast := Config{PollInterval: 2 * time.Millisecond}

	Convey("Given a pipeline with a limit of 1", t, func() {
		fb := newFakeBackend()
		config := fast
		config.Limit = 1
		p := New(fb, config)

		Convey("2 groups are processed one at a time in order", func() {
			fb.polls["sample1"] = 3
			summary, err := p.Run(ctx, "/scripts/illumina_qc.sh", makeGroups(2))
			So(err, ShouldBeNil)
			So(summary.Completed, ShouldEqual, 2)
			So(summary.Failed, ShouldEqual, 0)
			So(summary.Err, ShouldBeNil)
			So(summary.ExitCode(), ShouldEqual, 0)
			So(summary.MaxRunning, ShouldEqual, 1)
			So(fb.maxRunning, ShouldEqual, 1)
			So(fb.order, ShouldResemble, []string{"sample1", "sample2"})
			So(fb.cleanups, ShouldEqual, 1)
			So(summary.String(), ShouldEqual, "2 groups: 2 completed, 0 failed")
			So(summary.Cancelled, ShouldBeFalse)
			So(summary.ID, ShouldNotBeBlank)
			So(summary.Dirs, ShouldResemble, []string{"/data/run1"})

			So(len(summary.Jobs), ShouldEqual, 2)
			j := summary.Jobs[0]
			So(j.Name, ShouldEqual, "sample1")
			So(j.Script, ShouldEqual, "/scripts/illumina_qc.sh")
			So(j.Args, ShouldResemble, []string{"/data/run1/sample1_R1.fastq.gz", "/data/run1/sample1_R2.fastq.gz"})
			So(j.Dir, ShouldEqual, "/data/run1")
			So(j.Status(), ShouldEqual, job.StatusCompleted)
			So(j.ExitCode(), ShouldEqual, 0)
		})
	})

	Convey("A failing job doesn't stop the batch", t, func() {
		fb := newFakeBackend()
		fb.exits["sample2"] = 1
		config := fast
		config.Limit = 2
		summary, err := New(fb, config).Run(ctx, "qc.sh", makeGroups(4))
		So(err, ShouldBeNil)
		So(summary.Completed, ShouldEqual, 3)
		So(summary.Failed, ShouldEqual, 1)
		So(summary.ExitCode(), ShouldEqual, 1)
		So(summary.String(), ShouldEqual, "4 groups: 3 completed, 1 failed")
		So(fb.order, ShouldResemble, []string{"sample1", "sample2", "sample3", "sample4"})

		So(summary.Jobs[1].Status(), ShouldEqual, job.StatusFailed)
		So(summary.Jobs[1].ExitCode(), ShouldEqual, 1)

		merr, ok := summary.Err.(*multierror.Error)
		So(ok, ShouldBeTrue)
		So(len(merr.Errors), ShouldEqual, 1)
		jf, ok := merr.Errors[0].(job.JobFailure)
		So(ok, ShouldBeTrue)
		So(jf.Job, ShouldEqual, "sample2")
		So(jf.ExitCode, ShouldEqual, 1)

		r := summary.Record()
		So(r.Groups, ShouldEqual, 4)
		So(r.FailedJobs(), ShouldResemble, []string{"sample2"})
		So(r.Failures["sample2"], ShouldContainSubstring, "exited with code 1")
	})

	Convey("A limit of 2 with 5 groups never has more than 2 running", t, func() {
		fb := newFakeBackend()
		for i := 1; i <= 5; i++ {
			fb.polls[fmt.Sprintf("sample%d", i)] = i
		}
		config := fast
		config.Limit = 2
		summary, err := New(fb, config).Run(ctx, "qc.sh", makeGroups(5))
		So(err, ShouldBeNil)
		So(summary.Completed, ShouldEqual, 5)
		So(fb.maxRunning, ShouldEqual, 2)
		So(summary.MaxRunning, ShouldEqual, 2)
	})

	Convey("With no limit everything runs at once", t, func() {
		fb := newFakeBackend()
		for i := 1; i <= 5; i++ {
			fb.polls[fmt.Sprintf("sample%d", i)] = 2
		}
		summary, err := New(fb, fast).Run(ctx, "qc.sh", makeGroups(5))
		So(err, ShouldBeNil)
		So(summary.Completed, ShouldEqual, 5)
		So(summary.MaxRunning, ShouldEqual, 5)
	})

	Convey("Rejected submissions fail just that job", t, func() {
		fb := newFakeBackend()
		fb.reject["sample1"] = true
		config := fast
		config.Limit = 1
		summary, err := New(fb, config).Run(ctx, "qc.sh", makeGroups(3))
		So(err, ShouldBeNil)
		So(summary.Completed, ShouldEqual, 2)
		So(summary.Failed, ShouldEqual, 1)
		So(summary.Jobs[0].Status(), ShouldEqual, job.StatusFailed)
		So(summary.Jobs[0].ExitCode(), ShouldEqual, job.NoExitCode)
		So(summary.Err.Error(), ShouldContainSubstring, "queue unreachable")
		So(summary.MaxRunning, ShouldEqual, 1)
		So(fb.maxRunning, ShouldEqual, 1)
	})

	Convey("Jobs that run too long are terminated", t, func() {
		fb := newFakeBackend()
		fb.polls["sample1"] = 1000000
		config := fast
		config.Timeout = 50 * time.Millisecond
		summary, err := New(fb, config).Run(ctx, "qc.sh", makeGroups(2))
		So(err, ShouldBeNil)
		So(summary.Completed, ShouldEqual, 1)
		So(summary.Failed, ShouldEqual, 1)
		So(fb.terminated, ShouldResemble, []string{"sample1"})
		j := summary.Jobs[0]
		So(j.ExitCode(), ShouldEqual, job.NoExitCode)
		perr, ok := j.Err().(Error)
		So(ok, ShouldBeTrue)
		So(perr.Err, ShouldEqual, ErrTimedOut)
		So(perr.Detail, ShouldEqual, config.Timeout.String())
		So(j.WallTime(), ShouldBeGreaterThanOrEqualTo, config.Timeout)
	})

	Convey("Cancelling a batch terminates running jobs and fails the rest", t, func() {
		fb := newFakeBackend()
		for i := 1; i <= 4; i++ {
			fb.polls[fmt.Sprintf("sample%d", i)] = 1000000
		}
		config := fast
		config.Limit = 2
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		summary, err := New(fb, config).Run(cctx, "qc.sh", makeGroups(4))
		So(err, ShouldBeNil)
		So(summary.Cancelled, ShouldBeTrue)
		So(summary.Failed, ShouldEqual, 4)
		So(summary.ExitCode(), ShouldEqual, 4)
		So(fb.terminated, ShouldResemble, []string{"sample1", "sample2"})
		So(fb.order, ShouldResemble, []string{"sample1", "sample2"})
		for _, j := range summary.Jobs {
			So(j.Status(), ShouldEqual, job.StatusFailed)
			perr, ok := j.Err().(Error)
			So(ok, ShouldBeTrue)
			So(perr.Err, ShouldEqual, ErrCancelled)
		}
	})

	Convey("Batches can't be run without groups or twice", t, func() {
		p := New(newFakeBackend(), fast)
		_, err := p.Run(ctx, "qc.sh", nil)
		So(err, ShouldNotBeNil)
		So(err.(Error).Err, ShouldEqual, ErrNoJobs)

		b, err := NewBatch("qc.sh")
		So(err, ShouldBeNil)
		So(b.Stage(), ShouldEqual, StageIdle)
		So(b.SetGroups(makeGroups(1)), ShouldBeNil)
		_, err = p.RunBatch(ctx, b)
		So(err, ShouldBeNil)
		So(b.Stage(), ShouldEqual, StageDone)
		_, err = p.RunBatch(ctx, b)
		So(err, ShouldNotBeNil)
		So(err.(Error).Err, ShouldEqual, ErrBadStage)
		So(err.(Error).Detail, ShouldEqual, "done -> scheduling")
		err = b.SetGroups(makeGroups(1))
		So(err, ShouldNotBeNil)
		So(err.(Error).Err, ShouldEqual, ErrBadStage)
		So(err.Error(), ShouldEndWith, ErrBadStage+" (done)")

		_, err = NewBatch("")
		So(err, ShouldNotBeNil)
		So(err.(Error).Err, ShouldEqual, ErrNoScript)
	})

	Convey("Summary exit codes are capped", t, func() {
		So((&Summary{Failed: 3}).ExitCode(), ShouldEqual, 3)
		So((&Summary{Failed: 300}).ExitCode(), ShouldEqual, 255)
	})

	Convey("Stages have names", t, func() {
		So(StageIdle.String(), ShouldEqual, "idle")
		So(StageDraining.String(), ShouldEqual, "draining")
		So(Stage(9).String(), ShouldEqual, "stage(9)")
	})
}

func TestBatchDiscover(t *testing.T) {
	touch := func(dir string, names ...string) {
		for _, name := range names {
			So(os.WriteFile(filepath.Join(dir, name), []byte("@r\nACGT\n+\nIIII\n"), 0644), ShouldBeNil)
		}
	}

	Convey("Given a directory with an incomplete pair", t, func() {
		dir := t.TempDir()
		touch(dir, "sample1_R1.fastq.gz", "sample2_R1.fastq.gz", "sample2_R2.fastq.gz")
		b, err := NewBatch("qc.sh")
		So(err, ShouldBeNil)

		Convey("Discover fails and ends the batch without creating jobs", func() {
			err = b.Discover([]string{dir}, fileset.FormatFastqGz, nil)
			So(err, ShouldNotBeNil)
			_, ok := err.(fileset.DiscoveryError)
			So(ok, ShouldBeTrue)
			So(b.Stage(), ShouldEqual, StageDone)
			So(b.Groups, ShouldBeEmpty)
			So(b.Jobs, ShouldBeEmpty)

			_, err = New(newFakeBackend(), Config{}).RunBatch(context.Background(), b)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given directories of complete fastq.gz pairs run with the local runner", t, func() {
		dir := t.TempDir()
		touch(dir, "sample1_R1.fastq.gz", "sample1_R2.fastq.gz", "sample2_R1.fastq.gz", "sample2_R2.fastq.gz")
		scriptDir := t.TempDir()
		script := filepath.Join(scriptDir, "fake_qc.sh")
		So(os.WriteFile(script, []byte("#!/bin/sh\nmkdir -p qc\nfor f in \"$@\"; do\n  b=$(basename \"$f\" .fastq.gz)\n  echo ok > qc/${b}_fastqc.html\ndone\nsleep 0.1\n"), 0755), ShouldBeNil)

		runner, err := jobrunner.New("local", &jobrunner.ConfigLocal{LogDir: filepath.Join(scriptDir, "logs")})
		So(err, ShouldBeNil)
		p := New(runner, Config{Limit: 1, PollInterval: 20 * time.Millisecond})

		b, err := NewBatch(script)
		So(err, ShouldBeNil)
		err = b.Discover([]string{dir}, fileset.FormatFastqGz, nil)
		So(err, ShouldBeNil)
		So(b.Stage(), ShouldEqual, StageDiscovering)
		So(len(b.Groups), ShouldEqual, 2)

		summary, err := p.RunBatch(context.Background(), b)
		So(err, ShouldBeNil)
		So(summary.Completed, ShouldEqual, 2)
		So(summary.MaxRunning, ShouldEqual, 1)
		So(summary.MeanRuntime, ShouldBeGreaterThan, 0)
		So(summary.Jobs[0].Ended(), ShouldHappenOnOrBefore, summary.Jobs[1].Started())

		for _, name := range []string{"sample1_R1", "sample1_R2", "sample2_R1", "sample2_R2"} {
			_, err = os.Stat(filepath.Join(dir, "qc", name+"_fastqc.html"))
			So(err, ShouldBeNil)
		}
	})
}

func TestRuntimes(t *testing.T) {
	Convey("runtimes summarise job wall times", t, func() {
		rt := newRuntimes()
		So(rt.mean(), ShouldEqual, 0)
		So(rt.stdDev(), ShouldEqual, 0)
		So(rt.eta(3, 1), ShouldEqual, 0)

		rt.add(1 * time.Second)
		So(rt.mean(), ShouldEqual, 1*time.Second)
		So(rt.stdDev(), ShouldEqual, 0)
		So(rt.eta(4, 2), ShouldEqual, 2*time.Second)
		So(rt.eta(4, 0), ShouldEqual, 1*time.Second)
		So(rt.eta(0, 2), ShouldEqual, 0)

		rt.add(3 * time.Second)
		So(rt.mean(), ShouldEqual, 2*time.Second)
		So(rt.stdDev(), ShouldBeGreaterThan, 0)
	})
}

func TestStore(t *testing.T) {
	Convey("Given a history database", t, func() {
		path := filepath.Join(t.TempDir(), "sub", "history.db")
		store, err := OpenStore(path, 0022)
		So(err, ShouldBeNil)
		defer store.Close()

		Convey("Records can be saved and retrieved most recent first", func() {
			now := time.Now()
			older := &Record{ID: "a", Script: "qc.sh", Groups: 2, Completed: 2, Started: now.Add(-time.Hour), Failures: map[string]string{}}
			newer := &Record{ID: "b", Script: "qc.sh", Groups: 3, Completed: 2, Failed: 1, Started: now, Failures: map[string]string{"s3": "job s3 exited with code 1"}}
			So(store.Save(newer), ShouldBeNil)
			So(store.Save(older), ShouldBeNil)

			records, err := store.Recent(0)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 2)
			So(records[0].ID, ShouldEqual, "b")
			So(records[0].Failures, ShouldResemble, newer.Failures)
			So(records[0].Failed, ShouldEqual, 1)
			So(records[1].ID, ShouldEqual, "a")

			records, err = store.Recent(1)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 1)
			So(records[0].ID, ShouldEqual, "b")

			r, err := store.Get("a")
			So(err, ShouldBeNil)
			So(r, ShouldNotBeNil)
			So(r.Groups, ShouldEqual, 2)

			r, err = store.Get("c")
			So(err, ShouldBeNil)
			So(r, ShouldBeNil)
		})
	})
}
