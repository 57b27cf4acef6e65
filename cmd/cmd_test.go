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

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/VertebrateResequencing/qcpipe/pipeline"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeQCScript creates every illumina QC artifact for its fastq.gz args, but
// exits 1 without creating anything for files of sample2 if failSample2 is
// true.
func fakeQCScript(dir string, failSample2 bool) string {
	content := "#!/bin/sh\n"
	if failSample2 {
		content += "case \"$1\" in *sample2*) echo failing >&2; exit 1;; esac\n"
	}
	content += `mkdir -p qc
for f in "$@"; do
  s=$(basename "$f" .fastq.gz)
  for screen in model_organisms other_organisms rRNA; do
    echo ok > qc/${s}_${screen}_screen.txt
    echo ok > qc/${s}_${screen}_screen.png
  done
  echo ok > qc/${s}_fastqc.html
  echo ok > qc/${s}_fastqc.zip
done
`
	path := filepath.Join(dir, "fake_illumina_qc.sh")
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		panic(err)
	}
	return path
}

// fastqDir creates a directory containing the given fastq.gz files.
func fastqDir(parent string, names ...string) string {
	dir := filepath.Join(parent, "run1")
	if err := os.Mkdir(dir, 0755); err != nil {
		panic(err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("@r"), 0644); err != nil {
			panic(err)
		}
	}
	return dir
}

func TestRunAndReport(t *testing.T) {
	Convey("Given a local runner config and a directory of 2 fastq.gz pairs", t, func() {
		tmp := t.TempDir()
		origConfig := config
		defer func() { config = origConfig }()
		config = internal.Config{
			Runner:         "local",
			QueueSystem:    "sge",
			Limit:          1,
			PollSeconds:    1,
			MaxPollSeconds: 1,
			Umask:          "002",
			HistoryDB:      filepath.Join(tmp, "history", "history.db"),
		}
		ctx := context.Background()

		Convey("a good script runs on both groups, which then verify", func() {
			dir := fastqDir(tmp, "sample1_R1.fastq.gz", "sample1_R2.fastq.gz", "sample2_R1.fastq.gz", "sample2_R2.fastq.gz")
			script := fakeQCScript(tmp, false)

			code, err := runQC(ctx, script, []string{dir}, "fastqgz", "")
			So(err, ShouldBeNil)
			So(code, ShouldEqual, 0)

			code, err = reportQC([]string{"illumina_qc.sh", dir}, "illumina", "", true, false)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, 0)

			store, err := pipeline.OpenStore(config.HistoryDB, 0)
			So(err, ShouldBeNil)
			records, err := store.Recent(0)
			So(err, ShouldBeNil)
			So(store.Close(), ShouldBeNil)
			So(len(records), ShouldEqual, 1)
			So(records[0].Groups, ShouldEqual, 2)
			So(records[0].Completed, ShouldEqual, 2)
			So(records[0].MaxRunning, ShouldEqual, 1)
			So(records[0].Script, ShouldEqual, script)

			Convey("and a report can be written", func() {
				code, err = reportQC([]string{dir}, "illumina", "fastqgz", false, false)
				So(err, ShouldBeNil)
				So(code, ShouldEqual, 0)
				_, err = os.Stat(filepath.Join(dir, "qc_report.run1.html"))
				So(err, ShouldBeNil)

				code, err = reportQC([]string{dir}, "illumina", "fastqgz", false, true)
				So(err, ShouldBeNil)
				So(code, ShouldEqual, 0)
				_, err = os.Stat(filepath.Join(dir, "qc_report.run1.txt"))
				So(err, ShouldBeNil)
			})

			Convey("and the run can be found by ID prefix and printed", func() {
				r, err := findRecord(records, records[0].ID[:6])
				So(err, ShouldBeNil)
				So(r.ID, ShouldEqual, records[0].ID)
				_, err = findRecord(records, "zzz")
				So(err, ShouldNotBeNil)

				var buf bytes.Buffer
				printRecords(&buf, records)
				So(buf.String(), ShouldContainSubstring, records[0].ID[:8])
				So(buf.String(), ShouldContainSubstring, "MAX RUNNING")

				buf.Reset()
				printRecord(&buf, r)
				So(buf.String(), ShouldContainSubstring, "2 groups: 2 completed, 0 failed")
			})
		})

		Convey("a missing partner stops anything from running", func() {
			dir := fastqDir(tmp, "sample1_R1.fastq.gz", "sample2_R1.fastq.gz", "sample2_R2.fastq.gz")
			script := fakeQCScript(tmp, false)

			code, err := runQC(ctx, script, []string{dir}, "fastqgz", "")
			So(code, ShouldEqual, 1)
			So(err, ShouldNotBeNil)
			derr, ok := err.(fileset.DiscoveryError)
			So(ok, ShouldBeTrue)
			So(derr.Files, ShouldResemble, []string{"sample1_R1.fastq.gz"})

			_, err = os.Stat(filepath.Join(dir, "qc"))
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = os.Stat(config.HistoryDB)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("a failing script doesn't stop the other groups and sets the exit code", func() {
			dir := fastqDir(tmp, "sample1_R1.fastq.gz", "sample1_R2.fastq.gz", "sample2_R1.fastq.gz", "sample2_R2.fastq.gz", "sample3_R1.fastq.gz", "sample3_R2.fastq.gz")
			script := fakeQCScript(tmp, true)
			config.Limit = 0

			start := time.Now()
			code, err := runQC(ctx, script, []string{dir}, "fastqgz", "")
			So(err, ShouldBeNil)
			So(code, ShouldEqual, 1)
			So(time.Since(start), ShouldBeLessThan, 30*time.Second)

			code, err = reportQC([]string{dir}, "illumina", "", true, false)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, 1)
		})

		Convey("a filter restricts the groups run", func() {
			dir := fastqDir(tmp, "sample1_R1.fastq.gz", "sample1_R2.fastq.gz", "sample2_R1.fastq.gz", "sample2_R2.fastq.gz")
			script := fakeQCScript(tmp, true)

			code, err := runQC(ctx, script, []string{dir}, "fastqgz", "^sample1_")
			So(err, ShouldBeNil)
			So(code, ShouldEqual, 0)
			_, err = os.Stat(filepath.Join(dir, "qc", "sample2_R1_fastqc.html"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("bad options are errors", func() {
			dir := fastqDir(tmp, "sample1_R1.fastq.gz", "sample1_R2.fastq.gz")
			script := fakeQCScript(tmp, false)

			_, err := runQC(ctx, filepath.Join(tmp, "missing.sh"), []string{dir}, "fastqgz", "")
			So(err, ShouldNotBeNil)
			_, err = runQC(ctx, script, []string{dir}, "bam", "")
			So(err, ShouldNotBeNil)
			_, err = runQC(ctx, script, []string{dir}, "fastqgz", "(")
			So(err, ShouldNotBeNil)

			config.Runner = "cloud"
			_, err = runQC(ctx, script, []string{dir}, "fastqgz", "")
			So(err, ShouldNotBeNil)
			config.Runner = "queue"
			config.QueueSystem = "pbs"
			_, err = newRunner(appLogger)
			So(err, ShouldNotBeNil)

			_, err = reportQC([]string{dir}, "", "", true, false)
			So(err, ShouldNotBeNil)
			_, err = reportQC([]string{dir}, "pacbio", "", true, false)
			So(err, ShouldNotBeNil)
			_, err = reportQC([]string{dir}, "illumina", "bam", true, false)
			So(err, ShouldNotBeNil)
			_, err = reportQC([]string{dir}, "solid", "fastqgz", true, false)
			So(err, ShouldNotBeNil)
		})
	})
}
