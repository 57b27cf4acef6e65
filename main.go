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
Package main is a stub for qcpipe's command line interface, with the actual
implementation in the cmd package.

qcpipe runs QC scripts over directories of raw sequencer output and then
verifies and reports on the QC artifacts those scripts produced.

Basics

Run a QC script on every R1/R2 pair of fastq.gz files in a directory, no more
than 4 at once, on your SGE cluster:

	qcpipe run illumina_qc.sh --input fastqgz --runner queue --limit 4 /data/run1

Then check that every pair got its QC output and write an HTML report:

	qcpipe report --platform illumina --verify /data/run1
	qcpipe report --platform illumina /data/run1

If the qcpipe executable is symlinked as run_qc_pipeline or qcreporter, calling
it by that name is the same as calling "qcpipe run" or "qcpipe report".

Package Overview

The fileset package finds groups of related input files in a directory, per
input format.

The job package holds the state of one run of a QC script on one group of files,
and enforces that it only ever moves forward through its lifecycle.

The jobrunner package runs jobs as local child processes, or submits them to
SGE or LSF, and finds out when they finish.

The pipeline package creates one job per file group and runs them all through a
jobrunner, using the limiter package to cap how many run at once, and records
the outcome of every batch in a history database.

The reporter package checks that the expected QC artifacts exist for each group
and renders HTML or text reports.

The internal package contains general utility functions, and most notably
config.go holds the code for how the command line interface deals with config
options.
*/
package main

import (
	"os"
	"path/filepath"

	"github.com/VertebrateResequencing/qcpipe/cmd"
)

func main() {
	// handle our executable being a symlink named after one of the legacy
	// pipeline commands, in which case call the equivalent subcommand
	switch filepath.Base(os.Args[0]) {
	case "run_qc_pipeline":
		cmd.ExecuteAs("run")
	case "qcreporter":
		cmd.ExecuteAs("report")
	default:
		// otherwise we call our root command, which handles everything else
		cmd.Execute()
	}
}
