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

// this is the cobra file that enables subcommands and handles command-line args

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/fatih/color"
	"github.com/inconshreveable/log15"
	"github.com/sb10/l15h"
	"github.com/spf13/cobra"
)

// runLogBasename is the name of the log file written to --log-dir.
const runLogBasename = "qcpipe.log"

// appLogger is used for logging events in our commands
var appLogger = log15.New()

// these variables are accessible by all subcommands.
var config internal.Config
var debug bool

// colours for PASS/FAIL style output
var (
	passColour = color.New(color.FgGreen).SprintFunc()
	failColour = color.New(color.FgRed, color.Bold).SprintFunc()
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "qcpipe",
	Short: "qcpipe runs QC scripts over sequencing data and reports on the results.",
	Long: `qcpipe runs QC scripts over sequencing data and reports on the results.

You point it at directories of raw sequencer output (Illumina fastq or SOLiD
csfasta/qual files) and a QC script. It finds the groups of related files (eg.
R1/R2 pairs) and runs the script once per group, either locally or via your
cluster's batch queue (SGE or LSF), never running more than --limit at once:
$ qcpipe run illumina_qc.sh --input fastqgz /data/run1

Afterwards you can check that every group got all the QC output it should
have, and write an HTML report:
$ qcpipe report --platform illumina --verify /data/run1
$ qcpipe report --platform illumina /data/run1

If qcpipe is invoked via a symlink named run_qc_pipeline or qcreporter, it
acts as if "qcpipe run" or "qcpipe report" was called.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once to
// the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		die(err.Error())
	}
}

// ExecuteAs is for treating a call to qcpipe as if `qcpipe sub` was called,
// for when we're invoked via a symlink named after a subcommand.
func ExecuteAs(sub string) {
	args := append([]string{sub}, os.Args[1:]...)
	command, _, err := RootCmd.Find(args)
	if err != nil {
		die(err.Error())
	}
	RootCmd.SetArgs(args)
	if err := command.Execute(); err != nil {
		die(err.Error())
	}
}

func init() {
	// set up logging to stderr
	appLogger.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StderrHandler))

	// global flags
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "include debug information in the log output")

	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if debug {
		appLogger.SetHandler(log15.LvlFilterHandler(log15.LvlDebug, l15h.CallerInfoHandler(log15.StderrHandler)))
	}
	config = internal.ConfigLoad(appLogger)
}

// info is a convenience to log a message at the Info level.
func info(msg string, a ...interface{}) {
	appLogger.Info(fmt.Sprintf(msg, a...))
}

// warn is a convenience to log a message at the Warn level.
func warn(msg string, a ...interface{}) {
	appLogger.Warn(fmt.Sprintf(msg, a...))
}

// die is a convenience to log a message at the Error level and exit non zero.
func die(msg string, a ...interface{}) {
	appLogger.Error(fmt.Sprintf(msg, a...))
	os.Exit(1)
}

// setupLogging returns a logger for the libraries we call, which logs to
// STDERR like appLogger, and additionally to a file in logDir if that isn't
// empty.
func setupLogging(logDir string) (log15.Logger, error) {
	logger := appLogger.New()
	if logDir == "" {
		return logger, nil
	}

	if err := internal.MkdirAll(logDir, 0777, config.FileUmask()); err != nil {
		return nil, err
	}
	logFile := filepath.Join(logDir, runLogBasename)
	fh, err := log15.FileHandler(logFile, log15.LogfmtFormat())
	if err != nil {
		return nil, fmt.Errorf("could not log to %s: %s", logFile, err)
	}

	level := log15.LvlInfo
	if debug {
		level = log15.LvlDebug
	}
	l15h.AddHandler(logger, log15.LvlFilterHandler(level, fh))
	return logger, nil
}
