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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/VertebrateResequencing/qcpipe/job"
	"github.com/VertebrateResequencing/qcpipe/jobrunner"
	"github.com/VertebrateResequencing/qcpipe/pipeline"
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"
)

// options for this cmd
var cmdInput string
var cmdRunner string
var cmdQueueSystem string
var cmdQueueArgs string
var cmdLimit int
var cmdLogDir string
var cmdRegexp string
var cmdTimeout int
var cmdPoll int
var cmdNoHistory bool

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <script> DIR [DIR...]",
	Short: "Run a QC script on every group of files in some directories",
	Long: `Run a QC script on every group of files in some directories.

The files in each DIR (not recursing into subdirectories) are grouped according
to --input:

  fastq, fastqgz    NAME_R1[_NNN].fastq[.gz] with NAME_R2[_NNN].fastq[.gz];
                    fastqs without a read marker are processed on their own
  solid             STEM.csfasta with STEM_QV.qual (or STEM.qual)
  solid_paired_end  STEM_F3.csfasta, STEM_F3_QV.qual, STEM_F5-TAG.csfasta and
                    STEM_F5-TAG_QV.qual

If any file is missing its partners, nothing is run and we exit 1. Restrict the
files considered with --regexp.

The script is then run once per group, in the group's directory, with the
absolute paths of the group's files as its arguments. The script is looked for
in your $PATH, then alongside the qcpipe executable, unless you give a path.

With --runner local (the default), scripts run as child processes of qcpipe.
With --runner queue, they are submitted to your --queue-system (sge or lsf),
with any extra --queue-args for qsub/bsub, eg. --queue-args "-q long". Either
way, no more than --limit scripts run at once (0 means no limit).

Each script's STDOUT and STDERR go to files in --log-dir, or the group's
directory if that isn't set, which is also where qcpipe.log is written.

A failed script does not stop the others. Once every group has been processed,
a summary is printed and we exit with the number of groups that failed (so 0
if they all succeeded). Sending SIGINT or SIGTERM kills the running scripts
and ends early, counting the unfinished groups as failed.

The outcome is recorded in the history database (see "qcpipe status") unless
--no-history is given.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		applyRunFlags(cmd)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			defer internal.LogPanic(appLogger, "run signal handler", true)
			sig, ok := <-sigs
			if !ok {
				return
			}
			warn("received %s, killing running jobs", sig)
			cancel()
		}()

		code, err := runQC(ctx, args[0], args[1:], cmdInput, cmdRegexp)
		signal.Stop(sigs)
		close(sigs)
		if err != nil {
			die("%s", err)
		}
		os.Exit(code)
	},
}

func init() {
	RootCmd.AddCommand(runCmd)

	// flags specific to this sub-command
	runCmd.Flags().StringVarP(&cmdInput, "input", "i", string(fileset.FormatFastqGz), "input format: fastq|fastqgz|solid|solid_paired_end")
	runCmd.Flags().StringVarP(&cmdRunner, "runner", "r", "", "how to run scripts: local|queue [config Runner]")
	runCmd.Flags().StringVarP(&cmdQueueSystem, "queue-system", "q", "", "batch queue to use with --runner queue: sge|lsf [config QueueSystem]")
	runCmd.Flags().StringVar(&cmdQueueArgs, "queue-args", "", "extra arguments for qsub/bsub [config QueueArgs]")
	runCmd.Flags().IntVarP(&cmdLimit, "limit", "l", 0, "maximum number of scripts running at once, 0 for no limit [config Limit]")
	runCmd.Flags().StringVar(&cmdLogDir, "log-dir", "", "directory for script and qcpipe logs [config LogDir]")
	runCmd.Flags().StringVarP(&cmdRegexp, "regexp", "e", "", "only consider files with names matching this regular expression")
	runCmd.Flags().IntVarP(&cmdTimeout, "timeout", "t", 0, "kill scripts running for more than this many minutes, 0 for never [config TimeoutMinutes]")
	runCmd.Flags().IntVarP(&cmdPoll, "poll", "p", 0, "seconds between checks on running scripts [config PollSeconds]")
	runCmd.Flags().BoolVar(&cmdNoHistory, "no-history", false, "don't record this run in the history database")
}

// applyRunFlags overrides config values with the flags the user set.
func applyRunFlags(cmd *cobra.Command) {
	overrides := []struct {
		flag     string
		property string
		value    interface{}
	}{
		{"runner", "Runner", cmdRunner},
		{"queue-system", "QueueSystem", cmdQueueSystem},
		{"queue-args", "QueueArgs", cmdQueueArgs},
		{"limit", "Limit", cmdLimit},
		{"log-dir", "LogDir", cmdLogDir},
		{"timeout", "TimeoutMinutes", cmdTimeout},
		{"poll", "PollSeconds", cmdPoll},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			config.Override(o.property, o.value)
		}
	}
	if cmd.Flags().Changed("poll") && config.MaxPollSeconds < cmdPoll {
		config.Override("MaxPollSeconds", cmdPoll)
	}
}

// runQC discovers the file groups in dirs and runs script on each of them,
// returning the exit code we should exit with. Errors are only returned for
// problems that meant nothing could be run.
func runQC(ctx context.Context, scriptName string, dirs []string, input, filterPattern string) (int, error) {
	script, err := internal.FindScript(scriptName)
	if err != nil {
		return 1, err
	}

	format, err := fileset.ParseFormat(input)
	if err != nil {
		return 1, err
	}
	filter, err := fileset.CompileFilter(filterPattern)
	if err != nil {
		return 1, err
	}

	logger, err := setupLogging(config.LogDir)
	if err != nil {
		return 1, err
	}

	batch, err := pipeline.NewBatch(script)
	if err != nil {
		return 1, err
	}
	if err = batch.Discover(dirs, format, filter); err != nil {
		return 1, err
	}
	info("found %d groups of %s files", len(batch.Groups), format)

	runner, err := newRunner(logger)
	if err != nil {
		return 1, err
	}

	p := pipeline.New(runner, pipeline.Config{
		Limit:           config.Limit,
		PollInterval:    config.PollInterval(),
		MaxPollInterval: config.MaxPollInterval(),
		Timeout:         config.Timeout(),
	}, logger)

	summary, err := p.RunBatch(ctx, batch)
	if err != nil {
		return 1, err
	}

	if !cmdNoHistory {
		saveHistory(summary)
	}

	printSummary(summary)
	return summary.ExitCode(), nil
}

// newRunner creates the jobrunner configured by config.Runner and
// config.QueueSystem.
func newRunner(logger log15.Logger) (*jobrunner.Runner, error) {
	queueConfig := jobrunner.ConfigQueue{
		LogDir: config.LogDir,
		Umask:  config.FileUmask(),
		Args:   config.QueueArgs,
	}

	switch config.Runner {
	case "local":
		return jobrunner.New("local", &jobrunner.ConfigLocal{LogDir: config.LogDir, Umask: config.FileUmask()}, logger)
	case "queue":
		switch config.QueueSystem {
		case "sge":
			return jobrunner.New("sge", &jobrunner.ConfigSGE{ConfigQueue: queueConfig}, logger)
		case "lsf":
			return jobrunner.New("lsf", &jobrunner.ConfigLSF{ConfigQueue: queueConfig}, logger)
		}
		return nil, fmt.Errorf("unknown queue system '%s' (choose sge or lsf)", config.QueueSystem)
	}
	return nil, fmt.Errorf("unknown runner '%s' (choose local or queue)", config.Runner)
}

// saveHistory records the outcome of a batch in the history database, warning
// if that isn't possible.
func saveHistory(summary *pipeline.Summary) {
	if config.HistoryDB == "" {
		return
	}
	store, err := pipeline.OpenStore(config.HistoryDB, config.FileUmask())
	if err != nil {
		warn("could not record this run: %s", err)
		return
	}
	defer func() {
		if errc := store.Close(); errc != nil {
			warn("closing the history database failed: %s", errc)
		}
	}()
	if err = store.Save(summary.Record()); err != nil {
		warn("could not record this run: %s", err)
	}
}

// printSummary prints the failed jobs and the one line summary of a batch to
// STDOUT.
func printSummary(summary *pipeline.Summary) {
	for _, j := range summary.Jobs {
		if j.Status() != job.StatusFailed {
			continue
		}
		stdout, stderr := j.LogFiles()
		fmt.Printf("%s %s: %s\n", failColour("FAIL"), j.Name, j.Err())
		if stderr != "" {
			fmt.Printf("  stdout: %s\n  stderr: %s\n", stdout, stderr)
		}
	}
	if summary.Cancelled {
		fmt.Println("cancelled before all groups were processed")
	}

	line := summary.String()
	if summary.Failed == 0 {
		fmt.Println(passColour(line))
	} else {
		fmt.Println(failColour(line))
	}
}
