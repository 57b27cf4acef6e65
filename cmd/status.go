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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/VertebrateResequencing/qcpipe/pipeline"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const shortTimeFormat = "06/1/2-15:04:05"

// options for this cmd
var statusLimit int
var statusID string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of past runs",
	Long: `Show the outcome of past runs.

Every "qcpipe run" records its outcome in the history database (config
HistoryDB). This lists the most recent runs, most recent first: when they
started, their ID, the script, how many groups completed and failed, the most
scripts that ran at once, and the mean (+/- standard deviation) script run
time.

Give the ID (or a unique prefix of it) of a run with --id to see which groups
failed and why.`,
	Run: func(cmd *cobra.Command, args []string) {
		if config.HistoryDB == "" {
			die("no history database has been configured")
		}
		if _, err := os.Stat(config.HistoryDB); err != nil {
			info("no runs have been recorded yet")
			return
		}

		store, err := pipeline.OpenStore(config.HistoryDB, config.FileUmask())
		if err != nil {
			die("%s", err)
		}
		defer func() {
			if errc := store.Close(); errc != nil {
				warn("closing the history database failed: %s", errc)
			}
		}()

		if statusID != "" {
			records, errr := store.Recent(0)
			if errr != nil {
				die("%s", errr)
			}
			r, errf := findRecord(records, statusID)
			if errf != nil {
				die("%s", errf)
			}
			printRecord(os.Stdout, r)
			return
		}

		records, err := store.Recent(statusLimit)
		if err != nil {
			die("%s", err)
		}
		if len(records) == 0 {
			info("no runs have been recorded yet")
			return
		}
		printRecords(os.Stdout, records)
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)

	// flags specific to this sub-command
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "l", 10, "show at most this many runs, 0 for all")
	statusCmd.Flags().StringVarP(&statusID, "id", "i", "", "show the details of the run with this ID (or ID prefix)")
}

// findRecord returns the record whose ID starts with prefix, erroring if there
// isn't exactly one.
func findRecord(records []*pipeline.Record, prefix string) (*pipeline.Record, error) {
	var found *pipeline.Record
	for _, r := range records {
		if !strings.HasPrefix(r.ID, prefix) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("more than one run has an ID starting %s", prefix)
		}
		found = r
	}
	if found == nil {
		return nil, fmt.Errorf("no run has an ID starting %s", prefix)
	}
	return found, nil
}

// printRecords writes a table of records to w.
func printRecords(w io.Writer, records []*pipeline.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Started", "ID", "Script", "Groups", "Completed", "Failed", "Max running", "Run time"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range records {
		failed := strconv.Itoa(r.Failed)
		if r.Failed > 0 {
			failed = failColour(failed)
		}
		if r.Cancelled {
			failed += " (cancelled)"
		}
		table.Append([]string{
			r.Started.Format(shortTimeFormat),
			r.ID[:8],
			r.Script,
			strconv.Itoa(r.Groups),
			strconv.Itoa(r.Completed),
			failed,
			strconv.Itoa(r.MaxRunning),
			fmt.Sprintf("%s(+/-%s)", r.MeanRuntime, r.StdDevRuntime),
		})
	}
	table.Render()
}

// printRecord writes the details of one record to w.
func printRecord(w io.Writer, r *pipeline.Record) {
	fmt.Fprintf(w, "ID: %s\nScript: %s\nDirs: %s\n", r.ID, r.Script, strings.Join(r.Dirs, " "))
	fmt.Fprintf(w, "Started: %s; ended: %s (took %s)\n", r.Started.Format(shortTimeFormat), r.Ended.Format(shortTimeFormat), r.Ended.Sub(r.Started))
	fmt.Fprintf(w, "%d groups: %d completed, %d failed\n", r.Groups, r.Completed, r.Failed)
	if r.Cancelled {
		fmt.Fprintln(w, "The run was cancelled.")
	}
	fmt.Fprintf(w, "Max running at once: %d; run time: %s (+/- %s)\n", r.MaxRunning, r.MeanRuntime, r.StdDevRuntime)
	for _, name := range r.FailedJobs() {
		fmt.Fprintf(w, "%s %s: %s\n", failColour("FAIL"), name, r.Failures[name])
	}
}
