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
	"os"
	"strings"

	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/VertebrateResequencing/qcpipe/reporter"
	"github.com/spf13/cobra"
)

// options for this cmd
var cmdPlatform string
var cmdFormat string
var cmdVerify bool
var cmdText bool

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report [script-context] DIR",
	Short: "Verify or report on the QC output in a directory",
	Long: `Verify or report on the QC output in a directory.

The files in DIR are grouped in the same way as "qcpipe run" does, according to
--format (which defaults to fastqgz for --platform illumina and solid for
--platform solid). Then the QC output each group should have is looked for:

  illumina          per fastq: qc/STEM_{model_organisms,other_organisms,rRNA}_screen.{txt,png},
                    qc/STEM_fastqc.html and qc/STEM_fastqc.zip
  solid             STEM.fastq, its screens and qc/QUAL_seq-order_boxplot.{png,ps,pdf}
  solid_paired_end  STEM_paired_F3.fastq, STEM_paired_F5.fastq, the F3 screens
                    and boxplots for both qual files

Output files that are empty, or gzipped but contain nothing, count as missing.
Fastq output may be gzipped.

With --verify, the groups that are missing anything are listed and we exit 1
if there are any, 0 otherwise. Without it, a report is written to
DIR/qc_report.<DIR name>.html (or .txt with --text).

An optional first argument naming the QC script that was run is accepted for
compatibility, and ignored.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		code, err := reportQC(args, cmdPlatform, cmdFormat, cmdVerify, cmdText)
		if err != nil {
			die("%s", err)
		}
		os.Exit(code)
	},
}

func init() {
	RootCmd.AddCommand(reportCmd)

	// flags specific to this sub-command
	reportCmd.Flags().StringVar(&cmdPlatform, "platform", "", "sequencing platform: illumina|solid (required)")
	reportCmd.Flags().StringVarP(&cmdFormat, "format", "f", "", "input format: fastq|fastqgz|solid|solid_paired_end")
	reportCmd.Flags().BoolVar(&cmdVerify, "verify", false, "check for missing QC output instead of writing a report")
	reportCmd.Flags().BoolVar(&cmdText, "text", false, "write a text report instead of HTML")
}

// reportQC verifies or writes a report for the directory that is the last of
// args, returning the exit code we should exit with.
func reportQC(args []string, platformName, formatName string, verify, text bool) (int, error) {
	dir := args[len(args)-1]
	if len(args) == 2 {
		appLogger.Debug("ignoring script context", "script", args[0])
	}

	if platformName == "" {
		return 1, fmt.Errorf("--platform is required")
	}
	platform, err := reporter.ParsePlatform(platformName)
	if err != nil {
		return 1, err
	}

	var format fileset.Format
	if formatName != "" {
		format, err = fileset.ParseFormat(formatName)
		if err != nil {
			return 1, err
		}
	}

	if verify {
		results, errv := reporter.Verify(dir, platform, format)
		if errv != nil {
			return 1, errv
		}
		for _, r := range results {
			if r.Passed {
				fmt.Printf("%s %s\n", passColour("PASS"), r.Group.Name)
				continue
			}
			fmt.Printf("%s %s: missing %s\n", failColour("FAIL"), r.Group.Name, strings.Join(r.Missing, ", "))
		}
		passed := reporter.Passed(results)
		fmt.Printf("%d groups: %d passed, %d failed\n", len(results), passed, len(results)-passed)
		if errf := reporter.Failures(dir, results); errf != nil {
			appLogger.Debug("verification failed", "err", errf)
			return 1, nil
		}
		return 0, nil
	}

	kind := reporter.KindHTML
	if text {
		kind = reporter.KindText
	}
	path, results, err := reporter.WriteReport(dir, platform, format, kind, config.FileUmask())
	if err != nil {
		return 1, err
	}
	passed := reporter.Passed(results)
	info("wrote report on %d groups (%d passed) to %s", len(results), passed, path)
	return 0, nil
}
