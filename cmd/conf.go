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

	"github.com/spf13/cobra"
)

const defaultYML = `# The format of this file is YAML. Save it as .qcpipe_config.yml in your
# current directory, your home directory or $QCPIPE_CONFIG_DIR. Settings in the
# current directory's file take precedence. Any setting can also be given with
# an environment variable, eg. QCPIPE_LIMIT=8, which takes precedence over all
# files, and some can be overridden with command line options.

# runner: How should QC scripts be run? "local" runs them as child processes of
# qcpipe; "queue" submits them to the batch queue set by queuesystem.
runner: "local"

# queuesystem: Which batch queue to use with the queue runner: "sge" or "lsf".
# The qsub, qstat and qdel (or bsub, bjobs and bkill) commands must be in your
# $PATH.
queuesystem: "sge"

# queueargs: Extra arguments for qsub or bsub, eg. "-q long -P myproject".
queueargs: ""

# limit: The most QC scripts that can be running at once. 0 means no limit.
limit: 4

# logdir: Where scripts' STDOUT and STDERR, and qcpipe.log, are written. If
# not set, the logs of each group go in the group's directory. For the queue
# runner it must be on a filesystem shared with the execution hosts.
logdir: ""

# pollseconds: How often to check on running scripts.
pollseconds: 5

# maxpollseconds: If greater than pollseconds, checks become less frequent, up
# to this interval, while nothing changes.
maxpollseconds: 5

# timeoutminutes: Kill scripts that run for longer than this. 0 means never.
timeoutminutes: 0

# umask: The octal umask applied to the files and directories qcpipe creates.
umask: "002"

# historydb: The database that records the outcome of every run.
historydb: "~/.qcpipe/history.db"
`

var defaultConfig bool

// confCmd represents the conf command
var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration.

Shows the value of every config setting, and where that value came from: the
default, an environment variable, a config file or the command line.

With --default, prints an example config file you can adapt instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		if defaultConfig {
			fmt.Print(defaultYML)
			return
		}
		fmt.Print(config.String())
	},
}

func init() {
	RootCmd.AddCommand(confCmd)

	// flags specific to this sub-command
	confCmd.Flags().BoolVarP(&defaultConfig, "default", "d", false, "print an example config file")
}
