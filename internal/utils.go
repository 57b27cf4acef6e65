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

package internal

// this file has general utility functions

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/kardianos/osext"
)

// TildaToHome converts a path beginning with ~/ to the absolute path based in
// the current home directory. If that cannot be determined, path is returned
// unaltered.
func TildaToHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, herr := os.UserHomeDir()
	if herr != nil || home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Which returns the full path to the executable with the given name that is
// found first in the user's $PATH, or the empty string if there is none.
func Which(exeName string) string {
	path, err := exec.LookPath(exeName)
	if err != nil {
		return ""
	}
	return path
}

// FindScript resolves the name of a QC script to an absolute path of an
// executable file. Names containing a path separator are taken to be paths
// (relative to the current directory if not absolute). Otherwise we look in
// $PATH first, then in the directory our own executable is in, since QC
// scripts are typically installed alongside us.
func FindScript(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		if !isExecutable(abs) {
			return "", fmt.Errorf("script %s is not an executable file", abs)
		}
		return abs, nil
	}

	if path := Which(name); path != "" {
		return filepath.Abs(path)
	}

	dir, err := osext.ExecutableFolder()
	if err == nil {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("script %s was not found in $PATH or %s", name, dir)
}

// isExecutable tells you if path is a regular file with any execute bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0
}

// LogPanic is for use in go routines, deferred at the start of them, to figure
// out what is causing runtime panics. If the die bool is true, the program
// exits, otherwise it continues, after logging the error message and stack
// trace. Desc string should be used to describe briefly what the goroutine you
// call this in does.
func LogPanic(logger log15.Logger, desc string, die bool) {
	if err := recover(); err != nil {
		logger.Crit(desc, "err", err, "stack", string(debug.Stack()))
		if die {
			os.Exit(1)
		}
	}
}
