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
Package reporter checks that QC scripts produced everything they should have
for each group of input files in a directory, and renders the results as an
HTML or text report.

An artifact counts as present only if it exists, is not empty and, for gzipped
artifacts, decompresses to at least one byte. Fastq artifacts may be stored
gzipped. Since a group passes only when
every artifact in its manifest is present, creating more of the expected files
can never make a passing group fail.

	import "github.com/VertebrateResequencing/qcpipe/reporter"
	results, err := reporter.Verify("/data/run1", reporter.PlatformIllumina, fileset.FormatFastqGz)
	if err = reporter.Failures("/data/run1", results); err != nil {
	    fmt.Println(err) // lists the missing artifacts of each failed group
	}
*/
package reporter

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/klauspost/pgzip"
)

// Artifact describes one expected QC output of a group.
type Artifact struct {
	// Path is relative to the group's Dir.
	Path string

	// Size is the size of the file in bytes, or 0 if it doesn't exist.
	Size uint64

	// Present is true if the artifact exists and is usable.
	Present bool

	// Problem says why the artifact is not Present.
	Problem string
}

// Result is the outcome of verifying one file group.
type Result struct {
	Group     fileset.FileGroup
	Passed    bool
	Missing   []string
	Artifacts []Artifact
}

// Verify discovers the file groups of the given format in dir and checks the
// QC artifacts of each. An empty format means the platform's default. An error
// is only returned if the platform and format don't go together or discovery
// fails.
func Verify(dir string, platform Platform, format fileset.Format) ([]Result, error) {
	if format == "" {
		format = platform.DefaultFormat()
	}
	if err := platform.checkFormat(dir, format); err != nil {
		return nil, err
	}

	groups, err := fileset.Discover(dir, format, nil)
	if err != nil {
		return nil, err
	}
	return VerifyGroups(groups), nil
}

// VerifyGroups checks the QC artifacts of each of the given groups.
func VerifyGroups(groups []fileset.FileGroup) []Result {
	results := make([]Result, len(groups))
	for i, g := range groups {
		results[i] = verifyGroup(g)
	}
	return results
}

// verifyGroup checks every artifact in a group's manifest.
func verifyGroup(g fileset.FileGroup) Result {
	r := Result{Group: g, Passed: true}
	for _, path := range Manifest(g) {
		a := checkArtifact(g.Dir, path)
		r.Artifacts = append(r.Artifacts, a)
		if !a.Present {
			r.Passed = false
			r.Missing = append(r.Missing, path)
		}
	}
	return r
}

// alternatives returns the names an artifact may be stored under. Fastq
// artifacts may have been gzipped.
func alternatives(path string) []string {
	if strings.HasSuffix(path, ".fastq") {
		return []string{path, path + ".gz"}
	}
	return []string{path}
}

// checkArtifact looks for an expected artifact on disk, under any of its
// alternative names. If none is usable, the problem with the first is
// reported.
func checkArtifact(dir, path string) Artifact {
	var first Artifact
	for i, alt := range alternatives(path) {
		a := checkFile(dir, alt)
		if a.Present {
			return a
		}
		if i == 0 {
			first = a
		}
	}
	return first
}

// checkFile looks at a single file.
func checkFile(dir, path string) Artifact {
	a := Artifact{Path: path}
	full := filepath.Join(dir, path)

	info, err := os.Stat(full)
	switch {
	case err != nil:
		a.Problem = "missing"
		return a
	case !info.Mode().IsRegular():
		a.Problem = "not a file"
		return a
	case info.Size() == 0:
		a.Problem = "empty"
		return a
	}
	a.Size = uint64(info.Size())

	if strings.HasSuffix(path, ".gz") {
		if problem := checkGzip(full); problem != "" {
			a.Problem = problem
			return a
		}
	}

	a.Present = true
	return a
}

// checkGzip returns a description of the problem if path doesn't decompress to
// at least one byte.
func checkGzip(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "unreadable"
	}
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return "not gzipped"
	}
	defer zr.Close()

	buf := make([]byte, 1)
	if _, err = io.ReadFull(zr, buf); err != nil {
		return "empty when decompressed"
	}
	return ""
}

// Failures returns a VerificationFailure listing the results that did not
// pass, or nil if they all did.
func Failures(dir string, results []Result) error {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return VerificationFailure{Dir: dir, Failed: failed}
}

// Passed counts the results that passed.
func Passed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}
