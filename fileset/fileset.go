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
Package fileset finds groups of related sequencer output files in a directory,
so that each group can be processed by one QC job.

How files are grouped depends on the input format:

	fastq, fastqgz     NAME_R1[_NNN].fastq[.gz] + NAME_R2[_NNN].fastq[.gz], or
	                   single fastq files with no read marker
	solid              STEM.csfasta + STEM_QV.qual (or STEM.qual)
	solid_paired_end   STEM_F3.csfasta + STEM_F3_QV.qual +
	                   STEM_F5-TAG.csfasta + STEM_F5-TAG_QV.qual

Files that look like they belong to a group but whose partners are missing
cause discovery to fail, since running QC on half a pair would produce
misleading results. Files that don't look like the format at all are ignored.

	import "github.com/VertebrateResequencing/qcpipe/fileset"
	groups, err := fileset.Discover("/data/run1", fileset.FormatFastqGz, nil)
	for _, group := range groups {
	    fmt.Println(group.Name, group.Paths())
	}
*/
package fileset

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Format is how we describe the naming conventions of sequencer output.
type Format string

// Format* constants are the input formats we know how to group.
const (
	FormatFastq          Format = "fastq"
	FormatFastqGz        Format = "fastqgz"
	FormatSolid          Format = "solid"
	FormatSolidPairedEnd Format = "solid_paired_end"
)

// Formats lists all the known formats.
var Formats = []Format{FormatFastq, FormatFastqGz, FormatSolid, FormatSolidPairedEnd}

var (
	readMarkerRegex = regexp.MustCompile(`^(.+)_R([12])(_\d{3})?\.fastq(\.gz)?$`)
	f3CsfastaRegex  = regexp.MustCompile(`^(.+)_F3\.csfasta$`)
	f3QualRegex     = regexp.MustCompile(`^(.+)_F3_QV\.qual$`)
	f5CsfastaRegex  = regexp.MustCompile(`^(.+)_F5-([A-Za-z0-9]+)\.csfasta$`)
	f5QualRegex     = regexp.MustCompile(`^(.+)_F5-([A-Za-z0-9]+)_QV\.qual$`)
)

// ParseFormat converts a string to a Format, returning a DiscoveryError if it
// isn't one we know.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", DiscoveryError{Err: ErrUnknownFormat, Detail: s}
}

// FileGroup is an ordered set of related files that will be processed
// together. Don't alter a FileGroup once Discover() has returned it.
type FileGroup struct {
	// Name is shared by all the files in the group, eg. the sample name.
	Name string

	// Dir is the absolute path of the directory the files are in.
	Dir string

	// Format is the format the group was discovered as.
	Format Format

	// Files are the base names of the files, in the order a QC script wants
	// them (eg. R1 before R2, csfasta before qual).
	Files []string
}

// Paths returns the absolute paths of the group's Files.
func (g FileGroup) Paths() []string {
	paths := make([]string, len(g.Files))
	for i, file := range g.Files {
		paths[i] = filepath.Join(g.Dir, file)
	}
	return paths
}

// Discover scans the top level of dir for regular files (or symlinks to them)
// and groups them according to format. If filter is not nil, only files with
// names it matches are considered. Groups are returned sorted by name, so
// repeated calls on an unchanged directory give identical results.
//
// A DiscoveryError is returned if the directory can't be read, the format is
// unknown, any file is missing a partner, or no groups at all are found.
func Discover(dir string, format Format, filter *regexp.Regexp) ([]FileGroup, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, DiscoveryError{Dir: dir, Err: ErrUnreadable, Detail: err.Error()}
	}

	names, err := regularFiles(absDir)
	if err != nil {
		return nil, DiscoveryError{Dir: absDir, Err: ErrUnreadable, Detail: err.Error()}
	}

	if filter != nil {
		kept := names[:0]
		for _, name := range names {
			if filter.MatchString(name) {
				kept = append(kept, name)
			}
		}
		names = kept
	}

	var groups []FileGroup
	switch format {
	case FormatFastq:
		groups, err = groupFastq(absDir, names, ".fastq")
	case FormatFastqGz:
		groups, err = groupFastq(absDir, names, ".fastq.gz")
	case FormatSolid:
		groups, err = groupSolid(absDir, names)
	case FormatSolidPairedEnd:
		groups, err = groupSolidPairedEnd(absDir, names)
	default:
		return nil, DiscoveryError{Dir: absDir, Err: ErrUnknownFormat, Detail: string(format)}
	}
	if err != nil {
		return nil, err
	}

	if len(groups) == 0 {
		return nil, DiscoveryError{Dir: absDir, Err: ErrNoGroups, Detail: "format " + string(format)}
	}

	for i := range groups {
		groups[i].Dir = absDir
		groups[i].Format = format
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Name < groups[j].Name
	})
	return groups, nil
}

// DiscoverAll calls Discover() on each dir in turn, returning all the groups in
// dir order. It stops at the first error.
func DiscoverAll(dirs []string, format Format, filter *regexp.Regexp) ([]FileGroup, error) {
	var all []FileGroup
	for _, dir := range dirs {
		groups, err := Discover(dir, format, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, groups...)
	}
	return all, nil
}

// CompileFilter compiles a file name filter, returning nil for the empty
// string.
func CompileFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, DiscoveryError{Err: ErrBadFilter, Detail: err.Error()}
	}
	return re, nil
}

// regularFiles returns the sorted names of the regular files in dir.
func regularFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		mode := entry.Type()
		if mode&os.ModeSymlink != 0 {
			info, errs := os.Stat(filepath.Join(dir, entry.Name()))
			if errs != nil {
				continue
			}
			mode = info.Mode().Type()
		}
		if mode.IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// groupFastq pairs up R1 and R2 fastqs with the given extension, and makes
// single file groups of fastqs with no read marker.
func groupFastq(dir string, names []string, ext string) ([]FileGroup, error) {
	type pair struct {
		r1, r2 string
	}
	pairs := make(map[string]*pair)
	var order []string
	var groups []FileGroup

	for _, name := range names {
		if !strings.HasSuffix(name, ext) {
			continue
		}

		m := readMarkerRegex.FindStringSubmatch(name)
		if m == nil {
			groups = append(groups, FileGroup{Name: strings.TrimSuffix(name, ext), Files: []string{name}})
			continue
		}

		key := m[1] + m[3]
		p, exists := pairs[key]
		if !exists {
			p = &pair{}
			pairs[key] = p
			order = append(order, key)
		}
		if m[2] == "1" {
			p.r1 = name
		} else {
			p.r2 = name
		}
	}

	var partial []string
	for _, key := range order {
		p := pairs[key]
		switch {
		case p.r1 == "":
			partial = append(partial, p.r2)
		case p.r2 == "":
			partial = append(partial, p.r1)
		default:
			groups = append(groups, FileGroup{Name: key, Files: []string{p.r1, p.r2}})
		}
	}

	if len(partial) > 0 {
		sort.Strings(partial)
		return nil, DiscoveryError{Dir: dir, Err: ErrPartial, Files: partial}
	}

	// a single fastq can't share a name with a pair
	seen := make(map[string]FileGroup, len(groups))
	var ambiguous []string
	for _, group := range groups {
		if other, dup := seen[group.Name]; dup {
			ambiguous = append(ambiguous, other.Files...)
			ambiguous = append(ambiguous, group.Files...)
			continue
		}
		seen[group.Name] = group
	}
	if len(ambiguous) > 0 {
		sort.Strings(ambiguous)
		return nil, DiscoveryError{Dir: dir, Err: ErrAmbiguous, Files: ambiguous}
	}
	return groups, nil
}

// groupSolid pairs each csfasta with its qual file.
func groupSolid(dir string, names []string) ([]FileGroup, error) {
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}

	used := make(map[string]bool)
	var groups []FileGroup
	var partial []string

	for _, name := range names {
		if !strings.HasSuffix(name, ".csfasta") {
			continue
		}
		stem := strings.TrimSuffix(name, ".csfasta")

		var qual string
		switch {
		case present[stem+"_QV.qual"]:
			qual = stem + "_QV.qual"
		case present[stem+".qual"]:
			qual = stem + ".qual"
		default:
			partial = append(partial, name)
			continue
		}
		used[qual] = true
		groups = append(groups, FileGroup{Name: stem, Files: []string{name, qual}})
	}

	for _, name := range names {
		if strings.HasSuffix(name, ".qual") && !used[name] {
			stem := strings.TrimSuffix(strings.TrimSuffix(name, ".qual"), "_QV")
			if !present[stem+".csfasta"] {
				partial = append(partial, name)
			}
		}
	}

	if len(partial) > 0 {
		sort.Strings(partial)
		return nil, DiscoveryError{Dir: dir, Err: ErrPartial, Files: partial}
	}
	return groups, nil
}

// groupSolidPairedEnd collects F3 and F5 csfasta/qual quads.
func groupSolidPairedEnd(dir string, names []string) ([]FileGroup, error) {
	type quad struct {
		f3csfasta, f3qual string
		f5csfasta, f5qual []string
	}
	quads := make(map[string]*quad)
	var order []string
	get := func(stem string) *quad {
		q, exists := quads[stem]
		if !exists {
			q = &quad{}
			quads[stem] = q
			order = append(order, stem)
		}
		return q
	}

	for _, name := range names {
		if m := f3CsfastaRegex.FindStringSubmatch(name); m != nil {
			get(m[1]).f3csfasta = name
		} else if m := f3QualRegex.FindStringSubmatch(name); m != nil {
			get(m[1]).f3qual = name
		} else if m := f5CsfastaRegex.FindStringSubmatch(name); m != nil {
			q := get(m[1])
			q.f5csfasta = append(q.f5csfasta, name)
		} else if m := f5QualRegex.FindStringSubmatch(name); m != nil {
			q := get(m[1])
			q.f5qual = append(q.f5qual, name)
		}
	}

	var groups []FileGroup
	var partial, ambiguous []string
	for _, stem := range order {
		q := quads[stem]
		files := []string{q.f3csfasta, q.f3qual}
		files = append(files, q.f5csfasta...)
		files = append(files, q.f5qual...)

		if len(q.f5csfasta) > 1 || len(q.f5qual) > 1 {
			ambiguous = append(ambiguous, nonEmpty(files)...)
			continue
		}
		if q.f3csfasta == "" || q.f3qual == "" || len(q.f5csfasta) != 1 || len(q.f5qual) != 1 {
			partial = append(partial, nonEmpty(files)...)
			continue
		}
		groups = append(groups, FileGroup{Name: stem, Files: files})
	}

	if len(ambiguous) > 0 {
		sort.Strings(ambiguous)
		return nil, DiscoveryError{Dir: dir, Err: ErrAmbiguous, Files: ambiguous}
	}
	if len(partial) > 0 {
		sort.Strings(partial)
		return nil, DiscoveryError{Dir: dir, Err: ErrPartial, Files: partial}
	}
	return groups, nil
}

// nonEmpty returns the non-empty strings.
func nonEmpty(strs []string) []string {
	var out []string
	for _, s := range strs {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
