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

package reporter

// This file contains the manifests of the QC artifacts each kind of file
// group should end up with.

import (
	"strings"

	"github.com/VertebrateResequencing/qcpipe/fileset"
)

// Platform is the sequencer that produced some data.
type Platform string

// Platform* constants are the platforms we know the QC artifacts of.
const (
	PlatformIllumina Platform = "illumina"
	PlatformSolid    Platform = "solid"
)

// qcSubdir is where QC scripts put most of their output, relative to the
// input directory.
const qcSubdir = "qc"

var (
	screens        = []string{"model_organisms", "other_organisms", "rRNA"}
	screenExts     = []string{"txt", "png"}
	boxplotExts    = []string{"png", "ps", "pdf"}
	platformFormat = map[Platform][]fileset.Format{
		PlatformIllumina: {fileset.FormatFastqGz, fileset.FormatFastq},
		PlatformSolid:    {fileset.FormatSolid, fileset.FormatSolidPairedEnd},
	}
)

// ParsePlatform converts a string to a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if _, known := platformFormat[p]; !known {
		return "", Error{Op: "ParsePlatform", Err: ErrUnknownPlatform, Detail: s}
	}
	return p, nil
}

// DefaultFormat returns the input format assumed for a platform when none is
// given.
func (p Platform) DefaultFormat() fileset.Format {
	formats := platformFormat[p]
	if len(formats) == 0 {
		return ""
	}
	return formats[0]
}

// checkFormat returns an error if the platform can't produce the format.
func (p Platform) checkFormat(dir string, format fileset.Format) error {
	formats, known := platformFormat[p]
	if !known {
		return Error{Dir: dir, Op: "Verify", Err: ErrUnknownPlatform, Detail: string(p)}
	}
	for _, f := range formats {
		if f == format {
			return nil
		}
	}
	return Error{Dir: dir, Op: "Verify", Err: ErrFormatMismatch, Detail: string(p) + ", " + string(format)}
}

// Manifest returns the paths, relative to the group's Dir, of the artifacts
// that QC of the group should have produced.
func Manifest(g fileset.FileGroup) []string {
	var paths []string
	switch g.Format {
	case fileset.FormatFastq, fileset.FormatFastqGz:
		for _, file := range g.Files {
			stem := fastqStem(file)
			paths = append(paths, screenArtifacts(stem)...)
			paths = append(paths, qcPath(stem+"_fastqc.html"), qcPath(stem+"_fastqc.zip"))
		}
	case fileset.FormatSolid:
		stem := strings.TrimSuffix(g.Files[0], ".csfasta")
		paths = append(paths, stem+".fastq")
		paths = append(paths, screenArtifacts(stem)...)
		paths = append(paths, boxplotArtifacts(g.Files[1])...)
	case fileset.FormatSolidPairedEnd:
		f3 := g.Name + "_paired_F3"
		paths = append(paths, f3+".fastq", g.Name+"_paired_F5.fastq")
		paths = append(paths, screenArtifacts(f3)...)
		paths = append(paths, boxplotArtifacts(g.Files[1])...)
		paths = append(paths, boxplotArtifacts(g.Files[3])...)
	}
	return paths
}

// fastqStem strips the fastq extensions from a file name.
func fastqStem(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".fastq")
}

func qcPath(name string) string {
	return qcSubdir + "/" + name
}

// screenArtifacts are the outputs of fastq_screen against each of our screens.
func screenArtifacts(stem string) []string {
	var paths []string
	for _, screen := range screens {
		for _, ext := range screenExts {
			paths = append(paths, qcPath(stem+"_"+screen+"_screen."+ext))
		}
	}
	return paths
}

// boxplotArtifacts are the quality boxplots made from a qual file.
func boxplotArtifacts(qual string) []string {
	stem := strings.TrimSuffix(qual, ".qual")
	paths := make([]string, 0, len(boxplotExts))
	for _, ext := range boxplotExts {
		paths = append(paths, qcPath(stem+"_seq-order_boxplot."+ext))
	}
	return paths
}
