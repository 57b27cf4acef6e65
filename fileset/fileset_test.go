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

package fileset

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// touch creates empty files in dir.
func touch(dir string, names ...string) {
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			panic(err)
		}
	}
}

// discoveryErr asserts err is a DiscoveryError and returns it.
func discoveryErr(err error) DiscoveryError {
	So(err, ShouldNotBeNil)
	derr, ok := err.(DiscoveryError)
	So(ok, ShouldBeTrue)
	return derr
}

func TestFormats(t *testing.T) {
	Convey("ParseFormat knows the formats", t, func() {
		for _, f := range Formats {
			parsed, err := ParseFormat(string(f))
			So(err, ShouldBeNil)
			So(parsed, ShouldEqual, f)
		}
		_, err := ParseFormat("bam")
		So(discoveryErr(err).Err, ShouldEqual, ErrUnknownFormat)
		So(discoveryErr(err).Detail, ShouldEqual, "bam")
		So(err.Error(), ShouldEqual, "fileset() Discover(): "+ErrUnknownFormat+" (bam)")
	})

	Convey("CompileFilter compiles, or returns nil for nothing", t, func() {
		re, err := CompileFilter("")
		So(err, ShouldBeNil)
		So(re, ShouldBeNil)
		re, err = CompileFilter("^sample1")
		So(err, ShouldBeNil)
		So(re.MatchString("sample1_R1.fastq"), ShouldBeTrue)
		_, err = CompileFilter("(")
		So(discoveryErr(err).Err, ShouldEqual, ErrBadFilter)
	})
}

func TestDiscoverFastq(t *testing.T) {
	Convey("Given a directory of fastq.gz files", t, func() {
		dir := t.TempDir()
		touch(dir, "sample2_R2.fastq.gz", "sample1_R1.fastq.gz", "sample2_R1.fastq.gz", "sample1_R2.fastq.gz", "README", "notes.txt")
		So(os.Mkdir(filepath.Join(dir, "qc"), 0755), ShouldBeNil)
		touch(filepath.Join(dir, "qc"), "sample3_R1.fastq.gz")

		Convey("pairs are discovered in name order", func() {
			groups, err := Discover(dir, FormatFastqGz, nil)
			So(err, ShouldBeNil)
			So(len(groups), ShouldEqual, 2)
			So(groups[0].Name, ShouldEqual, "sample1")
			So(groups[0].Files, ShouldResemble, []string{"sample1_R1.fastq.gz", "sample1_R2.fastq.gz"})
			So(groups[0].Dir, ShouldEqual, dir)
			So(groups[0].Format, ShouldEqual, FormatFastqGz)
			So(groups[0].Paths(), ShouldResemble, []string{filepath.Join(dir, "sample1_R1.fastq.gz"), filepath.Join(dir, "sample1_R2.fastq.gz")})
			So(groups[1].Name, ShouldEqual, "sample2")

			Convey("and discovery is idempotent", func() {
				again, err := Discover(dir, FormatFastqGz, nil)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, groups)
			})
		})

		Convey("the fastq format ignores them", func() {
			_, err := Discover(dir, FormatFastq, nil)
			So(discoveryErr(err).Err, ShouldEqual, ErrNoGroups)
		})

		Convey("a filter limits what is found", func() {
			re, err := CompileFilter("^sample2")
			So(err, ShouldBeNil)
			groups, err := Discover(dir, FormatFastqGz, re)
			So(err, ShouldBeNil)
			So(len(groups), ShouldEqual, 1)
			So(groups[0].Name, ShouldEqual, "sample2")

			re, err = CompileFilter("_R1")
			So(err, ShouldBeNil)
			_, err = Discover(dir, FormatFastqGz, re)
			So(discoveryErr(err).Err, ShouldEqual, ErrPartial)
		})

		Convey("a missing partner is an error listing the orphan", func() {
			So(os.Remove(filepath.Join(dir, "sample1_R2.fastq.gz")), ShouldBeNil)
			touch(dir, "sample4_R2.fastq.gz")
			groups, err := Discover(dir, FormatFastqGz, nil)
			So(groups, ShouldBeNil)
			derr := discoveryErr(err)
			So(derr.Err, ShouldEqual, ErrPartial)
			So(derr.Files, ShouldResemble, []string{"sample1_R1.fastq.gz", "sample4_R2.fastq.gz"})
			So(derr.Error(), ShouldContainSubstring, "sample1_R1.fastq.gz, sample4_R2.fastq.gz")
		})

		Convey("lane suffixes and unpaired fastqs form their own groups", func() {
			touch(dir, "PJB_S1_L001_R1_001.fastq.gz", "PJB_S1_L001_R2_001.fastq.gz", "PJB_S1_L001_R1_002.fastq.gz", "PJB_S1_L001_R2_002.fastq.gz", "single.fastq.gz")
			groups, err := Discover(dir, FormatFastqGz, nil)
			So(err, ShouldBeNil)
			names := make([]string, len(groups))
			for i, g := range groups {
				names[i] = g.Name
			}
			So(names, ShouldResemble, []string{"PJB_S1_L001_001", "PJB_S1_L001_002", "sample1", "sample2", "single"})
			So(groups[0].Files, ShouldResemble, []string{"PJB_S1_L001_R1_001.fastq.gz", "PJB_S1_L001_R2_001.fastq.gz"})
			So(groups[4].Files, ShouldResemble, []string{"single.fastq.gz"})
		})

		Convey("_1 and _2 are not read markers", func() {
			touch(dir, "x_1.fastq.gz", "x_2.fastq.gz")
			groups, err := Discover(dir, FormatFastqGz, nil)
			So(err, ShouldBeNil)
			So(len(groups), ShouldEqual, 4)
			So(groups[2].Name, ShouldEqual, "x_1")
			So(groups[2].Files, ShouldResemble, []string{"x_1.fastq.gz"})
			So(groups[3].Name, ShouldEqual, "x_2")
		})

		Convey("an unpaired fastq can't share a name with a pair", func() {
			touch(dir, "sample1.fastq.gz")
			_, err := Discover(dir, FormatFastqGz, nil)
			derr := discoveryErr(err)
			So(derr.Err, ShouldEqual, ErrAmbiguous)
			So(derr.Files, ShouldContain, "sample1.fastq.gz")
		})

		Convey("symlinks to files are followed", func() {
			other := t.TempDir()
			touch(other, "linked_R1.fastq.gz", "linked_R2.fastq.gz")
			So(os.Symlink(filepath.Join(other, "linked_R1.fastq.gz"), filepath.Join(dir, "linked_R1.fastq.gz")), ShouldBeNil)
			So(os.Symlink(filepath.Join(other, "linked_R2.fastq.gz"), filepath.Join(dir, "linked_R2.fastq.gz")), ShouldBeNil)
			So(os.Symlink(filepath.Join(other, "missing"), filepath.Join(dir, "dangling_R1.fastq.gz")), ShouldBeNil)
			groups, err := Discover(dir, FormatFastqGz, nil)
			So(err, ShouldBeNil)
			So(len(groups), ShouldEqual, 3)
			So(groups[0].Name, ShouldEqual, "linked")
		})
	})

	Convey("Plain fastq files are found with the fastq format", t, func() {
		dir := t.TempDir()
		touch(dir, "a_R1.fastq", "a_R2.fastq", "b_R1.fastq.gz")
		groups, err := Discover(dir, FormatFastq, nil)
		So(err, ShouldBeNil)
		So(len(groups), ShouldEqual, 1)
		So(groups[0].Files, ShouldResemble, []string{"a_R1.fastq", "a_R2.fastq"})
	})

	Convey("Unreadable dirs and unknown formats are errors", t, func() {
		_, err := Discover(filepath.Join(t.TempDir(), "missing"), FormatFastq, nil)
		So(discoveryErr(err).Err, ShouldEqual, ErrUnreadable)

		_, err = Discover(t.TempDir(), Format("bam"), nil)
		So(discoveryErr(err).Err, ShouldEqual, ErrUnknownFormat)

		_, err = Discover(t.TempDir(), FormatFastq, nil)
		So(discoveryErr(err).Err, ShouldEqual, ErrNoGroups)
	})

	Convey("DiscoverAll concatenates dirs in order and stops at the first error", t, func() {
		dir1 := t.TempDir()
		dir2 := t.TempDir()
		touch(dir1, "z_R1.fastq", "z_R2.fastq")
		touch(dir2, "a_R1.fastq", "a_R2.fastq")
		groups, err := DiscoverAll([]string{dir1, dir2}, FormatFastq, nil)
		So(err, ShouldBeNil)
		So(len(groups), ShouldEqual, 2)
		So(groups[0].Dir, ShouldEqual, dir1)
		So(groups[1].Dir, ShouldEqual, dir2)

		touch(dir2, "b_R1.fastq")
		groups, err = DiscoverAll([]string{dir1, dir2}, FormatFastq, nil)
		So(groups, ShouldBeNil)
		So(discoveryErr(err).Dir, ShouldEqual, dir2)
	})
}

func TestDiscoverSolid(t *testing.T) {
	Convey("Given a directory of SOLiD fragment files", t, func() {
		dir := t.TempDir()
		touch(dir, "run1_lib1.csfasta", "run1_lib1_QV.qual", "run1_lib2.csfasta", "run1_lib2.qual", "run1_lib3.csfasta", "run1_lib3_QV.qual", "run1_lib3.qual")

		Convey("csfasta files are paired with their qual, preferring _QV", func() {
			groups, err := Discover(dir, FormatSolid, nil)
			So(err, ShouldBeNil)
			So(len(groups), ShouldEqual, 3)
			So(groups[0].Files, ShouldResemble, []string{"run1_lib1.csfasta", "run1_lib1_QV.qual"})
			So(groups[1].Files, ShouldResemble, []string{"run1_lib2.csfasta", "run1_lib2.qual"})
			So(groups[2].Name, ShouldEqual, "run1_lib3")
			So(groups[2].Files, ShouldResemble, []string{"run1_lib3.csfasta", "run1_lib3_QV.qual"})
		})

		Convey("a csfasta without a qual is an error", func() {
			touch(dir, "run1_lib4.csfasta")
			_, err := Discover(dir, FormatSolid, nil)
			derr := discoveryErr(err)
			So(derr.Err, ShouldEqual, ErrPartial)
			So(derr.Files, ShouldResemble, []string{"run1_lib4.csfasta"})
		})

		Convey("a qual without a csfasta is an error", func() {
			touch(dir, "run1_lib5_QV.qual")
			_, err := Discover(dir, FormatSolid, nil)
			derr := discoveryErr(err)
			So(derr.Err, ShouldEqual, ErrPartial)
			So(derr.Files, ShouldResemble, []string{"run1_lib5_QV.qual"})
		})
	})

	Convey("Given a directory of SOLiD paired end files", t, func() {
		dir := t.TempDir()
		touch(dir, "pe_F3.csfasta", "pe_F3_QV.qual", "pe_F5-BC.csfasta", "pe_F5-BC_QV.qual", "other.txt")

		Convey("quads are discovered", func() {
			groups, err := Discover(dir, FormatSolidPairedEnd, nil)
			So(err, ShouldBeNil)
			So(len(groups), ShouldEqual, 1)
			So(groups[0].Name, ShouldEqual, "pe")
			So(groups[0].Files, ShouldResemble, []string{"pe_F3.csfasta", "pe_F3_QV.qual", "pe_F5-BC.csfasta", "pe_F5-BC_QV.qual"})
		})

		Convey("the solid format sees them as two fragment groups", func() {
			groups, err := Discover(dir, FormatSolid, nil)
			So(err, ShouldBeNil)
			So(len(groups), ShouldEqual, 2)
			So(groups[0].Name, ShouldEqual, "pe_F3")
			So(groups[1].Name, ShouldEqual, "pe_F5-BC")
		})

		Convey("an incomplete quad is an error", func() {
			So(os.Remove(filepath.Join(dir, "pe_F5-BC_QV.qual")), ShouldBeNil)
			_, err := Discover(dir, FormatSolidPairedEnd, nil)
			derr := discoveryErr(err)
			So(derr.Err, ShouldEqual, ErrPartial)
			So(derr.Files, ShouldResemble, []string{"pe_F3.csfasta", "pe_F3_QV.qual", "pe_F5-BC.csfasta"})
		})

		Convey("two F5 tags for one stem is ambiguous", func() {
			touch(dir, "pe_F5-P2.csfasta", "pe_F5-P2_QV.qual")
			_, err := Discover(dir, FormatSolidPairedEnd, nil)
			So(discoveryErr(err).Err, ShouldEqual, ErrAmbiguous)
		})
	})
}
