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

// This file contains code for rendering verification results.

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/VertebrateResequencing/qcpipe/fileset"
	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/olekukonko/tablewriter"
)

// Kind is the type of report to produce.
type Kind string

// Kind* constants are the supported report types.
const (
	KindHTML Kind = "html"
	KindText Kind = "txt"
)

const reportPerms = 0666

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"size": func(n uint64) string { return bytefmt.ByteSize(n) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>QC report: {{.Name}}</title>
<style>
body { font-family: sans-serif; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 2px 6px; text-align: left; vertical-align: top; }
.pass { color: #080; }
.fail { color: #c00; }
</style>
</head>
<body>
<h1>QC report: {{.Name}}</h1>
<p>{{.Dir}} ({{.Platform}}), generated {{.Generated}}</p>
<p>{{.Total}} groups: {{.Passed}} passed, {{.Failed}} failed</p>
<table>
<tr><th>Group</th><th>Files</th><th>Status</th><th>Artifacts</th></tr>
{{range .Results}}<tr>
<td>{{.Group.Name}}</td>
<td>{{range .Group.Files}}{{.}}<br>{{end}}</td>
{{if .Passed}}<td class="pass">PASS</td>{{else}}<td class="fail">FAIL</td>{{end}}
<td>{{range .Artifacts}}{{if .Present}}<a href="{{.Path}}">{{.Path}}</a> ({{size .Size}}){{else}}<span class="fail">{{.Path}}: {{.Problem}}</span>{{end}}<br>
{{end}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

// reportData is what reportTemplate renders.
type reportData struct {
	Name      string
	Dir       string
	Platform  Platform
	Generated string
	Total     int
	Passed    int
	Failed    int
	Results   []Result
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindHTML, KindText:
		return Kind(s), nil
	}
	return "", Error{Op: "ParseKind", Err: ErrUnknownKind, Detail: s}
}

// ReportPath returns where WriteReport() writes the report for dir:
// dir/qc_report.<dir's base name>.<kind>.
func ReportPath(dir string, kind Kind) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return filepath.Join(abs, "qc_report."+filepath.Base(abs)+"."+string(kind))
}

// Report verifies dir and renders the results to w.
func Report(w io.Writer, dir string, platform Platform, format fileset.Format, kind Kind) ([]Result, error) {
	results, err := Verify(dir, platform, format)
	if err != nil {
		return nil, err
	}
	return results, Render(w, dir, platform, results, kind)
}

// WriteReport verifies dir and writes the report to ReportPath(). The file is
// written under a temporary name and then renamed, so a partial report is
// never seen. Returns the path written and the verification results.
func WriteReport(dir string, platform Platform, format fileset.Format, kind Kind, umask os.FileMode) (string, []Result, error) {
	var buf bytes.Buffer
	results, err := Report(&buf, dir, platform, format, kind)
	if err != nil {
		return "", nil, err
	}

	path := ReportPath(dir, kind)
	if err = internal.WriteFileAtomic(path, buf.Bytes(), reportPerms, umask); err != nil {
		return "", nil, Error{Dir: dir, Op: "WriteReport", Err: ErrWrite, Detail: err.Error()}
	}
	return path, results, nil
}

// Render writes already verified results to w in the given kind of report.
func Render(w io.Writer, dir string, platform Platform, results []Result, kind Kind) error {
	switch kind {
	case KindHTML:
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		passed := Passed(results)
		return reportTemplate.Execute(w, reportData{
			Name:      filepath.Base(abs),
			Dir:       abs,
			Platform:  platform,
			Generated: time.Now().Format(time.RFC1123),
			Total:     len(results),
			Passed:    passed,
			Failed:    len(results) - passed,
			Results:   results,
		})
	case KindText:
		return renderText(w, results)
	}
	return Error{Dir: dir, Op: "Render", Err: ErrUnknownKind, Detail: string(kind)}
}

// renderText writes a table of results.
func renderText(w io.Writer, results []Result) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Group", "Files", "Status", "Size", "Missing"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		var size uint64
		for _, a := range r.Artifacts {
			size += a.Size
		}
		table.Append([]string{r.Group.Name, strings.Join(r.Group.Files, "\n"), status, bytefmt.ByteSize(size), strings.Join(r.Missing, "\n")})
	}
	table.Render()

	passed := Passed(results)
	_, err := fmt.Fprintf(w, "%d groups: %d passed, %d failed\n", len(results), passed, len(results)-passed)
	return err
}
