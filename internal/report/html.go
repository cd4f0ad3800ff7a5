package report

import (
	"fmt"
	"html/template"
	"io"
	"os"
)

const reportHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <style>
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 32px;
      font-family: "Segoe UI", "Helvetica Neue", Arial, sans-serif;
      color: #111827;
      background: #ffffff;
    }
    .report {
      max-width: 1280px;
      margin: 0 auto;
    }
    .header {
      border-bottom: 2px solid #2563eb;
      padding-bottom: 16px;
      margin-bottom: 24px;
    }
    .header h1 {
      margin: 0 0 4px;
      font-size: 24px;
    }
    .header .meta {
      color: #6b7280;
      font-size: 13px;
    }
    table {
      width: 100%;
      border-collapse: collapse;
      font-size: 13px;
    }
    th, td {
      padding: 8px 10px;
      border-bottom: 1px solid #e5e7eb;
      text-align: left;
      vertical-align: top;
    }
    th {
      text-transform: uppercase;
      font-size: 11px;
      letter-spacing: 0.04em;
      color: #6b7280;
      background: #f9fafb;
    }
    tr:hover td { background: #f3f4f6; }
    .summary {
      margin-top: 32px;
    }
    .summary h2 {
      font-size: 16px;
      border-bottom: 1px solid #e5e7eb;
      padding-bottom: 6px;
    }
    .summary p {
      margin: 4px 0;
      font-size: 13px;
    }
    .footer {
      margin-top: 32px;
      border-top: 1px solid #e5e7eb;
      padding-top: 12px;
      font-size: 11px;
      color: #6b7280;
    }
  </style>
</head>
<body>
  <div class="report">
    <div class="header">
      <h1>{{.Title}}</h1>
      <div class="meta">
        Tenant: {{.Tenant}} &middot; Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}
      </div>
    </div>
    <table>
      <thead>
        <tr>
          {{range .Table.Columns}}<th>{{.}}</th>{{end}}
        </tr>
      </thead>
      <tbody>
        {{range .Table.Rows}}<tr>
          {{range .}}<td>{{.}}</td>{{end}}
        </tr>
        {{end}}
      </tbody>
    </table>
    {{range .Summary}}
    <div class="summary">
      <h2>{{.Title}}</h2>
      {{range .Lines}}<p>{{.}}</p>
      {{end}}
    </div>
    {{end}}
    <div class="footer">Run {{.RunID}}</div>
  </div>
</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Parse(reportHTMLTemplate))

// WriteHTML renders the document as a standalone styled page. All values
// pass through html/template escaping, so user-controlled directory values
// cannot inject markup.
func WriteHTML(w io.Writer, d Document) error {
	for i, row := range d.Table.Rows {
		if len(row) != len(d.Table.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(d.Table.Columns))
		}
	}
	return reportTemplate.Execute(w, d)
}

// WriteFiles writes both outputs. Either failing is fatal: a run that
// cannot produce its files has nothing to show for itself.
func WriteFiles(htmlPath, csvPath string, d Document) error {
	htmlFile, err := os.Create(htmlPath)
	if err != nil {
		return err
	}
	if err := WriteHTML(htmlFile, d); err != nil {
		htmlFile.Close()
		return err
	}
	if err := htmlFile.Close(); err != nil {
		return err
	}

	csvFile, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	if err := WriteCSV(csvFile, d.Table); err != nil {
		csvFile.Close()
		return err
	}
	return csvFile.Close()
}
