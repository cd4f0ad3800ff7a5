package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
)

func testDocument() Document {
	return Document{
		Title:       "License Report",
		Tenant:      "Contoso",
		GeneratedAt: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
		RunID:       "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		Table: Table{
			Columns: []string{"Name", "Status", "Cost"},
			Rows: [][]string{
				{"Ada <Lovelace>", "OK", "196.80"},
				{"Grace Hopper", "Account unused for 90 days - check!", "0.00"},
			},
		},
		Summary: []Section{
			{Title: "Summary", Lines: []string{"2 accounts analyzed."}},
		},
	}
}

// Every CSV cell must appear, identically, in the HTML table.
func TestHTMLMatchesCSV(t *testing.T) {
	t.Parallel()
	doc := testDocument()

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, doc.Table); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	csvRows, err := csv.NewReader(&csvBuf).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}

	var htmlBuf bytes.Buffer
	if err := WriteHTML(&htmlBuf, doc); err != nil {
		t.Fatalf("WriteHTML() error = %v", err)
	}
	htmlRows := parseTableRows(t, htmlBuf.String())

	if len(htmlRows) != len(csvRows) {
		t.Fatalf("html table has %d rows, csv has %d", len(htmlRows), len(csvRows))
	}
	for i := range csvRows {
		if len(htmlRows[i]) != len(csvRows[i]) {
			t.Fatalf("row %d: html has %d cells, csv has %d", i, len(htmlRows[i]), len(csvRows[i]))
		}
		for j := range csvRows[i] {
			if htmlRows[i][j] != csvRows[i][j] {
				t.Fatalf("row %d cell %d: html %q, csv %q", i, j, htmlRows[i][j], csvRows[i][j])
			}
		}
	}
}

func TestWriteHTMLEscapesValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteHTML(&buf, testDocument()); err != nil {
		t.Fatalf("WriteHTML() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "<Lovelace>") {
		t.Fatal("display name was not escaped")
	}
	if !strings.Contains(out, "&lt;Lovelace&gt;") {
		t.Fatal("escaped display name missing from output")
	}
	if !strings.Contains(out, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d") {
		t.Fatal("run id missing from footer")
	}
	if !strings.Contains(out, "2 accounts analyzed.") {
		t.Fatal("summary line missing from output")
	}
}

func TestWriteFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "report.html")
	csvPath := filepath.Join(dir, "report.csv")

	if err := WriteFiles(htmlPath, csvPath, testDocument()); err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}
	for _, p := range []string{htmlPath, csvPath} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", p)
		}
	}
}

// parseTableRows extracts th/td text from the first table in the document,
// one slice per tr.
func parseTableRows(t *testing.T, doc string) [][]string {
	t.Helper()
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parsing html: %v", err)
	}

	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "th" || c.Data == "td") {
					row = append(row, nodeText(c))
				}
			}
			rows = append(rows, row)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return rows
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
