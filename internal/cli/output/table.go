package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by results that have a table form.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

func newTable(w io.Writer, sep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(sep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable writes data as a borderless table with upper-cased headers.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := newTable(w, "")
	table.SetAutoFormatHeaders(true)
	table.SetHeader(data.Headers())
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// TableData is an ad-hoc TableRenderer.
type TableData struct {
	headers []string
	rows    [][]string
}

func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers, rows: make([][]string, 0)}
}

func (t *TableData) AddRow(row ...string) { t.rows = append(t.rows, row) }
func (t *TableData) Headers() []string    { return t.headers }
func (t *TableData) Rows() [][]string     { return t.rows }

// KeyValues is an ordered list of label/value pairs, rendered one per line.
type KeyValues [][2]string

// Add appends a pair.
func (kv *KeyValues) Add(key, value string) { *kv = append(*kv, [2]string{key, value}) }

// PrintKeyValues writes pairs as "key: value" lines with aligned values.
func PrintKeyValues(w io.Writer, pairs KeyValues) error {
	table := newTable(w, ":")
	table.SetAutoFormatHeaders(false)
	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}
	table.Render()
	return nil
}
