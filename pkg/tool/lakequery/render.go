package lakequery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/m-mizutani/lakeagent/pkg/datalake"
)

// Render formats a result set as a fixed-width table. At most limit rows are
// shown; limit <= 0 shows all of them.
func Render(rs *datalake.ResultSet, limit int) string {
	var buf strings.Builder

	table := tablewriter.NewWriter(&buf)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(rs.Columns)

	shown := len(rs.Rows)
	if limit > 0 && shown > limit {
		shown = limit
	}
	for _, row := range rs.Rows[:shown] {
		cells := make([]string, len(rs.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = formatCell(row[i])
			}
		}
		table.Append(cells)
	}
	table.Render()

	switch {
	case rs.Truncated:
		fmt.Fprintf(&buf, "(showing %d rows; the result has more rows that were not read)\n", shown)
	case shown < len(rs.Rows):
		fmt.Fprintf(&buf, "(showing %d of %d rows)\n", shown, len(rs.Rows))
	}

	return buf.String()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return escapeCell(x)
	case []byte:
		return escapeCell(string(x))
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return escapeCell(x.String())
	}
	return escapeCell(fmt.Sprint(v))
}

var cellEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`, "\t", " ")

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}
