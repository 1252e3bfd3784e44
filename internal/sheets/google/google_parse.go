package google

import (
	"fmt"
	"strings"

	"dompet/internal/core"
)

// Columns A..I of the mirror sheet.
var columns = []string{"ID", "Date", "Type", "Amount", "Category", "Wallet", "Description", "Owner", "Image"}

func header() []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = c
	}
	return out
}

func rowValues(tx core.Transaction) []any {
	return []any{
		tx.ID,
		tx.Date.UTC().Format("2006-01-02"),
		tx.Kind.String(),
		tx.Amount.StringFixed(core.MoneyScale),
		tx.Category,
		tx.WalletID,
		tx.Description,
		tx.OwnerID,
		tx.Image,
	}
}

func rowRange(sheet string, row int) string {
	last := rune('A' + len(columns) - 1)
	return fmt.Sprintf("%s!A%d:%c%d", sheet, row, last, row)
}

// indexRows maps the ids found in column A to their 1-based row, skipping
// blank cells and the header.
func indexRows(values [][]any) map[string]int {
	rows := make(map[string]int, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || (i == 0 && strings.EqualFold(id, columns[0])) {
			continue
		}
		rows[id] = i + 1
	}
	return rows
}
