// Package preview evaluates a channel's filters against recent items without side effects,
// so a user can confirm the configuration before it is saved.
package preview

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"ytnotify/internal/domain"
	"ytnotify/internal/filter"
)

// Rewriter resolves and applies the channel's URL rewrite.
type Rewriter interface {
	RewriteFor(ctx context.Context, ch domain.Channel, url string) (string, error)
}

// Row is one evaluated item.
type Row struct {
	Item     domain.Item
	Decision filter.Decision
	// RewrittenURL is set for qualifying items only.
	RewrittenURL string
}

// Build evaluates the first ch.Count items in provider order. It never touches notification state.
func Build(ctx context.Context, rw Rewriter, ch domain.Channel, items []domain.Item) ([]Row, error) {
	n := min(len(items), max(ch.Count, 0))
	rows := make([]Row, 0, n)
	for _, it := range items[:n] {
		d := filter.Evaluate(ch, it)
		row := Row{Item: it, Decision: d}
		if d.Qualifies {
			url := it.URL
			if rw != nil {
				var err error
				if url, err = rw.RewriteFor(ctx, ch, it.URL); err != nil {
					return nil, fmt.Errorf("preview %s: %w", it.ID, err)
				}
			}
			row.RewrittenURL = url
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Matched counts qualifying rows.
func Matched(rows []Row) int {
	n := 0
	for _, r := range rows {
		if r.Decision.Qualifies {
			n++
		}
	}
	return n
}

const titleWidth = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = cellStyle.Width(titleWidth + 2)
	matchStyle  = cellStyle.Foreground(lipgloss.Color("42"))
	rejectStyle = cellStyle.Foreground(lipgloss.Color("214"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Render draws rows as a table: Title (wrapped), Duration, Result.
func Render(rows []Row) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("Title", "Duration", "Result").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			switch col {
			case 0:
				return titleStyle
			case 2:
				if row >= 0 && row < len(rows) && rows[row].Decision.Qualifies {
					return matchStyle
				}
				return rejectStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(r.Item.Title, formatLength(r.Item.Length), r.Decision.Detail)
	}
	return t.String()
}

// RenderURLs lists the outbound link of every qualifying row.
func RenderURLs(rows []Row) string {
	var b strings.Builder
	for _, r := range rows {
		if r.Decision.Qualifies {
			b.WriteString(r.RewrittenURL)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func formatLength(n *int) string {
	if n == nil {
		return "N/A"
	}
	return strconv.Itoa(*n) + "s"
}
