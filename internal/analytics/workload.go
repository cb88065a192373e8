package analytics

import (
	"fmt"
	"strings"
	"time"
)

// Workload is a user's load in a workbook tracking table.
type Workload struct {
	Total  int `json:"total_tasks"`
	Active int `json:"active_tasks"`
}

// Workload counts workbook rows laid out as [user, task, due, status]. A row
// is active when it is due today or later and not completed. Rows with a bad
// due date only count toward the total; rows with fewer than four cells are
// skipped.
func (e *Engine) Workload(rows [][]any) map[string]Workload {
	now := e.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)

	out := make(map[string]Workload)
	for _, cells := range rows {
		if len(cells) < 4 {
			continue
		}
		user := cellString(cells[0])
		if user == "" {
			continue
		}

		w := out[user]
		w.Total++
		due, err := time.ParseInLocation("2006-01-02", cellString(cells[2]), e.loc)
		if err == nil && !due.Before(today) && !strings.EqualFold(cellString(cells[3]), "completed") {
			w.Active++
		}
		out[user] = w
	}
	return out
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
