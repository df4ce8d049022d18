package handlers

import (
	"net/http"
)

// DailyStats returns a daily generation summary for dashboards.
func (a *App) DailyStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	if days > 365 {
		days = 365
	}
	rows, err := a.Stats.DailySummary(r.Context(), days)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: stats query failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	type day struct {
		Day       string `json:"day"`
		Submitted int    `json:"submitted"`
		Completed int    `json:"completed"`
		Failed    int    `json:"failed"`
	}
	out := make([]day, 0, len(rows))
	for _, s := range rows {
		out = append(out, day{Day: s.Day, Submitted: s.Submitted, Completed: s.Completed, Failed: s.Failed})
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "days": out})
}
