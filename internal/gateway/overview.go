package gateway

import (
	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/lifecycle"
)

// handleOverview serves the registry and metrics commands: orch-list,
// orch-monitor, orch-kpi, orch-use. Returns true when the command was one
// of them.
func (m *msg) handleOverview(r *Resolved) (bool, error) {
	gw := m.gw

	switch r.Cmd {
	case "orch-list":
		m.send(registrySummary(gw.manager), "orch-list", false)
		return true, nil

	case "orch-monitor":
		p, err := m.project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		p.entry.BackfillAliases()

		limit := r.Limit
		if limit == 0 {
			limit = 12
		}
		limit = clampInt(limit, 1, 50)

		now := gw.nowISO()
		recent := p.entry.LatestTaskRefs(limit)
		gw.manager.SetRecentTaskRefs(m.chatID, p.key, recent, now)
		if gw.manager.SelectedTaskRef(m.chatID, p.key) == "" && len(recent) > 0 {
			gw.manager.SetSelectedTaskRef(m.chatID, p.key, recent[0], now)
		}
		gw.saveManagerState()

		m.send(lifecycle.MonitorSummary(p.key, p.entry, limit), "orch-monitor", true)
		return true, nil

	case "orch-kpi":
		p, err := m.project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		hours := r.Hours
		if hours == 0 {
			hours = 24
		}
		hours = clampInt(hours, 1, 168)
		m.send(events.Summarize(p.entry.TeamDir, p.key, hours, gw.clock.Now()), "orch-kpi", true)
		return true, nil

	case "orch-use":
		if r.OrchTarget == "" {
			m.send("usage: aoe orch use <name>", "orch-use usage", false)
			return true, nil
		}
		key, _, err := gw.manager.Project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		gw.manager.Active = key
		gw.saveManagerState()
		m.send("active orch changed: "+key, "", false)
		return true, nil
	}

	return false, nil
}
