package village

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/beads-village/village/internal/registry"
)

// heartbeat refreshes this agent's registry record. Failures are logged,
// never surfaced: presence is advisory.
func (s *Server) heartbeat() {
	if err := registry.Heartbeat(s.cfg.Base, s.sess.Team(), s.sess.Agent()); err != nil {
		log.WithField("err", err).Debug("heartbeat failed")
	}
}

// toolDiscover reports who is active on the team and where they work.
func (s *Server) toolDiscover(_ context.Context, _ map[string]any) any {
	s.heartbeat()

	base, team := s.cfg.Base, s.sess.Team()
	active := registry.Active(base, team, 0)
	now := time.Now()

	agents := make([]map[string]any, 0, len(active))
	for _, e := range active {
		item := map[string]any{
			"agent":     e.Agent,
			"ws":        e.WS,
			"status":    registry.Status(e, now),
			"last_seen": e.LastSeen,
		}
		if e.CurrentTask != "" {
			item["task"] = e.CurrentTask
		}
		if len(e.Capabilities) > 0 {
			item["capabilities"] = e.Capabilities
		}
		agents = append(agents, item)
	}

	groups := registry.DiscoverWorkspaces(base, team, 0)
	if groups == nil {
		groups = []registry.WorkspaceGroup{}
	}

	return map[string]any{
		"team":       team,
		"agents":     agents,
		"workspaces": groups,
		"totals": map[string]any{
			"agents":     len(agents),
			"workspaces": len(groups),
		},
	}
}

// toolStatus summarizes the session and the workspace around it.
func (s *Server) toolStatus(ctx context.Context, _ map[string]any) any {
	s.heartbeat()

	open := 0
	if list, ok := s.driver().Run(ctx, "list", "--status", "open").([]any); ok {
		open = len(list)
	}

	var current any
	if t := s.sess.Task(); t != "" {
		current = t
	}

	active := registry.Active(s.cfg.Base, s.sess.Team(), 0)
	mins := s.sess.Uptime().Minutes()

	return map[string]any{
		"agent":         s.sess.Agent(),
		"team":          s.sess.Team(),
		"open":          open,
		"warn":          open > 200,
		"current":       current,
		"reserved":      s.sess.HeldCount(),
		"active_agents": len(active),
		"min":           math.Round(mins*10) / 10,
		"done":          s.sess.Done(),
	}
}
