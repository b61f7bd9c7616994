package village

import (
	"context"
	"time"

	"github.com/beads-village/village/internal/reserve"
)

// toolReserve acquires advisory locks on workspace paths. Grants and
// conflicts are reported per path; one bad path never fails the batch.
func (s *Server) toolReserve(_ context.Context, args map[string]any) any {
	inputs := strsArg(args, "paths")
	if len(inputs) == 0 {
		return map[string]any{
			"error": "paths required",
			"hint":  "Provide list of file paths to reserve",
		}
	}

	ttl := intArg(args, "ttl", 600)
	reason := strArg(args, "reason", "")
	if reason == "" {
		reason = s.sess.Task()
		if reason == "" {
			reason = "editing"
		}
	}

	res := reserve.Reserve(s.sess.Workspace(), s.sess.Agent(), inputs, time.Duration(ttl)*time.Second, reason)
	s.sess.Track(res.Granted...)

	granted := res.Granted
	if granted == nil {
		granted = []string{}
	}
	conflicts := res.Conflicts
	if conflicts == nil {
		conflicts = []reserve.Conflict{}
	}
	var expires any
	if len(granted) > 0 {
		expires = res.Expires
	}
	out := map[string]any{
		"granted":   granted,
		"conflicts": conflicts,
		"expires":   expires,
	}
	if len(res.Errors) > 0 {
		out["errors"] = res.Errors
	}
	return out
}

// toolRelease drops this agent's locks. With no paths it releases
// everything the session holds.
func (s *Server) toolRelease(_ context.Context, args map[string]any) any {
	inputs := strsArg(args, "paths")
	if len(inputs) == 0 {
		inputs = s.sess.Held()
	}

	released := reserve.Release(s.sess.Workspace(), s.sess.Agent(), inputs)
	s.sess.Untrack(inputs...)
	s.sess.Untrack(released...)

	if released == nil {
		released = []string{}
	}
	return map[string]any{"released": released}
}

// toolReservations lists every live lock in the workspace, all agents.
func (s *Server) toolReservations(_ context.Context, _ map[string]any) any {
	records := reserve.List(s.sess.Workspace())
	items := make([]map[string]any, 0, len(records))
	for _, r := range records {
		items = append(items, map[string]any{
			"path":    r.Path,
			"agent":   r.Agent,
			"reason":  r.Reason,
			"expires": r.Expires,
		})
	}
	return items
}
