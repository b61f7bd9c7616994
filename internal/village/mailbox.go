package village

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/beads-village/village/internal/isotime"
	"github.com/beads-village/village/internal/mail"
	"github.com/beads-village/village/internal/paths"
)

// post writes one message to the workspace mailbox, or to the team hub when
// global is set. An empty thread falls back to the current task.
func (s *Server) post(global bool, subj, body, to, thread, importance string) error {
	if thread == "" {
		thread = s.sess.Task()
	}
	m := mail.Message{
		From:       s.sess.Agent(),
		To:         to,
		Subject:    subj,
		Body:       body,
		TS:         isotime.Now(),
		Thread:     thread,
		Importance: importance,
		Issue:      s.sess.Task(),
		WS:         s.sess.Workspace(),
	}
	dir := paths.MailDir(s.sess.Workspace())
	if global {
		dir = paths.TeamMailDir(s.cfg.Base, s.sess.Team())
	}
	return mail.Send(dir, m)
}

// toolMsg sends a coordination message, workspace-local by default.
func (s *Server) toolMsg(_ context.Context, args map[string]any) any {
	subj := strArg(args, "subj", "")
	if subj == "" {
		return map[string]any{
			"error": "subj required",
			"hint":  "Provide a subject line for the message.",
		}
	}

	body := strArg(args, "body", "")
	to := strArg(args, "to", "all")
	thread := strArg(args, "thread", "")
	importance := strArg(args, "importance", "normal")
	global := boolArg(args, "global", false)

	if err := s.post(global, subj, body, to, thread, importance); err != nil {
		return map[string]any{
			"error": err.Error(),
			"hint":  "Check that the workspace and village base directories are writable.",
		}
	}
	return map[string]any{"ok": 1, "global": global}
}

// toolBroadcast posts a team-wide announcement, high importance by default.
func (s *Server) toolBroadcast(_ context.Context, args map[string]any) any {
	subj := strArg(args, "subj", "")
	if subj == "" {
		return map[string]any{
			"error": "subj required",
			"hint":  "Provide a subject line for the broadcast.",
		}
	}

	body := strArg(args, "body", "")
	importance := strArg(args, "importance", "high")

	if err := s.post(true, subj, body, "all", "", importance); err != nil {
		return map[string]any{
			"error": err.Error(),
			"hint":  "Check that the village base directory is writable.",
		}
	}
	return map[string]any{"ok": 1, "broadcast": true}
}

type inboxEntry struct {
	msg    mail.Received
	global bool
}

// toolInbox merges the workspace mailbox with the team hub, newest last.
// Each mailbox keeps its own read cursor per agent.
func (s *Server) toolInbox(_ context.Context, args map[string]any) any {
	n := intArg(args, "n", 5)
	if n < 0 {
		n = 0
	}
	unread := boolArg(args, "unread", false)
	global := boolArg(args, "global", true)

	agent := s.sess.Agent()
	var merged []inboxEntry

	local, err := mail.Recv(paths.MailDir(s.sess.Workspace()), agent, unread)
	if err != nil {
		log.WithField("err", err).Debug("workspace mailbox read failed")
	}
	for _, m := range local {
		merged = append(merged, inboxEntry{msg: m})
	}

	if global {
		hub, err := mail.Recv(paths.TeamMailDir(s.cfg.Base, s.sess.Team()), agent, unread)
		if err != nil {
			log.WithField("err", err).Debug("team hub read failed")
		}
		for _, m := range hub {
			merged = append(merged, inboxEntry{msg: m, global: true})
		}
	}

	// ISO timestamps sort lexicographically.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].msg.TS < merged[j].msg.TS
	})
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}

	items := make([]map[string]any, 0, len(merged))
	for _, e := range merged {
		imp := e.msg.Importance
		if imp == "" {
			imp = "normal"
		}
		items = append(items, map[string]any{
			"f":      e.msg.From,
			"s":      e.msg.Subject,
			"b":      clip(e.msg.Body, 100),
			"ts":     e.msg.TS,
			"imp":    imp,
			"global": e.global,
			"ws":     e.msg.WS,
		})
	}
	return items
}
