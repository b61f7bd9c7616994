package village

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/beads-village/village/internal/beads"
	"github.com/beads-village/village/internal/isotime"
	"github.com/beads-village/village/internal/mail"
	"github.com/beads-village/village/internal/paths"
	"github.com/beads-village/village/internal/registry"
	"github.com/beads-village/village/internal/reserve"
)

// toolInit joins a workspace: ensures the issue database and coordination
// directories exist, registers the agent with its team, and announces the
// join both locally and on the team hub.
func (s *Server) toolInit(ctx context.Context, args map[string]any) any {
	if ws := strArg(args, "ws", ""); ws != "" {
		if abs, err := filepath.Abs(ws); err == nil {
			ws = abs
		}
		s.sess.SetWorkspace(ws)
		s.rebind(ws)
	}
	if team := strArg(args, "team", ""); team != "" && team != s.sess.Team() {
		s.sess.SetTeam(team)
		s.retarget(team)
	}
	if role := strArg(args, "role", ""); role != "" {
		s.sess.SetRole(role)
	}
	if leader, ok := args["leader"].(bool); ok {
		s.sess.SetLeader(leader)
	}

	ws := s.sess.Workspace()
	if st, err := os.Stat(ws); err != nil || !st.IsDir() {
		return map[string]any{
			"error": "workspace not found: " + ws,
			"hint":  "Provide a valid directory path with ws parameter, or ensure current directory exists.",
		}
	}

	// A database that already exists is fine; anything else is fatal.
	if msg, failed := beads.Err(s.driver().Run(ctx, "init")); failed && !strings.Contains(strings.ToLower(msg), "already") {
		return map[string]any{
			"error": msg,
			"hint":  "Ensure 'bd' CLI is installed: go install github.com/beads-project/beads/cmd/bd@latest",
		}
	}

	for _, dir := range []string{paths.MailDir(ws), paths.ReservationsDir(ws)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return map[string]any{
				"error": err.Error(),
				"hint":  "Ensure the workspace directory is writable.",
			}
		}
	}

	reserve.Sweep(ws)

	agent, team, role := s.sess.Agent(), s.sess.Team(), s.sess.Role()
	var capabilities []string
	if role != "" {
		capabilities = []string{role}
	}
	if err := registry.Register(s.cfg.Base, team, agent, ws, capabilities); err != nil {
		log.WithField("err", err).Warn("agent registration failed")
	}

	join := mail.Message{
		From:       agent,
		To:         "all",
		Subject:    "join",
		Body:       fmt.Sprintf("Agent %s joined workspace", agent),
		TS:         isotime.Now(),
		Importance: "normal",
		WS:         ws,
	}
	if err := mail.Send(paths.MailDir(ws), join); err != nil {
		log.WithField("err", err).Warn("join announcement failed")
	}
	if err := mail.Send(paths.TeamMailDir(s.cfg.Base, team), join); err != nil {
		log.WithField("err", err).Warn("team join announcement failed")
	}

	return map[string]any{
		"ok":              1,
		"agent":           agent,
		"ws":              ws,
		"team":            team,
		"role":            role,
		"is_leader":       s.sess.Leader(),
		"available_teams": registry.Teams(s.cfg.Base),
		"hint":            "Workspace ready. Use 'claim' to get a task, or 'ready' to see available tasks.",
	}
}

// toolClaim takes the next ready task that matches the session role, marks
// it in_progress, and announces the claim.
func (s *Server) toolClaim(ctx context.Context, _ map[string]any) any {
	store := s.driver()
	store.Run(ctx, "sync")

	r := store.Run(ctx, "ready")
	if msg, failed := beads.Err(r); failed {
		return map[string]any{
			"error": msg,
			"hint":  "Run 'init' first to initialize workspace, or 'doctor' to fix issues.",
		}
	}

	list, _ := r.([]any)
	role := s.sess.Role()
	issue := pickForRole(list, role)
	if issue == nil {
		if role != "" && len(list) > 0 {
			return map[string]any{
				"ok":   0,
				"msg":  fmt.Sprintf("no tasks for role '%s'", role),
				"hint": "No ready tasks carry this role's tag. Use 'ls' to see all issues, or init with a different role.",
			}
		}
		return map[string]any{
			"ok":   0,
			"msg":  "no ready tasks",
			"hint": "No tasks available to claim. Use 'add' to create new tasks, or 'ls' to see all issues.",
		}
	}

	id := strField(issue, "id")
	store.Run(ctx, "update", id, "--status", "in_progress")
	s.sess.SetTask(id)
	if err := registry.UpdateTask(s.cfg.Base, s.sess.Team(), s.sess.Agent(), id); err != nil {
		log.WithField("err", err).Debug("registry task update failed")
	}

	title := strField(issue, "title")
	if err := s.post(false, "claimed:"+id, title, "all", "", "high"); err != nil {
		log.WithField("err", err).Warn("claim announcement failed")
	}

	return map[string]any{
		"id":   id,
		"t":    title,
		"p":    anyField(issue, "priority", 2),
		"s":    "in_progress",
		"hint": "Task claimed. Use 'reserve' before editing files, then 'done' when complete.",
	}
}

// pickForRole returns the first ready issue an agent with the given role may
// take: untagged issues match anyone, tagged issues need the tag.
func pickForRole(list []any, role string) map[string]any {
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if role == "" {
			return m
		}
		tags := strsArg(m, "tags")
		if len(tags) == 0 || slices.Contains(tags, role) {
			return m
		}
	}
	return nil
}

// toolDone closes a task, releases every reservation the session holds,
// syncs, and announces completion.
func (s *Server) toolDone(ctx context.Context, args map[string]any) any {
	id := strArg(args, "id", "")
	if id == "" {
		id = s.sess.Task()
	}
	if id == "" {
		return map[string]any{
			"error": "no issue id",
			"hint":  "Provide an issue ID, or use 'claim' first to set current task.",
		}
	}

	msg := strArg(args, "msg", "completed")
	r := s.driver().Run(ctx, "close", id, "--reason", msg)
	if emsg, failed := beads.Err(r); failed {
		return map[string]any{
			"error": emsg,
			"hint":  fmt.Sprintf("Failed to close issue '%s'. Use 'show' to verify issue exists.", id),
		}
	}

	if held := s.sess.ClearHeld(); len(held) > 0 {
		reserve.Release(s.sess.Workspace(), s.sess.Agent(), held)
	}

	s.driver().Run(ctx, "sync")

	if err := s.post(false, "done:"+id, msg, "all", "", "high"); err != nil {
		log.WithField("err", err).Warn("completion announcement failed")
	}

	done := s.sess.FinishTask()
	if err := registry.UpdateTask(s.cfg.Base, s.sess.Team(), s.sess.Agent(), ""); err != nil {
		log.WithField("err", err).Debug("registry task update failed")
	}

	return map[string]any{
		"ok":   1,
		"done": done,
		"hint": "Task completed. Restart session for best performance (1 task = 1 session pattern).",
	}
}

var issueTypes = []string{"task", "bug", "feature", "epic", "chore"}

// toolAdd creates an issue, linking it to a parent unless explicit
// dependencies are given.
func (s *Server) toolAdd(ctx context.Context, args map[string]any) any {
	title := strArg(args, "title", "")
	if title == "" {
		return map[string]any{
			"error": "title required",
			"hint":  "Provide a clear, actionable title. Example: 'Fix login timeout on slow networks'",
		}
	}

	typ := strArg(args, "typ", "task")
	if !slices.Contains(issueTypes, typ) {
		return map[string]any{
			"error": "invalid type: " + typ,
			"hint":  "Valid types: 'task' (default), 'bug', 'feature', 'epic', 'chore'",
		}
	}

	pri, ok := intValue(args, "pri", 2)
	if !ok || pri < 0 || pri > 4 {
		return map[string]any{
			"error": fmt.Sprintf("invalid priority: %v", args["pri"]),
			"hint":  "Priority must be 0-4. 0=critical, 1=high, 2=normal (default), 3=low, 4=backlog",
		}
	}

	desc := strArg(args, "desc", "")
	deps := strsArg(args, "deps")
	tags := strsArg(args, "tags")
	parent := strArg(args, "parent", s.sess.Task())

	cmdArgs := []string{"create", title, "-t", typ, "-p", strconv.Itoa(pri)}
	if desc != "" {
		cmdArgs = append(cmdArgs, "--description", desc)
	}
	for _, dep := range deps {
		cmdArgs = append(cmdArgs, "--deps", dep)
	}
	if len(tags) > 0 {
		cmdArgs = append(cmdArgs, "--tags", strings.Join(tags, ","))
	}

	r := s.driver().Run(ctx, cmdArgs...)
	if msg, failed := beads.Err(r); failed {
		return map[string]any{
			"error": msg,
			"hint":  "Failed to create issue. Run 'init' to initialize workspace first.",
		}
	}

	record, _ := r.(map[string]any)
	newID := strField(record, "id")
	if newID == "" {
		return map[string]any{
			"error":   "failed to create issue",
			"details": r,
			"hint":    "Check if workspace is initialized with 'status'",
		}
	}

	if parent != "" && len(deps) == 0 {
		s.driver().Run(ctx, "dep", "add", newID, parent, "--type", "discovered-from")
	}

	if deps == nil {
		deps = []string{}
	}
	var parentOut any
	if parent != "" && len(deps) == 0 {
		parentOut = parent
	}
	out := map[string]any{
		"id":     newID,
		"t":      title,
		"p":      pri,
		"typ":    typ,
		"desc":   summary(desc, 100),
		"parent": parentOut,
		"deps":   deps,
		"hint":   fmt.Sprintf("Issue created. Use 'show %s' to see details.", newID),
	}
	if len(tags) > 0 {
		out["tags"] = tags
	}
	return out
}

// toolAssign routes an issue to a role. Leader-gated: lead agents plan,
// everyone else claims.
func (s *Server) toolAssign(ctx context.Context, args map[string]any) any {
	id := strArg(args, "id", "")
	if id == "" {
		return map[string]any{
			"error": "id required",
			"hint":  "Provide the issue ID to assign. Use 'ready' to find unassigned work.",
		}
	}
	role := strArg(args, "role", "")
	if role == "" {
		return map[string]any{
			"error": "role required",
			"hint":  "Provide the role that should take this issue. Example: 'qa'",
		}
	}
	if !s.sess.Leader() {
		return map[string]any{
			"error": "permission denied",
			"hint":  "Only the team leader can assign work. Re-run 'init' with leader=true to lead this team.",
		}
	}

	r := s.driver().Run(ctx, "update", id, "--tags", role)
	if msg, failed := beads.Err(r); failed {
		return map[string]any{
			"error": msg,
			"hint":  fmt.Sprintf("Failed to assign issue '%s'. Use 'show' to verify it exists.", id),
		}
	}

	if boolArg(args, "notify", true) {
		body := fmt.Sprintf("assigned to role '%s'", role)
		if err := s.post(true, "assigned:"+id, body, "all", "", "high"); err != nil {
			log.WithField("err", err).Warn("assignment announcement failed")
		}
	}

	return map[string]any{"ok": 1, "id": id, "assigned_to": role}
}
