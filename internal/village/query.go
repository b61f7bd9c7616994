package village

import (
	"context"
	"fmt"
	"strconv"

	"github.com/beads-village/village/internal/beads"
)

// toolLs lists issues with client-side pagination. The store returns the
// full filtered set; paging here keeps the CLI surface minimal.
func (s *Server) toolLs(ctx context.Context, args map[string]any) any {
	status := strArg(args, "status", "open")
	limit := intArg(args, "limit", 10)
	if limit > 50 {
		limit = 50
	}
	if limit < 0 {
		limit = 0
	}
	offset := intArg(args, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	r := s.driver().Run(ctx, "list", "--status", status)
	if msg, failed := beads.Err(r); failed {
		return map[string]any{
			"error": msg,
			"hint":  "Try running 'doctor' to fix database issues, or 'init' to initialize workspace",
		}
	}

	list, ok := r.([]any)
	if !ok {
		return map[string]any{
			"items":    []any{},
			"total":    0,
			"count":    0,
			"offset":   offset,
			"has_more": false,
		}
	}

	total := len(list)
	start := min(offset, total)
	end := min(offset+limit, total)

	items := make([]map[string]any, 0, end-start)
	for _, v := range list[start:end] {
		m, _ := v.(map[string]any)
		items = append(items, map[string]any{
			"id": strField(m, "id"),
			"t":  strField(m, "title"),
			"p":  anyField(m, "priority", 2),
			"s":  strField(m, "status"),
		})
	}

	hasMore := offset+limit < total
	var nextOffset any
	if hasMore {
		nextOffset = offset + limit
	}
	return map[string]any{
		"items":       items,
		"total":       total,
		"count":       len(items),
		"offset":      offset,
		"has_more":    hasMore,
		"next_offset": nextOffset,
	}
}

// toolReady lists claimable issues in priority order.
func (s *Server) toolReady(ctx context.Context, args map[string]any) any {
	limit := intArg(args, "limit", 5)
	if limit > 20 {
		limit = 20
	}
	if limit < 0 {
		limit = 0
	}

	r := s.driver().Run(ctx, "ready")
	if msg, failed := beads.Err(r); failed {
		return map[string]any{
			"error": msg,
			"hint":  "Try running 'sync' to fetch latest state, or 'doctor' to fix issues",
		}
	}

	list, ok := r.([]any)
	if !ok {
		return map[string]any{
			"items":    []any{},
			"total":    0,
			"count":    0,
			"has_more": false,
		}
	}

	total := len(list)
	items := make([]map[string]any, 0, min(limit, total))
	for _, v := range list[:min(limit, total)] {
		m, _ := v.(map[string]any)
		items = append(items, map[string]any{
			"id": strField(m, "id"),
			"t":  strField(m, "title"),
			"p":  anyField(m, "priority", 2),
		})
	}

	return map[string]any{
		"items":    items,
		"total":    total,
		"count":    len(items),
		"has_more": limit < total,
	}
}

// toolShow returns the raw issue record.
func (s *Server) toolShow(ctx context.Context, args map[string]any) any {
	id := strArg(args, "id", "")
	if id == "" {
		return map[string]any{
			"error": "id required",
			"hint":  "Provide an issue ID. Use 'ls' or 'ready' to find available issues.",
		}
	}

	r := s.driver().Run(ctx, "show", id)
	if msg, failed := beads.Err(r); failed {
		return map[string]any{
			"error": msg,
			"hint":  fmt.Sprintf("Issue '%s' not found. Use 'ls' to list available issues.", id),
		}
	}
	return r
}

// toolCleanup trims old closed issues and syncs the result.
func (s *Server) toolCleanup(ctx context.Context, args map[string]any) any {
	days := intArg(args, "days", 2)

	r := s.driver().Run(ctx, "cleanup", "--days", strconv.Itoa(days))
	s.driver().Run(ctx, "sync")

	cleaned := any(0)
	if m, ok := r.(map[string]any); ok {
		if v, ok := m["deleted"]; ok {
			cleaned = v
		} else if v, ok := m["cleaned"]; ok {
			cleaned = v
		}
	}
	return map[string]any{"ok": 1, "days": days, "cleaned": cleaned}
}

// toolDoctor runs the store's self-repair and returns its report verbatim.
func (s *Server) toolDoctor(ctx context.Context, _ map[string]any) any {
	return s.driver().Run(ctx, "doctor", "--fix")
}

// toolSync pushes and pulls issue state through git.
func (s *Server) toolSync(ctx context.Context, _ map[string]any) any {
	return map[string]any{"ok": 1, "result": s.driver().Run(ctx, "sync")}
}
