package village

import (
	"github.com/google/jsonschema-go/jsonschema"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// instructions is sent once in the initialize handshake. Agents are LLMs;
// the text is the operating manual they actually follow.
const instructions = `Beads Village MCP - Multi-agent issue tracking and coordination.

WORKFLOW (follow this order):
1. init()              - Initialize workspace (REQUIRED first step)
2. claim()             - Get next ready task (auto-assigns to you)
3. reserve(paths=[...]) - Lock files before editing (prevents conflicts)
4. [do your work]      - Implement the task
5. add(title="...")    - Create issues for any work >2 minutes found
6. done(id="...", msg="...") - Complete task, release locks, sync
7. RESTART SESSION     - Best practice: 1 task = 1 session

IMPORTANT RULES:
- ALWAYS run init() before using other tools
- ALWAYS reserve files before editing them
- ALWAYS create issues for discovered work (don't lose track)
- After done(), restart session for best performance
- Keep <200 open issues, run cleanup() every few days

MULTI-AGENT COORDINATION:
- reserve(paths=["src/api.py"]) before editing
- Check reservations() to see what others are editing
- Use msg(subj="...", body="...") to communicate
- Check inbox() periodically for messages

TEAMS AND ROLES:
- init(team="...", role="...") joins a team with a role
- claim() only picks tasks tagged for your role (untagged tasks match anyone)
- Leaders (init with leader=true) can assign(id, role) work
- broadcast(subj="...") reaches every workspace on the team
- discover() shows active agents and workspaces

PRIORITY LEVELS: 0=critical, 1=high, 2=normal, 3=low, 4=backlog
ISSUE TYPES: task, bug, feature, epic, chore

RESPONSE FORMAT (token-optimized):
- id=issue ID, t=title, p=priority, s=status
- f=from, b=body, ts=timestamp

MULTI-WORKSPACE:
- Each codebase = separate workspace
- init(ws="/path/to/repo") to join specific workspace
- Report workspace path so other agents can join same workspace`

func objSchema(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func strProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func intProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc}
}

func boolProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: desc}
}

func listProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Items:       &jsonschema.Schema{Type: "string"},
		Description: desc,
	}
}

// hints builds tool annotations. Destructive and open-world default to true
// in the protocol, so they travel as pointers.
func hints(readOnly, destructive, idempotent, openWorld bool) *gomcp.ToolAnnotations {
	return &gomcp.ToolAnnotations{
		ReadOnlyHint:    readOnly,
		DestructiveHint: &destructive,
		IdempotentHint:  idempotent,
		OpenWorldHint:   &openWorld,
	}
}

// catalog declares every tool in advertised order. Descriptions are written
// for LLM agents: what the tool does, when to call it, what comes back.
func (s *Server) catalog() []toolEntry {
	return []toolEntry{
		{
			def: &gomcp.Tool{
				Name:        "init",
				Description: "Initialize or join a Beads workspace for multi-agent task coordination. Creates .beads/, .mail/, and .reservations/ directories, registers this agent with its team, and announces the join. Call this first before using other tools. Returns agent ID, workspace path, team, and role.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"ws":     strProp("Absolute path to workspace directory. Each workspace has isolated task database, messages, and file locks. Defaults to current directory if not specified."),
					"team":   strProp("Team name for cross-workspace coordination. Agents on the same team share a mail hub and agent registry (default: 'default')."),
					"role":   strProp("Functional role for this agent, e.g. 'fe', 'be', 'qa'. claim() only picks tasks tagged for your role; untagged tasks match any role."),
					"leader": boolProp("Declare this agent the team leader. Leaders can assign issues to roles with the assign tool."),
				}),
				Annotations: hints(false, false, true, true),
			},
			fn: s.toolInit,
		},
		{
			def: &gomcp.Tool{
				Name:        "claim",
				Description: "Claim the next available ready task (highest priority first, no blockers). Automatically syncs with git, marks task as in_progress, and notifies other agents. Tasks tagged for a different role are skipped. Returns task details including id, title, priority. Use this to get work assigned.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(false, false, false, true),
			},
			fn: s.toolClaim,
		},
		{
			def: &gomcp.Tool{
				Name:        "done",
				Description: "Mark a task as completed and sync changes. Automatically releases all file reservations held by this agent. Notifies other agents of completion. After calling done, restart session for best performance (1 task = 1 session pattern).",
				InputSchema: objSchema([]string{"id"}, map[string]*jsonschema.Schema{
					"id":  strProp("Issue ID to close. If not specified, uses the currently claimed task from this session."),
					"msg": strProp("Completion message describing what was done. Example: 'Implemented login feature with OAuth2'"),
				}),
				Annotations: hints(false, false, true, true),
			},
			fn: s.toolDone,
		},
		{
			def: &gomcp.Tool{
				Name:        "add",
				Description: "Create a new issue/task. Use this for any work that takes >2 minutes to avoid losing track. IMPORTANT: Always include a description explaining WHY this issue exists and WHAT needs to be done. Issues without descriptions lack context for future work.",
				InputSchema: objSchema([]string{"title"}, map[string]*jsonschema.Schema{
					"title":  strProp("Clear, actionable title. Example: 'Fix authentication timeout on slow networks'"),
					"desc":   strProp("Issue description explaining: WHY it exists, WHAT needs to be done, HOW you discovered it. Example: 'Login fails with 500 error when password has special characters. Found during auth testing.'"),
					"typ":    strProp("Issue type: 'task' (default), 'bug', 'feature', 'epic', or 'chore'"),
					"pri":    intProp("Priority 0-4. 0=critical (drop everything), 1=high, 2=normal (default), 3=low, 4=backlog"),
					"tags":   listProp("Tags to attach, e.g. ['fe'] to target the frontend role. Tagged tasks are only claimed by agents with a matching role."),
					"deps":   listProp("Dependencies in format 'type:id' or just 'id'. Types: blocks, related, parent-child, discovered-from. Example: ['discovered-from:bd-123', 'blocks:bd-456']"),
					"parent": strProp("Parent issue ID to link as 'discovered-from' dependency. Defaults to current task if in a session. Ignored if deps is provided."),
				}),
				Annotations: hints(false, false, false, true),
			},
			fn: s.toolAdd,
		},
		{
			def: &gomcp.Tool{
				Name:        "assign",
				Description: "Assign an issue to a role so only agents with that role claim it. Leader only: requires init with leader=true. Adds the role tag to the issue and optionally broadcasts the assignment to the whole team.",
				InputSchema: objSchema([]string{"id", "role"}, map[string]*jsonschema.Schema{
					"id":     strProp("Issue ID to assign. Use 'ready' or 'ls' to find candidates."),
					"role":   strProp("Role that should pick this up, e.g. 'fe', 'be', 'qa'."),
					"notify": boolProp("Broadcast the assignment to the team (default: true)."),
				}),
				Annotations: hints(false, false, true, true),
			},
			fn: s.toolAssign,
		},
		{
			def: &gomcp.Tool{
				Name:        "ls",
				Description: "List issues with filtering and pagination. Returns id, title, priority, status for each issue. Use status='open' for active work, 'closed' for completed, 'all' for everything.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"status": strProp("Filter by status: 'open' (default), 'closed', 'in_progress', or 'all'"),
					"limit":  intProp("Maximum issues to return (default: 10, max: 50)"),
					"offset": intProp("Skip first N issues for pagination (default: 0)"),
				}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolLs,
		},
		{
			def: &gomcp.Tool{
				Name:        "ready",
				Description: "Get issues that are ready to work on (no blocking dependencies). These are the tasks that can be claimed immediately. Sorted by priority (0=highest). Use this to see available work.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"limit": intProp("Maximum issues to return (default: 5, max: 20)"),
				}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolReady,
		},
		{
			def: &gomcp.Tool{
				Name:        "show",
				Description: "Get full details of a specific issue including title, description, status, priority, dependencies, comments, and history. Use this to understand task requirements before starting work.",
				InputSchema: objSchema([]string{"id"}, map[string]*jsonschema.Schema{
					"id": strProp("Issue ID to retrieve (e.g., 'abc123')"),
				}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolShow,
		},
		{
			def: &gomcp.Tool{
				Name:        "cleanup",
				Description: "Remove old closed issues to keep the database lean. Run every few days to maintain <200 open issues. Syncs changes to git after cleanup. Returns count of deleted issues.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"days": intProp("Delete issues closed more than N days ago (default: 2)"),
				}),
				Annotations: hints(false, true, true, true),
			},
			fn: s.toolCleanup,
		},
		{
			def: &gomcp.Tool{
				Name:        "doctor",
				Description: "Check and repair Beads database health. Fixes orphaned dependencies, invalid states, and data inconsistencies. Run periodically or when experiencing issues. Returns health report with fixes applied.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(false, false, true, true),
			},
			fn: s.toolDoctor,
		},
		{
			def: &gomcp.Tool{
				Name:        "sync",
				Description: "Synchronize Beads database with git repository. Pulls latest changes from other agents and pushes local changes. Use after making changes or before claiming new work.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(false, false, true, true),
			},
			fn: s.toolSync,
		},
		{
			def: &gomcp.Tool{
				Name:        "reserve",
				Description: "Reserve files for exclusive editing to prevent conflicts with other agents. Check reservations before editing shared files. Reservations auto-expire after TTL. Returns granted paths and any conflicts with other agents.",
				InputSchema: objSchema([]string{"paths"}, map[string]*jsonschema.Schema{
					"paths":  listProp("File paths to reserve. Example: ['src/auth.py', 'src/utils.py']"),
					"ttl":    intProp("Time-to-live in seconds (default: 600 = 10 minutes). Reservation expires after this time."),
					"reason": strProp("Reason for reservation. Example: 'implementing OAuth login flow'"),
				}),
				Annotations: hints(false, false, false, false),
			},
			fn: s.toolReserve,
		},
		{
			def: &gomcp.Tool{
				Name:        "release",
				Description: "Release file reservations so other agents can edit them. Call when done editing files. If no paths specified, releases all reservations held by this agent. Reservations are also auto-released when calling done().",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"paths": listProp("Specific file paths to release. If empty, releases all reservations held by this agent."),
				}),
				Annotations: hints(false, false, true, false),
			},
			fn: s.toolRelease,
		},
		{
			def: &gomcp.Tool{
				Name:        "reservations",
				Description: "List all active file reservations across all agents. Shows who is editing which files and when reservations expire. Use this to check for potential conflicts before editing.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(true, false, true, false),
			},
			fn: s.toolReservations,
		},
		{
			def: &gomcp.Tool{
				Name:        "msg",
				Description: "Send a message to other agents. Use for coordination, asking questions, or sharing status updates. By default the message stays in this workspace; set global=true to post it on the team hub where agents in other workspaces see it.",
				InputSchema: objSchema([]string{"subj"}, map[string]*jsonschema.Schema{
					"subj":       strProp("Message subject. Example: 'Need help with auth module'"),
					"body":       strProp("Message body with details"),
					"to":         strProp("Recipient agent ID, or 'all' for broadcast (default: 'all')"),
					"thread":     strProp("Thread ID for grouping related messages. Defaults to current issue ID."),
					"importance": strProp("Message priority: 'low', 'normal' (default), or 'high'"),
					"global":     boolProp("Send to the team hub instead of the workspace mailbox, reaching agents in every workspace (default: false)."),
				}),
				Annotations: hints(false, false, false, false),
			},
			fn: s.toolMsg,
		},
		{
			def: &gomcp.Tool{
				Name:        "inbox",
				Description: "Retrieve messages from other agents. Returns sender, subject, body snippet, timestamp, and importance. Team hub messages are marked global. Check inbox periodically for coordination messages and updates.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"n":      intProp("Maximum messages to return (default: 5)"),
					"unread": boolProp("If true, only return unread messages (default: false)"),
					"global": boolProp("Include team hub messages alongside workspace messages (default: true)"),
				}),
				Annotations: hints(true, false, true, false),
			},
			fn: s.toolInbox,
		},
		{
			def: &gomcp.Tool{
				Name:        "broadcast",
				Description: "Send a high-visibility message to every agent on the team, across all workspaces. Use for announcements like 'API schema changed' or 'release cut'. Defaults to high importance.",
				InputSchema: objSchema([]string{"subj"}, map[string]*jsonschema.Schema{
					"subj":       strProp("Announcement subject. Example: 'API schema changed'"),
					"body":       strProp("Announcement body with details"),
					"importance": strProp("Message priority: 'low', 'normal', or 'high' (default: 'high')"),
				}),
				Annotations: hints(false, false, false, false),
			},
			fn: s.toolBroadcast,
		},
		{
			def: &gomcp.Tool{
				Name:        "discover",
				Description: "Discover active agents and workspaces on the team. Shows who is online (heartbeat within 5 minutes), what they are working on, and which workspaces have active agents. Use to find collaborators before sending messages.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(true, false, true, false),
			},
			fn: s.toolDiscover,
		},
		{
			def: &gomcp.Tool{
				Name:        "status",
				Description: "Get overview of workspace status including: open issue count (warn if >200), current task, reserved files count, active agents count, session duration, and completed tasks. Use to understand workspace state.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolStatus,
		},
		{
			def: &gomcp.Tool{
				Name:        "bv_insights",
				Description: "Run dependency graph analytics over the issue database. Returns cycles, bottlenecks, and orphaned issues. Requires the bv CLI; returns an install hint when it is missing.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolBVInsights,
		},
		{
			def: &gomcp.Tool{
				Name:        "bv_plan",
				Description: "Compute parallel execution tracks from the dependency graph. Shows which issues can proceed concurrently without blocking each other. Requires the bv CLI.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolBVPlan,
		},
		{
			def: &gomcp.Tool{
				Name:        "bv_priority",
				Description: "Rank issues by graph centrality to find high-leverage work. Returns the top N issues whose completion unblocks the most downstream work. Requires the bv CLI.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"limit": intProp("Maximum issues to return (default: 10)"),
				}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolBVPriority,
		},
		{
			def: &gomcp.Tool{
				Name:        "bv_diff",
				Description: "Show how the dependency graph changed since a point in time. Useful after sync to see what other agents added or closed. Requires the bv CLI.",
				InputSchema: objSchema(nil, map[string]*jsonschema.Schema{
					"since": strProp("Start of the comparison window, e.g. '2h' or an ISO timestamp."),
					"as_of": strProp("End of the comparison window (default: now)."),
				}),
				Annotations: hints(true, false, true, true),
			},
			fn: s.toolBVDiff,
		},
	}
}
