package village

import "context"

// Graph analytics delegate to the bv CLI wholesale: results and failures
// come back as the runner shaped them, including the install hint when the
// binary is absent.

func (s *Server) toolBVInsights(ctx context.Context, _ map[string]any) any {
	return s.graph().Insights(ctx)
}

func (s *Server) toolBVPlan(ctx context.Context, _ map[string]any) any {
	return s.graph().Plan(ctx)
}

func (s *Server) toolBVPriority(ctx context.Context, args map[string]any) any {
	return s.graph().Priority(ctx, intArg(args, "limit", 10))
}

func (s *Server) toolBVDiff(ctx context.Context, args map[string]any) any {
	return s.graph().Diff(ctx, strArg(args, "since", ""), strArg(args, "as_of", ""))
}
