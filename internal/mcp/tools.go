// ABOUTME: MCP tool implementations for workout sessions.
// ABOUTME: List, inspect, log, delete and sync sessions.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/storage"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List recent workout sessions, newest first",
	}, s.handleListSessions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_session",
		Description: "Get a workout session with its exercises and sets",
	}, s.handleGetSession)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "log_exercise",
		Description: "Log an exercise with its sets into the session for a date",
	}, s.handleLogExercise)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_session",
		Description: "Delete a workout session by ID or ID prefix",
	}, s.handleDeleteSession)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "sync_now",
		Description: "Sync workout sessions with the cloud",
	}, s.handleSyncNow)
}

// Tool input/output types

type listSessionsInput struct {
	Limit          int  `json:"limit,omitempty" jsonschema:"max results, default 20"`
	IncludeDeleted bool `json:"include_deleted,omitempty" jsonschema:"include soft-deleted sessions"`
}

type sessionSummary struct {
	ID          string `json:"id"`
	PerformedOn string `json:"performed_on"`
	Title       string `json:"title,omitempty"`
	Exercises   int    `json:"exercises"`
	Sets        int    `json:"sets"`
	Deleted     bool   `json:"deleted,omitempty"`
}

type listSessionsOutput struct {
	Sessions []sessionSummary `json:"sessions"`
	Message  string           `json:"message,omitempty"`
}

type sessionRefInput struct {
	ID string `json:"id" jsonschema:"session ID or unique prefix"`
}

type logExerciseInput struct {
	Date    string   `json:"date,omitempty" jsonschema:"session date as YYYY-MM-DD, defaults to today"`
	Name    string   `json:"name" jsonschema:"exercise name, e.g. Bench Press"`
	Sets    int      `json:"sets,omitempty" jsonschema:"declared number of sets; missing reps and weights are padded"`
	Reps    []int    `json:"reps,omitempty" jsonschema:"reps per set"`
	Weights []string `json:"weights,omitempty" jsonschema:"weight per set, e.g. 80kg, 135lb or bodyweight"`
}

type logExerciseOutput struct {
	SessionID string `json:"session_id"`
	Sets      int    `json:"sets"`
	Message   string `json:"message"`
}

type deleteSessionInput struct {
	ID   string `json:"id" jsonschema:"session ID or unique prefix"`
	Hard bool   `json:"hard,omitempty" jsonschema:"remove permanently instead of soft-deleting"`
}

type simpleOutput struct {
	Message string `json:"message"`
}

type syncOutput struct {
	Pulled  int      `json:"pulled"`
	Pushed  int      `json:"pushed"`
	Failed  []string `json:"failed,omitempty"`
	Message string   `json:"message"`
}

// Tool handlers

func (s *Server) handleListSessions(ctx context.Context, req *mcp.CallToolRequest, input listSessionsInput) (*mcp.CallToolResult, listSessionsOutput, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}

	sessions, err := s.repo.ListSessions(ctx, input.IncludeDeleted)
	if err != nil {
		return nil, listSessionsOutput{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, listSessionsOutput{Sessions: []sessionSummary{}, Message: "No sessions found."}, nil
	}
	if len(sessions) > input.Limit {
		sessions = sessions[:input.Limit]
	}

	out := listSessionsOutput{Sessions: make([]sessionSummary, 0, len(sessions))}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, summarize(sess))
	}
	return nil, out, nil
}

func summarize(s *models.WorkoutSession) sessionSummary {
	sum := sessionSummary{
		ID:          s.ID,
		PerformedOn: s.PerformedOn,
		Exercises:   len(s.Exercises),
		Sets:        s.SetCount(),
		Deleted:     s.IsDeleted(),
	}
	if s.Title != nil {
		sum.Title = *s.Title
	}
	return sum
}

func (s *Server) handleGetSession(ctx context.Context, req *mcp.CallToolRequest, input sessionRefInput) (*mcp.CallToolResult, any, error) {
	sess, err := storage.ResolveSession(ctx, s.repo, input.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("session not found: %w", err)
	}
	return nil, sess, nil
}

func (s *Server) handleLogExercise(ctx context.Context, req *mcp.CallToolRequest, input logExerciseInput) (*mcp.CallToolResult, logExerciseOutput, error) {
	now := s.now().UTC()
	date := input.Date
	if date == "" {
		date = s.now().Format(models.DateLayout)
	}

	parsed := models.ParsedExercise{
		Name:    input.Name,
		Sets:    input.Sets,
		Reps:    input.Reps,
		Weights: input.Weights,
	}
	sess, err := storage.LogExercises(ctx, s.repo, date, []models.ParsedExercise{parsed}, now)
	if err != nil {
		return nil, logExerciseOutput{}, fmt.Errorf("failed to log exercise: %w", err)
	}

	added := len(models.ZipSets(input.Reps, input.Weights, input.Sets))
	return nil, logExerciseOutput{
		SessionID: sess.ID,
		Sets:      added,
		Message:   fmt.Sprintf("Logged %d set(s) of %s on %s (session %s)", added, input.Name, date, sess.ID[:8]),
	}, nil
}

func (s *Server) handleDeleteSession(ctx context.Context, req *mcp.CallToolRequest, input deleteSessionInput) (*mcp.CallToolResult, simpleOutput, error) {
	sess, err := storage.ResolveSession(ctx, s.repo, input.ID)
	if err != nil {
		return nil, simpleOutput{}, fmt.Errorf("session not found: %w", err)
	}

	if input.Hard {
		err = s.repo.DeleteSession(ctx, sess.ID)
	} else {
		err = s.repo.SoftDeleteSession(ctx, sess.ID)
	}
	if err != nil {
		return nil, simpleOutput{}, fmt.Errorf("failed to delete session: %w", err)
	}

	return nil, simpleOutput{
		Message: fmt.Sprintf("Deleted session: %s", sess.ID[:8]),
	}, nil
}

func (s *Server) handleSyncNow(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, syncOutput, error) {
	if s.syncer == nil {
		return nil, syncOutput{}, errors.New("cloud sync is not configured")
	}

	res, err := s.syncer.SyncNow(ctx)
	if err != nil {
		s.logger.Warn("sync via mcp failed", zap.Error(err))
		return nil, syncOutput{}, fmt.Errorf("sync failed: %w", err)
	}

	return nil, syncOutput{
		Pulled:  res.Pulled,
		Pushed:  res.Pushed,
		Failed:  res.Failed,
		Message: fmt.Sprintf("Pulled %d, pushed %d, failed %d", res.Pulled, res.Pushed, len(res.Failed)),
	}, nil
}
