// ABOUTME: MCP resource implementations for workout sessions.
// ABOUTME: Provides lifts://recent and lifts://today resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/lifts/internal/models"
)

const recentLimit = 5

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "lifts://recent",
		Name:        "Recent Workouts",
		Description: "Last 5 workout sessions with exercises and sets",
		MIMEType:    "application/json",
	}, s.handleRecentResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "lifts://today",
		Name:        "Today's Workout",
		Description: "Sessions performed today",
		MIMEType:    "application/json",
	}, s.handleTodayResource)
}

// Resource handlers

func (s *Server) handleRecentResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	sessions, err := s.repo.ListSessions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) > recentLimit {
		sessions = sessions[:recentLimit]
	}

	return jsonResource("lifts://recent", map[string]any{
		"sessions": sessions,
	})
}

func (s *Server) handleTodayResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	today := s.now().Format(models.DateLayout)

	sessions, err := s.repo.ListSessions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var todays []*models.WorkoutSession
	sets := 0
	for _, sess := range sessions {
		if sess.PerformedOn == today {
			todays = append(todays, sess)
			sets += sess.SetCount()
		}
	}

	return jsonResource("lifts://today", map[string]any{
		"date":     today,
		"sessions": todays,
		"counts": map[string]int{
			"sessions": len(todays),
			"sets":     sets,
		},
	})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
