package pkg

import (
	"fmt"
	"time"

	"github.com/28Pollux28/zync/internal/auth"
	"github.com/28Pollux28/zync/pkg/api"
	"github.com/28Pollux28/zync/pkg/models"
	"github.com/28Pollux28/zync/pkg/utils"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	defaultSessionsLimit = 50
	maxSessionsLimit     = 500
)

// ListAdminSessions returns recorded polling sessions, newest first.
func (s *Server) ListAdminSessions(ctx echo.Context, params api.ListAdminSessionsParams) error {
	claims, err := auth.GetClaims(ctx)
	if err != nil {
		zap.S().Debugf("Failed to get claims: %v", err)
		return ctx.JSON(401, api.Error{Message: utils.Ptr("Unauthorized")})
	}
	if !claims.IsAdmin() {
		zap.S().Debugf("Forbidden - Admin access required")
		unauthorizedRequestsPerTeam.WithLabelValues(claims.TeamCode).Inc()
		return ctx.JSON(403, api.Error{Message: utils.Ptr("Forbidden - Admin access required")})
	}
	if s.db == nil {
		return ctx.JSON(503, api.Error{Message: utils.Ptr("Session history is disabled")})
	}

	limit := defaultSessionsLimit
	if params.Limit != nil {
		if *params.Limit <= 0 || *params.Limit > maxSessionsLimit {
			return ctx.JSON(400, api.Error{Message: utils.Ptr(fmt.Sprintf("limit must be between 1 and %d", maxSessionsLimit))})
		}
		limit = *params.Limit
	}
	team := ""
	if params.Team != nil {
		team = *params.Team
	}

	sessions, err := models.ListPollSessions(s.db, team, limit)
	if err != nil {
		zap.S().Errorf("Failed to list poll sessions: %v", err)
		return ctx.JSON(500, api.Error{Message: utils.HTTP500Debug(fmt.Sprintf("Failed to list poll sessions: %v", err))})
	}
	resp := make([]api.AdminSession, 0, len(sessions))
	for i := range sessions {
		ps := &sessions[i]
		as := api.AdminSession{
			Token:          ps.Token,
			ChallengeID:    ps.ChallengeID,
			TeamCode:       ps.TeamCode,
			TeamIdentifier: ps.TeamIdentifier,
			Trigger:        ps.Trigger,
			State:          ps.State,
			Iterations:     ps.Iterations,
			Address:        ps.Address,
			AccessURL:      ps.AccessURL,
			ConsoleURL:     ps.ConsoleURL,
			StartedAt:      ps.StartedAt,
			FinishedAt:     ps.FinishedAt,
		}
		if ps.Finished() {
			as.Duration = utils.Ptr(formatSessionDuration(ps.Duration()))
		}
		resp = append(resp, as)
	}
	return ctx.JSON(200, resp)
}

func formatSessionDuration(d time.Duration) string {
	return utils.Until(d.Round(time.Second), time.Second)
}
