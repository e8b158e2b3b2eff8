// Package api holds the gateway's wire types and route table.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// Defines values for ChallengeResponseStatus.
const (
	ChallengeStatusNotStarted ChallengeResponseStatus = "not_started"
	ChallengeStatusPending    ChallengeResponseStatus = "pending"
	ChallengeStatusReady      ChallengeResponseStatus = "ready"
)

// Defines values for ResetRequestMode.
const (
	ResetRequestModeRestart  ResetRequestMode = "restart"
	ResetRequestModeRedeploy ResetRequestMode = "redeploy"
)

// Error defines model for Error.
type Error struct {
	Message *string `json:"message,omitempty"`
}

// AccessResponse is what a team needs to reach its instance.
type AccessResponse struct {
	Category    string     `json:"category"`
	Status      string     `json:"status,omitempty"`
	TeamCode    string     `json:"team_code"`
	Address     string     `json:"address,omitempty"`
	AccessURL   string     `json:"access_url,omitempty"`
	ConsoleURL  string     `json:"console_url,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	Hint        string     `json:"hint,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ChallengeResponseStatus defines model for ChallengeResponse.Status.
type ChallengeResponseStatus string

// FileResponse defines model for FileResponse.
type FileResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// ChallengeResponse is one challenge as seen by the calling team.
type ChallengeResponse struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Category     string                  `json:"category"`
	Active       bool                    `json:"active"`
	WorkloadType string                  `json:"workload_type,omitempty"`
	Files        []FileResponse          `json:"files,omitempty"`
	Status       ChallengeResponseStatus `json:"status"`
	Access       *AccessResponse         `json:"access,omitempty"`
	Session      *SessionResponse        `json:"session,omitempty"`
}

// SessionResponse is the state of a polling session.
type SessionResponse struct {
	Token       string          `json:"token"`
	ChallengeID string          `json:"challenge_id"`
	Trigger     string          `json:"trigger"`
	State       string          `json:"state"`
	Iterations  int             `json:"iterations"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LastError   *string         `json:"last_error,omitempty"`
	Access      *AccessResponse `json:"access,omitempty"`
}

// ResetRequestMode defines model for ResetRequest.Mode.
type ResetRequestMode string

// ResetRequest defines model for ResetRequest.
type ResetRequest struct {
	Mode *ResetRequestMode `json:"mode,omitempty"`
}

// StatsResponse defines model for StatsResponse.
type StatsResponse struct {
	RunningInstances int `json:"running_instances"`
	Teams            int `json:"teams"`
	Challenges       int `json:"challenges"`
	PollingTeams     int `json:"polling_teams"`
}

// AdminSession is one recorded polling session.
type AdminSession struct {
	Token          string     `json:"token"`
	ChallengeID    string     `json:"challenge_id"`
	TeamCode       string     `json:"team_code"`
	TeamIdentifier string     `json:"team_identifier"`
	Trigger        string     `json:"trigger"`
	State          string     `json:"state"`
	Iterations     int        `json:"iterations"`
	Address        string     `json:"address,omitempty"`
	AccessURL      string     `json:"access_url,omitempty"`
	ConsoleURL     string     `json:"console_url,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Duration       *string    `json:"duration,omitempty"`
}

// ListAdminSessionsParams defines parameters for ListAdminSessions.
type ListAdminSessionsParams struct {
	Team  *string `query:"team"`
	Limit *int    `query:"limit"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health)
	GetHealth(ctx echo.Context) error
	// (GET /challenges)
	ListChallenges(ctx echo.Context) error
	// (GET /challenges/{id})
	GetChallenge(ctx echo.Context, id string) error
	// (POST /challenges/{id}/start)
	StartChallenge(ctx echo.Context, id string) error
	// (POST /challenges/{id}/reset)
	ResetChallenge(ctx echo.Context, id string) error
	// (GET /challenges/{id}/session)
	GetSession(ctx echo.Context, id string) error
	// (DELETE /challenges/{id}/session)
	CancelSession(ctx echo.Context, id string) error
	// (GET /stats)
	GetStats(ctx echo.Context) error
	// (GET /admin/sessions)
	ListAdminSessions(ctx echo.Context, params ListAdminSessionsParams) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) GetHealth(ctx echo.Context) error {
	return w.Handler.GetHealth(ctx)
}

func (w *ServerInterfaceWrapper) ListChallenges(ctx echo.Context) error {
	return w.Handler.ListChallenges(ctx)
}

func (w *ServerInterfaceWrapper) GetChallenge(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetChallenge(ctx, id)
}

func (w *ServerInterfaceWrapper) StartChallenge(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.StartChallenge(ctx, id)
}

func (w *ServerInterfaceWrapper) ResetChallenge(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ResetChallenge(ctx, id)
}

func (w *ServerInterfaceWrapper) GetSession(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetSession(ctx, id)
}

func (w *ServerInterfaceWrapper) CancelSession(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CancelSession(ctx, id)
}

func (w *ServerInterfaceWrapper) GetStats(ctx echo.Context) error {
	return w.Handler.GetStats(ctx)
}

func (w *ServerInterfaceWrapper) ListAdminSessions(ctx echo.Context) error {
	var params ListAdminSessionsParams
	if team := ctx.QueryParam("team"); team != "" {
		params.Team = &team
	}
	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
		}
		params.Limit = &limit
	}
	return w.Handler.ListAdminSessions(ctx, params)
}

func pathID(ctx echo.Context) (string, error) {
	id := ctx.Param("id")
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter id")
	}
	return id, nil
}

// EchoRouter is satisfied by *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.GET(baseURL+"/health", wrapper.GetHealth)
	router.GET(baseURL+"/challenges", wrapper.ListChallenges)
	router.GET(baseURL+"/challenges/:id", wrapper.GetChallenge)
	router.POST(baseURL+"/challenges/:id/start", wrapper.StartChallenge)
	router.POST(baseURL+"/challenges/:id/reset", wrapper.ResetChallenge)
	router.GET(baseURL+"/challenges/:id/session", wrapper.GetSession)
	router.DELETE(baseURL+"/challenges/:id/session", wrapper.CancelSession)
	router.GET(baseURL+"/stats", wrapper.GetStats)
	router.GET(baseURL+"/admin/sessions", wrapper.ListAdminSessions)
}
