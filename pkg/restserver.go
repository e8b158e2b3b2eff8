package pkg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/28Pollux28/zync/internal/access"
	"github.com/28Pollux28/zync/internal/auth"
	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/28Pollux28/zync/internal/orchestrator"
	"github.com/28Pollux28/zync/internal/poller"
	"github.com/28Pollux28/zync/internal/resolver"
	"github.com/28Pollux28/zync/pkg/api"
	"github.com/28Pollux28/zync/pkg/config"
	"github.com/28Pollux28/zync/pkg/metrics"
	"github.com/28Pollux28/zync/pkg/models"
	"github.com/28Pollux28/zync/pkg/notify"
	"github.com/28Pollux28/zync/pkg/scheduler"
	"github.com/28Pollux28/zync/pkg/utils"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"
)

// Server implements api.ServerInterface
type Server struct {
	db        *gorm.DB
	orch      orchestrator.Orchestrator
	confProv  config.Provider
	kmu       keymutex.KeyMutex
	clock     clock.WithTicker
	composer  access.Composer
	observers poller.Observers
	history   AccessHistory
	registry  *pollerRegistry
	wg        sync.WaitGroup
}

// ServerOpts holds the dependencies needed to construct a Server.
type ServerOpts struct {
	DB             *gorm.DB
	Orchestrator   orchestrator.Orchestrator
	ConfigProvider config.Provider
	KeyMutex       keymutex.KeyMutex
	Clock          clock.WithTicker
	// Observers receive every poller transition, after metrics and the
	// session recorder.
	Observers poller.Observers
	// History, when set, answers session lookups for views the gateway no
	// longer holds, e.g. after a restart or once an idle team was released.
	History AccessHistory
}

// AccessHistory returns the last access record published for a team and
// challenge, or notify.ErrNoRecord.
type AccessHistory interface {
	Latest(ctx context.Context, team challenge.TeamIdentifier, challengeID string) (*notify.Message, error)
}

var _ api.ServerInterface = (*Server)(nil)

// NewServerWithOpts creates a Server from explicitly provided dependencies.
// Mandatory dependencies are Orchestrator and ConfigProvider. Without a DB,
// sessions are not recorded.
func NewServerWithOpts(opts ServerOpts) *Server {
	kmu := opts.KeyMutex
	if kmu == nil {
		kmu = keymutex.NewHashed(20)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	observers := poller.Observers{metrics.PollerObserver{}}
	if opts.DB != nil {
		observers = append(observers, models.NewSessionRecorder(opts.DB, zap.S()))
	}
	observers = append(observers, opts.Observers...)

	s := &Server{
		db:        opts.DB,
		orch:      opts.Orchestrator,
		confProv:  opts.ConfigProvider,
		kmu:       kmu,
		clock:     clk,
		composer:  access.Composer{Now: clk.Now},
		observers: observers,
		history:   opts.History,
	}
	s.registry = newPollerRegistry(opts.Orchestrator, clk, s.pollerOptions)
	return s
}

// pollerOptions is read for every new team so config reloads apply to teams
// that show up afterwards.
func (s *Server) pollerOptions() []poller.Option {
	conf := s.confProv.GetConfig()
	return []poller.Option{
		poller.WithInterval(conf.Poller.Interval),
		poller.WithCeiling(conf.Poller.Ceiling),
		poller.WithObserver(s.observers),
	}
}

// Teams reports how many teams currently hold a poller.
func (s *Server) Teams() int {
	return s.registry.Teams()
}

// StartScheduler launches the session janitor and the idle team reaper in
// background goroutines. The caller is responsible for cancelling ctx when
// shutdown begins.
func (s *Server) StartScheduler(ctx context.Context, janitor *scheduler.SessionJanitor) {
	if janitor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			janitor.Start(ctx)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reapIdleTeams(ctx)
	}()
}

func (s *Server) reapIdleTeams(ctx context.Context) {
	conf := s.confProv.GetConfig()
	interval := conf.Gateway.JanitorInterval
	if interval <= 0 {
		interval = config.DefaultJanitorInterval
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		timeout := s.confProv.GetConfig().Gateway.IdleTeamTimeout
		if timeout <= 0 {
			continue
		}
		if n := s.registry.releaseIdle(ctx, timeout); n > 0 {
			zap.S().Infof("Released pollers of %d idle teams", n)
		}
	}
}

// Close cancels every polling session.
func (s *Server) Close(ctx context.Context) error {
	return s.registry.closeAll(ctx)
}

// Wait blocks until all background goroutines have completed.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) GetHealth(ctx echo.Context) error {
	return ctx.JSON(200, map[string]string{"status": "ok"})
}

func (s *Server) ListChallenges(ctx echo.Context) error {
	claims, err := auth.GetClaims(ctx)
	if err != nil {
		return ctx.JSON(401, api.Error{Message: utils.Ptr("Unauthorized")})
	}
	challs, err := s.orch.ListChallenges(ctx.Request().Context())
	if err != nil {
		zap.S().Errorf("Failed to list challenges: %v", err)
		return ctx.JSON(502, api.Error{Message: utils.HTTP500Debug(fmt.Sprintf("Failed to list challenges: %v", err))})
	}

	id := identity.New(claims.Team())
	p, hasPoller := s.registry.lookup(claims.Team())
	resp := make([]api.ChallengeResponse, 0, len(challs))
	for i := range challs {
		ch := &challs[i]
		var inst *challenge.Instance
		if ch.Category.Instanced() {
			inst = resolver.Resolve(ch.Instances, id)
		}
		ra := s.composer.Compose(ch, inst, id.Code)
		var view *poller.View
		if hasPoller {
			if v, ok := p.View(ch.ID); ok {
				view = &v
			}
		}
		resp = append(resp, challengeResponse(ch, inst, ra, view))
	}
	return ctx.JSON(200, resp)
}

// GetChallenge fetches, resolves and composes one challenge for the caller.
func (s *Server) GetChallenge(ctx echo.Context, id string) error {
	claims, err := auth.GetClaims(ctx)
	if err != nil {
		return ctx.JSON(401, api.Error{Message: utils.Ptr("Unauthorized")})
	}
	refreshRequests.Inc()

	p, err := s.registry.get(claims.Team())
	if errors.Is(err, identity.ErrIdentityUnknown) {
		// Nothing can resolve for an unknown team; show the challenge as not
		// started.
		ch, err := s.orch.GetChallenge(ctx.Request().Context(), id)
		if err != nil {
			return s.orchestratorError(ctx, id, err)
		}
		return ctx.JSON(200, challengeResponse(ch, nil, s.composer.Compose(ch, nil, ""), nil))
	}

	view, err := p.Refresh(ctx.Request().Context(), id)
	if err != nil {
		return s.orchestratorError(ctx, id, err)
	}
	return ctx.JSON(200, challengeResponse(view.Challenge, view.Instance, view.Access, &view))
}

func (s *Server) StartChallenge(ctx echo.Context, id string) error {
	claims, ok := s.mutationClaims(ctx)
	if !ok {
		return nil
	}
	ch, err := s.orch.GetChallenge(ctx.Request().Context(), id)
	if err != nil {
		return s.orchestratorError(ctx, id, err)
	}
	if !ch.Category.Instanced() {
		return ctx.JSON(400, api.Error{Message: utils.Ptr("Challenge has no instances")})
	}
	if !ch.Active {
		return ctx.JSON(400, api.Error{Message: utils.Ptr("Challenge is not active")})
	}
	zap.S().Infof("Start request received for challenge %s for team %s", id, claims.TeamCode)
	mutationRequestsPerTeam.WithLabelValues(claims.TeamCode, "start").Inc()

	return s.mutate(ctx, id, claims.Team(), func(p *poller.Poller) (poller.View, error) {
		return p.Start(ctx.Request().Context(), id)
	})
}

func (s *Server) ResetChallenge(ctx echo.Context, id string) error {
	claims, ok := s.mutationClaims(ctx)
	if !ok {
		return nil
	}
	var req api.ResetRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(400, api.Error{Message: utils.Ptr("Invalid request")})
	}
	mode := orchestrator.ResetNone
	if req.Mode != nil {
		mode = orchestrator.ResetMode(*req.Mode)
	}
	ch, err := s.orch.GetChallenge(ctx.Request().Context(), id)
	if err != nil {
		return s.orchestratorError(ctx, id, err)
	}
	if err := orchestrator.ValidateResetMode(ch.Category, mode); err != nil {
		return ctx.JSON(400, api.Error{Message: utils.Ptr(err.Error())})
	}
	zap.S().Infof("Reset request (%q) received for challenge %s for team %s", mode, id, claims.TeamCode)
	mutationRequestsPerTeam.WithLabelValues(claims.TeamCode, "reset").Inc()

	return s.mutate(ctx, id, claims.Team(), func(p *poller.Poller) (poller.View, error) {
		return p.Reset(ctx.Request().Context(), id, mode)
	})
}

// mutationClaims writes the error response itself when it returns false.
func (s *Server) mutationClaims(ctx echo.Context) (*auth.Claims, bool) {
	claims, err := auth.GetClaims(ctx)
	if err != nil {
		_ = ctx.JSON(401, api.Error{Message: utils.Ptr("Unauthorized")})
		return nil, false
	}
	if claims.TeamCode == "" {
		zap.S().Warnf("Rejected %s %s: token carries no team code", ctx.Request().Method, ctx.Request().URL.Path)
		unauthorizedRequestsPerTeam.WithLabelValues("").Inc()
		_ = ctx.JSON(401, api.Error{Message: utils.Ptr("Team identity unknown")})
		return nil, false
	}
	return claims, true
}

// mutate runs fn on the team's poller with the challenge/team key held, so
// concurrent clicks replace each other's session instead of stacking.
func (s *Server) mutate(ctx echo.Context, id string, team challenge.TeamCode, fn func(*poller.Poller) (poller.View, error)) error {
	p, err := s.registry.get(team)
	if err != nil {
		return ctx.JSON(401, api.Error{Message: utils.Ptr("Team identity unknown")})
	}
	key := id + "/" + string(team)
	s.kmu.LockKey(key)
	view, err := fn(p)
	_ = s.kmu.UnlockKey(key)
	if err != nil {
		if errors.Is(err, poller.ErrClosed) {
			return ctx.JSON(503, api.Error{Message: utils.Ptr("Server is shutting down")})
		}
		zap.S().Errorf("Failed to open polling session for %s: %v", id, err)
		return ctx.JSON(500, api.Error{Message: utils.HTTP500Debug(fmt.Sprintf("Failed to open polling session: %v", err))})
	}
	return ctx.JSON(202, sessionResponse(view))
}

func (s *Server) GetSession(ctx echo.Context, id string) error {
	claims, err := auth.GetClaims(ctx)
	if err != nil {
		return ctx.JSON(401, api.Error{Message: utils.Ptr("Unauthorized")})
	}
	if p, ok := s.registry.lookup(claims.Team()); ok {
		if view, ok := p.View(id); ok {
			return ctx.JSON(200, sessionResponse(view))
		}
	}
	if resp, ok := s.historicSession(ctx.Request().Context(), claims.Team(), id); ok {
		return ctx.JSON(200, resp)
	}
	return ctx.JSON(404, api.Error{Message: utils.Ptr("No polling session for this challenge")})
}

// historicSession rebuilds a resolved session from the last published access
// record.
func (s *Server) historicSession(ctx context.Context, team challenge.TeamCode, challengeID string) (api.SessionResponse, bool) {
	id := identity.New(team)
	if s.history == nil || !id.Known() {
		return api.SessionResponse{}, false
	}
	msg, err := s.history.Latest(ctx, id.Identifier, challengeID)
	if err != nil {
		if !errors.Is(err, notify.ErrNoRecord) {
			zap.S().Warnf("Failed to read access history for %s on %s: %v", id, challengeID, err)
		}
		return api.SessionResponse{}, false
	}
	return api.SessionResponse{
		Token:       msg.Token,
		ChallengeID: challengeID,
		Trigger:     msg.Trigger,
		State:       poller.StateResolved.String(),
		StartedAt:   msg.ResolvedAt,
		UpdatedAt:   msg.ResolvedAt,
		Access:      accessResponse(msg.Access),
	}, true
}

// CancelSession stops polling and dismisses the view.
func (s *Server) CancelSession(ctx echo.Context, id string) error {
	claims, err := auth.GetClaims(ctx)
	if err != nil {
		return ctx.JSON(401, api.Error{Message: utils.Ptr("Unauthorized")})
	}
	p, ok := s.registry.lookup(claims.Team())
	if !ok || !p.Stop(id) {
		return ctx.JSON(404, api.Error{Message: utils.Ptr("No polling session for this challenge")})
	}
	return ctx.NoContent(204)
}

func (s *Server) GetStats(ctx echo.Context) error {
	if _, err := auth.GetClaims(ctx); err != nil {
		return ctx.JSON(401, api.Error{Message: utils.Ptr("Unauthorized")})
	}
	stats, err := s.orch.Stats(ctx.Request().Context())
	if err != nil {
		zap.S().Errorf("Failed to get orchestrator stats: %v", err)
		return ctx.JSON(502, api.Error{Message: utils.HTTP500Debug(fmt.Sprintf("Failed to get stats: %v", err))})
	}
	return ctx.JSON(200, api.StatsResponse{
		RunningInstances: stats.RunningInstances,
		Teams:            stats.Teams,
		Challenges:       stats.Challenges,
		PollingTeams:     s.registry.polling(),
	})
}

func (s *Server) orchestratorError(ctx echo.Context, id string, err error) error {
	if errors.Is(err, orchestrator.ErrNotFound) {
		return ctx.JSON(404, api.Error{Message: utils.Ptr(fmt.Sprintf("Challenge %s not found", id))})
	}
	zap.S().Errorf("Orchestrator request for challenge %s failed: %v", id, err)
	return ctx.JSON(502, api.Error{Message: utils.HTTP500Debug(fmt.Sprintf("Orchestrator request failed: %v", err))})
}

func challengeResponse(ch *challenge.Challenge, inst *challenge.Instance, ra *challenge.ResolvedAccess, view *poller.View) api.ChallengeResponse {
	resp := api.ChallengeResponse{
		ID:           ch.ID,
		Name:         ch.Name,
		Category:     string(ch.Category),
		Active:       ch.Active,
		WorkloadType: ch.WorkloadType,
		Access:       accessResponse(ra),
	}
	for _, f := range ch.Files {
		resp.Files = append(resp.Files, api.FileResponse{Name: f.Name, URL: f.URL, Size: f.Size})
	}
	switch {
	case ra != nil:
		resp.Status = api.ChallengeStatusReady
	case inst != nil:
		resp.Status = api.ChallengeStatusPending
	case view != nil && !view.State.Terminal() && view.State != poller.StateIdle:
		resp.Status = api.ChallengeStatusPending
	default:
		resp.Status = api.ChallengeStatusNotStarted
	}
	if view != nil && view.State != poller.StateIdle {
		sr := sessionResponse(*view)
		resp.Session = &sr
	}
	return resp
}

func sessionResponse(v poller.View) api.SessionResponse {
	resp := api.SessionResponse{
		Token:       v.Token,
		ChallengeID: v.ChallengeID,
		Trigger:     string(v.Trigger),
		State:       v.State.String(),
		Iterations:  v.Iterations,
		StartedAt:   v.StartedAt,
		UpdatedAt:   v.UpdatedAt,
		Access:      accessResponse(v.Access),
	}
	if v.LastError != "" {
		resp.LastError = utils.Ptr(v.LastError)
	}
	return resp
}

func accessResponse(ra *challenge.ResolvedAccess) *api.AccessResponse {
	if ra == nil {
		return nil
	}
	return &api.AccessResponse{
		Category:    string(ra.Category),
		Status:      string(ra.Status),
		TeamCode:    string(ra.TeamCode),
		Address:     ra.Address,
		AccessURL:   ra.AccessURL,
		ConsoleURL:  ra.ConsoleURL,
		DownloadURL: ra.DownloadURL,
		Hint:        ra.Hint,
		Warning:     ra.Warning,
		ExpiresAt:   ra.ExpiresAt,
	}
}
