package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleShutdown is how long the daemon waits without any session
// activity before it considers itself eligible for shutdown. Mirrors the
// per-project idle-compaction timer but scoped to the whole process.
const DefaultIdleShutdown = 60 * time.Minute

// MemoryHandler backs the remember/recall methods.
type MemoryHandler interface {
	Remember(ctx context.Context, params RememberParams) (*RememberResult, error)
	Recall(ctx context.Context, params RecallParams) ([]RecallResult, error)
}

// WatchHandler backs the watch.* methods.
type WatchHandler interface {
	StartWatch(ctx context.Context, rootPath string) error
	StopWatch(ctx context.Context, rootPath string) error
	WatchStatus(ctx context.Context, rootPath string) (WatchStatusResult, error)
}

// AnalyzeHandler backs the analyze.* methods.
type AnalyzeHandler interface {
	AnalyzeIndex(ctx context.Context, rootPath string) error
	AnalyzeTrigger(ctx context.Context, rootPath string) error
}

// Router generalizes Server's single-switch handleRequest into a dispatcher
// covering the full daemon method surface: health/status/services, session
// lifecycle, search, memory recall/remember, and watch/analyze control. The
// JSON-RPC wire types (Request/Response/Error) and the Unix-socket transport
// in Server are unchanged; Router only widens what handleRequest can route to.
type Router struct {
	search   RequestHandler // existing ping/status/search handler
	memory   MemoryHandler  // optional
	watch    WatchHandler   // optional
	analyze  AnalyzeHandler // optional
	services []ServiceInfo

	sessions *SessionRegistry
	started  time.Time

	mu             sync.Mutex
	idleTimeout    time.Duration
	idleTimer      *time.Timer
	onIdleShutdown func()
}

// NewRouter constructs a Router. search, memory, watch, and analyze may be
// nil; methods backed by a nil handler return ErrCodeMethodNotFound.
func NewRouter(search RequestHandler, memory MemoryHandler, watch WatchHandler, analyze AnalyzeHandler) *Router {
	return &Router{
		search:      search,
		memory:      memory,
		watch:       watch,
		analyze:     analyze,
		sessions:    NewSessionRegistry(),
		started:     time.Now().UTC(),
		idleTimeout: DefaultIdleShutdown,
	}
}

// SetServices records the backing services reported by the services method.
func (rt *Router) SetServices(services []ServiceInfo) {
	rt.services = services
}

// SetMemoryHandler wires the remember/recall methods after construction.
func (rt *Router) SetMemoryHandler(h MemoryHandler) { rt.memory = h }

// SetWatchHandler wires the watch.* methods after construction.
func (rt *Router) SetWatchHandler(h WatchHandler) { rt.watch = h }

// SetAnalyzeHandler wires the analyze.* methods after construction.
func (rt *Router) SetAnalyzeHandler(h AnalyzeHandler) { rt.analyze = h }

// OnIdleShutdown registers a callback fired after idleTimeout elapses with
// no session activity at all. Mirrors the teacher's per-project idle-timer
// pattern, generalized to the whole daemon process.
func (rt *Router) OnIdleShutdown(timeout time.Duration, fn func()) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if timeout > 0 {
		rt.idleTimeout = timeout
	}
	rt.onIdleShutdown = fn
	rt.resetIdleTimerLocked()
}

func (rt *Router) resetIdleTimerLocked() {
	if rt.idleTimer != nil {
		rt.idleTimer.Stop()
	}
	if rt.onIdleShutdown == nil {
		return
	}
	rt.idleTimer = time.AfterFunc(rt.idleTimeout, func() {
		if rt.sessions.Count() > 0 {
			// activity arrived on another session since the timer fired
			rt.touchIdleTimer()
			return
		}
		slog.Info("daemon idle, shutting down", slog.Duration("idle_timeout", rt.idleTimeout))
		rt.onIdleShutdown()
	})
}

func (rt *Router) touchIdleTimer() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.resetIdleTimerLocked()
}

// Route dispatches one decoded Request to the matching handler and returns
// the Response to encode back to the client. It supersedes Server's
// single-switch handleRequest without changing its signature's shape.
func (rt *Router) Route(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodHealth:
		return NewSuccessResponse(req.ID, HealthResult{OK: true})

	case MethodStatus:
		if rt.search == nil {
			return NewErrorResponse(req.ID, ErrCodeInternalError, "no status handler configured")
		}
		return NewSuccessResponse(req.ID, rt.search.GetStatus())

	case MethodServices:
		return NewSuccessResponse(req.ID, ServicesResult{Services: rt.services})

	case MethodSearch:
		return rt.routeSearch(ctx, req)

	case MethodSearchCode:
		return rt.routeSearch(ctx, req) // search_code is search with Filter="code"

	case MethodSessionsRegister:
		return rt.routeSessionsRegister(req)

	case MethodSessionsUnregister:
		return rt.routeSessionsUnregister(req)

	case MethodSessionsActivity:
		return rt.routeSessionsActivity(req)

	case MethodRemember:
		return rt.routeRemember(ctx, req)

	case MethodRecall:
		return rt.routeRecall(ctx, req)

	case MethodWatchStart:
		return rt.routeWatch(ctx, req, rt.watchStart)
	case MethodWatchStop:
		return rt.routeWatch(ctx, req, rt.watchStop)
	case MethodWatchStatus:
		return rt.routeWatchStatus(ctx, req)

	case MethodAnalyzeIndex:
		return rt.routeAnalyze(ctx, req, rt.analyzeIndex)
	case MethodAnalyzeTrigger:
		return rt.routeAnalyze(ctx, req, rt.analyzeTrigger)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func decodeParams(req Request, out any) error {
	data, err := json.Marshal(req.Params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (rt *Router) routeSearch(ctx context.Context, req Request) Response {
	if rt.search == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no search handler configured")
	}
	var params SearchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if req.Method == MethodSearchCode && params.Filter == "" {
		params.Filter = "code"
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	results, err := rt.search.HandleSearch(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeSearchFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, results)
}

func (rt *Router) routeSessionsRegister(req Request) Response {
	var params SessionParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	s := rt.sessions.Register(params.SessionID, params.ProjectPath)
	rt.touchIdleTimer()
	return NewSuccessResponse(req.ID, sessionToResult(s))
}

func (rt *Router) routeSessionsUnregister(req Request) Response {
	var params SessionParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	ok := rt.sessions.Unregister(params.SessionID)
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "unknown session_id")
	}
	return NewSuccessResponse(req.ID, map[string]bool{"unregistered": true})
}

func (rt *Router) routeSessionsActivity(req Request) Response {
	var params SessionParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	s := rt.sessions.Touch(params.SessionID, params.ProjectPath)
	rt.touchIdleTimer()
	return NewSuccessResponse(req.ID, sessionToResult(s))
}

func sessionToResult(s *Session) SessionResult {
	return SessionResult{
		SessionID:    s.ID,
		ProjectPath:  s.ProjectPath,
		RegisteredAt: s.RegisteredAt.Format(time.RFC3339),
		LastActivity: s.LastActivity.Format(time.RFC3339),
	}
}

func (rt *Router) routeRemember(ctx context.Context, req Request) Response {
	if rt.memory == nil {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, "memory not configured")
	}
	var params RememberParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := rt.memory.Remember(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (rt *Router) routeRecall(ctx context.Context, req Request) Response {
	if rt.memory == nil {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, "memory not configured")
	}
	var params RecallParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	results, err := rt.memory.Recall(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeSearchFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, results)
}

func (rt *Router) watchStart(ctx context.Context, rootPath string) error {
	return rt.watch.StartWatch(ctx, rootPath)
}
func (rt *Router) watchStop(ctx context.Context, rootPath string) error {
	return rt.watch.StopWatch(ctx, rootPath)
}

func (rt *Router) routeWatch(ctx context.Context, req Request, fn func(context.Context, string) error) Response {
	if rt.watch == nil {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, "watch not configured")
	}
	var params WatchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := fn(ctx, params.RootPath); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, map[string]bool{"ok": true})
}

func (rt *Router) routeWatchStatus(ctx context.Context, req Request) Response {
	if rt.watch == nil {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, "watch not configured")
	}
	var params WatchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := rt.watch.WatchStatus(ctx, params.RootPath)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (rt *Router) analyzeIndex(ctx context.Context, rootPath string) error {
	return rt.analyze.AnalyzeIndex(ctx, rootPath)
}
func (rt *Router) analyzeTrigger(ctx context.Context, rootPath string) error {
	return rt.analyze.AnalyzeTrigger(ctx, rootPath)
}

func (rt *Router) routeAnalyze(ctx context.Context, req Request, fn func(context.Context, string) error) Response {
	if rt.analyze == nil {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, "analyze not configured")
	}
	var params WatchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := fn(ctx, params.RootPath); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, AnalyzeResult{RootPath: params.RootPath, Accepted: true})
}
