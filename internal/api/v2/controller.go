// Package api exposes the operational HTTP surface of a running engine:
// health, Prometheus metrics, rule cache status and diagnostics.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/zonewatch/internal/alerting"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/position"
)

// Engine is the part of alerting.Engine the API reads from.
type Engine interface {
	Status() alerting.Status
	Snapshot() *alerting.Snapshot
	Reload(ctx context.Context) error
}

var _ Engine = (*alerting.Engine)(nil)

// Controller serves the /api/v2 routes.
type Controller struct {
	Group  *echo.Group
	engine Engine
	logger logger.Logger
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewController registers the API routes on g.
func NewController(g *echo.Group, engine Engine, log logger.Logger) *Controller {
	if log == nil {
		log = logger.Silent()
	}
	c := &Controller{
		Group:  g,
		engine: engine,
		logger: log.Module("api"),
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/status", c.GetStatus)
	c.Group.POST("/evaluate", c.EvaluatePosition)

	rules := c.Group.Group("/rules")
	rules.GET("/skipped", c.ListSkippedRules)
	rules.GET("/unresolved", c.ListUnresolvedOrigins)
	rules.POST("/reload", c.ReloadRules)
}

// HandleError writes an error response and returns nil so echo does not
// log the error a second time.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Message = err.Error()
	}
	return ctx.JSON(code, resp)
}

// HealthCheck reports 200 once the engine is running with a loaded rule
// snapshot and 503 otherwise. The body is the engine status either way.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	st := c.engine.Status()
	code := http.StatusOK
	if !st.Running || st.Generation == 0 {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, st)
}

// GetStatus returns the engine status.
func (c *Controller) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.engine.Status())
}

// ListSkippedRules returns the rules the current snapshot could not load.
func (c *Controller) ListSkippedRules(ctx echo.Context) error {
	snap := c.engine.Snapshot()
	skipped := snap.Skipped()
	if skipped == nil {
		skipped = []alerting.SkippedRule{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"rules":      skipped,
		"count":      len(skipped),
	})
}

// ListUnresolvedOrigins returns rule origins without a tracked device.
func (c *Controller) ListUnresolvedOrigins(ctx echo.Context) error {
	snap := c.engine.Snapshot()
	origins := snap.Unresolved()
	if origins == nil {
		origins = []alerting.UnresolvedOrigin{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"origins":    origins,
		"count":      len(origins),
	})
}

// ReloadRules forces a rule cache rebuild.
func (c *Controller) ReloadRules(ctx echo.Context) error {
	if err := c.engine.Reload(ctx.Request().Context()); err != nil {
		c.logger.Error("manual rule reload failed", logger.Error(err))
		return c.HandleError(ctx, err, "Failed to reload rules", http.StatusServiceUnavailable)
	}
	c.logger.Info("rules reloaded on request", logger.String("remote_ip", ctx.RealIP()))
	return ctx.JSON(http.StatusOK, c.engine.Status())
}

// EvaluationResponse is the result of a dry-run evaluation.
type EvaluationResponse struct {
	DeviceID   string      `json:"device_id"`
	Allowed    bool        `json:"allowed"`
	Generation uint64      `json:"generation"`
	Alarms     []AlarmView `json:"alarms"`
}

// AlarmView is the JSON form of an alarm.
type AlarmView struct {
	RuleID         uint   `json:"rule_id"`
	RuleName       string `json:"rule_name"`
	OriginEntityID string `json:"origin_entity_id"`
	OriginKind     string `json:"origin_kind"`
	EvaluationType string `json:"evaluation_type"`
	Code           int    `json:"code"`
}

// EvaluatePosition evaluates a posted report against the cached rules
// without recording anything.
func (c *Controller) EvaluatePosition(ctx echo.Context) error {
	var r position.Report
	if err := ctx.Bind(&r); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
	}
	if err := r.Validate(); err != nil {
		return c.HandleError(ctx, err, "Invalid position report", http.StatusBadRequest)
	}

	snap := c.engine.Snapshot()
	resp := EvaluationResponse{
		DeviceID:   r.DeviceID,
		Allowed:    snap.Allowed(r.DeviceID),
		Generation: snap.Generation,
		Alarms:     []AlarmView{},
	}
	if r.GPSFixValid {
		for _, a := range alerting.Alarms(snap, r) {
			resp.Alarms = append(resp.Alarms, AlarmView{
				RuleID:         a.RuleID,
				RuleName:       a.RuleName,
				OriginEntityID: a.OriginEntityID,
				OriginKind:     a.OriginKind,
				EvaluationType: string(a.EvaluationType),
				Code:           a.Code,
			})
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}
