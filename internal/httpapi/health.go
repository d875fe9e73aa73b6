package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	queue "github.com/teltubby/teltubby/internal/jobqueue"
	"github.com/teltubby/teltubby/internal/objstore"
	"github.com/teltubby/teltubby/internal/store"
)

// Simulator reports whether a component has fallen back to simulate mode
// (worker.Worker and authrecovery.Manager both satisfy this).
type Simulator interface {
	Simulating() bool
}

// Deps wires the components the health/status surface reports on. Any field
// may be nil; a nil component is neither probed nor listed in the report.
type Deps struct {
	Store        *store.Store
	ObjectStore  *objstore.Client
	Jobs         *queue.Adapter
	Worker       Simulator
	AuthRecovery Simulator
	CheckTimeout time.Duration
}

// ComponentStatus is one dependency's probe result.
type ComponentStatus struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
}

// AggregateHealth is the GET /healthz body: overall plus per-component.
type AggregateHealth struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components"`
}

func (d Deps) checkTimeout() time.Duration {
	if d.CheckTimeout > 0 {
		return d.CheckTimeout
	}
	return 5 * time.Second
}

// Check probes every wired dependency and reports the aggregate result.
// An unwired (nil) dependency is left out of Components and does not
// affect the aggregate, since not every deployment wires every component.
func (d Deps) Check(ctx context.Context) AggregateHealth {
	ctx, cancel := context.WithTimeout(ctx, d.checkTimeout())
	defer cancel()

	components := make([]ComponentStatus, 0, 5)
	healthy := true

	addCheck := func(name string, err error) {
		cs := ComponentStatus{Name: name, OK: err == nil}
		if err != nil {
			cs.Detail = err.Error()
			healthy = false
		}
		components = append(components, cs)
	}

	if d.Store != nil {
		addCheck("store", d.Store.Ping(ctx))
	}
	if d.ObjectStore != nil {
		addCheck("object_store", d.ObjectStore.EnsureBucket(ctx))
	}
	if d.Jobs != nil {
		_, err := d.Jobs.Depth()
		addCheck("broker", err)
	}
	if d.Worker != nil {
		cs := ComponentStatus{Name: "worker", OK: !d.Worker.Simulating()}
		if !cs.OK {
			cs.Detail = "simulate mode"
			healthy = false
		}
		components = append(components, cs)
	}
	if d.AuthRecovery != nil {
		cs := ComponentStatus{Name: "auth_recovery", OK: !d.AuthRecovery.Simulating()}
		if !cs.OK {
			cs.Detail = "simulate mode"
			healthy = false
		}
		components = append(components, cs)
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	return AggregateHealth{Status: status, Components: components}
}

// HealthzHandler serves GET /healthz, aggregating every wired dependency.
func HealthzHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		result := d.Check(c.Request().Context())
		code := http.StatusOK
		if result.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, result)
	}
}
