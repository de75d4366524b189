// Package jobs is the fixed table of job bodies.
package jobs

import (
	"context"
	"net/http"
	"time"

	"prodsched/internal/task/registry"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// Implementation keys.
const (
	KeyHistoryPrune           = "history.prune"
	KeySystemHeartbeat        = "system.heartbeat"
	KeyMaterialImport         = "erp.material.import"
	KeyProductionPlanImport   = "erp.production-plan.import"
	KeyProductionResultExport = "erp.production-result.export"
)

// Pruner deletes old execution records.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Deps are the collaborators the bodies need.
type Deps struct {
	Log    logx.Logger
	Pruner Pruner
	// Retention is read at run time so config reloads apply.
	Retention func() time.Duration
	Ping      func(ctx context.Context) error
	ERP       *ERPClient
}

type erpRoute struct {
	method string
	path   string
}

var erpRoutes = map[string]erpRoute{
	KeyMaterialImport:         {http.MethodGet, "/api/v1/materials/import"},
	KeyProductionPlanImport:   {http.MethodGet, "/api/v1/production-plans/import"},
	KeyProductionResultExport: {http.MethodPost, "/api/v1/production-results/export"},
}

// Table builds the key to body mapping.
func Table(d Deps) map[string]registry.Func {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	t := map[string]registry.Func{
		KeyHistoryPrune:    historyPrune(d),
		KeySystemHeartbeat: heartbeat(d),
	}
	for key, r := range erpRoutes {
		t[key] = erpCall(d, key, r)
	}
	return t
}

func historyPrune(d Deps) registry.Func {
	return func(ctx context.Context, p registry.Params) error {
		if d.Pruner == nil {
			return errors.New("history pruner not wired")
		}
		retention := 90 * 24 * time.Hour
		if d.Retention != nil {
			if r := d.Retention(); r > 0 {
				retention = r
			}
		}
		n, err := d.Pruner.Prune(ctx, retention)
		if err != nil {
			return errors.Wrap(err, "prune history")
		}
		d.Log.Info("history pruned", logx.Int64("deleted", n), logx.Duration("retention", retention))
		return nil
	}
}

func heartbeat(d Deps) registry.Func {
	return func(ctx context.Context, p registry.Params) error {
		if d.Ping != nil {
			if err := d.Ping(ctx); err != nil {
				return errors.Wrap(err, "store ping")
			}
		}
		d.Log.Debug("heartbeat", logx.JobID(p.JobID), logx.Time("fired_at", p.FiredAt))
		return nil
	}
}

func erpCall(d Deps, key string, r erpRoute) registry.Func {
	return func(ctx context.Context, p registry.Params) error {
		if d.ERP == nil {
			return ErrERPNotConfigured
		}
		res, err := d.ERP.Call(ctx, r.method, r.path, p.From, p.To)
		if err != nil {
			return errors.Wrap(err, key)
		}
		d.Log.Info("erp interchange done",
			logx.String("key", key),
			logx.String("from", p.From),
			logx.String("to", p.To),
			logx.Int("count", res.Count),
		)
		return nil
	}
}
