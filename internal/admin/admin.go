// Package admin holds the operator operations on job definitions. Every
// mutation is followed by a full scheduler Restart.
package admin

import (
	"context"
	"strings"
	"time"

	"prodsched/internal/history"
	"prodsched/internal/storage"
	"prodsched/internal/task/scheduler"
	"prodsched/internal/task/trigger"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrInvalidDefinition = errors.New("invalid job definition")

// Restarter reconciles the armed schedules with the store.
type Restarter interface {
	Restart(ctx context.Context) (scheduler.InitReport, error)
}

// ManualRunner runs a job once, synchronously.
type ManualRunner interface {
	ExecuteManually(ctx context.Context, jobID string, from, to *string) error
}

// KeyResolver reports whether an implementation key is registered.
type KeyResolver interface {
	Has(key string) bool
}

type Service struct {
	jobs      storage.JobStore
	keys      KeyResolver
	restarter Restarter
	runner    ManualRunner
	history   *history.Service
	log       logx.Logger
}

func New(jobs storage.JobStore, keys KeyResolver, restarter Restarter, runner ManualRunner, hist *history.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{jobs: jobs, keys: keys, restarter: restarter, runner: runner, history: hist, log: log}
}

// JobInput is the operator-supplied part of a definition.
type JobInput struct {
	ID          string // optional on create; a uuid is assigned
	Name        string
	Description string
	CronExpr    string
	ImplKey     string
	Enabled     bool
	Actor       string
}

// JobPatch changes only the non-nil fields.
type JobPatch struct {
	Name        *string
	Description *string
	CronExpr    *string
	ImplKey     *string
	Enabled     *bool
	Actor       string
}

func (s *Service) ListJobs(ctx context.Context) ([]storage.JobDefinition, error) {
	return s.jobs.ListJobs(ctx)
}

func (s *Service) GetJob(ctx context.Context, id string) (storage.JobDefinition, error) {
	return s.jobs.GetJob(ctx, strings.TrimSpace(id))
}

func (s *Service) CreateJob(ctx context.Context, in JobInput) (storage.JobDefinition, error) {
	now := time.Now()
	def := storage.JobDefinition{
		ID:          strings.TrimSpace(in.ID),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		CronExpr:    strings.TrimSpace(in.CronExpr),
		ImplKey:     strings.TrimSpace(in.ImplKey),
		Enabled:     in.Enabled,
		CreatedBy:   in.Actor,
		UpdatedBy:   in.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := s.validate(def); err != nil {
		return storage.JobDefinition{}, err
	}
	if err := s.jobs.CreateJob(ctx, def); err != nil {
		return storage.JobDefinition{}, err
	}
	s.log.Info("job created", logx.JobID(def.ID), logx.String("impl_key", def.ImplKey), logx.Bool("enabled", def.Enabled), logx.String("actor", in.Actor))
	return def, s.restart(ctx)
}

func (s *Service) UpdateJob(ctx context.Context, id string, p JobPatch) (storage.JobDefinition, error) {
	def, err := s.jobs.GetJob(ctx, strings.TrimSpace(id))
	if err != nil {
		return storage.JobDefinition{}, err
	}
	if p.Name != nil {
		def.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		def.Description = strings.TrimSpace(*p.Description)
	}
	if p.CronExpr != nil {
		def.CronExpr = strings.TrimSpace(*p.CronExpr)
	}
	if p.ImplKey != nil {
		def.ImplKey = strings.TrimSpace(*p.ImplKey)
	}
	if p.Enabled != nil {
		def.Enabled = *p.Enabled
	}
	def.UpdatedBy = p.Actor
	def.UpdatedAt = time.Now()
	if err := s.validate(def); err != nil {
		return storage.JobDefinition{}, err
	}
	if err := s.jobs.UpdateJob(ctx, def); err != nil {
		return storage.JobDefinition{}, err
	}
	s.log.Info("job updated", logx.JobID(def.ID), logx.Bool("enabled", def.Enabled), logx.String("actor", p.Actor))
	return def, s.restart(ctx)
}

func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool, actor string) (storage.JobDefinition, error) {
	return s.UpdateJob(ctx, id, JobPatch{Enabled: &enabled, Actor: actor})
}

func (s *Service) DeleteJob(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.log.Info("job deleted", logx.JobID(id))
	return s.restart(ctx)
}

// Restart forces a reconciliation.
func (s *Service) Restart(ctx context.Context) (scheduler.InitReport, error) {
	if s.restarter == nil {
		return scheduler.InitReport{}, scheduler.ErrNotRunning
	}
	return s.restarter.Restart(ctx)
}

func (s *Service) ExecuteManually(ctx context.Context, jobID string, from, to *string) error {
	return s.runner.ExecuteManually(ctx, jobID, from, to)
}

func (s *Service) History(ctx context.Context, f history.Filter) (history.Page, error) {
	return s.history.List(ctx, f)
}

func (s *Service) Execution(ctx context.Context, id string) (storage.ExecutionRecord, error) {
	return s.history.Get(ctx, id)
}

// restart applies a saved change. A stopped scheduler picks it up on its
// next start, so ErrNotRunning is not a failure here.
func (s *Service) restart(ctx context.Context) error {
	if s.restarter == nil {
		return nil
	}
	_, err := s.restarter.Restart(ctx)
	if errors.Is(err, scheduler.ErrNotRunning) {
		s.log.Debug("scheduler not running; change applies on next start")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "saved, but scheduler restart failed")
	}
	return nil
}

func (s *Service) validate(def storage.JobDefinition) error {
	var problems []string
	if def.Name == "" {
		problems = append(problems, "name is required")
	}
	if def.CronExpr == "" {
		problems = append(problems, "cron expression is required")
	}
	if def.ImplKey == "" {
		problems = append(problems, "implementation key is required")
	}
	if def.Enabled {
		if def.CronExpr != "" {
			if err := trigger.Validate(def.CronExpr); err != nil {
				problems = append(problems, err.Error())
			}
		}
		if def.ImplKey != "" && s.keys != nil && !s.keys.Has(def.ImplKey) {
			problems = append(problems, "unknown implementation key "+quote(def.ImplKey))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.WithHint(
		errors.Wrap(ErrInvalidDefinition, strings.Join(problems, "; ")),
		"disable the job to save it with an unresolved key or expression",
	)
}

func quote(s string) string { return "\"" + s + "\"" }
