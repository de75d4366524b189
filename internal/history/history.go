// Package history is the read-only view over execution records.
package history

import (
	"context"
	"strings"
	"time"

	"prodsched/internal/storage"

	"github.com/cockroachdb/errors"
)

var (
	ErrRecordNotFound = errors.New("execution record not found")
	ErrInvalidFilter  = errors.New("invalid history filter")
)

// Filter narrows List. Zero values do not filter.
type Filter struct {
	JobID   string
	Status  storage.Status
	Trigger storage.TriggerSource
	Since   time.Time
	Until   time.Time
	Limit   int // default 20, max 500
	Offset  int
}

// Page is one page of records, newest first.
type Page struct {
	Items  []storage.ExecutionRecord `json:"items"`
	Total  int                       `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// HasMore reports whether records exist past this page.
func (p Page) HasMore() bool { return p.Offset+len(p.Items) < p.Total }

type Service struct {
	store storage.HistoryStore
}

func New(store storage.HistoryStore) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, errors.Wrapf(ErrInvalidFilter, "status %q", f.Status)
	}
	if f.Trigger != "" && !f.Trigger.Valid() {
		return Page{}, errors.Wrapf(ErrInvalidFilter, "trigger %q", f.Trigger)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Until.After(f.Since) {
		return Page{}, errors.Wrap(ErrInvalidFilter, "until must be after since")
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	limit := storage.NormalizeLimit(f.Limit)

	items, total, err := s.store.ListExecutions(ctx, storage.ExecutionFilter{
		JobID:   strings.TrimSpace(f.JobID),
		Status:  f.Status,
		Trigger: f.Trigger,
		Since:   f.Since,
		Until:   f.Until,
		Limit:   limit,
		Offset:  f.Offset,
	})
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Limit: limit, Offset: f.Offset}, nil
}

func (s *Service) Get(ctx context.Context, id string) (storage.ExecutionRecord, error) {
	r, err := s.store.GetExecution(ctx, strings.TrimSpace(id))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ExecutionRecord{}, errors.Wrapf(ErrRecordNotFound, "record %q", id)
	}
	return r, err
}

// Prune deletes terminal records that started more than retention ago.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.Wrap(ErrInvalidFilter, "retention must be positive")
	}
	return s.store.PruneExecutions(ctx, time.Now().Add(-retention))
}

// ParseStatus accepts a status case-insensitively; empty means any.
func ParseStatus(v string) (storage.Status, error) {
	st := storage.Status(strings.ToUpper(strings.TrimSpace(v)))
	if st == "" || st.Valid() {
		return st, nil
	}
	return "", errors.Wrapf(ErrInvalidFilter, "status %q", v)
}

// ParseTrigger accepts a trigger source case-insensitively; empty means any.
func ParseTrigger(v string) (storage.TriggerSource, error) {
	tr := storage.TriggerSource(strings.ToUpper(strings.TrimSpace(v)))
	if tr == "" || tr.Valid() {
		return tr, nil
	}
	return "", errors.Wrapf(ErrInvalidFilter, "trigger %q", v)
}
