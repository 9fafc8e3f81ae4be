// Package checklist implements the team board: who may create, view, move and
// submit checklist items, and the storage port the rules run against.
package checklist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/apperr"
	"github.com/planmeet/planmeet/internal/identity"
)

const (
	opCreate          = "checklist.create"
	opList            = "checklist.list"
	opListByTeam      = "checklist.list_by_team"
	opGet             = "checklist.get"
	opUpdateStatus    = "checklist.update_status"
	opEditContent     = "checklist.edit_content"
	opDelete          = "checklist.delete"
	opSubmit          = "checklist.submit"
	opListSubmissions = "checklist.list_submissions"
	opEditSubmission  = "checklist.edit_submission"
)

// Service enforces the checklist rules on top of a Store.
type Service struct {
	store   Store
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService creates a Service.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Create adds an item to a team board. Only administrators create items.
func (s *Service) Create(ctx context.Context, actor identity.Actor, in CreateInput) (*Item, error) {
	if !actor.IsAdmin {
		return nil, apperr.Forbidden(opCreate, "only administrators can create checklists")
	}
	team := strings.TrimSpace(in.Team)
	if team == "" {
		team = strings.TrimSpace(in.AssignedTeam)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" || team == "" {
		return nil, apperr.InvalidArgument(opCreate, "title and team are required")
	}
	status := in.Status
	if status == "" {
		status = StageBacklog
	}
	if !status.Valid() {
		return nil, apperr.InvalidArgument(opCreate, fmt.Sprintf("unknown status %q", status))
	}

	now := s.now().UTC()
	item := &Item{
		ID:          uuid.NewString(),
		Team:        team,
		Title:       title,
		Description: in.Description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.store.Put(ctx, item); err != nil {
		return nil, s.storeErr(opCreate, item.Key().String(), err)
	}
	s.logger.Info("checklist created",
		zap.String("id", item.ID), zap.String("team", team), zap.String("by", actor.Subject))
	return item, nil
}

// List returns every item for administrators and the actor's team board for
// everybody else.
func (s *Service) List(ctx context.Context, actor identity.Actor) ([]*Item, error) {
	var f Filter
	if !actor.IsAdmin {
		if !actor.HasTeam() {
			return nil, apperr.Forbidden(opList, "caller is not a member of any team")
		}
		f.Team = actor.Team
	}
	return s.scan(ctx, opList, f)
}

// ListByTeam returns the board of team.
func (s *Service) ListByTeam(ctx context.Context, team string) ([]*Item, error) {
	team = strings.TrimSpace(team)
	if team == "" {
		return nil, apperr.InvalidArgument(opListByTeam, "team is required")
	}
	return s.scan(ctx, opListByTeam, Filter{Team: team})
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, key Key) (*Item, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	item, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, s.storeErr(opGet, key.String(), err)
	}
	return item, nil
}

// UpdateStatus moves an item to another stage. Any stage may follow any
// other, but a submitted item stays Done.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Actor, key Key, status Stage) (*Item, error) {
	if err := canManage(opUpdateStatus, actor, key.Team); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.InvalidArgument(opUpdateStatus, fmt.Sprintf("unknown status %q", status))
	}

	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, relabel(err, opUpdateStatus)
	}
	if current.Submitted && status != StageDone {
		return nil, apperr.InvalidArgument(opUpdateStatus, "submitted checklists stay done")
	}

	updated, err := s.update(ctx, opUpdateStatus, key, Fields{
		Status:    &status,
		UpdatedAt: s.touch(current.UpdatedAt),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("checklist status changed",
		zap.String("id", key.ID), zap.String("team", key.Team),
		zap.String("from", string(current.Status)), zap.String("to", string(status)),
		zap.String("by", actor.Subject))
	return updated, nil
}

// EditContent replaces the title and description of an item.
func (s *Service) EditContent(ctx context.Context, actor identity.Actor, key Key, title, description string) (*Item, error) {
	if err := canManage(opEditContent, actor, key.Team); err != nil {
		return nil, err
	}
	return s.edit(ctx, opEditContent, key, title, description, false)
}

// EditSubmission is EditContent for items that were already submitted.
func (s *Service) EditSubmission(ctx context.Context, actor identity.Actor, key Key, title, description string) (*Item, error) {
	if err := canManage(opEditSubmission, actor, key.Team); err != nil {
		return nil, err
	}
	return s.edit(ctx, opEditSubmission, key, title, description, true)
}

func (s *Service) edit(ctx context.Context, op string, key Key, title, description string, submitted bool) (*Item, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" {
		return nil, apperr.InvalidArgument(op, "title and description are required")
	}

	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, relabel(err, op)
	}
	if submitted && !current.Submitted {
		return nil, apperr.InvalidArgument(op, "checklist has not been submitted")
	}

	return s.update(ctx, op, key, Fields{
		Title:       &title,
		Description: &description,
		UpdatedAt:   s.touch(current.UpdatedAt),
	})
}

// Delete removes an item. Missing items are not an error.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, key Key) error {
	if !actor.IsAdmin {
		return apperr.Forbidden(opDelete, "only administrators can delete checklists")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		return s.storeErr(opDelete, key.String(), err)
	}
	s.logger.Info("checklist deleted",
		zap.String("id", key.ID), zap.String("team", key.Team), zap.String("by", actor.Subject))
	return nil
}

// SubmitTeamDone marks every done, unsubmitted item of team as submitted.
// Items are updated one by one; an item that fails does not stop the others
// and items already marked stay marked. The result lists both subsets.
func (s *Service) SubmitTeamDone(ctx context.Context, actor identity.Actor, team string) (*SubmitResult, error) {
	if !actor.IsManager {
		return nil, apperr.Forbidden(opSubmit, "only product owners can submit checklists")
	}
	if !actor.InTeam(team) {
		return nil, apperr.Forbidden(opSubmit, fmt.Sprintf("caller is not a member of %s", team))
	}

	unsubmitted := false
	candidates, err := s.scan(ctx, opSubmit, Filter{Team: team, Status: StageDone, Submitted: &unsubmitted})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperr.InvalidArgument(opSubmit, "nothing to submit")
	}

	res := &SubmitResult{Submitted: []*Item{}, Failed: []SubmitFailure{}}
	var errs *multierror.Error
	done, yes := StageDone, true
	for _, item := range candidates {
		at := s.touch(item.UpdatedAt)
		updated, err := s.updateRaw(ctx, item.Key(), Fields{
			Submitted:     &yes,
			SubmittedAt:   &at,
			UpdatedAt:     at,
			IfStatus:      &done,
			IfUnsubmitted: true,
		})
		switch {
		case errors.Is(err, ErrConditionFailed), errors.Is(err, ErrNotFound):
			s.logger.Debug("checklist changed during submission, skipped", zap.String("id", item.ID))
		case err != nil:
			res.Failed = append(res.Failed, SubmitFailure{Item: item, Error: err.Error()})
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", item.Key(), err))
		default:
			res.Submitted = append(res.Submitted, updated)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		s.logger.Error("team submission partially failed", zap.String("team", team),
			zap.Int("submitted", len(res.Submitted)), zap.Int("failed", len(res.Failed)), zap.Error(err))
		return res, apperr.Wrap(apperr.KindStoreUnavailable, opSubmit, team, err)
	}
	if len(res.Submitted) == 0 {
		return nil, apperr.InvalidArgument(opSubmit, "nothing to submit")
	}
	s.logger.Info("team submitted", zap.String("team", team),
		zap.Int("count", len(res.Submitted)), zap.String("by", actor.Subject))
	return res, nil
}

// ListSubmissions returns submitted items. Administrators see every team
// unless they name one; product owners see their own team.
func (s *Service) ListSubmissions(ctx context.Context, actor identity.Actor, team string) ([]*Item, error) {
	team = strings.TrimSpace(team)
	switch {
	case actor.IsAdmin:
	case actor.IsManager:
		if team == "" {
			team = actor.Team
		}
		if !actor.InTeam(team) {
			return nil, apperr.Forbidden(opListSubmissions, "product owners can only view their own team")
		}
	default:
		return nil, apperr.Forbidden(opListSubmissions, "only administrators and product owners can view submissions")
	}
	submitted := true
	return s.scan(ctx, opListSubmissions, Filter{Team: team, Submitted: &submitted})
}

func (s *Service) scan(ctx context.Context, op string, f Filter) ([]*Item, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	items, err := s.store.Scan(ctx, f)
	if err != nil {
		return nil, s.storeErr(op, f.Team, err)
	}
	items = lo.Filter(items, func(item *Item, _ int) bool { return f.Match(item) })
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Service) update(ctx context.Context, op string, key Key, f Fields) (*Item, error) {
	item, err := s.updateRaw(ctx, key, f)
	if err != nil {
		return nil, s.storeErr(op, key.String(), err)
	}
	return item, nil
}

func (s *Service) updateRaw(ctx context.Context, key Key, f Fields) (*Item, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.UpdateFields(ctx, key, f)
}

// storeErr classifies a store failure for op.
func (s *Service) storeErr(op, key string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound(op, key)
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, op, key, err)
}

// bound applies the store timeout to ctx.
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// touch returns the current time, forced past prev so updatedAt strictly
// increases on every mutation.
func (s *Service) touch(prev time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func canManage(op string, actor identity.Actor, team string) error {
	if actor.IsAdmin {
		return nil
	}
	if !actor.IsManager {
		return apperr.Forbidden(op, "only administrators and product owners can change checklists")
	}
	if !actor.InTeam(team) {
		return apperr.Forbidden(op, fmt.Sprintf("caller is not a member of %s", team))
	}
	return nil
}

// relabel reports an error from an inner step under the outer operation.
func relabel(err error, op string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}
