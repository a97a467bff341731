// Package controller drives a multi-page sync to completion, persisting a
// checkpoint after every page so an interrupted run can resume.
package controller

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lily/pkg/checkpoint"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/syncclient"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// PageRunner requests one sync page.
type PageRunner interface {
	SyncPage(ctx context.Context, req models.SyncPageRequest) (*models.SyncPageResponse, error)
}

// SessionReleaser is optionally implemented by a PageRunner so a restart can
// free the lease of the abandoned session.
type SessionReleaser interface {
	ReleaseSession(ctx context.Context, sessionID string) error
}

// Decider is asked whether to resume from a stored checkpoint. false restarts.
type Decider func(ctx context.Context, cp *models.SyncCheckpoint) (bool, error)

// AlwaysResume resumes every stored checkpoint.
func AlwaysResume(context.Context, *models.SyncCheckpoint) (bool, error) {
	return true, nil
}

// Progress is reported after every state change and every page attempt.
type Progress struct {
	State      State
	Checkpoint models.SyncCheckpoint
	Response   *models.SyncPageResponse
	Attempt    int
	Err        error
}

type Options struct {
	// Limit is sent with every request; 0 lets the server pick.
	Limit       int
	MaxAttempts int
	BackoffStep time.Duration
	PageDelay   time.Duration
	// Restart discards any stored checkpoint without asking the Decider.
	Restart     bool
	OnProgress  func(Progress)
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
	IsTransient func(error) bool
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BackoffStep: 1200 * time.Millisecond,
		PageDelay:   250 * time.Millisecond,
	}
}

// Summary is the outcome of Run. Checkpoint holds the cumulative counters.
type Summary struct {
	State      State
	Pages      int
	Resumed    bool
	Checkpoint models.SyncCheckpoint
}

type Controller struct {
	runner PageRunner
	store  checkpoint.Store
	decide Decider
	opts   Options
	logger ectologger.Logger
	state  State
}

func NewController(runner PageRunner, store checkpoint.Store, decide Decider, opts Options, logger ectologger.Logger) *Controller {
	defaults := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.BackoffStep <= 0 {
		opts.BackoffStep = defaults.BackoffStep
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IsTransient == nil {
		opts.IsTransient = syncclient.IsTransient
	}
	if decide == nil {
		decide = AlwaysResume
	}
	return &Controller{
		runner: runner,
		store:  store,
		decide: decide,
		opts:   opts,
		logger: logger,
		state:  StateIdle,
	}
}

func (c *Controller) State() State {
	return c.state
}

// Run requests pages until the source is exhausted. On failure the last good
// checkpoint stays in the store and the returned summary is Paused.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	log := c.logger.WithContext(ctx)
	c.state = StateRunning

	cp, resumed, err := c.start(ctx)
	if err != nil {
		return c.pause(models.SyncCheckpoint{}, 0, resumed, err)
	}
	c.emit(Progress{State: c.state, Checkpoint: cp})

	pages := 0
	for {
		resp, err := c.runPage(ctx, cp)
		if err != nil {
			log.WithError(err).WithField("offset", cp.Offset).Warn("sync paused")
			return c.pause(cp, pages, resumed, err)
		}
		pages++
		cp = advance(cp, resp, c.opts.Now())

		if !resp.HasMore || resp.SourcePageCount == 0 {
			if err := c.store.Delete(ctx); err != nil {
				return c.pause(cp, pages, resumed, err)
			}
			c.state = StateCompleted
			c.emit(Progress{State: c.state, Checkpoint: cp, Response: resp})
			log.WithFields(map[string]any{
				"pages":    cp.Page,
				"inserted": cp.Inserted,
				"updated":  cp.Updated,
			}).Info("sync completed")
			return &Summary{State: c.state, Pages: pages, Resumed: resumed, Checkpoint: cp}, nil
		}

		if err := c.store.Save(ctx, &cp); err != nil {
			return c.pause(cp, pages, resumed, err)
		}
		c.emit(Progress{State: c.state, Checkpoint: cp, Response: resp})

		if err := c.opts.Sleep(ctx, c.opts.PageDelay); err != nil {
			return c.pause(cp, pages, resumed, err)
		}
	}
}

// start loads the stored checkpoint and asks whether to resume it.
func (c *Controller) start(ctx context.Context) (models.SyncCheckpoint, bool, error) {
	fresh := models.SyncCheckpoint{Version: models.SyncCheckpointVersion, Limit: c.opts.Limit}

	stored, err := c.store.Load(ctx)
	if err != nil || stored == nil {
		return fresh, false, err
	}

	resume := false
	if !c.opts.Restart {
		resume, err = c.decide(ctx, stored)
		if err != nil {
			return fresh, false, err
		}
	}
	if resume {
		if c.opts.Limit > 0 {
			stored.Limit = c.opts.Limit
		}
		return *stored, true, nil
	}

	if releaser, ok := c.runner.(SessionReleaser); ok && stored.SessionID != "" {
		if err := releaser.ReleaseSession(ctx, stored.SessionID); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("failed to release the abandoned sync session")
		}
	}
	if err := c.store.Delete(ctx); err != nil {
		return fresh, false, err
	}
	return fresh, false, nil
}

// runPage retries transient failures with a linearly growing backoff.
func (c *Controller) runPage(ctx context.Context, cp models.SyncCheckpoint) (*models.SyncPageResponse, error) {
	offset := cp.Offset
	req := models.SyncPageRequest{Offset: &offset, SessionID: cp.SessionID}
	if cp.Limit > 0 {
		limit := cp.Limit
		req.Limit = &limit
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		resp, err := c.runner.SyncPage(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.emit(Progress{State: c.state, Checkpoint: cp, Attempt: attempt, Err: err})

		if !c.opts.IsTransient(err) || attempt == c.opts.MaxAttempts {
			break
		}
		if err := c.opts.Sleep(ctx, c.opts.BackoffStep*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Controller) pause(cp models.SyncCheckpoint, pages int, resumed bool, err error) (*Summary, error) {
	c.state = StatePaused
	c.emit(Progress{State: c.state, Checkpoint: cp, Err: err})
	return &Summary{State: c.state, Pages: pages, Resumed: resumed, Checkpoint: cp}, err
}

func (c *Controller) emit(p Progress) {
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(p)
	}
}

func advance(cp models.SyncCheckpoint, resp *models.SyncPageResponse, now time.Time) models.SyncCheckpoint {
	cp.Version = models.SyncCheckpointVersion
	cp.SessionID = resp.SessionID
	cp.Offset = resp.NextOffset
	cp.Page++
	cp.Processed += resp.SourcePageCount
	cp.Inserted += resp.InsertedCount
	cp.Updated += resp.UpdatedCount
	cp.Unchanged += resp.UnchangedCount
	cp.UnresolvedDiocese += resp.UnresolvedDioceseCount
	cp.UnresolvedCountry += resp.UnresolvedCountryCount
	cp.SkippedNoISO += resp.SkippedNoCountryISOCount
	cp.UpdatedAt = now
	return cp
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
