// Package readmodel loads contract state into the session store.
package readmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"votingsync/coordinator/session"
	"votingsync/election"
	"votingsync/gateway/contract"
	"votingsync/observability"
	"votingsync/observability/logging"
	"votingsync/observability/otel"
)

// Target selects entities for Refresh.
type Target uint8

const (
	TargetSnapshot Target = 1 << iota
	TargetVoter
	TargetCandidates
	TargetAdmin
	TargetUserVotes
	TargetWinner
)

// TargetAll covers everything loaded on connect.
const TargetAll = TargetSnapshot | TargetVoter | TargetCandidates | TargetAdmin | TargetUserVotes

var targetNames = []struct {
	target Target
	name   string
}{
	{TargetSnapshot, "snapshot"},
	{TargetVoter, "voter"},
	{TargetCandidates, "candidates"},
	{TargetAdmin, "admin"},
	{TargetUserVotes, "user_votes"},
	{TargetWinner, "winner"},
}

// Has reports whether every bit of other is set.
func (t Target) Has(other Target) bool { return t&other == other }

func (t Target) String() string {
	var parts []string
	for _, tn := range targetNames {
		if t.Has(tn.target) {
			parts = append(parts, tn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Notifier is the subset of the notification center used by the cache.
type Notifier interface {
	Success(title, message string) string
	Error(title, message string) string
	Info(title, message string) string
}

// Cache is the read-through cache over the contract. A failed load keeps the
// previous value; a load that completes after the session moved on is
// dropped.
type Cache struct {
	store    *session.Store
	reader   contract.Reader
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.CoordinatorMetrics
	tracer   trace.Tracer
}

// Option customises the Cache.
type Option func(*Cache)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. Nil disables metrics.
func WithMetrics(m *observability.CoordinatorMetrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Cache) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// New constructs a cache writing into store.
func New(store *session.Store, reader contract.Reader, notifier Notifier, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		reader:   reader,
		notifier: notifier,
		logger:   slog.Default(),
		metrics:  observability.Coordinator(),
		tracer:   otel.Tracer("readmodel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type failureNotice struct {
	title   string
	message string
}

var failureNotices = map[election.Entity]failureNotice{
	election.EntitySnapshot:   {"Contract Error", "Failed to load contract information"},
	election.EntityVoter:      {"Voter Error", "Failed to load voter information"},
	election.EntityCandidates: {"Candidates Error", "Failed to load candidates"},
	election.EntityAdmin:      {"Admin Error", "Failed to load admin information"},
	election.EntityUserVotes:  {"Vote Status Error", "Failed to load your votes"},
}

// fetchFunc reads an entity and returns the commit that stores it. The commit
// reports false when the result was stale.
type fetchFunc func(ctx context.Context) (commit func() bool, err error)

func (c *Cache) load(ctx context.Context, epoch session.Epoch, entity election.Entity, fetch fetchFunc) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "readmodel.load",
		trace.WithAttributes(
			attribute.String("entity", string(entity)),
			attribute.Int64("generation", int64(epoch.Generation)),
		))
	defer span.End()

	started := time.Now()
	if !c.store.Current(epoch) {
		c.discard(span, entity, epoch, started)
		return false, nil
	}
	commit, err := fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, c.fail(entity, epoch, started, err)
	}
	if !commit() {
		c.discard(span, entity, epoch, started)
		return false, nil
	}
	c.metrics.ObserveRead(string(entity), "success", time.Since(started))
	return true, nil
}

func (c *Cache) discard(span trace.Span, entity election.Entity, epoch session.Epoch, started time.Time) {
	span.SetAttributes(attribute.Bool("stale", true))
	c.metrics.ObserveRead(string(entity), "stale", time.Since(started))
	c.logger.Debug("discarding stale read",
		"entity", string(entity),
		"generation", epoch.Generation,
		logging.Account(epoch.Account))
}

func (c *Cache) fail(entity election.Entity, epoch session.Epoch, started time.Time, err error) error {
	if entity == election.EntityWinner {
		c.metrics.ObserveRead(string(entity), "unavailable", time.Since(started))
		c.logger.Debug("winner not available", "error", err)
		if c.store.Current(epoch) {
			c.notifier.Info("Winner Unavailable", "Failed to get winner. The election might still be ongoing.")
		}
		return &election.ReadFailedError{Entity: entity, Err: errors.Join(election.ErrWinnerUnavailable, err)}
	}
	c.metrics.ObserveRead(string(entity), "error", time.Since(started))
	c.logger.Warn("read failed",
		"entity", string(entity),
		logging.Account(epoch.Account),
		"error", err)
	if c.store.Current(epoch) {
		notice := failureNotices[entity]
		c.notifier.Error(notice.title, notice.message)
	}
	return &election.ReadFailedError{Entity: entity, Err: err}
}

// LoadElectionSnapshot reloads the election metadata.
func (c *Cache) LoadElectionSnapshot(ctx context.Context, epoch session.Epoch) error {
	_, err := c.load(ctx, epoch, election.EntitySnapshot, func(ctx context.Context) (func() bool, error) {
		snapshot, err := c.reader.ElectionInfo(ctx)
		if err != nil {
			return nil, err
		}
		return func() bool { return c.store.PutSnapshot(epoch, snapshot) }, nil
	})
	return err
}

// LoadVoterRecord reloads the voter record of the epoch's account.
func (c *Cache) LoadVoterRecord(ctx context.Context, epoch session.Epoch) error {
	_, err := c.load(ctx, epoch, election.EntityVoter, func(ctx context.Context) (func() bool, error) {
		record, err := c.reader.Voter(ctx, epoch.Account)
		if err != nil {
			return nil, err
		}
		return func() bool { return c.store.PutVoter(epoch, record) }, nil
	})
	return err
}

// LoadCandidates reloads the candidate list and returns it when it was
// stored.
func (c *Cache) LoadCandidates(ctx context.Context, epoch session.Epoch) ([]election.Candidate, error) {
	var loaded []election.Candidate
	stored, err := c.load(ctx, epoch, election.EntityCandidates, func(ctx context.Context) (func() bool, error) {
		candidates, err := c.reader.AllCandidates(ctx)
		if err != nil {
			return nil, err
		}
		loaded = candidates
		return func() bool { return c.store.PutCandidates(epoch, candidates) }, nil
	})
	if err != nil || !stored {
		return nil, err
	}
	return loaded, nil
}

// LoadWinner reads the election result. While the election runs the contract
// reverts; the error then matches election.ErrWinnerUnavailable.
func (c *Cache) LoadWinner(ctx context.Context, epoch session.Epoch) error {
	var winner election.Winner
	stored, err := c.load(ctx, epoch, election.EntityWinner, func(ctx context.Context) (func() bool, error) {
		w, err := c.reader.Winner(ctx)
		if err != nil {
			return nil, err
		}
		winner = w
		return func() bool { return c.store.PutWinner(epoch, w) }, nil
	})
	if err != nil {
		return err
	}
	if stored {
		c.notifier.Success("Winner Retrieved", fmt.Sprintf("Winner: %s with %d votes", winner.Name, winner.Votes))
	}
	return nil
}

// LoadAdmin reads the admin address.
func (c *Cache) LoadAdmin(ctx context.Context, epoch session.Epoch) error {
	_, err := c.load(ctx, epoch, election.EntityAdmin, func(ctx context.Context) (func() bool, error) {
		admin, err := c.reader.Admin(ctx)
		if err != nil {
			return nil, err
		}
		return func() bool { return c.store.PutAdmin(epoch, admin) }, nil
	})
	return err
}

// LoadUserVotes rebuilds the set of candidates the epoch's account voted for.
// Readers implementing contract.BatchVoteReader are queried in one round trip;
// otherwise one hasVotedFor call per candidate is issued in order.
func (c *Cache) LoadUserVotes(ctx context.Context, epoch session.Epoch, candidates []election.Candidate) error {
	_, err := c.load(ctx, epoch, election.EntityUserVotes, func(ctx context.Context) (func() bool, error) {
		votes, err := c.queryVotes(ctx, epoch, election.CandidateIDs(candidates))
		if err != nil {
			return nil, err
		}
		return func() bool { return c.store.PutUserVotes(epoch, votes) }, nil
	})
	return err
}

func (c *Cache) queryVotes(ctx context.Context, epoch session.Epoch, ids []uint64) (election.CandidateSet, error) {
	if len(ids) == 0 {
		return election.CandidateSet{}, nil
	}
	if batch, ok := c.reader.(contract.BatchVoteReader); ok {
		flags, err := batch.HasVotedForBatch(ctx, epoch.Account, ids)
		switch {
		case err == nil:
			voted := make([]uint64, 0, len(flags))
			for _, id := range ids {
				if flags[id] {
					voted = append(voted, id)
				}
			}
			return election.NewCandidateSet(voted...), nil
		case !errors.Is(err, contract.ErrBatchUnsupported):
			return election.CandidateSet{}, err
		}
	}
	voted := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return election.CandidateSet{}, err
		}
		ok, err := c.reader.HasVotedFor(ctx, epoch.Account, id)
		if err != nil {
			return election.CandidateSet{}, fmt.Errorf("candidate %d: %w", id, err)
		}
		if ok {
			voted = append(voted, id)
		}
	}
	return election.NewCandidateSet(voted...), nil
}

// Refresh loads targets for epoch. Independent entities load concurrently and
// fail independently; the user vote set is rebuilt once the candidate list is
// known. The returned error joins every failure.
func (c *Cache) Refresh(ctx context.Context, epoch session.Epoch, targets Target) error {
	ctx, span := c.tracer.Start(ctx, "readmodel.refresh",
		trace.WithAttributes(attribute.String("targets", targets.String())))
	defer span.End()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	run := func(target Target, fn func() error) {
		if !targets.Has(target) {
			return
		}
		g.Go(func() error {
			record(fn())
			return nil
		})
	}

	run(TargetSnapshot, func() error { return c.LoadElectionSnapshot(ctx, epoch) })
	run(TargetVoter, func() error { return c.LoadVoterRecord(ctx, epoch) })
	run(TargetAdmin, func() error { return c.LoadAdmin(ctx, epoch) })
	run(TargetWinner, func() error { return c.LoadWinner(ctx, epoch) })
	if targets.Has(TargetCandidates) || targets.Has(TargetUserVotes) {
		g.Go(func() error {
			record(c.refreshCandidates(ctx, epoch, targets))
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "partial refresh")
	}
	return err
}

func (c *Cache) refreshCandidates(ctx context.Context, epoch session.Epoch, targets Target) error {
	var candidates []election.Candidate
	if targets.Has(TargetCandidates) {
		loaded, err := c.LoadCandidates(ctx, epoch)
		if err != nil {
			return err
		}
		if loaded == nil && !c.store.Current(epoch) {
			return nil
		}
		candidates = loaded
	} else {
		candidates = c.store.View().Candidates
	}
	if !targets.Has(TargetUserVotes) {
		return nil
	}
	return c.LoadUserVotes(ctx, epoch, candidates)
}
