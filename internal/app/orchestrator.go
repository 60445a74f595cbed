package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"pdl_sync/internal/adapters/observability"
	"pdl_sync/internal/domain"
	"pdl_sync/internal/retry"
)

type State string

const (
	StateIdle              State = "idle"
	StateSyncingAgencies   State = "syncing_agencies"
	StateSyncingProperties State = "syncing_properties"
)

const (
	KindFull       = "full"
	KindAgencies   = "agencies"
	KindProperties = "properties"
)

// Per-agency result labels.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

type SyncOptions struct {
	MaxAttempts      int
	RetryStep        time.Duration
	InterAgencyDelay time.Duration
	// ReplaceOnEmpty wipes an agency's properties when upstream returns none.
	ReplaceOnEmpty bool
	// DedupeField is the upstream field agencies are deduplicated on.
	DedupeField string
	// Sleep waits for retry backoff and the inter-agency delay. Defaults to
	// retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// AgencyResult is the property sync outcome of one agency.
type AgencyResult struct {
	Agency     string         `json:"agency"`
	Key        string         `json:"key,omitempty"`
	Result     string         `json:"result"`
	Reason     string         `json:"reason,omitempty"`
	Attempts   int            `json:"attempts"`
	Properties domain.Summary `json:"properties"`
	Error      string         `json:"error,omitempty"`

	err error
}

// RunReport describes one triggered run.
type RunReport struct {
	RunID           string         `json:"run_id"`
	Kind            string         `json:"kind"`
	Skipped         bool           `json:"skipped,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	Agencies        domain.Summary `json:"agencies"`
	Properties      domain.Summary `json:"properties"`
	Results         []AgencyResult `json:"results,omitempty"`
	AgenciesSynced  int            `json:"agencies_synced"`
	AgenciesFailed  int            `json:"agencies_failed"`
	AgenciesSkipped int            `json:"agencies_skipped"`
	Error           string         `json:"error,omitempty"`
}

func (r *RunReport) add(res AgencyResult) {
	r.Results = append(r.Results, res)
	switch res.Result {
	case ResultOK:
		r.AgenciesSynced++
	case ResultFailed:
		r.AgenciesFailed++
	default:
		r.AgenciesSkipped++
	}
	p := &r.Properties
	p.Total += res.Properties.Total
	p.Inserted += res.Properties.Inserted
	p.Updated += res.Properties.Updated
	p.Skipped += res.Properties.Skipped
	p.Errors += res.Properties.Errors
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	State        State      `json:"state"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastRun      *RunReport `json:"last_run,omitempty"`
	Bootstrapped bool       `json:"bootstrapped"`
}

// Orchestrator drives sync runs. At most one run is active at a time; any
// trigger arriving meanwhile is skipped.
type Orchestrator struct {
	upstream domain.Upstream
	store    domain.Store
	rec      *Reconciler
	opts     SyncOptions
	guard    *semaphore.Weighted

	mu           sync.Mutex
	state        State
	lastSuccess  time.Time
	lastRun      *RunReport
	bootstrapped bool
}

func NewOrchestrator(up domain.Upstream, store domain.Store, cache domain.Cache, opts SyncOptions) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.DedupeField == "" {
		opts.DedupeField = "Name"
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	return &Orchestrator{
		upstream: up,
		store:    store,
		rec:      NewReconciler(store, cache),
		opts:     opts,
		guard:    semaphore.NewWeighted(1),
		state:    StateIdle,
	}
}

// RunFull syncs agencies, then the properties of every stored agency.
func (o *Orchestrator) RunFull(ctx context.Context) (rep RunReport, err error) {
	ctx, rep, ok := o.begin(ctx, KindFull)
	if !ok {
		return rep, domain.ErrRunInProgress
	}
	defer o.done(ctx, &rep, &err)

	if err = o.syncAgencies(ctx, &rep); err != nil {
		return rep, err
	}
	err = o.syncAllProperties(ctx, &rep)
	return rep, err
}

// SyncAgencies runs the agency step only.
func (o *Orchestrator) SyncAgencies(ctx context.Context) (rep RunReport, err error) {
	ctx, rep, ok := o.begin(ctx, KindAgencies)
	if !ok {
		return rep, domain.ErrRunInProgress
	}
	defer o.done(ctx, &rep, &err)

	err = o.syncAgencies(ctx, &rep)
	return rep, err
}

// SyncAgencyProperties syncs the properties of one stored agency.
func (o *Orchestrator) SyncAgencyProperties(ctx context.Context, key string) (res AgencyResult, err error) {
	ctx, rep, ok := o.begin(ctx, KindProperties)
	if !ok {
		return AgencyResult{Key: key, Result: ResultSkipped, Reason: "run in progress"}, domain.ErrRunInProgress
	}
	defer o.done(ctx, &rep, &err)

	a, err := o.store.FindAgencyByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return AgencyResult{Key: key, Result: ResultFailed}, domain.ErrAgencyNotFound
	}
	if err != nil {
		return AgencyResult{Key: key, Result: ResultFailed}, fmt.Errorf("lookup agency: %w", err)
	}

	o.setState(StateSyncingProperties)
	res = o.syncAgency(ctx, a)
	rep.add(res)
	return res, res.err
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{State: o.state, Bootstrapped: o.bootstrapped}
	if !o.lastSuccess.IsZero() {
		t := o.lastSuccess
		st.LastSuccess = &t
	}
	if o.lastRun != nil {
		r := *o.lastRun
		st.LastRun = &r
	}
	return st
}

// begin claims the single-flight guard and returns a run-scoped context.
func (o *Orchestrator) begin(ctx context.Context, kind string) (context.Context, RunReport, bool) {
	rep := RunReport{RunID: uuid.NewString(), Kind: kind, StartedAt: time.Now().UTC()}
	if !o.guard.TryAcquire(1) {
		rep.Skipped = true
		rep.FinishedAt = rep.StartedAt
		logger(ctx).Info().Str("kind", kind).Str("state", string(o.Status().State)).Msg("sync already in progress, skipping")
		observability.ObserveRun(kind, ResultSkipped, 0)
		return ctx, rep, false
	}
	l := logger(ctx).With().Str("run_id", rep.RunID).Str("kind", kind).Logger()
	l.Info().Msg("sync started")
	return l.WithContext(ctx), rep, true
}

// done is deferred by every run. A panic inside the run is turned into the
// run's error so the guard is still released and the state reset.
func (o *Orchestrator) done(ctx context.Context, rep *RunReport, errp *error) {
	if p := recover(); p != nil {
		*errp = fmt.Errorf("sync panicked: %v", p)
	}
	o.finish(ctx, rep, *errp)
}

func (o *Orchestrator) finish(ctx context.Context, rep *RunReport, err error) {
	defer o.guard.Release(1)
	rep.FinishedAt = time.Now().UTC()
	dur := rep.FinishedAt.Sub(rep.StartedAt)

	result := ResultOK
	switch {
	case err != nil:
		result = ResultFailed
		rep.Error = err.Error()
	case rep.AgenciesFailed > 0 || rep.Agencies.Errors > 0 || rep.Properties.Errors > 0:
		result = "partial"
	}
	observability.ObserveRun(rep.Kind, result, dur)
	// reads that loaded mid-run may have cached a partial view
	o.rec.invalidate(ctx, agenciesCacheKey)

	o.mu.Lock()
	o.state = StateIdle
	if err == nil {
		o.lastSuccess = rep.FinishedAt
	}
	last := *rep
	o.lastRun = &last
	o.mu.Unlock()

	l := logger(ctx)
	ev := l.Info()
	if err != nil {
		ev = l.Error().Err(err)
	}
	ev.Str("result", result).
		Dur("took", dur).
		Str("agencies", rep.Agencies.String()).
		Str("properties", rep.Properties.String()).
		Int("agencies_synced", rep.AgenciesSynced).
		Int("agencies_failed", rep.AgenciesFailed).
		Msg("sync finished")
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: o.opts.MaxAttempts,
		Delay:       retry.Linear(o.opts.RetryStep),
		Sleep:       o.opts.Sleep,
		Retryable: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return !domain.IsPermanent(err)
		},
	}
}

func (o *Orchestrator) syncAgencies(ctx context.Context, rep *RunReport) error {
	o.setState(StateSyncingAgencies)
	l := logger(ctx)

	var recs []map[string]any
	_, err := o.policy().Do(ctx, "fetch agencies", func(ctx context.Context) error {
		var ferr error
		recs, ferr = o.upstream.FetchAgencies(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetch agencies: %w", err)
	}

	unique := DedupeBy(recs, o.opts.DedupeField)
	if dropped := len(recs) - len(unique); dropped > 0 {
		l.Info().Int("fetched", len(recs)).Int("duplicates", dropped).Msg("dropped duplicate agencies")
	}
	agencies := make([]domain.Agency, 0, len(unique))
	for _, rec := range unique {
		agencies = append(agencies, mapAgency(rec))
	}

	rep.Agencies = o.rec.ReconcileAgencies(ctx, agencies)
	l.Info().Str("summary", rep.Agencies.String()).Msg("agencies reconciled")
	return ctx.Err()
}

func (o *Orchestrator) syncAllProperties(ctx context.Context, rep *RunReport) error {
	o.setState(StateSyncingProperties)
	agencies, err := o.store.ListAgencies(ctx)
	if err != nil {
		return fmt.Errorf("list agencies: %w", err)
	}
	for _, a := range agencies {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := o.syncAgency(ctx, a)
		rep.add(res)
		if res.Attempts == 0 {
			continue
		}
		if !o.opts.Sleep(ctx, o.opts.InterAgencyDelay) {
			return ctx.Err()
		}
	}
	return nil
}

// syncAgency fetches and replaces the properties of a. Failures are reported
// on the result, never returned, so the caller can move on.
func (o *Orchestrator) syncAgency(ctx context.Context, a domain.Agency) AgencyResult {
	l := logger(ctx)
	res := AgencyResult{Agency: a.Name, Key: a.Key()}
	if res.Key == "" {
		res.Result, res.Reason = ResultSkipped, "missing unique key"
		observability.ObserveAgencyResult(res.Result)
		return res
	}

	var recs []map[string]any
	attempts, err := o.policy().Do(ctx, "fetch properties "+a.Name, func(ctx context.Context) error {
		var ferr error
		recs, ferr = o.upstream.FetchProperties(ctx, res.Key)
		return ferr
	})
	res.Attempts = attempts
	switch {
	case err != nil:
		res.Result, res.Error, res.err = ResultFailed, err.Error(), err
		l.Warn().Err(err).Str("agency", a.Name).Int("attempts", attempts).
			Bool("permanent", domain.IsPermanent(err)).Msg("property fetch failed")
	case len(recs) == 0 && !o.opts.ReplaceOnEmpty:
		res.Result, res.Reason = ResultSkipped, "no properties"
		l.Info().Str("agency", a.Name).Msg("no properties upstream, keeping stored snapshot")
	default:
		sum, rerr := o.rec.ReplaceProperties(ctx, a, recs)
		res.Properties = sum
		if rerr != nil {
			res.Result, res.Error, res.err = ResultFailed, rerr.Error(), rerr
			l.Error().Err(rerr).Str("agency", a.Name).Msg("property replace failed")
			break
		}
		res.Result = ResultOK
		l.Info().Str("agency", a.Name).Int("attempts", attempts).
			Int("inserted", sum.Inserted).Int("errors", sum.Errors).Msg("properties synced")
	}
	observability.ObserveAgencyResult(res.Result)
	return res
}

// claimBootstrap flips the bootstrap flag; only the first caller gets true.
func (o *Orchestrator) claimBootstrap() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bootstrapped {
		return false
	}
	o.bootstrapped = true
	return true
}

func (o *Orchestrator) releaseBootstrap() {
	o.mu.Lock()
	o.bootstrapped = false
	o.mu.Unlock()
}
