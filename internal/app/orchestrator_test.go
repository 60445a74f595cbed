package app_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdl_sync/internal/app"
	"pdl_sync/internal/domain"
)

func TestRunFull_EndToEnd(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"), agency("Acme", "k1"), agency("Beta", "k2"))
	up.props["k1"] = []map[string]any{{"Price": "100000", "BedRooms": "3"}}
	o := newOrchestrator(up, store, app.SyncOptions{})
	ctx := context.Background()

	rep, err := o.RunFull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Agencies.Inserted)
	assert.Equal(t, 1, rep.AgenciesSynced)
	assert.Equal(t, 1, rep.AgenciesSkipped) // Beta has no properties upstream
	assert.NotEmpty(t, rep.RunID)

	n, err := store.CountAgencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	acme, err := store.FindAgencyByKey(ctx, "k1")
	require.NoError(t, err)
	ps, err := store.ListProperties(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Acme", ps[0].AgencyName)
	assert.Equal(t, "100000", ps[0].Price)
	assert.Equal(t, 3, ps[0].Bedrooms)

	st := o.Status()
	assert.Equal(t, app.StateIdle, st.State)
	require.NotNil(t, st.LastSuccess)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, rep.RunID, st.LastRun.RunID)
}

func TestRunFull_Idempotent(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"), agency("Beta", "k2"))
	up.props["k1"] = []map[string]any{{"Price": "1"}, {"Price": "2"}}
	o := newOrchestrator(up, store, app.SyncOptions{})
	ctx := context.Background()

	_, err := o.RunFull(ctx)
	require.NoError(t, err)
	rep, err := o.RunFull(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Agencies.Inserted)
	assert.Equal(t, 2, rep.Agencies.Updated)
	n, _ := store.CountAgencies(ctx)
	assert.Equal(t, 2, n)
	acme, _ := store.FindAgencyByKey(ctx, "k1")
	c, _ := store.CountProperties(ctx, acme.ID)
	assert.Equal(t, 2, c)
}

func TestRunFull_SingleFlight(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	up.props["k1"] = []map[string]any{{"Price": "1"}}
	up.entered = make(chan struct{}, 1)
	up.gate = make(chan struct{})
	o := newOrchestrator(up, store, app.SyncOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = o.RunFull(ctx)
	}()
	<-up.entered
	assert.Equal(t, app.StateSyncingAgencies, o.Status().State)

	rep, err := o.RunFull(ctx)
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.True(t, rep.Skipped)
	_, err = o.SyncAgencyProperties(ctx, "k1")
	assert.ErrorIs(t, err, domain.ErrRunInProgress)

	close(up.gate)
	wg.Wait()
	require.NoError(t, firstErr)

	n, _ := store.CountAgencies(ctx)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, up.callsFor("k1"))
	assert.Equal(t, app.StateIdle, o.Status().State)
}

func TestRunFull_RetriesTransientFailures(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	up.props["k1"] = []map[string]any{{"Price": "1"}}
	up.failures["k1"] = []error{transient(), transient()}
	o := newOrchestrator(up, store, app.SyncOptions{MaxAttempts: 3})

	rep, err := o.RunFull(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, app.ResultOK, rep.Results[0].Result)
	assert.Equal(t, 3, rep.Results[0].Attempts)
	assert.Equal(t, 3, up.callsFor("k1"))
}

func TestRunFull_NotFoundIsNotRetried(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"), agency("Beta", "k2"))
	up.props["k2"] = []map[string]any{{"Price": "5"}}
	up.failures["k1"] = []error{notFound(), notFound(), notFound()}
	o := newOrchestrator(up, store, app.SyncOptions{MaxAttempts: 3})

	rep, err := o.RunFull(context.Background())
	require.NoError(t, err, "per-agency failures do not abort the run")
	assert.Equal(t, 1, up.callsFor("k1"))
	assert.Equal(t, 1, rep.AgenciesFailed)
	assert.Equal(t, 1, rep.AgenciesSynced)
}

func TestRunFull_ExhaustedRetriesFailAgency(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	up.failures["k1"] = []error{transient(), transient(), transient(), transient()}
	o := newOrchestrator(up, store, app.SyncOptions{MaxAttempts: 3})

	rep, err := o.RunFull(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, app.ResultFailed, rep.Results[0].Result)
	assert.Equal(t, 3, up.callsFor("k1"))
	assert.Contains(t, rep.Results[0].Error, "after 3 attempts")
}

func TestRunFull_AgencyFetchFailureAborts(t *testing.T) {
	store := newStore(t)
	up := newUpstream()
	up.agencyErr = &domain.UpstreamError{Kind: domain.Permanent, Op: "agencies", Status: 401, Err: errors.New("bad key")}
	o := newOrchestrator(up, store, app.SyncOptions{MaxAttempts: 3})

	rep, err := o.RunFull(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
	assert.NotEmpty(t, rep.Error)
	assert.Equal(t, 1, up.callsFor("agencies"))

	st := o.Status()
	assert.Nil(t, st.LastSuccess)
	assert.Equal(t, app.StateIdle, st.State)

	// guard released: the next run goes through
	up.agencyErr = nil
	_, err = o.RunFull(context.Background())
	assert.NoError(t, err)
}

func TestRunFull_EmptyListKeepsSnapshot(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	up.props["k1"] = []map[string]any{{"Price": "1"}}
	o := newOrchestrator(up, store, app.SyncOptions{})
	ctx := context.Background()

	_, err := o.RunFull(ctx)
	require.NoError(t, err)

	up.props["k1"] = nil
	rep, err := o.RunFull(ctx)
	require.NoError(t, err)
	assert.Equal(t, "no properties", rep.Results[0].Reason)
	acme, _ := store.FindAgencyByKey(ctx, "k1")
	c, _ := store.CountProperties(ctx, acme.ID)
	assert.Equal(t, 1, c)

	wipe := newOrchestrator(up, store, app.SyncOptions{ReplaceOnEmpty: true})
	_, err = wipe.RunFull(ctx)
	require.NoError(t, err)
	c, _ = store.CountProperties(ctx, acme.ID)
	assert.Zero(t, c)
}

func TestSyncAgencies_OnlyAgencies(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"), map[string]any{"Name": "NoKey"})
	o := newOrchestrator(up, store, app.SyncOptions{})

	rep, err := o.SyncAgencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, app.KindAgencies, rep.Kind)
	assert.Equal(t, domain.Summary{Total: 2, Inserted: 1, Skipped: 1}, rep.Agencies)
	assert.Zero(t, up.callsFor("k1"))
}

func TestSyncAgencyProperties(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	up.props["k1"] = []map[string]any{{"Price": "1"}, {"Price": "2"}}
	o := newOrchestrator(up, store, app.SyncOptions{})
	ctx := context.Background()

	_, err := o.SyncAgencyProperties(ctx, "k1")
	assert.ErrorIs(t, err, domain.ErrAgencyNotFound)

	_, err = o.SyncAgencies(ctx)
	require.NoError(t, err)
	res, err := o.SyncAgencyProperties(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, app.ResultOK, res.Result)
	assert.Equal(t, 2, res.Properties.Inserted)

	up.failures["k1"] = []error{notFound()}
	res, err = o.SyncAgencyProperties(ctx, "k1")
	assert.True(t, domain.IsPermanent(err))
	assert.Equal(t, app.ResultFailed, res.Result)
	assert.Equal(t, 1, res.Attempts)
}

func TestRunFull_PanicReleasesGuard(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	up.panicky = true
	o := newOrchestrator(up, store, app.SyncOptions{})

	_, err := o.RunFull(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	up.panicky = false
	_, err = o.RunFull(context.Background())
	assert.NoError(t, err)
}

func TestRunFull_CancelledContext(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	o := newOrchestrator(up, store, app.SyncOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.RunFull(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, app.StateIdle, o.Status().State)
}

// sleepLog records requested waits without sleeping.
type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err() == nil
}

func TestRunFull_InterAgencyDelayAfterEveryAttempt(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	// stored without a key, so its properties are never fetched
	_, err := store.InsertAgency(ctx, domain.Agency{Name: "Keyless"})
	require.NoError(t, err)

	up := newUpstream(agency("Acme", "k1"), agency("Beta", "k2"), agency("Gamma", "k3"))
	up.failures["k1"] = []error{notFound()}
	up.props["k2"] = []map[string]any{{"Price": "1"}}
	slept := &sleepLog{}
	o := newOrchestrator(up, store, app.SyncOptions{
		MaxAttempts:      3,
		RetryStep:        time.Second,
		InterAgencyDelay: 250 * time.Millisecond,
		Sleep:            slept.sleep,
	})

	rep, err := o.RunFull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AgenciesFailed)
	assert.Equal(t, 1, rep.AgenciesSynced)
	assert.Equal(t, 2, rep.AgenciesSkipped)

	// failed, synced and empty agencies each wait once; the keyless one does not
	d := 250 * time.Millisecond
	assert.Equal(t, []time.Duration{d, d, d}, slept.waits)
}

func TestRunFull_RetryBackoffIsLinear(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"))
	up.props["k1"] = []map[string]any{{"Price": "1"}}
	up.failures["k1"] = []error{transient(), transient()}
	slept := &sleepLog{}
	o := newOrchestrator(up, store, app.SyncOptions{
		MaxAttempts:      3,
		RetryStep:        100 * time.Millisecond,
		InterAgencyDelay: 2 * time.Second,
		Sleep:            slept.sleep,
	})

	rep, err := o.RunFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, app.ResultOK, rep.Results[0].Result)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 2 * time.Second}, slept.waits)
}

func TestRunFull_InterAgencyDelayWallClock(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"), agency("Beta", "k2"))
	up.failures["k1"] = []error{notFound()}
	up.props["k2"] = []map[string]any{{"Price": "1"}}
	o := newOrchestrator(up, store, app.SyncOptions{InterAgencyDelay: 40 * time.Millisecond})

	start := time.Now()
	_, err := o.RunFull(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRunFull_CancelDuringInterAgencyDelay(t *testing.T) {
	store := newStore(t)
	up := newUpstream(agency("Acme", "k1"), agency("Beta", "k2"))
	up.props["k1"] = []map[string]any{{"Price": "1"}}
	up.props["k2"] = []map[string]any{{"Price": "2"}}
	o := newOrchestrator(up, store, app.SyncOptions{InterAgencyDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	rep, err := o.RunFull(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rep.Results, 1)
	assert.Zero(t, up.callsFor("k2"))
}

func TestRunFull_LogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).With().Str("request_id", "req-7").Logger().WithContext(context.Background())
	o := newOrchestrator(newUpstream(agency("Acme", "k1")), newStore(t), app.SyncOptions{})

	rep, err := o.RunFull(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"run_id":"`+rep.RunID+`"`)
	assert.Contains(t, buf.String(), "sync started")
}
