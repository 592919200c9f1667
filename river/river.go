// Package river runs the poll loop of a single river instance:
// poll the graph store, translate the changes, apply them to the index
// and commit the checkpoint of what the index acknowledged.
package river

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cert-lv/neo4j-river/pdk"
)

// ErrTerminated is returned by the waiters of a river stopped by a fatal error
var ErrTerminated = errors.New("river terminated")

type Options struct {
	Logger zerolog.Logger

	// Defaults to the global OpenTelemetry provider
	MeterProvider metric.MeterProvider
}

type River struct {
	conf       *pdk.River
	source     pdk.SourcePlugin
	sink       pdk.SinkPlugin
	store      pdk.StorePlugin
	translator Translator
	log        zerolog.Logger
	metrics    *metrics
	backoff    *backoff.ExponentialBackOff

	// Serializes cycles of Run and SyncOnce
	cycleMx sync.Mutex
	loaded  bool

	mx         sync.Mutex
	phase      Phase
	checkpoint pdk.Checkpoint
	failures   int
	lastErr    error
	started    uint64
	completed  uint64
	applied    uint64
	skipped    uint64

	// Closed and replaced on every status change
	changed chan struct{}
}

func New(conf *pdk.River, source pdk.SourcePlugin, sink pdk.SinkPlugin, store pdk.StorePlugin, opts Options) (*River, error) {
	if conf == nil {
		return nil, fmt.Errorf("River configuration is not defined")
	} else if source == nil || sink == nil || store == nil {
		return nil, fmt.Errorf("River '%s' needs a source, a sink and a store", conf.Name)
	}

	provider := opts.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	m, err := newMetrics(provider, conf.Name)
	if err != nil {
		return nil, fmt.Errorf("Can't create metrics: %s", err.Error())
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conf.Backoff.Initial
	b.MaxInterval = conf.Backoff.Max
	b.MaxElapsedTime = 0
	b.Reset()

	return &River{
		conf:       conf,
		source:     source,
		sink:       sink,
		store:      store,
		translator: Translator{LabelsField: conf.Index.LabelsField},
		log:        opts.Logger.With().Str("river", conf.Name).Logger(),
		metrics:    m,
		backoff:    b,
		changed:    make(chan struct{}),
	}, nil
}

func (r *River) Name() string {
	return r.conf.Name
}

/*
 * Run the poll loop until the context is cancelled or a fatal error happens.
 * Cancellation is a normal stop and returns nil
 */
func (r *River) Run(ctx context.Context) error {
	r.log.Info().
		Str("index", r.conf.Index.Name).
		Dur("interval", r.conf.Interval).
		Int("batch", r.conf.BatchSize).
		Msg("River started")

	for {
		full, err := r.runCycle(ctx)

		if ctx.Err() != nil {
			r.setPhase(Idle)
			r.log.Info().Msg("River stopped")
			return nil
		}

		if err != nil {
			if !pdk.Retryable(err) {
				r.terminate(err)
				return err
			}

			if !sleep(ctx, r.fail(ctx, err)) {
				r.setPhase(Idle)
				r.log.Info().Msg("River stopped")
				return nil
			}
			continue
		}

		r.succeed()

		// Drain the backlog without waiting when the batch was full
		if full {
			continue
		}

		if !sleep(ctx, r.conf.Interval) {
			r.log.Info().Msg("River stopped")
			return nil
		}
	}
}

/*
 * Run exactly one cycle synchronously.
 * Not to be mixed with a running Run on the same river
 */
func (r *River) SyncOnce(ctx context.Context) error {
	_, err := r.runCycle(ctx)
	if err != nil {
		if !pdk.Retryable(err) {
			r.terminate(err)
		} else if ctx.Err() == nil {
			r.fail(ctx, err)
		}
		return err
	}

	r.succeed()
	return nil
}

func (r *River) runCycle(ctx context.Context) (bool, error) {
	r.cycleMx.Lock()
	defer r.cycleMx.Unlock()

	if !r.loaded {
		checkpoint, err := r.store.Load(ctx, r.conf.Name)
		if err != nil {
			return false, fmt.Errorf("Can't load checkpoint: %w", err)
		}

		r.mx.Lock()
		r.checkpoint = checkpoint
		r.mx.Unlock()
		r.loaded = true

		r.log.Debug().Uint64("checkpoint", checkpoint.Sequence).Msg("Checkpoint loaded")
	}

	return r.cycle(ctx)
}

/*
 * Poll -> translate -> write -> commit.
 * Returns whether the source returned a full batch
 */
func (r *River) cycle(ctx context.Context) (bool, error) {
	r.mx.Lock()
	r.started++
	number := r.started
	since := r.checkpoint
	r.mx.Unlock()

	// Plugins log through the river's logger
	ctx = r.log.WithContext(ctx)

	r.setPhase(Polling)

	records, _, err := r.source.Poll(ctx, since)
	if err != nil {
		return false, fmt.Errorf("Can't poll the source: %w", err)
	}

	// Positions must move strictly forward from the committed checkpoint
	last := since
	for _, record := range records {
		if !last.Before(record.Position) {
			return false, fmt.Errorf("Source returned position %d after %d for node '%s': %w",
				record.Position.Sequence, last.Sequence, record.NodeID, pdk.ErrCheckpointRegression)
		}
		last = record.Position
	}

	if len(records) == 0 {
		r.complete(number)
		return false, nil
	}

	r.setPhase(Translating)
	actions, owners := r.translate(ctx, records)

	r.setPhase(Writing)

	acked := 0
	var applyErr error

	if len(actions) > 0 {
		acked, applyErr = r.sink.Apply(ctx, actions)
		if acked < 0 || acked > len(actions) {
			return false, fmt.Errorf("Sink acknowledged %d of %d actions", acked, len(actions))
		}
	}

	// Stopped while writing, don't commit anything of this batch
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	handled := len(records)
	if acked < len(actions) {
		handled = owners[acked]
	}

	if handled > 0 {
		r.setPhase(CheckpointCommit)

		position := records[handled-1].Position
		err = r.store.Commit(ctx, r.conf.Name, position, records[:handled])
		if err != nil {
			return false, fmt.Errorf("Can't commit checkpoint %d: %w", position.Sequence, err)
		}

		r.advance(position, handled)
		r.metrics.recordApplied(ctx, handled)

		r.log.Debug().
			Uint64("checkpoint", position.Sequence).
			Int("records", handled).
			Msg("Checkpoint committed")
	}

	if applyErr != nil {
		return false, applyErr
	}

	r.complete(number)
	return len(records) >= r.conf.BatchSize, nil
}

/*
 * Translate records into actions, skipping untranslatable ones.
 * owners[i] is the index of the record the i-th action came from
 */
func (r *River) translate(ctx context.Context, records []pdk.ChangeRecord) ([]pdk.Action, []int) {
	actions := make([]pdk.Action, 0, len(records))
	owners := make([]int, 0, len(records))
	skipped := 0

	for i, record := range records {
		action, err := r.translator.Translate(record)
		if err != nil {
			skipped++
			r.log.Warn().
				Str("node", record.NodeID).
				Str("kind", record.Kind.String()).
				Msg("Record skipped: " + err.Error())
			continue
		}

		actions = append(actions, action)
		owners = append(owners, i)
	}

	if skipped > 0 {
		r.mx.Lock()
		r.skipped += uint64(skipped)
		r.mx.Unlock()
		r.metrics.recordSkipped(ctx, skipped)
	}

	return actions, owners
}

/*
 * Register a failed cycle and return how long to wait before the next one
 */
func (r *River) fail(ctx context.Context, err error) time.Duration {
	wait := r.backoff.NextBackOff()
	if wait == backoff.Stop {
		wait = r.conf.Backoff.Max
	}

	r.mx.Lock()
	r.failures++
	failures := r.failures
	r.lastErr = err
	r.phase = BackoffWait
	r.notify()
	r.mx.Unlock()

	r.metrics.recordFailure(ctx)

	if failures%r.conf.Backoff.LogAfter == 0 {
		r.log.Error().
			Int("failures", failures).
			Dur("wait", wait).
			Msg("River keeps failing: " + err.Error())
	} else {
		r.log.Debug().
			Int("failures", failures).
			Dur("wait", wait).
			Msg("Cycle failed: " + err.Error())
	}

	return wait
}

func (r *River) succeed() {
	r.mx.Lock()
	if r.failures > 0 {
		r.log.Info().Int("failures", r.failures).Msg("River recovered")
	}
	r.failures = 0
	r.lastErr = nil
	r.phase = Idle
	r.notify()
	r.mx.Unlock()

	r.backoff.Reset()
}

func (r *River) terminate(err error) {
	r.mx.Lock()
	r.lastErr = err
	r.phase = Terminated
	r.notify()
	r.mx.Unlock()

	r.log.Error().Msg("River terminated: " + err.Error())
}

func (r *River) setPhase(phase Phase) {
	r.mx.Lock()
	if r.phase != Terminated {
		r.phase = phase
		r.notify()
	}
	r.mx.Unlock()
}

func (r *River) advance(checkpoint pdk.Checkpoint, records int) {
	r.mx.Lock()
	r.checkpoint = checkpoint
	r.applied += uint64(records)
	r.notify()
	r.mx.Unlock()
}

func (r *River) complete(number uint64) {
	r.mx.Lock()
	if number > r.completed {
		r.completed = number
	}
	r.notify()
	r.mx.Unlock()
}

// Must be called with r.mx held
func (r *River) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *River) Status() Status {
	r.mx.Lock()
	defer r.mx.Unlock()

	return Status{
		Name:       r.conf.Name,
		Phase:      r.phase,
		Checkpoint: r.checkpoint,
		Failures:   r.failures,
		LastError:  r.lastErr,
		Cycles:     r.completed,
		Applied:    r.applied,
		Skipped:    r.skipped,
	}
}

/*
 * Block until n cycles, started after this call, complete successfully.
 * A cycle already running when WaitCycles is called doesn't count,
 * as it may have polled before the caller's changes
 */
func (r *River) WaitCycles(ctx context.Context, n uint64) error {
	r.mx.Lock()
	target := r.started + n
	r.mx.Unlock()

	for {
		r.mx.Lock()
		if r.completed >= target {
			r.mx.Unlock()
			return nil
		}
		if r.phase == Terminated {
			err := r.lastErr
			r.mx.Unlock()
			return fmt.Errorf("%w: %v", ErrTerminated, err)
		}
		changed := r.changed
		r.mx.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

/*
 * Block until the committed checkpoint reaches the given sequence
 */
func (r *River) WaitCheckpoint(ctx context.Context, sequence uint64) error {
	for {
		r.mx.Lock()
		if r.checkpoint.Sequence >= sequence {
			r.mx.Unlock()
			return nil
		}
		if r.phase == Terminated {
			err := r.lastErr
			r.mx.Unlock()
			return fmt.Errorf("%w: %v", ErrTerminated, err)
		}
		changed := r.changed
		r.mx.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Returns false when the context is done before the duration elapses
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
