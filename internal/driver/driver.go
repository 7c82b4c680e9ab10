// Package driver runs the enrichment batch: items fan out to a bounded
// worker pool, each item fans out to the configured provider adapters, and
// the collected facts are reconciled into a canonical record before the
// item is marked complete.
package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openshelf/bibcat/internal/factstore"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/provider"
	"github.com/openshelf/bibcat/internal/reconcile"
	"github.com/openshelf/bibcat/internal/resilience"
	"github.com/openshelf/bibcat/internal/state"
	"github.com/openshelf/bibcat/internal/store"
)

// Driver coordinates one batch run.
type Driver struct {
	store       store.Store
	tracker     *state.Tracker
	engine      *reconcile.Engine
	adapters    []provider.Adapter
	concurrency int
	now         func() time.Time
}

// Options configures a Driver.
type Options struct {
	Store       store.Store
	Tracker     *state.Tracker
	Engine      *reconcile.Engine
	Adapters    []provider.Adapter
	Concurrency int
}

// New creates a Driver.
func New(opts Options) *Driver {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Driver{
		store:       opts.Store,
		tracker:     opts.Tracker,
		engine:      opts.Engine,
		adapters:    opts.Adapters,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Result summarizes one run.
type Result struct {
	Total     int
	Skipped   int
	Processed int
	Succeeded int
	Failed    int

	FailedItems []string
}

// Run processes the batch. Items already recorded complete are skipped, so
// rerunning after an interruption resumes where the previous run stopped.
// A per-item failure marks that item failed and moves on; only state
// corruption and context cancellation abort the run.
func (d *Driver) Run(ctx context.Context, items []model.Item) (*Result, error) {
	if err := d.tracker.Begin(ctx, len(items)); err != nil {
		return nil, err
	}

	res := &Result{Total: len(items)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, item := range items {
		if d.tracker.Completed(item.Barcode) {
			res.Skipped++
			continue
		}
		// Cancellation takes effect between items; in-flight items finish.
		if err := ctx.Err(); err != nil {
			break
		}

		g.Go(func() error {
			succeeded, sources := d.processItem(gctx, item)

			mu.Lock()
			defer mu.Unlock()
			res.Processed++
			if succeeded {
				res.Succeeded++
				if err := d.tracker.MarkCompleted(gctx, item.Barcode, sources); err != nil {
					return err
				}
			} else {
				res.Failed++
				res.FailedItems = append(res.FailedItems, item.Barcode)
				if err := d.tracker.MarkFailed(gctx, item.Barcode); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "run cancelled")
	}

	sort.Strings(res.FailedItems)
	if err := d.tracker.FinishRun(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// processItem runs one item end to end. It returns whether the item
// succeeded and the remote sources that contributed at least one usable
// fact. An item fails when any adapter fails terminally; partial results
// are still persisted as facts so the retry run starts warmer.
func (d *Driver) processItem(ctx context.Context, item model.Item) (bool, []model.Source) {
	log := zap.L().With(zap.String("item", item.Barcode))

	if err := d.store.UpsertItem(ctx, item); err != nil {
		log.Error("upsert item failed", zap.Error(err))
		return false, nil
	}

	facts := factstore.New()
	facts.AssertAll(seedFacts(item, d.now().UTC()))

	var (
		mu        sync.Mutex
		failed    bool
		collected []model.Fact
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range d.adapters {
		g.Go(func() error {
			got, err := adapter.Lookup(gctx, item)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = true
				log.Warn("adapter lookup failed",
					zap.String("source", string(adapter.Source())),
					zap.String("class", resilience.Classify(err)),
					zap.Error(err),
				)
				if rerr := d.store.RecordFailure(ctx, model.ProviderFailure{
					ItemID:     item.Barcode,
					Source:     adapter.Source(),
					Reason:     err.Error(),
					Transient:  resilience.IsTransient(err),
					OccurredAt: d.now().UTC(),
				}); rerr != nil {
					log.Error("record failure failed", zap.Error(rerr))
				}
				return nil
			}
			collected = append(collected, got...)
			return nil
		})
	}
	_ = g.Wait()

	facts.AssertAll(collected)
	newFacts := facts.FactsFor(item.Barcode, "")
	if err := d.store.InsertFacts(ctx, newFacts); err != nil {
		log.Error("insert facts failed", zap.Error(err))
		return false, nil
	}

	// Reconcile over everything ever asserted for the item, not just this
	// run's haul, so corrections from earlier runs keep participating.
	allFacts, err := d.store.ListFacts(ctx, item.Barcode)
	if err != nil {
		log.Error("list facts failed", zap.Error(err))
		return false, nil
	}
	record := d.engine.Reconcile(item.Barcode, allFacts)
	if err := d.store.WriteCanonicalRecord(ctx, record); err != nil {
		log.Error("write canonical record failed", zap.Error(err))
		return false, nil
	}

	if failed {
		return false, nil
	}

	log.Info("item enriched",
		zap.Int("facts", len(newFacts)),
		zap.Int("fields", len(record.Fields)),
	)
	return true, contributingSources(collected)
}

// seedFacts turns the item's own catalog row into local facts so every
// record has a floor even when all providers come up empty.
func seedFacts(item model.Item, observedAt time.Time) []model.Fact {
	seed := func(field model.FieldName, value string) model.Fact {
		return model.Fact{
			ItemID:     item.Barcode,
			Field:      field,
			Value:      value,
			Source:     model.SourceLocalMARC,
			Confidence: 1.0,
			Method:     model.MatchExactIdentifier,
			ObservedAt: observedAt,
		}
	}
	return []model.Fact{
		seed(model.FieldTitle, item.Title),
		seed(model.FieldAuthor, item.Author),
		seed(model.FieldISBN, item.ISBN),
	}
}

// contributingSources lists the distinct remote sources behind a set of
// usable facts. The local seed is excluded: it is present for every item
// and would drown the per-source counters.
func contributingSources(facts []model.Fact) []model.Source {
	seen := make(map[model.Source]struct{})
	for _, f := range facts {
		if f.Value == "" || f.Source == model.SourceLocalMARC {
			continue
		}
		seen[f.Source] = struct{}{}
	}
	out := make([]model.Source, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
