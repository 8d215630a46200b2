package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"runhub/internal/api"
	"runhub/pkg/logging"
)

// Source pairs an adapter with its refresh schedule.
type Source struct {
	Name            string
	Adapter         api.Adapter
	RefreshInterval time.Duration
}

// Provider supplies the enabled sources the indexer refreshes. Implemented
// by the adapter manager.
type Provider interface {
	Sources() []Source
}

// Options configures the indexer.
type Options struct {
	Detector    *Detector
	Checkpoints *CheckpointStore // nil disables checkpointing

	// DeletionGrace switches deletion from the default two-pass rule to a
	// time-based window: a document is deleted once it has been absent for
	// at least this long.
	DeletionGrace time.Duration

	// OnChange is invoked after each effective pass with the applied
	// changeset and the new corpus epoch.
	OnChange func(cs *api.ChangeSet, epoch uint64)
}

const defaultRefreshInterval = 5 * time.Minute

// Indexer maintains the corpus across all adapters: it enumerates
// inventories, computes changesets and swaps corpus snapshots.
type Indexer struct {
	provider Provider
	opts     Options

	snapshot atomic.Pointer[Snapshot]

	// mu serializes changeset integration and per-adapter state mutation.
	mu     sync.Mutex
	states map[string]*adapterState
	epoch  uint64

	inflightMu sync.Mutex
	inflight   map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// adapterState is the indexer's private per-adapter bookkeeping between
// passes.
type adapterState struct {
	docs                map[string]*api.Document
	missedOnce          map[string]bool
	lastSeen            map[string]time.Time
	lastPassAt          time.Time
	consecutiveFailures int
}

// NewIndexer creates an indexer over the provider's sources.
func NewIndexer(provider Provider, opts Options) *Indexer {
	ix := &Indexer{
		provider: provider,
		opts:     opts,
		states:   make(map[string]*adapterState),
		inflight: make(map[string]bool),
	}
	ix.snapshot.Store(EmptySnapshot())
	return ix
}

// Snapshot returns the current corpus snapshot. Callers hold the returned
// pointer for the duration of one tool call.
func (ix *Indexer) Snapshot() *Snapshot {
	return ix.snapshot.Load()
}

// Epoch returns the current corpus epoch.
func (ix *Indexer) Epoch() uint64 {
	return ix.Snapshot().Epoch
}

// Start launches one refresh loop per source. The first pass for each
// source runs immediately.
func (ix *Indexer) Start(ctx context.Context) {
	ctx, ix.cancel = context.WithCancel(ctx)
	for _, src := range ix.provider.Sources() {
		ix.wg.Add(1)
		go ix.runLoop(ctx, src)
	}
}

// Stop halts the refresh loops and waits for in-flight passes.
func (ix *Indexer) Stop() {
	if ix.cancel != nil {
		ix.cancel()
	}
	ix.wg.Wait()
}

func (ix *Indexer) runLoop(ctx context.Context, src Source) {
	defer ix.wg.Done()

	interval := src.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	if _, err := ix.RefreshAdapter(ctx, src.Name, src.Adapter); err != nil {
		logging.Warn("Indexer", "Initial refresh of %s failed: %v", src.Name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ix.RefreshAdapter(ctx, src.Name, src.Adapter); err != nil {
				logging.Warn("Indexer", "Refresh of %s failed: %v", src.Name, err)
			}
		}
	}
}

// RefreshAll runs one pass over every source and returns the merged
// changeset. Used by the engine-wide manual trigger.
func (ix *Indexer) RefreshAll(ctx context.Context) (*api.ChangeSet, error) {
	merged := &api.ChangeSet{ComputedAt: time.Now(), PerAdapter: make(map[string]api.AdapterChangeStats)}
	var firstErr error
	for _, src := range ix.provider.Sources() {
		cs, err := ix.RefreshAdapter(ctx, src.Name, src.Adapter)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		merged.Merge(cs)
	}
	return merged, firstErr
}

// RefreshAdapter runs one refresh pass for a single adapter. A pass that
// finds the prior one unfinished is skipped with a warning. Enumeration
// failures retain the prior per-adapter snapshot untouched.
func (ix *Indexer) RefreshAdapter(ctx context.Context, name string, ad api.Adapter) (*api.ChangeSet, error) {
	ix.inflightMu.Lock()
	if ix.inflight[name] {
		ix.inflightMu.Unlock()
		logging.Warn("Indexer", "Skipping refresh of %s: prior pass still running", name)
		return &api.ChangeSet{ComputedAt: time.Now()}, nil
	}
	ix.inflight[name] = true
	ix.inflightMu.Unlock()
	defer func() {
		ix.inflightMu.Lock()
		delete(ix.inflight, name)
		ix.inflightMu.Unlock()
	}()

	// Enumerate outside the integration lock; slow sources must not block
	// snapshot reads or other adapters' passes.
	seen := make(map[string]*api.Document)
	now := time.Now()
	err := ad.Enumerate(ctx, func(doc *api.Document) error {
		if doc.ID == "" {
			return fmt.Errorf("adapter %s produced a document without an id", name)
		}
		copied := *doc
		copied.AdapterName = name
		copied.LastSeenAt = now
		copied.Fingerprint = ComputeFingerprint(&copied)
		copied.QualityScore = QualityScore(&copied)
		seen[copied.ID] = &copied
		return nil
	})
	if err != nil {
		ix.mu.Lock()
		state := ix.stateFor(name)
		state.consecutiveFailures++
		failures := state.consecutiveFailures
		ix.mu.Unlock()
		return nil, fmt.Errorf("enumerating %s (failure %d in a row): %w", name, failures, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	state := ix.stateFor(name)
	state.consecutiveFailures = 0
	cs := ix.diffLocked(name, state, seen, now)
	state.lastPassAt = now

	if !cs.Empty() {
		ix.applyLocked(cs)
	}
	ix.saveCheckpoint(name, state)
	return cs, nil
}

// ConsecutiveFailures reports how many refresh passes in a row have failed
// for the adapter. Used by the health monitor.
func (ix *Indexer) ConsecutiveFailures(name string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if state, ok := ix.states[name]; ok {
		return state.consecutiveFailures
	}
	return 0
}

// LastPassAt reports when the adapter's last successful pass completed.
func (ix *Indexer) LastPassAt(name string) time.Time {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if state, ok := ix.states[name]; ok {
		return state.lastPassAt
	}
	return time.Time{}
}

func (ix *Indexer) stateFor(name string) *adapterState {
	state, ok := ix.states[name]
	if !ok {
		state = &adapterState{
			docs:       make(map[string]*api.Document),
			missedOnce: make(map[string]bool),
			lastSeen:   make(map[string]time.Time),
		}
		ix.states[name] = state
	}
	return state
}

// diffLocked computes the changeset for one adapter pass and mutates the
// adapter state to match. Callers hold ix.mu.
func (ix *Indexer) diffLocked(name string, state *adapterState, seen map[string]*api.Document, now time.Time) *api.ChangeSet {
	cs := &api.ChangeSet{
		ComputedAt: now,
		PerAdapter: map[string]api.AdapterChangeStats{},
	}
	stats := api.AdapterChangeStats{Seen: len(seen)}

	for id, doc := range seen {
		prior, exists := state.docs[id]
		switch {
		case !exists:
			cs.Additions = append(cs.Additions, doc)
			stats.Additions++
		case prior.Fingerprint.Composite() != doc.Fingerprint.Composite():
			cs.Updates = append(cs.Updates, api.DocumentUpdate{
				OldFingerprint: prior.Fingerprint,
				Document:       doc,
				Class:          ClassifyUpdate(prior.Fingerprint, doc.Fingerprint),
			})
			stats.Updates++
		}
		state.docs[id] = doc
		state.lastSeen[id] = now
		delete(state.missedOnce, id)
	}

	for id := range state.docs {
		if _, present := seen[id]; present {
			continue
		}
		if ix.confirmDeletion(state, id, now) {
			cs.Deletions = append(cs.Deletions, api.DocumentKey{AdapterName: name, ID: id})
			stats.Deletions++
			delete(state.docs, id)
			delete(state.missedOnce, id)
			delete(state.lastSeen, id)
		}
	}

	cs.PerAdapter[name] = stats
	return cs
}

// confirmDeletion decides whether an absent document is really gone. The
// default rule tolerates one missed pass; the time-based alternative
// waits out the configured grace window.
func (ix *Indexer) confirmDeletion(state *adapterState, id string, now time.Time) bool {
	if ix.opts.DeletionGrace > 0 {
		lastSeen, ok := state.lastSeen[id]
		return ok && now.Sub(lastSeen) >= ix.opts.DeletionGrace
	}
	if state.missedOnce[id] {
		return true
	}
	state.missedOnce[id] = true
	return false
}

// applyLocked integrates an effective changeset: bump the epoch, rebuild
// the global document map from the per-adapter states and swap the
// snapshot. Callers hold ix.mu.
func (ix *Indexer) applyLocked(cs *api.ChangeSet) {
	ix.epoch++
	docs := make(map[api.DocumentKey]*api.Document)
	for adapterName, state := range ix.states {
		for id, doc := range state.docs {
			docs[api.DocumentKey{AdapterName: adapterName, ID: id}] = doc
		}
	}
	snap := buildSnapshot(ix.epoch, docs, ix.opts.Detector)
	ix.snapshot.Store(snap)

	logging.Info("Indexer", "Applied changeset (+%d ~%d -%d), corpus epoch %d, %d documents",
		len(cs.Additions), len(cs.Updates), len(cs.Deletions), ix.epoch, len(docs))

	if ix.opts.OnChange != nil {
		ix.opts.OnChange(cs, ix.epoch)
	}
}

func (ix *Indexer) saveCheckpoint(name string, state *adapterState) {
	if ix.opts.Checkpoints == nil {
		return
	}
	cp := Checkpoint{
		AdapterName:  name,
		Fingerprints: make(map[string]api.Fingerprint, len(state.docs)),
		LastPassAt:   state.lastPassAt,
	}
	for id, doc := range state.docs {
		cp.Fingerprints[id] = doc.Fingerprint
	}
	if err := ix.opts.Checkpoints.Save(cp); err != nil {
		logging.Warn("Indexer", "Failed to save checkpoint for %s: %v", name, err)
	}
}
