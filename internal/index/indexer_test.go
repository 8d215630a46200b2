package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"runhub/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter implements just enough of api.Adapter for indexer tests.
type fakeAdapter struct {
	docs    []*api.Document
	enumErr error
}

func (f *fakeAdapter) Initialize(ctx context.Context, cfg api.SourceConfig) error { return nil }
func (f *fakeAdapter) Search(ctx context.Context, query string, opts api.SearchOptions) ([]*api.SearchResult, error) {
	return nil, nil
}
func (f *fakeAdapter) GetDocument(ctx context.Context, id string) (*api.Document, error) {
	return nil, api.NotFound("document", id)
}
func (f *fakeAdapter) SearchRunbooks(ctx context.Context, query api.RunbookQuery) ([]*api.SearchResult, error) {
	return nil, nil
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) api.HealthSnapshot {
	return api.HealthSnapshot{Status: api.HealthHealthy}
}
func (f *fakeAdapter) Metadata() api.AdapterMetadata { return api.AdapterMetadata{} }
func (f *fakeAdapter) Enumerate(ctx context.Context, fn api.EnumerateFunc) error {
	if f.enumErr != nil {
		return f.enumErr
	}
	for _, doc := range f.docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeAdapter) Cleanup(ctx context.Context) error { return nil }

type staticProvider struct {
	sources []Source
}

func (p *staticProvider) Sources() []Source { return p.sources }

func textDoc(id, body string) *api.Document {
	return &api.Document{ID: id, Title: id, Body: body, ContentType: "text"}
}

func runbookDoc(id, body string) *api.Document {
	return &api.Document{ID: id, Title: id, Body: body, ContentType: ContentTypeRunbook}
}

const diskRunbookBody = `
title: Disk space critical response
alert_types: ["disk_space_critical"]
severities: ["critical", "high"]
affected_systems: ["db-primary"]
success_rate: 0.92
avg_resolution_time: 25m
decision_tree:
  condition: "is the volume /var?"
  scenario: "disk_pressure"
  confidence: 0.9
  branches:
    - condition: "logs growing?"
      action: "rotate logs"
      confidence: 0.8
procedures:
  - id: emergency_disk_cleanup
    title: Emergency disk cleanup
    steps:
      - action: "identify largest directories"
        command: "du -sh /var/* | sort -rh | head"
      - action: "rotate and compress logs"
      - action: "clear package caches"
      - action: "verify free space"
        expected_output: "at least 20% free"
escalation:
  - role: primary-oncall
    severity: critical
  - role: storage-team
    severity: critical
    business_hours: true
`

func newTestIndexer(ad *fakeAdapter, opts Options) *Indexer {
	provider := &staticProvider{sources: []Source{{Name: "fs", Adapter: ad}}}
	if opts.Detector == nil {
		opts.Detector = NewDetector(DetectorConfig{})
	}
	return NewIndexer(provider, opts)
}

func TestRefreshAddsDocumentsAndBumpsEpoch(t *testing.T) {
	ad := &fakeAdapter{docs: []*api.Document{
		runbookDoc("rb-disk", diskRunbookBody),
		textDoc("kb-1", "# Postgres tuning\nSome advice."),
	}}
	ix := newTestIndexer(ad, Options{})
	ctx := context.Background()

	require.Equal(t, uint64(0), ix.Epoch())

	cs, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.Len(t, cs.Additions, 2)
	assert.Equal(t, uint64(1), ix.Epoch())

	snap := ix.Snapshot()
	assert.Equal(t, 2, snap.TotalDocuments())
	assert.Equal(t, 2, snap.DocumentCount("fs"))
	assert.Len(t, snap.Runbooks, 1)

	// A second identical pass has no effect and must not bump the epoch.
	cs, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.True(t, cs.Empty())
	assert.Equal(t, uint64(1), ix.Epoch())
}

func TestRefreshClassifiesUpdates(t *testing.T) {
	doc := textDoc("kb-1", "# Title\noriginal body")
	doc.Metadata = map[string]string{"team": "storage"}
	ad := &fakeAdapter{docs: []*api.Document{doc}}
	ix := newTestIndexer(ad, Options{})
	ctx := context.Background()

	_, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)

	// Content change only.
	changed := textDoc("kb-1", "# Title\nrewritten body")
	changed.Metadata = map[string]string{"team": "storage"}
	ad.docs = []*api.Document{changed}

	cs, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	require.Len(t, cs.Updates, 1)
	update := cs.Updates[0]
	assert.True(t, update.Class.Content)
	assert.False(t, update.Class.Metadata)
	assert.Equal(t, uint64(2), ix.Epoch())

	// Metadata change only.
	retagged := textDoc("kb-1", "# Title\nrewritten body")
	retagged.Metadata = map[string]string{"team": "platform"}
	ad.docs = []*api.Document{retagged}

	cs, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	require.Len(t, cs.Updates, 1)
	assert.False(t, cs.Updates[0].Class.Content)
	assert.True(t, cs.Updates[0].Class.Metadata)
}

func TestTwoPassDeletionGrace(t *testing.T) {
	doc := textDoc("kb-1", "body")
	ad := &fakeAdapter{docs: []*api.Document{doc}}
	ix := newTestIndexer(ad, Options{})
	ctx := context.Background()

	_, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	epochAfterAdd := ix.Epoch()

	// Pass 2: the document transiently disappears. It must survive.
	ad.docs = nil
	cs, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.Empty(t, cs.Deletions)
	assert.Equal(t, 1, ix.Snapshot().TotalDocuments())
	assert.Equal(t, epochAfterAdd, ix.Epoch())

	// Pass 3: the document is back. The candidate mark is cleared.
	ad.docs = []*api.Document{textDoc("kb-1", "body")}
	cs, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.Empty(t, cs.Deletions)

	// Pass 4 and 5: absent twice in a row, now it is deleted.
	ad.docs = nil
	cs, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.Empty(t, cs.Deletions)

	cs, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	require.Len(t, cs.Deletions, 1)
	assert.Equal(t, "kb-1", cs.Deletions[0].ID)
	assert.Equal(t, 0, ix.Snapshot().TotalDocuments())
	assert.Equal(t, epochAfterAdd+1, ix.Epoch())
}

func TestTimeBasedDeletionGrace(t *testing.T) {
	doc := textDoc("kb-1", "body")
	ad := &fakeAdapter{docs: []*api.Document{doc}}
	ix := newTestIndexer(ad, Options{DeletionGrace: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)

	// Within the grace window the absent document survives any number of
	// passes.
	ad.docs = nil
	cs, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.Empty(t, cs.Deletions)

	time.Sleep(60 * time.Millisecond)
	cs, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.Len(t, cs.Deletions, 1)
}

func TestEnumerationFailureRetainsSnapshot(t *testing.T) {
	ad := &fakeAdapter{docs: []*api.Document{textDoc("kb-1", "body")}}
	ix := newTestIndexer(ad, Options{})
	ctx := context.Background()

	_, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)

	ad.enumErr = errors.New("connection refused")
	_, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.Error(t, err)

	// Prior corpus is untouched and failures are tracked.
	assert.Equal(t, 1, ix.Snapshot().TotalDocuments())
	assert.Equal(t, 1, ix.ConsecutiveFailures("fs"))

	_, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.Error(t, err)
	assert.Equal(t, 2, ix.ConsecutiveFailures("fs"))

	// Recovery resets the counter.
	ad.enumErr = nil
	_, err = ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.ConsecutiveFailures("fs"))
}

func TestSnapshotIndexesRunbookStructures(t *testing.T) {
	ad := &fakeAdapter{docs: []*api.Document{runbookDoc("rb-disk", diskRunbookBody)}}
	ix := newTestIndexer(ad, Options{})
	ctx := context.Background()

	_, err := ix.RefreshAdapter(ctx, "fs", ad)
	require.NoError(t, err)
	snap := ix.Snapshot()

	// Procedure index.
	entry, ok := snap.Procedures["emergency_disk_cleanup"]
	require.True(t, ok)
	assert.Len(t, entry.Procedure.Steps, 4)
	assert.Equal(t, 1, entry.Procedure.Steps[0].Index)

	// Scenario index from the decision tree.
	trees, ok := snap.Scenarios["disk_pressure"]
	require.True(t, ok)
	require.Len(t, trees, 1)
	assert.Equal(t, "is the volume /var?", trees[0].Node.Condition)

	// Escalation entries.
	require.Len(t, snap.Escalation, 2)
	assert.Equal(t, "primary-oncall", snap.Escalation[0].Step.Role)
}

func TestOnChangeNotification(t *testing.T) {
	ad := &fakeAdapter{docs: []*api.Document{textDoc("kb-1", "body")}}
	var gotEpoch uint64
	var gotAdds int
	ix := newTestIndexer(ad, Options{
		OnChange: func(cs *api.ChangeSet, epoch uint64) {
			gotEpoch = epoch
			gotAdds = len(cs.Additions)
		},
	})

	_, err := ix.RefreshAdapter(context.Background(), "fs", ad)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gotEpoch)
	assert.Equal(t, 1, gotAdds)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)

	ad := &fakeAdapter{docs: []*api.Document{textDoc("kb-1", "body")}}
	ix := newTestIndexer(ad, Options{Checkpoints: store})

	_, err = ix.RefreshAdapter(context.Background(), "fs", ad)
	require.NoError(t, err)

	cp, ok, err := store.Load("fs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fs", cp.AdapterName)
	assert.Len(t, cp.Fingerprints, 1)
	assert.False(t, cp.LastPassAt.IsZero())

	_, ok, err = store.Load("unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprintParts(t *testing.T) {
	base := textDoc("d", "# A\nbody")
	base.Metadata = map[string]string{"k": "v"}
	fp := ComputeFingerprint(base)

	t.Run("body changes content hash only", func(t *testing.T) {
		changed := textDoc("d", "# A\nother body")
		changed.Metadata = map[string]string{"k": "v"}
		fp2 := ComputeFingerprint(changed)
		assert.NotEqual(t, fp.Content, fp2.Content)
		assert.Equal(t, fp.Metadata, fp2.Metadata)
		assert.Equal(t, fp.Structure, fp2.Structure)
	})

	t.Run("heading changes structure hash", func(t *testing.T) {
		changed := textDoc("d", "# B\nbody")
		changed.Metadata = map[string]string{"k": "v"}
		fp2 := ComputeFingerprint(changed)
		assert.NotEqual(t, fp.Structure, fp2.Structure)
	})

	t.Run("metadata order is irrelevant", func(t *testing.T) {
		a := textDoc("d", "x")
		a.Metadata = map[string]string{"a": "1", "b": "2", "c": "3"}
		b := textDoc("d", "x")
		b.Metadata = map[string]string{"c": "3", "b": "2", "a": "1"}
		assert.Equal(t, ComputeFingerprint(a).Metadata, ComputeFingerprint(b).Metadata)
	})
}

func TestQualityScore(t *testing.T) {
	t.Run("rich runbook scores high", func(t *testing.T) {
		doc := runbookDoc("rb", diskRunbookBody)
		doc.Metadata = map[string]string{"team": "storage", "service": "db", "tier": "1"}
		assert.GreaterOrEqual(t, QualityScore(doc), 8)
	})

	t.Run("bare fragment scores low", func(t *testing.T) {
		doc := &api.Document{ID: "x", Body: "tbd"}
		assert.LessOrEqual(t, QualityScore(doc), 2)
	})
}

func TestRefreshAllMergesChangesets(t *testing.T) {
	adA := &fakeAdapter{docs: []*api.Document{textDoc("a-1", "body")}}
	adB := &fakeAdapter{docs: []*api.Document{textDoc("b-1", "body")}}
	provider := &staticProvider{sources: []Source{
		{Name: "a", Adapter: adA},
		{Name: "b", Adapter: adB},
	}}
	ix := NewIndexer(provider, Options{Detector: NewDetector(DetectorConfig{})})

	cs, err := ix.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, cs.Additions, 2)
	assert.Equal(t, 1, cs.PerAdapter["a"].Additions)
	assert.Equal(t, 1, cs.PerAdapter["b"].Additions)
	assert.Equal(t, uint64(2), ix.Epoch())
}

func TestDetectorHeuristics(t *testing.T) {
	tests := []struct {
		name     string
		cfg      DetectorConfig
		doc      *api.Document
		expected bool
	}{
		{
			name:     "runbook content type",
			doc:      runbookDoc("r", diskRunbookBody),
			expected: true,
		},
		{
			name: "alert_types metadata",
			doc: &api.Document{ID: "m", ContentType: "text",
				Metadata: map[string]string{"alert_types": "oom_kill"}},
			expected: true,
		},
		{
			name:     "plain text without keywords",
			doc:      textDoc("t", "# Notes\njust notes"),
			expected: false,
		},
		{
			name:     "keyword in title when enabled",
			cfg:      DetectorConfig{KeywordDetection: true, Keywords: []string{"runbook"}},
			doc:      &api.Document{ID: "k", Title: "Database Runbook", ContentType: "text"},
			expected: true,
		},
		{
			name:     "keyword ignored when disabled",
			cfg:      DetectorConfig{Keywords: []string{"runbook"}},
			doc:      &api.Document{ID: "k", Title: "Database Runbook", ContentType: "text"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(tt.cfg)
			assert.Equal(t, tt.expected, d.IsRunbook(tt.doc))
		})
	}
}

func TestParseRunbookValidation(t *testing.T) {
	t.Run("success rate outside range", func(t *testing.T) {
		doc := runbookDoc("r", "alert_types: [\"x\"]\nsuccess_rate: 1.5\n")
		_, err := ParseRunbook(doc)
		require.Error(t, err)
	})

	t.Run("unknown severity", func(t *testing.T) {
		doc := runbookDoc("r", "alert_types: [\"x\"]\nseverities: [\"catastrophic\"]\n")
		_, err := ParseRunbook(doc)
		require.Error(t, err)
	})

	t.Run("not a runbook", func(t *testing.T) {
		_, err := ParseRunbook(textDoc("t", "plain text"))
		assert.ErrorIs(t, err, ErrNotRunbook)
	})

	t.Run("metadata alert types fallback", func(t *testing.T) {
		doc := &api.Document{ID: "m", ContentType: "text", Body: "",
			Metadata: map[string]string{"alert_types": "oom_kill, disk_full"}}
		rb, err := ParseRunbook(doc)
		require.NoError(t, err)
		assert.Equal(t, []string{"oom_kill", "disk_full"}, rb.AlertTypes)
	})
}

func TestRefreshAdapterRejectsEmptyID(t *testing.T) {
	ad := &fakeAdapter{docs: []*api.Document{{Title: "no id"}}}
	ix := newTestIndexer(ad, Options{})
	_, err := ix.RefreshAdapter(context.Background(), "fs", ad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("adapter %s produced", "fs"))
}
