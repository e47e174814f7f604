package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvo-tools/tmpipeline/internal/dedup"
	"github.com/lingvo-tools/tmpipeline/internal/limiter"
	"github.com/lingvo-tools/tmpipeline/internal/provider"
	"github.com/lingvo-tools/tmpipeline/internal/tm"
	"github.com/lingvo-tools/tmpipeline/internal/validation"
)

// memStore backs all three persistence interfaces for orchestrator tests.
type memStore struct {
	mu      sync.Mutex
	batches map[string]*Batch
	units   map[string][]TranslationUnit
	saved   map[string][]TranslationRecord
}

func newMemStore() *memStore {
	return &memStore{
		batches: make(map[string]*Batch),
		units:   make(map[string][]TranslationUnit),
		saved:   make(map[string][]TranslationRecord),
	}
}

func (s *memStore) addBatch(id string, units []TranslationUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id] = &Batch{ID: id, Name: id, Status: StatusPending, CreatedAt: time.Now()}
	s.units[id] = units
}

func (s *memStore) GetBatch(_ context.Context, id string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	clone := *b
	return &clone, nil
}

func (s *memStore) UpdateBatch(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *b
	s.batches[b.ID] = &clone
	return nil
}

func (s *memStore) ListBatches(_ context.Context, ids []string, since time.Time) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Batch
	for _, b := range s.batches {
		if len(ids) > 0 && !want[b.ID] {
			continue
		}
		if !since.IsZero() && b.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (s *memStore) LoadUnits(_ context.Context, id string) ([]TranslationUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TranslationUnit(nil), s.units[id]...), nil
}

func (s *memStore) SaveTranslations(_ context.Context, id string, records []TranslationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[id] = append(s.saved[id], records...)
	return nil
}

func (s *memStore) TranslatedUnitIDs(_ context.Context, id string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, r := range s.saved[id] {
		out[r.UnitID] = true
	}
	return out, nil
}

func (s *memStore) savedFor(id string) []TranslationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TranslationRecord(nil), s.saved[id]...)
}

func (s *memStore) batch(t *testing.T, id string) Batch {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	require.True(t, ok)
	return *b
}

// fakeTM is an in-memory tm.Storage.
type fakeTM struct {
	mu      sync.Mutex
	entries map[string]tm.Entry // keyed hash:lang
	upserts []tm.Entry
	usage   []string
}

func newFakeTM() *fakeTM {
	return &fakeTM{entries: make(map[string]tm.Entry)}
}

func (f *fakeTM) seed(sourceText, targetText, targetLang string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := tm.SourceHash(sourceText)
	f.entries[hash+":"+targetLang] = tm.Entry{
		ID:         "seed-" + hash,
		SourceHash: hash,
		SourceText: sourceText,
		TargetText: targetText,
		TargetLang: targetLang,
	}
}

func (f *fakeTM) FindByHash(_ context.Context, hash, targetLang string) (*tm.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[hash+":"+targetLang]
	if !ok {
		return nil, nil
	}
	clone := e
	return &clone, nil
}

func (f *fakeTM) FetchCandidates(context.Context, string, int, int, int) ([]tm.Entry, error) {
	return nil, nil
}

func (f *fakeTM) Upsert(_ context.Context, entry tm.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, entry)
	f.entries[entry.SourceHash+":"+entry.TargetLang] = entry
	return nil
}

func (f *fakeTM) IncrementUseCount(_ context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, entryID)
	return nil
}

func (f *fakeTM) HasLanguage(context.Context, string) (bool, error) {
	return true, nil
}

func (f *fakeTM) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

// fakeProvider scripts per-call behavior by call number (1-based).
type fakeProvider struct {
	mu       sync.Mutex
	calls    [][]string
	started  chan int
	gates    map[int]chan struct{}
	failures map[int]error
	respond  func(texts []string) []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		started:  make(chan int, 16),
		gates:    make(map[int]chan struct{}),
		failures: make(map[int]error),
	}
}

func (f *fakeProvider) Translate(ctx context.Context, req provider.Request, _ string) (*provider.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), req.Texts...))
	n := len(f.calls)
	gate := f.gates[n]
	failErr := f.failures[n]
	respond := f.respond
	f.mu.Unlock()

	f.started <- n
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, provider.NewError(provider.CategoryNetwork, "request aborted", ctx.Err())
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	var out []string
	if respond != nil {
		out = respond(req.Texts)
	} else {
		out = make([]string, len(req.Texts))
		for i, t := range req.Texts {
			out[i] = "tr:" + t
		}
	}
	return &provider.Response{Translations: out, TokensUsed: 10 * len(req.Texts), Model: req.Model}, nil
}

func (f *fakeProvider) TranslateStreaming(ctx context.Context, req provider.Request, apiKey string, _ provider.StreamHandler) (*provider.Response, error) {
	return f.Translate(ctx, req, apiKey)
}

func (f *fakeProvider) EstimateTokens(provider.Request) int { return 1000 }

func (f *fakeProvider) ValidateAPIKey(context.Context, string) error { return nil }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) callTexts(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[n-1]
}

// recordingSink captures lifecycle events.
type recordingSink struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    []struct {
		msg              string
		completed, retry int
	}
	cancelled []struct {
		reason    string
		completed int
	}
}

func (s *recordingSink) BatchStarted(batchID string, _ int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, batchID)
}

func (s *recordingSink) BatchCompleted(batchID string, _, _ int, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, batchID)
}

func (s *recordingSink) BatchFailed(_ string, msg string, completedBeforeFailure, retryCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, struct {
		msg              string
		completed, retry int
	}{msg, completedBeforeFailure, retryCount})
}

func (s *recordingSink) BatchCancelled(_ string, reason string, completedUnits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, struct {
		reason    string
		completed int
	}{reason, completedUnits})
}

type staticKeys struct{}

func (staticKeys) APIKey(string) (string, error) { return "test-key", nil }

type testEnv struct {
	store *memStore
	tmst  *fakeTM
	prov  *fakeProvider
	sink  *recordingSink
	orch  *Orchestrator
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		store: newMemStore(),
		tmst:  newFakeTM(),
		prov:  newFakeProvider(),
		sink:  &recordingSink{},
	}
	env.orch = NewOrchestrator(Deps{
		Units:        env.store,
		Batches:      env.store,
		Translations: env.store,
		Matcher:      tm.NewMatcher(env.tmst, tm.DefaultMatcherConfig(), nil),
		Dedup:        dedup.NewCache(dedup.DefaultCapacity, dedup.DefaultTTL),
		Semaphore:    limiter.NewSemaphore(4),
		Providers:    map[string]provider.Service{"fake": env.prov},
		Keys:         staticKeys{},
		Validator:    validation.NewValidator(),
		Sink:         env.sink,
	}, cfg)
	return env
}

func testContext() TranslationContext {
	return TranslationContext{
		SourceLanguage: "en",
		TargetLanguage: "es",
		ProviderCode:   "fake",
		Model:          "test-model",
	}
}

func units(texts ...string) []TranslationUnit {
	out := make([]TranslationUnit, len(texts))
	for i, t := range texts {
		out[i] = TranslationUnit{ID: string(rune('a' + i)), Key: t, SourceText: t}
	}
	return out
}

// drain reads every event until the channel closes and returns the terminal.
func drain(t *testing.T, ch <-chan ProgressEvent) (all []ProgressEvent, terminal ProgressEvent) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				require.NotEmpty(t, all, "stream closed without any event")
				last := all[len(all)-1]
				require.True(t, last.Terminal, "last event before close must be terminal")
				return all, last
			}
			all = append(all, ev)
		case <-timeout:
			t.Fatal("timed out waiting for progress events")
		}
	}
}

func TestTranslateBatch_ReusesMemoryAndTranslatesRest(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.tmst.seed("Hello friend", "Hola amigo", "es")
	env.store.addBatch("b1", units("Hello friend", "Good morning", "See you soon"))

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	assert.Equal(t, StatusCompleted, terminal.Progress.Status)
	assert.Equal(t, 3, terminal.Progress.TotalUnits)
	assert.Equal(t, 3, terminal.Progress.SuccessfulUnits)
	assert.Equal(t, 0, terminal.Progress.FailedUnits)
	assert.InDelta(t, 1.0/3.0, terminal.Progress.TmReuseRate, 0.001)
	assert.Equal(t, 20, terminal.Progress.TokensUsed)

	require.Equal(t, 1, env.prov.callCount())
	assert.Equal(t, []string{"Good morning", "See you soon"}, env.prov.callTexts(1))

	saved := env.store.savedFor("b1")
	require.Len(t, saved, 3)
	origins := map[string]TranslationOrigin{}
	for _, r := range saved {
		origins[r.SourceText] = r.Origin
	}
	assert.Equal(t, OriginTM, origins["Hello friend"])
	assert.Equal(t, OriginProvider, origins["Good morning"])
	assert.Equal(t, OriginProvider, origins["See you soon"])

	// Fresh provider translations are written back into the TM.
	assert.Equal(t, 2, env.tmst.upsertCount())
	assert.NotEmpty(t, env.tmst.usage)

	assert.Equal(t, StatusCompleted, env.store.batch(t, "b1").Status)
	assert.Equal(t, []string{"b1"}, env.sink.completed)
}

func TestTranslateBatch_CancelBetweenSubBatchesSkipsRemaining(t *testing.T) {
	env := newTestEnv(t, Config{SubBatchSize: 2})
	env.store.addBatch("b1", units("one", "two", "three", "four"))

	gate := make(chan struct{})
	env.prov.gates[1] = gate

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)

	// Cancel while sub-batch 1 is in flight; the orchestrator observes it at
	// the checkpoint before sub-batch 2.
	require.Equal(t, 1, <-env.prov.started)
	require.True(t, env.orch.Tracker().Cancel("b1", "user requested"))
	close(gate)

	_, terminal := drain(t, ch)
	assert.Equal(t, StatusCancelled, terminal.Progress.Status)
	assert.Equal(t, 2, terminal.Progress.SuccessfulUnits)
	assert.Contains(t, terminal.Error, "user requested")

	assert.Equal(t, 1, env.prov.callCount(), "sub-batch 2 must never be dispatched")
	assert.Len(t, env.store.savedFor("b1"), 2)
	require.Len(t, env.sink.cancelled, 1)
	assert.Equal(t, 2, env.sink.cancelled[0].completed)
	assert.Equal(t, StatusCancelled, env.store.batch(t, "b1").Status)
}

func TestTranslateBatch_ProviderFailureKeepsEarlierSubBatch(t *testing.T) {
	env := newTestEnv(t, Config{SubBatchSize: 2})
	env.store.addBatch("b1", units("one", "two", "three", "four"))
	env.prov.failures[2] = provider.NewError(provider.CategoryNetwork, "connection reset", errors.New("reset"))

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	assert.Equal(t, StatusFailed, terminal.Progress.Status)
	assert.Equal(t, 2, terminal.Progress.SuccessfulUnits)
	assert.Contains(t, terminal.Error, "network")

	// Sub-batch 1 survived the failure and the batch is marked for retry.
	assert.Len(t, env.store.savedFor("b1"), 2)
	b := env.store.batch(t, "b1")
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, 1, b.RetryCount)
	require.Len(t, env.sink.failed, 1)
	assert.Equal(t, 2, env.sink.failed[0].completed)
	assert.Equal(t, 1, env.sink.failed[0].retry)
}

func TestTranslateBatch_AuthFailureBumpsRetryCounter(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.addBatch("b1", units("one", "two"))
	env.prov.failures[1] = provider.NewError(provider.CategoryAuthentication, "bad key", nil)

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	// Every aborting failure marks the batch for retry, whatever the category.
	assert.Equal(t, StatusFailed, terminal.Progress.Status)
	b := env.store.batch(t, "b1")
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, 1, b.RetryCount)
}

func TestTranslateBatch_RequestSubBatchSizeOverridesConfig(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.addBatch("b1", units("one", "two", "three", "four"))

	tctx := testContext()
	tctx.SubBatchSize = 1
	ch, err := env.orch.TranslateBatch(context.Background(), "b1", tctx)
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	assert.Equal(t, StatusCompleted, terminal.Progress.Status)
	require.Equal(t, 4, env.prov.callCount())
	for i := 1; i <= 4; i++ {
		assert.Len(t, env.prov.callTexts(i), 1)
	}
}

func TestTranslateBatch_EmptyBatchFailsWithoutRetry(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.addBatch("b1", nil)

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	assert.Equal(t, StatusFailed, terminal.Progress.Status)
	assert.Contains(t, terminal.Error, "no units")
	assert.Equal(t, 0, env.store.batch(t, "b1").RetryCount)
	assert.Equal(t, 0, env.prov.callCount())
}

func TestTranslateBatch_RejectsConcurrentRunOfSameBatch(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.addBatch("b1", units("one"))

	gate := make(chan struct{})
	env.prov.gates[1] = gate
	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	require.Equal(t, 1, <-env.prov.started)

	_, err = env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeOrchestration))
	assert.Contains(t, err.Error(), "already running")

	close(gate)
	_, terminal := drain(t, ch)
	assert.Equal(t, StatusCompleted, terminal.Progress.Status)
}

func TestTranslateBatch_ResumeSkipsAlreadyTranslatedUnits(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := units("one", "two")
	env.store.addBatch("b1", u)
	require.NoError(t, env.store.SaveTranslations(context.Background(), "b1", []TranslationRecord{{
		UnitID: u[0].ID, SourceText: "one", TargetText: "uno", TargetLanguage: "es", Origin: OriginProvider,
	}}))

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	assert.Equal(t, StatusCompleted, terminal.Progress.Status)
	assert.Equal(t, 1, terminal.Progress.SkippedUnits)
	assert.Equal(t, 1, terminal.Progress.SuccessfulUnits)
	assert.Equal(t, 2, terminal.Progress.ProcessedUnits)
	require.Equal(t, 1, env.prov.callCount())
	assert.Equal(t, []string{"two"}, env.prov.callTexts(1))
}

func TestTranslateBatch_DedupHitSkipsProvider(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.addBatch("b1", units("Shared line", "Other line"))
	env.orch.deps.Dedup.Complete(tm.SourceHash("Shared line")+":es", "Linea compartida")

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	assert.Equal(t, StatusCompleted, terminal.Progress.Status)
	require.Equal(t, 1, env.prov.callCount())
	assert.Equal(t, []string{"Other line"}, env.prov.callTexts(1))

	saved := env.store.savedFor("b1")
	require.Len(t, saved, 2)
	byText := map[string]TranslationRecord{}
	for _, r := range saved {
		byText[r.SourceText] = r
	}
	assert.Equal(t, OriginDedup, byText["Shared line"].Origin)
	assert.Equal(t, "Linea compartida", byText["Shared line"].TargetText)
}

func TestTranslateBatch_ValidationErrorMarksUnitFailed(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.addBatch("b1", units("one", "two"))
	env.prov.respond = func(texts []string) []string {
		out := make([]string, len(texts))
		for i, txt := range texts {
			if txt == "one" {
				out[i] = "" // dropped by the model
				continue
			}
			out[i] = "tr:" + txt
		}
		return out
	}

	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)
	_, terminal := drain(t, ch)

	assert.Equal(t, StatusCompleted, terminal.Progress.Status)
	assert.Equal(t, 1, terminal.Progress.SuccessfulUnits)
	assert.Equal(t, 1, terminal.Progress.FailedUnits)
	require.Len(t, env.store.savedFor("b1"), 1)
	assert.Equal(t, "two", env.store.savedFor("b1")[0].SourceText)
}

func TestTranslateBatch_PauseHoldsNextSubBatchUntilResume(t *testing.T) {
	env := newTestEnv(t, Config{SubBatchSize: 1})
	env.store.addBatch("b1", units("one", "two"))

	gate := make(chan struct{})
	env.prov.gates[1] = gate
	ch, err := env.orch.TranslateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)

	require.Equal(t, 1, <-env.prov.started)
	require.True(t, env.orch.Tracker().Pause("b1"))
	close(gate)

	require.Never(t, func() bool {
		return env.prov.callCount() > 1
	}, 300*time.Millisecond, 20*time.Millisecond, "paused batch must not dispatch the next sub-batch")

	require.True(t, env.orch.Tracker().Resume("b1"))
	_, terminal := drain(t, ch)
	assert.Equal(t, StatusCompleted, terminal.Progress.Status)
	assert.Equal(t, 2, env.prov.callCount())
}

func TestValidateBatch(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.addBatch("b1", units("one"))
	ctx := context.Background()

	require.NoError(t, env.orch.ValidateBatch(ctx, "b1", testContext()))

	err := env.orch.ValidateBatch(ctx, "", testContext())
	assert.True(t, IsErrorType(err, ErrorTypeValidation))

	bad := testContext()
	bad.ProviderCode = "nope"
	err = env.orch.ValidateBatch(ctx, "b1", bad)
	assert.True(t, IsErrorType(err, ErrorTypeValidation))

	err = env.orch.ValidateBatch(ctx, "ghost", testContext())
	assert.True(t, IsErrorType(err, ErrorTypeValidation))

	require.NoError(t, env.store.UpdateBatch(ctx, &Batch{ID: "done", Status: StatusCompleted}))
	err = env.orch.ValidateBatch(ctx, "done", testContext())
	assert.True(t, IsErrorType(err, ErrorTypeValidation))
}

func TestEstimateBatch(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.tmst.seed("Hello friend", "Hola amigo", "es")
	env.store.addBatch("b1", units("Hello friend", "Good morning", "See you soon"))

	est, err := env.orch.EstimateBatch(context.Background(), "b1", testContext())
	require.NoError(t, err)

	assert.Equal(t, 3, est.TotalUnits)
	assert.Equal(t, 1, est.TmResolvableUnits)
	assert.InDelta(t, 1.0/3.0, est.TmReuseRate, 0.001)
	assert.Equal(t, 1000, est.InputTokens)
	assert.Equal(t, 1500, est.OutputTokens)
	assert.Equal(t, 2500, est.TotalTokens)
	// 2 provider units at 120 units per minute.
	assert.Equal(t, time.Second, est.EstimatedDuration)
	assert.Equal(t, 0, env.prov.callCount(), "estimation must not translate")
}

func TestGetBatchStatistics(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	require.NoError(t, env.store.UpdateBatch(ctx, &Batch{ID: "a", Status: StatusCompleted, TotalUnits: 3, SuccessfulUnits: 3, CreatedAt: time.Now()}))
	require.NoError(t, env.store.UpdateBatch(ctx, &Batch{ID: "b", Status: StatusFailed, TotalUnits: 2, SuccessfulUnits: 1, FailedUnits: 1, CreatedAt: time.Now()}))
	require.NoError(t, env.store.UpdateBatch(ctx, &Batch{ID: "c", Status: StatusCancelled, TotalUnits: 4, SuccessfulUnits: 2, CreatedAt: time.Now()}))

	stats, err := env.orch.GetBatchStatistics(ctx, nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalBatches)
	assert.Equal(t, 1, stats.CompletedBatches)
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 1, stats.CancelledBatches)
	assert.Equal(t, 9, stats.TotalUnits)
	assert.Equal(t, 6, stats.SuccessfulUnits)
	assert.Equal(t, 1, stats.FailedUnits)

	only, err := env.orch.GetBatchStatistics(ctx, []string{"a"}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, only.TotalBatches)
}
