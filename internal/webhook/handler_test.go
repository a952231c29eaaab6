package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/jobs"
	"thirdcoast.systems/allthethings/internal/jobs/jobstest"
)

const (
	testSecret = "webhook-secret"
	testDims   = 4
)

type fixture struct {
	store   *assets.MemoryStore
	client  *jobstest.Fake
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := assets.NewMemoryStore()
	client := jobstest.New()
	return &fixture{
		store:  store,
		client: client,
		handler: NewHandler(Options{
			Store:               store,
			Jobs:                client,
			Verifier:            NewVerifier(testSecret),
			Catalog:             jobs.NewCatalog("", ""),
			EmbeddingWebhookURL: "https://hooks.example/webhooks/embedding",
			Dimensions:          testDims,
		}),
	}
}

// seed creates an asset and walks it forward to status.
func (f *fixture) seed(t *testing.T, status assets.Status) *assets.Asset {
	t.Helper()
	ctx := context.Background()

	a := &assets.Asset{
		ID:            uuid.New(),
		URL:           "https://media.example/" + uuid.NewString() + ".mp3",
		ContentType:   "audio/mpeg",
		ContentLength: "2048",
		Status:        assets.StatusSubmitted,
	}
	require.NoError(t, f.store.Create(ctx, a))

	steps := []struct {
		from assets.Status
		upd  assets.Update
	}{
		{assets.StatusSubmitted, assets.Update{Status: assets.StatusProcessing, TranscriptionJobRef: assets.StringPtr("tr-job")}},
		{assets.StatusProcessing, assets.Update{Status: assets.StatusProcessed, Text: assets.StringPtr("hello world")}},
		{assets.StatusProcessed, assets.Update{Status: assets.StatusGeneratingEmbeddings, EmbeddingJobRef: assets.StringPtr("em-job")}},
	}
	current := a
	for _, step := range steps {
		if current.Status == status {
			break
		}
		var err error
		current, err = f.store.Transition(ctx, a.ID, []assets.Status{step.from}, step.upd)
		require.NoError(t, err)
	}
	require.Equal(t, status, current.Status)
	return current
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *assets.Asset {
	t.Helper()
	a, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func sign(body string) string {
	return Sign([]byte(testSecret), []byte(body))
}

const (
	transcriptionOK = `{"id":"tr-job","status":"succeeded","output":{"transcription":"hello world","detected_language":"english"},"error":null}`
	embeddingOK     = `{"id":"em-job","status":"succeeded","output":[{"embedding":[0.5,0.25,1,2]}],"error":null}`
)

func TestHandleTranscription_StoresTextAndRequestsEmbeddings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessing)

	out, err := f.handler.HandleTranscription(context.Background(), a.ID.String(), []byte(transcriptionOK), sign(transcriptionOK))
	require.NoError(t, err)
	require.False(t, out.Replayed)
	require.NoError(t, out.Warning)
	require.Equal(t, assets.StatusGeneratingEmbeddings, out.Asset.Status)
	require.Equal(t, "hello world", *out.Asset.Text)
	require.Equal(t, "embedding-1", out.Asset.EmbeddingJobRef)

	calls := f.client.Dispatched(jobs.NameEmbedding)
	require.Len(t, calls, 1)
	require.Equal(t, "https://hooks.example/webhooks/embedding/"+a.ID.String(), calls[0].CallbackURL)
	require.Equal(t, "hello world", calls[0].Input["text"])

	stored := f.get(t, a.ID)
	require.Equal(t, assets.StatusGeneratingEmbeddings, stored.Status)
	require.Len(t, stored.RawProviderResponses, 2)
}

func TestHandleTranscription_NormalizesText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessing)

	// "cafe" followed by a combining acute accent.
	body := `{"id":"tr-job","status":"succeeded","output":{"transcription":"cafe\u0301"}}`
	out, err := f.handler.HandleTranscription(context.Background(), a.ID.String(), []byte(body), sign(body))
	require.NoError(t, err)
	require.Equal(t, "caf\u00e9", *out.Asset.Text)
}

func TestHandleTranscription_ReplayIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessing)

	_, err := f.handler.HandleTranscription(ctx, a.ID.String(), []byte(transcriptionOK), sign(transcriptionOK))
	require.NoError(t, err)
	before := f.get(t, a.ID)

	out, err := f.handler.HandleTranscription(ctx, a.ID.String(), []byte(transcriptionOK), sign(transcriptionOK))
	require.NoError(t, err)
	require.True(t, out.Replayed)
	require.Equal(t, before, f.get(t, a.ID))
	require.Len(t, f.client.Dispatched(jobs.NameEmbedding), 1)
}

func TestHandleTranscription_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessing)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.handler.HandleTranscription(context.Background(), a.ID.String(), []byte(transcriptionOK), sign(transcriptionOK))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if !out.Replayed {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, applied)
	require.Len(t, f.client.Dispatched(jobs.NameEmbedding), 1)
}

func TestHandleTranscription_InvalidSignatureMutatesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessing)
	before := f.get(t, a.ID)

	for _, sig := range []string{"", "bogus", Sign([]byte("wrong"), []byte(transcriptionOK))} {
		_, err := f.handler.HandleTranscription(context.Background(), a.ID.String(), []byte(transcriptionOK), sig)
		require.ErrorIs(t, err, ErrUnauthenticated)
	}

	require.Equal(t, before, f.get(t, a.ID))
	require.Empty(t, f.client.Dispatched(""))
}

func TestHandleTranscription_ProviderError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessing)

	body := `{"id":"tr-job","status":"failed","error":"CUDA out of memory","output":null}`
	out, err := f.handler.HandleTranscription(context.Background(), a.ID.String(), []byte(body), sign(body))
	require.NoError(t, err)
	require.Equal(t, assets.StatusProcessingError, out.Asset.Status)
	require.Equal(t, "CUDA out of memory", *out.Asset.Error)
	require.Nil(t, out.Asset.Text)
	require.Empty(t, f.client.Dispatched(""))
}

func TestHandleTranscription_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status assets.Status
		id     func(a *assets.Asset) string
		body   string
		target error
	}{
		{name: "unknown asset", status: assets.StatusProcessing, id: func(*assets.Asset) string { return uuid.NewString() }, body: transcriptionOK, target: ErrCorrelationNotFound},
		{name: "malformed asset id", status: assets.StatusProcessing, id: func(*assets.Asset) string { return "nope" }, body: transcriptionOK, target: ErrCorrelationNotFound},
		{name: "not json", status: assets.StatusProcessing, body: `{"id":`, target: ErrMalformedPayload},
		{name: "missing transcription", status: assets.StatusProcessing, body: `{"id":"tr-job","status":"succeeded","output":{}}`, target: ErrMalformedPayload},
		{name: "missing output", status: assets.StatusProcessing, body: `{"id":"tr-job","status":"succeeded"}`, target: ErrMalformedPayload},
		{name: "unknown asset with unusable body", status: assets.StatusProcessing, id: func(*assets.Asset) string { return uuid.NewString() }, body: `{"id":"tr-job","status":"succeeded","output":{}}`, target: ErrCorrelationNotFound},
		{name: "still submitted", status: assets.StatusSubmitted, body: transcriptionOK, target: ErrOutOfOrder},
		{name: "still submitted with unusable body", status: assets.StatusSubmitted, body: `{"id":"tr-job","status":"succeeded"}`, target: ErrOutOfOrder},
		{name: "replay from another job", status: assets.StatusProcessed, body: `{"id":"other-job","status":"succeeded","output":{"transcription":"x"}}`, target: ErrJobMismatch},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			a := f.seed(t, tt.status)
			before := f.get(t, a.ID)

			id := a.ID.String()
			if tt.id != nil {
				id = tt.id(a)
			}
			_, err := f.handler.HandleTranscription(context.Background(), id, []byte(tt.body), sign(tt.body))
			require.ErrorIs(t, err, tt.target)
			require.Equal(t, before, f.get(t, a.ID))
			require.Empty(t, f.client.Dispatched(""))
		})
	}
}

func TestHandleTranscription_EmbeddingDispatchFailureLeavesProcessed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.client.DispatchErr[jobs.NameEmbedding] = errors.New("provider unavailable")
	a := f.seed(t, assets.StatusProcessing)

	out, err := f.handler.HandleTranscription(context.Background(), a.ID.String(), []byte(transcriptionOK), sign(transcriptionOK))
	require.NoError(t, err)
	require.Error(t, out.Warning)
	require.Equal(t, assets.StatusProcessed, out.Asset.Status)
	require.Equal(t, assets.StatusProcessed, f.get(t, a.ID).Status)

	// Recovery once the provider is back.
	delete(f.client.DispatchErr, jobs.NameEmbedding)
	next, err := f.handler.RequestEmbeddings(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, assets.StatusGeneratingEmbeddings, next.Status)
}

func TestHandleEmbedding_MakesSearchable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusGeneratingEmbeddings)

	out, err := f.handler.HandleEmbedding(context.Background(), a.ID.String(), []byte(embeddingOK), sign(embeddingOK))
	require.NoError(t, err)
	require.False(t, out.Replayed)
	require.Equal(t, assets.StatusSearchable, out.Asset.Status)

	stored := f.get(t, a.ID)
	require.Equal(t, []float32{0.5, 0.25, 1, 2}, stored.Embedding)
	require.Equal(t, "hello world", *stored.Text)
}

func TestHandleEmbedding_ProviderError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusGeneratingEmbeddings)

	body := `{"id":"em-job","status":"failed","error":{"detail":"bad input"}}`
	out, err := f.handler.HandleEmbedding(context.Background(), a.ID.String(), []byte(body), sign(body))
	require.NoError(t, err)
	require.Equal(t, assets.StatusEmbeddingsError, out.Asset.Status)
	require.Equal(t, `{"detail":"bad input"}`, *out.Asset.Error)
	require.Nil(t, f.get(t, a.ID).Embedding)
}

func TestHandleEmbedding_WrongDimensions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusGeneratingEmbeddings)
	before := f.get(t, a.ID)

	body := `{"id":"em-job","status":"succeeded","output":[{"embedding":[0.5,0.25,1]}]}`
	_, err := f.handler.HandleEmbedding(context.Background(), a.ID.String(), []byte(body), sign(body))
	require.ErrorIs(t, err, ErrMalformedPayload)
	require.ErrorIs(t, err, jobs.ErrDimensionMismatch)
	require.Equal(t, before, f.get(t, a.ID))
}

func TestHandleEmbedding_Replays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.seed(t, assets.StatusGeneratingEmbeddings)

	_, err := f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(embeddingOK), sign(embeddingOK))
	require.NoError(t, err)
	before := f.get(t, a.ID)

	out, err := f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(embeddingOK), sign(embeddingOK))
	require.NoError(t, err)
	require.True(t, out.Replayed)

	anonymous := `{"status":"succeeded","output":[{"embedding":[9,9,9,9]}]}`
	out, err = f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(anonymous), sign(anonymous))
	require.NoError(t, err)
	require.True(t, out.Replayed)

	other := `{"id":"someone-else","status":"succeeded","output":[{"embedding":[9,9,9,9]}]}`
	_, err = f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(other), sign(other))
	require.ErrorIs(t, err, ErrJobMismatch)

	require.Equal(t, before, f.get(t, a.ID))
}

func TestHandleEmbedding_EarlyOrStrayCallbacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	processed := f.seed(t, assets.StatusProcessed)
	_, err := f.handler.HandleEmbedding(ctx, processed.ID.String(), []byte(embeddingOK), sign(embeddingOK))
	require.ErrorIs(t, err, ErrOutOfOrder)

	failed := f.seed(t, assets.StatusProcessing)
	_, err = f.store.Transition(ctx, failed.ID, []assets.Status{assets.StatusProcessing}, assets.Update{
		Status: assets.StatusProcessingError,
		Error:  assets.StringPtr("boom"),
	})
	require.NoError(t, err)
	_, err = f.handler.HandleEmbedding(ctx, failed.ID.String(), []byte(embeddingOK), sign(embeddingOK))
	require.ErrorIs(t, err, ErrJobMismatch)
}

func TestRequestEmbeddings_RequiresProcessed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	a := f.seed(t, assets.StatusProcessing)
	_, err := f.handler.RequestEmbeddings(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotProcessed)

	_, err = f.handler.RequestEmbeddings(ctx, uuid.New())
	require.ErrorIs(t, err, assets.ErrNotFound)

	require.Empty(t, f.client.Dispatched(""))
}

func TestHandleTranscription_UnusableBodyAfterStageIsReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessed)
	before := f.get(t, a.ID)

	body := `{"id":"tr-job","status":"succeeded","output":{}}`
	out, err := f.handler.HandleTranscription(context.Background(), a.ID.String(), []byte(body), sign(body))
	require.NoError(t, err)
	require.True(t, out.Replayed)
	require.Equal(t, before, f.get(t, a.ID))
}

func TestHandleEmbedding_UnusableBodyResolvesAssetFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	short := `{"id":"em-job","status":"succeeded","output":[{"embedding":[1,2]}]}`
	missing := `{"id":"em-job","status":"succeeded"}`

	t.Run("unknown asset", func(t *testing.T) {
		_, err := f.handler.HandleEmbedding(ctx, uuid.NewString(), []byte(short), sign(short))
		require.ErrorIs(t, err, ErrCorrelationNotFound)
		require.NotErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("too early", func(t *testing.T) {
		a := f.seed(t, assets.StatusProcessed)
		_, err := f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(missing), sign(missing))
		require.ErrorIs(t, err, ErrOutOfOrder)
	})

	t.Run("replay after searchable", func(t *testing.T) {
		a := f.seed(t, assets.StatusGeneratingEmbeddings)
		_, err := f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(embeddingOK), sign(embeddingOK))
		require.NoError(t, err)
		before := f.get(t, a.ID)

		out, err := f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(short), sign(short))
		require.NoError(t, err)
		require.True(t, out.Replayed)
		require.Equal(t, assets.StatusSearchable, out.Asset.Status)
		require.Equal(t, before, f.get(t, a.ID))
	})

	t.Run("waiting asset still rejects", func(t *testing.T) {
		a := f.seed(t, assets.StatusGeneratingEmbeddings)
		_, err := f.handler.HandleEmbedding(ctx, a.ID.String(), []byte(missing), sign(missing))
		require.ErrorIs(t, err, ErrMalformedPayload)
		require.Equal(t, assets.StatusGeneratingEmbeddings, f.get(t, a.ID).Status)
	})
}

// cancelAwareStore fails writes on a done context, as the Postgres store does.
type cancelAwareStore struct {
	*assets.MemoryStore
}

func (s cancelAwareStore) Transition(ctx context.Context, id uuid.UUID, from []assets.Status, upd assets.Update) (*assets.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Transition(ctx, id, from, upd)
}

func TestRequestEmbeddings_CallerCancelledAfterDispatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.seed(t, assets.StatusProcessed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.client.DispatchHook = func(context.Context) { cancel() }

	h := NewHandler(Options{
		Store:               cancelAwareStore{f.store},
		Jobs:                f.client,
		Verifier:            NewVerifier(testSecret),
		Catalog:             jobs.NewCatalog("", ""),
		EmbeddingWebhookURL: "https://hooks.example/webhooks/embedding",
		Dimensions:          testDims,
	})

	next, err := h.RequestEmbeddings(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, assets.StatusGeneratingEmbeddings, next.Status)

	stored := f.get(t, a.ID)
	require.Equal(t, assets.StatusGeneratingEmbeddings, stored.Status)
	require.Equal(t, "embedding-1", stored.EmbeddingJobRef)
}
