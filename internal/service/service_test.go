package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/huggnote/api/internal/auth"
	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/database"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/repository"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

type fakeMusic struct {
	calls  int
	resp   *client.GenerateMusicResponse
	status *client.StatusResult
	err    error
}

func (f *fakeMusic) Generate(context.Context, *client.GenerateMusicRequest) (*client.GenerateMusicResponse, error) {
	f.calls++
	return f.resp, f.err
}

func (f *fakeMusic) Status(context.Context, string, string, string) (*client.StatusResult, error) {
	return f.status, f.err
}

func (f *fakeMusic) IsConfigured() bool { return true }

type fakeGateway struct {
	input   *client.CheckoutSessionInput
	session *client.CheckoutSession
	event   *client.PaymentEvent
	err     error
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, in *client.CheckoutSessionInput) (*client.CheckoutSession, error) {
	f.input = in
	return f.session, f.err
}

func (f *fakeGateway) ParseWebhook([]byte, string) (*client.PaymentEvent, error) {
	return f.event, f.err
}

type fakeMailer struct {
	sent []*client.Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, email *client.Email) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	slots []string
}

func (f *fakeArchiver) EnqueueArchive(_ context.Context, taskID string, slot int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = append(f.slots, fmt.Sprintf("%s:%d", taskID, slot))
	return nil
}

type fakeNotifier struct {
	variations []string
	ready      []string
}

func (f *fakeNotifier) VariationReady(formID string, songIndex int, variationID, _ string) {
	f.variations = append(f.variations, fmt.Sprintf("%s/%d/%s", formID, songIndex, variationID))
}

func (f *fakeNotifier) FormReady(formID string, _ int) {
	f.ready = append(f.ready, formID)
}

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ interface{}) error {
	p.types = append(p.types, eventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newComposeFixture(t *testing.T) (*gorm.DB, *ComposeService) {
	db := openTestDB(t)
	return db, NewComposeService(repository.NewComposeFormRepository(db), 168*time.Hour)
}

func createForm(t *testing.T, svc *ComposeService, id string) {
	t.Helper()
	_, err := svc.Create(context.Background(), &model.CreateComposeFormRequest{
		FormID:      id,
		PackageType: "solo-serenade",
		SongCount:   1,
		FormData:    json.RawMessage(`{"recipientName":"Ada"}`),
	}, "")
	require.NoError(t, err)
}

func patchTasks(t *testing.T, svc *ComposeService, id string, tasks ...string) {
	t.Helper()
	_, err := svc.Patch(context.Background(), &model.ComposeFormPatch{
		FormID:           id,
		VariationTaskIDs: map[string][]string{"0": tasks},
	})
	require.NoError(t, err)
}

func TestComposeCreateDefaults(t *testing.T) {
	_, svc := newComposeFixture(t)
	ctx := context.Background()

	form, err := svc.Create(ctx, &model.CreateComposeFormRequest{
		FormID:      "f1",
		PackageType: "solo-serenade",
		SongCount:   1,
	}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, model.FormStatusPromptsGenerated, form.Status)
	require.NotNil(t, form.UserID)
	assert.Equal(t, "user-1", *form.UserID)
	assert.WithinDuration(t, time.Now().Add(168*time.Hour), form.ExpiresAt, time.Minute)

	_, err = svc.Create(ctx, &model.CreateComposeFormRequest{FormID: "f1", PackageType: "solo-serenade", SongCount: 1}, "")
	assert.ErrorIs(t, err, ErrFormExists)

	_, err = svc.Create(ctx, &model.CreateComposeFormRequest{FormID: "f2", PackageType: "x", SongCount: 1, Status: "bogus"}, "")
	assert.ErrorIs(t, err, ErrInvalidFormStatus)
}

func TestComposeGetLookup(t *testing.T) {
	_, svc := newComposeFixture(t)
	ctx := context.Background()
	createForm(t, svc, "f1")

	session := "cs_1"
	_, err := svc.Patch(ctx, &model.ComposeFormPatch{FormID: "f1", StripeSessionID: &session})
	require.NoError(t, err)

	form, err := svc.Get(ctx, "", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "f1", form.ID)

	_, err = svc.Get(ctx, "", "")
	assert.ErrorIs(t, err, ErrLookupKeyRequired)

	_, err = svc.Get(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrFormNotFound)
}

func TestComposePatchAdvancesToReady(t *testing.T) {
	_, svc := newComposeFixture(t)
	ctx := context.Background()
	createForm(t, svc, "f1")

	patchTasks(t, svc, "f1", "t1", "t2", "t3")
	form, err := svc.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusVariationsGenerating, form.Status)

	form, err = svc.Patch(ctx, &model.ComposeFormPatch{
		FormID:             "f1",
		VariationAudioURLs: map[string]map[string]string{"0": {"1": "url1", "2": "url2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusVariationsGenerating, form.Status)

	form, err = svc.Patch(ctx, &model.ComposeFormPatch{
		FormID:             "f1",
		VariationAudioURLs: map[string]map[string]string{"0": {"3": "url3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusVariationsReady, form.Status)

	view := form.View()
	assert.Equal(t, []string{"t1", "t2", "t3"}, view.VariationTaskIDs["0"])
	assert.Equal(t, map[string]string{"1": "url1", "2": "url2", "3": "url3"}, view.VariationAudioURLs["0"])
}

func TestComposePatchRejectsBadInput(t *testing.T) {
	_, svc := newComposeFixture(t)
	ctx := context.Background()
	createForm(t, svc, "f1")

	_, err := svc.Patch(ctx, &model.ComposeFormPatch{FormID: "f1", VariationTaskIDs: map[string][]string{"first": {"t1"}}})
	assert.ErrorIs(t, err, ErrInvalidSongIndex)

	bogus := model.FormStatus("bogus")
	_, err = svc.Patch(ctx, &model.ComposeFormPatch{FormID: "f1", Status: &bogus})
	assert.ErrorIs(t, err, ErrInvalidFormStatus)

	_, err = svc.Patch(ctx, &model.ComposeFormPatch{FormID: "missing"})
	assert.ErrorIs(t, err, ErrFormNotFound)
}

func TestComposePatchExplicitStatusWins(t *testing.T) {
	_, svc := newComposeFixture(t)
	ctx := context.Background()
	createForm(t, svc, "f1")

	status := model.FormStatusPromptsGenerated
	form, err := svc.Patch(ctx, &model.ComposeFormPatch{
		FormID:           "f1",
		Status:           &status,
		VariationTaskIDs: map[string][]string{"0": {"t1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusPromptsGenerated, form.Status)
}

func TestPromptServiceMockCreatesForm(t *testing.T) {
	_, compose := newComposeFixture(t)
	svc := NewPromptService(nil, compose)
	ctx := context.Background()

	req := &model.PromptRequest{
		FormID:      "f1",
		PackageType: "double-harmony",
		SongCount:   2,
		FormData:    json.RawMessage(`{"songs":[{"recipientName":"Ada","genre":"jazz"},{"recipientName":"Bob"}]}`),
	}
	resp, err := svc.Generate(ctx, req, "")
	require.NoError(t, err)
	require.Len(t, resp.Prompts, 2)
	assert.Equal(t, 1, resp.Prompts[1].SongIndex)
	assert.Contains(t, resp.Prompts[0].Prompt, "Ada")
	assert.Equal(t, "jazz", resp.Prompts[0].MusicStyle)

	form, err := compose.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, form.SongCount)
	assert.Contains(t, string(form.GeneratedPrompts), "Bob")

	// A second run replaces the stored prompts.
	req.FormData = json.RawMessage(`{"recipientName":"Cy"}`)
	req.SongCount = 1
	_, err = svc.Generate(ctx, req, "")
	require.NoError(t, err)
	form, err = compose.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Contains(t, string(form.GeneratedPrompts), "Cy")
	assert.Equal(t, 1, form.SongCount)
}

type fakeCompleter struct {
	reply string
	calls int
}

func (f *fakeCompleter) ChatCompletion(context.Context, string, string) (string, error) {
	f.calls++
	return f.reply, nil
}

func (f *fakeCompleter) IsConfigured() bool { return true }

func TestPromptServiceUsesLLM(t *testing.T) {
	llm := &fakeCompleter{reply: "Sure! {\"title\":\"Ode\",\"prompt\":\"a song about Ada\"} Enjoy."}
	svc := NewPromptService(llm, nil)

	resp, err := svc.Generate(context.Background(), &model.PromptRequest{
		FormID:      "f1",
		PackageType: "double-harmony",
		SongCount:   2,
		FormData:    json.RawMessage(`{"recipientName":"Ada","genre":"folk"}`),
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, llm.calls)
	require.Len(t, resp.Prompts, 2)
	assert.Equal(t, "Ode", resp.Prompts[0].Title)
	assert.Equal(t, "a song about Ada", resp.Prompts[1].Prompt)
	assert.Equal(t, "folk", resp.Prompts[0].MusicStyle)
}

type generationFixture struct {
	db       *gorm.DB
	music    *fakeMusic
	archiver *fakeArchiver
	events   *recordingPublisher
	svc      *GenerationService
}

func newGenerationFixture(t *testing.T) *generationFixture {
	db := openTestDB(t)
	f := &generationFixture{
		db: db,
		music: &fakeMusic{resp: &client.GenerateMusicResponse{
			TaskID:        "task-1",
			ConversionID1: "c1",
			ConversionID2: "c2",
			Raw:           map[string]interface{}{"task_id": "task-1", "eta": float64(90)},
		}},
		archiver: &fakeArchiver{},
		events:   &recordingPublisher{},
	}
	f.svc = NewGenerationService(f.music, repository.NewGenerationRepository(db),
		repository.NewUserRepository(db), f.archiver, f.events)
	return f
}

func (f *generationFixture) credits(t *testing.T, userID string) int {
	t.Helper()
	var user model.User
	require.NoError(t, f.db.Where("id = ?", userID).First(&user).Error)
	return user.Credits
}

func TestGeneratePreviewWithoutSession(t *testing.T) {
	f := newGenerationFixture(t)

	out, err := f.svc.Generate(context.Background(), &model.GenerateRequest{Prompt: "p", PreviewMode: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "task-1", out["task_id"])
	assert.Equal(t, 1, f.music.calls)

	var gen model.MusicGeneration
	require.NoError(t, f.db.Where("task_id = ?", "task-1").First(&gen).Error)
	assert.Equal(t, model.GenerationPending, gen.Status)
	assert.True(t, gen.Preview)
	assert.Equal(t, "c2", gen.ConversionID2)
	assert.NotEmpty(t, gen.ShareSlugV1)
	assert.NotEqual(t, gen.ShareSlugV1, gen.ShareSlugV2)
	assert.Equal(t, []string{"generation.requested"}, f.events.types)
}

func TestGenerateRequiresCredits(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()
	identity := &auth.Identity{UserID: "u1", Email: "u1@example.com"}

	_, err := f.svc.Generate(ctx, &model.GenerateRequest{Prompt: "p"}, nil)
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = f.svc.Generate(ctx, &model.GenerateRequest{Prompt: "p"}, identity)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 0, f.music.calls)
	assert.Equal(t, 0, f.credits(t, "u1"))
}

func TestGenerateDecrementsCredit(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()
	identity := &auth.Identity{UserID: "u1", Email: "u1@example.com"}

	require.NoError(t, f.db.Create(&model.User{ID: "u1", Email: "u1@example.com", Credits: 2}).Error)

	_, err := f.svc.Generate(ctx, &model.GenerateRequest{Prompt: "p"}, identity)
	require.NoError(t, err)
	assert.Equal(t, 1, f.music.calls)
	assert.Equal(t, 1, f.credits(t, "u1"))
}

func TestGenerateForwardsUpstreamError(t *testing.T) {
	f := newGenerationFixture(t)
	f.music.err = &client.APIError{Provider: "music", StatusCode: 429, Message: "slow down"}

	_, err := f.svc.Generate(context.Background(), &model.GenerateRequest{Prompt: "p", PreviewMode: true}, nil)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)

	var count int64
	f.db.Model(&model.MusicGeneration{}).Count(&count)
	assert.Zero(t, count)
}

func seedGeneration(t *testing.T, db *gorm.DB, taskID string) {
	t.Helper()
	require.NoError(t, db.Create(&model.MusicGeneration{
		TaskID:        taskID,
		Status:        model.GenerationPending,
		ConversionID1: taskID + "-c1",
		ConversionID2: taskID + "-c2",
		ShareSlugV1:   taskID + "-s1",
		ShareSlugV2:   taskID + "-s2",
	}).Error)
}

func loadGeneration(t *testing.T, db *gorm.DB, taskID string) model.MusicGeneration {
	t.Helper()
	var gen model.MusicGeneration
	require.NoError(t, db.Where("task_id = ?", taskID).First(&gen).Error)
	return gen
}

func statusResult(t *testing.T, body string) *client.StatusResult {
	t.Helper()
	conv, err := model.ParseConversion([]byte(body))
	require.NoError(t, err)
	return &client.StatusResult{Conversion: conv, Raw: json.RawMessage(body)}
}

func TestStatusPersistsCompletion(t *testing.T) {
	f := newGenerationFixture(t)
	seedGeneration(t, f.db, "task-1")
	f.music.status = statusResult(t, `{"success":true,"conversion":{"task_id":"task-1","status":"COMPLETED",
		"conversion_path_1":"https://cdn/1.mp3","conversion_path_2":"https://cdn/2.mp3",
		"title_1":"One","title_2":"Two","conversion_duration_1":"181.5"}}`)

	resp, err := f.svc.Status(context.Background(), "task-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, "https://cdn/1.mp3", resp.AudioURL)

	gen := loadGeneration(t, f.db, "task-1")
	assert.Equal(t, model.GenerationCompleted, gen.Status)
	assert.Equal(t, "https://cdn/2.mp3", gen.AudioURL2)
	assert.Equal(t, "One", gen.Title1)
	assert.Equal(t, 181.5, gen.Duration1)
	assert.Contains(t, string(gen.StatusResponse), "COMPLETED")
	assert.ElementsMatch(t, []string{"task-1:1", "task-1:2"}, f.archiver.slots)
}

func TestStatusInProgressStoresStatusOnly(t *testing.T) {
	f := newGenerationFixture(t)
	seedGeneration(t, f.db, "task-1")
	f.music.status = statusResult(t, `{"task_id":"task-1","status":"IN_PROGRESS","conversion_path":"https://cdn/partial.mp3"}`)

	resp, err := f.svc.Status(context.Background(), "task-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", resp.Status)

	gen := loadGeneration(t, f.db, "task-1")
	assert.Equal(t, model.GenerationInProgress, gen.Status)
	assert.Empty(t, gen.AudioURL1)
	assert.Empty(t, f.archiver.slots)
}

var errStoreDown = errors.New("store down")

// failingGenerations reads through to the database but every write fails.
type failingGenerations struct {
	repository.GenerationRepository
	creates, updates int
}

func (r *failingGenerations) Create(context.Context, *model.MusicGeneration) error {
	r.creates++
	return errStoreDown
}

func (r *failingGenerations) UpdateByTaskID(context.Context, string, map[string]interface{}) (int64, error) {
	r.updates++
	return 0, errStoreDown
}

type failingUsers struct {
	repository.UserRepository
	decrements int
}

func (r *failingUsers) DecrementCredit(context.Context, string) (bool, error) {
	r.decrements++
	return false, errStoreDown
}

func TestGenerateSurvivesStorageFailures(t *testing.T) {
	f := newGenerationFixture(t)
	gens := &failingGenerations{GenerationRepository: repository.NewGenerationRepository(f.db)}
	users := &failingUsers{UserRepository: repository.NewUserRepository(f.db)}
	svc := NewGenerationService(f.music, gens, users, f.archiver, f.events)
	identity := &auth.Identity{UserID: "u1", Email: "u1@example.com"}
	require.NoError(t, f.db.Create(&model.User{ID: "u1", Email: "u1@example.com", Credits: 1}).Error)

	for _, preview := range []bool{true, false} {
		out, err := svc.Generate(context.Background(), &model.GenerateRequest{Prompt: "p", PreviewMode: preview}, identity)
		require.NoError(t, err, "preview=%v", preview)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, "task-1", out["task_id"])
		assert.Equal(t, float64(90), out["eta"])
	}

	assert.Equal(t, 2, gens.creates)
	assert.Equal(t, 1, users.decrements)
	assert.Equal(t, 1, f.credits(t, "u1"))
}

func TestStatusSurvivesStorageFailure(t *testing.T) {
	f := newGenerationFixture(t)
	gens := &failingGenerations{GenerationRepository: repository.NewGenerationRepository(f.db)}
	svc := NewGenerationService(f.music, gens, repository.NewUserRepository(f.db), f.archiver, f.events)
	f.music.status = statusResult(t, `{"success":true,"conversion":{"task_id":"task-1","status":"COMPLETED","conversion_path_1":"https://cdn/1.mp3"}}`)

	resp, err := svc.Status(context.Background(), "task-1", "", "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, "https://cdn/1.mp3", resp.AudioURL)
	assert.Equal(t, 1, gens.updates)
	assert.Empty(t, f.archiver.slots)
}

func TestGenerateWithoutTaskIDSkipsRecord(t *testing.T) {
	f := newGenerationFixture(t)
	f.music.resp = &client.GenerateMusicResponse{Raw: map[string]interface{}{"message": "queued"}}
	identity := &auth.Identity{UserID: "u1", Email: "u1@example.com"}
	require.NoError(t, f.db.Create(&model.User{ID: "u1", Email: "u1@example.com", Credits: 1}).Error)

	out, err := f.svc.Generate(context.Background(), &model.GenerateRequest{Prompt: "p"}, identity)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "queued", out["message"])

	var count int64
	f.db.Model(&model.MusicGeneration{}).Count(&count)
	assert.Zero(t, count)
	assert.Empty(t, f.events.types)
	assert.Equal(t, 0, f.credits(t, "u1"))
}

func TestShareResolvesSlot(t *testing.T) {
	f := newGenerationFixture(t)
	seedGeneration(t, f.db, "task-1")
	require.NoError(t, f.db.Model(&model.MusicGeneration{}).Where("task_id = ?", "task-1").
		Updates(map[string]interface{}{"audio_url_2": "https://cdn/2.mp3", "title_2": "Two"}).Error)

	shared, err := f.svc.Share(context.Background(), "task-1-s2")
	require.NoError(t, err)
	assert.Equal(t, "Two", shared.Title)
	assert.Equal(t, "https://cdn/2.mp3", shared.AudioURL)

	_, err = f.svc.Share(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrShareNotFound)
}

type webhookFixture struct {
	db       *gorm.DB
	compose  *ComposeService
	notifier *fakeNotifier
	archiver *fakeArchiver
	svc      *WebhookService
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	db, compose := newComposeFixture(t)
	f := &webhookFixture{db: db, compose: compose, notifier: &fakeNotifier{}, archiver: &fakeArchiver{}}
	f.svc = NewWebhookService(repository.NewGenerationRepository(db), repository.NewComposeFormRepository(db), f.notifier, f.archiver)
	return f
}

func musicCallback(taskID, conversionID, audioURL string) []byte {
	return []byte(fmt.Sprintf(`{"task_id":%q,"conversion_id":%q,"conversion_path":%q,"status":"COMPLETED","title":"Song %s","conversion_duration":120}`,
		taskID, conversionID, audioURL, taskID))
}

func TestWebhookFillsSlotByConversion(t *testing.T) {
	f := newWebhookFixture(t)
	seedGeneration(t, f.db, "t1")

	kind, err := f.svc.HandleMusicCallback(context.Background(), musicCallback("t1", "t1-c2", "https://cdn/t1-2.mp3"))
	require.NoError(t, err)
	assert.Equal(t, model.CallbackMusicAI, kind)

	gen := loadGeneration(t, f.db, "t1")
	assert.Empty(t, gen.AudioURL1)
	assert.Equal(t, "https://cdn/t1-2.mp3", gen.AudioURL2)
	assert.Equal(t, "Song t1", gen.Title2)
	assert.Equal(t, float64(120), gen.Duration2)
	assert.Equal(t, model.GenerationCompleted, gen.Status)
	assert.Equal(t, []string{"t1:2"}, f.archiver.slots)
}

func TestWebhookUnknownConversionLeavesSlots(t *testing.T) {
	f := newWebhookFixture(t)
	seedGeneration(t, f.db, "t1")

	_, err := f.svc.HandleMusicCallback(context.Background(), musicCallback("t1", "other", "https://cdn/x.mp3"))
	require.NoError(t, err)

	gen := loadGeneration(t, f.db, "t1")
	assert.Empty(t, gen.AudioURL1)
	assert.Empty(t, gen.AudioURL2)
	assert.Equal(t, model.GenerationPending, gen.Status)
	assert.Empty(t, f.archiver.slots)
}

func TestWebhookReadinessNeedsThreeVariations(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	createForm(t, f.compose, "f1")
	patchTasks(t, f.compose, "f1", "t1", "t2", "t3")

	for _, task := range []string{"t1", "t2"} {
		_, err := f.svc.HandleMusicCallback(ctx, musicCallback(task, "", "https://cdn/"+task+".mp3"))
		require.NoError(t, err)
	}
	form, err := f.compose.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusVariationsGenerating, form.Status)
	assert.Empty(t, f.notifier.ready)

	_, err = f.svc.HandleMusicCallback(ctx, musicCallback("t3", "", "https://cdn/t3.mp3"))
	require.NoError(t, err)

	form, err = f.compose.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusVariationsReady, form.Status)
	assert.Equal(t, map[string]string{"1": "https://cdn/t1.mp3", "2": "https://cdn/t2.mp3", "3": "https://cdn/t3.mp3"},
		form.View().VariationAudioURLs["0"])
	assert.Equal(t, []string{"f1/0/1", "f1/0/2", "f1/0/3"}, f.notifier.variations)
	assert.Equal(t, []string{"f1"}, f.notifier.ready)
}

func TestWebhookFirstAudioWins(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	createForm(t, f.compose, "f1")
	patchTasks(t, f.compose, "f1", "t1")

	_, err := f.svc.HandleMusicCallback(ctx, musicCallback("t1", "", "https://cdn/first.mp3"))
	require.NoError(t, err)
	_, err = f.svc.HandleMusicCallback(ctx, musicCallback("t1", "", "https://cdn/second.mp3"))
	require.NoError(t, err)

	form, err := f.compose.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/first.mp3", form.View().VariationAudioURLs["0"]["1"])
	assert.Len(t, f.notifier.variations, 1)
}

func TestWebhookWithoutConversionStoresStatus(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	seedGeneration(t, f.db, "t1")
	seedGeneration(t, f.db, "t2")

	kind, err := f.svc.HandleMusicCallback(ctx, []byte(`{"task_id":"t1","conversion_path":"https://cdn/t1.mp3","status":"COMPLETED"}`))
	require.NoError(t, err)
	assert.Equal(t, model.CallbackMusicAI, kind)

	kind, err = f.svc.HandleMusicCallback(ctx, []byte(`{"task_id":"t2","subtype":"music_ai","status":"FAILED"}`))
	require.NoError(t, err)
	assert.Equal(t, model.CallbackMusicAI, kind)

	gen := loadGeneration(t, f.db, "t1")
	assert.Equal(t, model.GenerationCompleted, gen.Status)
	assert.Empty(t, gen.AudioURL1)
	assert.Empty(t, gen.AudioURL2)

	gen = loadGeneration(t, f.db, "t2")
	assert.Equal(t, model.GenerationFailed, gen.Status)
	assert.Empty(t, f.archiver.slots)
}

func TestWebhookOtherShapes(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	seedGeneration(t, f.db, "t1")

	kind, err := f.svc.HandleMusicCallback(ctx, []byte(`{"task_id":"t1","conversion_id":"t1-c1","album_cover_path":"https://cdn/cover.png"}`))
	require.NoError(t, err)
	assert.Equal(t, model.CallbackAlbumCover, kind)

	kind, err = f.svc.HandleMusicCallback(ctx, []byte(`{"task_id":"t1","conversion_id":"t1-c2","lyrics_timestamped":[{"word":"hi","start":0.5}]}`))
	require.NoError(t, err)
	assert.Equal(t, model.CallbackTimestampedLyrics, kind)

	kind, err = f.svc.HandleMusicCallback(ctx, []byte(`{"task_id":"t1","status":"FAILED","message":"moderation"}`))
	require.NoError(t, err)
	assert.Equal(t, model.CallbackStatus, kind)

	kind, err = f.svc.HandleMusicCallback(ctx, []byte(`{"task_id":"t1","something":"else"}`))
	require.NoError(t, err)
	assert.Equal(t, model.CallbackUnrecognized, kind)

	gen := loadGeneration(t, f.db, "t1")
	assert.Equal(t, "https://cdn/cover.png", gen.AlbumCover1)
	assert.Contains(t, string(gen.LyricsTimestamped2), `"word":"hi"`)
	assert.Equal(t, model.GenerationFailed, gen.Status)

	_, err = f.svc.HandleMusicCallback(ctx, []byte(`{"conversion_path":"https://cdn/x.mp3"}`))
	assert.ErrorIs(t, err, model.ErrMissingTaskID)
}

func TestCheckoutCreatesSession(t *testing.T) {
	_, compose := newComposeFixture(t)
	createForm(t, compose, "f1")
	gateway := &fakeGateway{session: &client.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}}
	svc := NewCheckoutService(gateway, compose, "https://huggnote.test/", "")
	ctx := context.Background()

	resp, err := svc.CreateSession(ctx, &model.CheckoutRequest{
		PackageID:          "double-harmony",
		FormID:             "f1",
		RecipientName:      "Ada",
		SelectedVariations: map[string]json.RawMessage{"0": json.RawMessage(`"2"`)},
	}, &auth.Identity{UserID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/cs_1", resp.URL)

	in := gateway.input
	assert.Equal(t, int64(3499), in.AmountCents)
	assert.Equal(t, "usd", in.Currency)
	assert.Equal(t, "2", in.Metadata[MetaCredits])
	assert.Equal(t, "u1", in.Metadata[MetaUserID])
	assert.Equal(t, "f1", in.Metadata[MetaFormID])
	assert.Equal(t, `{"0":"2"}`, in.Metadata[MetaSelectedVariations])
	assert.Equal(t, "https://huggnote.test/checkout/success?form_id=f1&session_id={CHECKOUT_SESSION_ID}", in.SuccessURL)

	form, err := compose.Get(ctx, "", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, form.Songs[0].Selection())
}

func TestCheckoutRejects(t *testing.T) {
	gateway := &fakeGateway{}
	svc := NewCheckoutService(gateway, nil, "https://huggnote.test", "usd")
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, &model.CheckoutRequest{PackageID: "solo-serenade"}, nil)
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = svc.CreateSession(ctx, &model.CheckoutRequest{PackageID: "platinum"}, &auth.Identity{UserID: "u1"})
	assert.ErrorIs(t, err, ErrUnknownPackage)
	assert.Nil(t, gateway.input)
}

type paymentFixture struct {
	db      *gorm.DB
	compose *ComposeService
	gateway *fakeGateway
	mailer  *fakeMailer
	events  *recordingPublisher
	svc     *PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	db, compose := newComposeFixture(t)
	f := &paymentFixture{
		db:      db,
		compose: compose,
		gateway: &fakeGateway{},
		mailer:  &fakeMailer{},
		events:  &recordingPublisher{},
	}
	generations := repository.NewGenerationRepository(db)
	f.svc = NewPaymentService(
		f.gateway,
		repository.NewUserRepository(db),
		repository.NewOrderRepository(db),
		repository.NewComposeFormRepository(db),
		NewDeliveryService(generations, f.mailer, "https://huggnote.test"),
		f.events,
	)
	return f
}

func completedEvent(sessionID string, meta map[string]string) *client.PaymentEvent {
	return &client.PaymentEvent{
		ID:   "evt_" + sessionID,
		Type: client.EventCheckoutSessionCompleted,
		Session: &stripe.CheckoutSession{
			ID:          sessionID,
			Metadata:    meta,
			AmountTotal: 1999,
			Currency:    stripe.CurrencyUSD,
		},
	}
}

func (f *paymentFixture) orderCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Order{}).Count(&n).Error)
	return n
}

func (f *paymentFixture) user(t *testing.T, id string) model.User {
	t.Helper()
	var u model.User
	require.NoError(t, f.db.Where("id = ?", id).First(&u).Error)
	return u
}

func TestPaymentGrantsCreditsOnce(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&model.User{ID: "u1", Email: "u1@example.com", Credits: 1}).Error)
	f.gateway.event = completedEvent("cs_1", map[string]string{MetaUserID: "u1", MetaCredits: "2", MetaPackageID: "double-harmony"})

	res, err := f.svc.HandleWebhook(ctx, []byte("{}"), "sig")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(1), f.orderCount(t))
	assert.Equal(t, 3, f.user(t, "u1").Credits)

	res, err = f.svc.HandleWebhook(ctx, []byte("{}"), "sig")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(1), f.orderCount(t))
	assert.Equal(t, 3, f.user(t, "u1").Credits)
	assert.Equal(t, []string{"order.paid"}, f.events.types)
}

func TestPaymentCreatesGuestUser(t *testing.T) {
	f := newPaymentFixture(t)
	event := completedEvent("cs_guest", map[string]string{MetaCredits: "1"})
	event.Session.CustomerDetails = &stripe.CheckoutSessionCustomerDetails{Email: "Guest@Example.com"}
	f.gateway.event = event

	res, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	require.NoError(t, err)

	u := f.user(t, res.UserID)
	assert.True(t, u.IsGuest)
	assert.Equal(t, "guest@example.com", u.Email)
	assert.Equal(t, 1, u.Credits)
}

func TestPaymentRejectsMissingMetadata(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	f.gateway.event = completedEvent("cs_1", map[string]string{MetaCredits: "1"})
	_, err := f.svc.HandleWebhook(ctx, []byte("{}"), "sig")
	assert.ErrorIs(t, err, ErrMissingUser)

	f.gateway.event = completedEvent("cs_1", map[string]string{MetaUserID: "u1", MetaCredits: "lots"})
	_, err = f.svc.HandleWebhook(ctx, []byte("{}"), "sig")
	assert.ErrorIs(t, err, ErrMissingCredits)

	f.gateway.event = nil
	f.gateway.err = client.ErrInvalidSignature
	_, err = f.svc.HandleWebhook(ctx, []byte("{}"), "bad")
	assert.ErrorIs(t, err, client.ErrInvalidSignature)

	assert.Zero(t, f.orderCount(t))
}

func TestPaymentIgnoresOtherEvents(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.event = &client.PaymentEvent{ID: "evt_1", Type: "payment_intent.created"}

	res, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	require.NoError(t, err)
	assert.Equal(t, "payment_intent.created", res.EventType)
	assert.Zero(t, f.orderCount(t))
}

func seedReadyForm(t *testing.T, f *paymentFixture) {
	t.Helper()
	createForm(t, f.compose, "f1")
	patchTasks(t, f.compose, "f1", "t1", "t2", "t3")
	for _, task := range []string{"t1", "t2", "t3"} {
		seedGeneration(t, f.db, task)
	}
	_, err := f.compose.Patch(context.Background(), &model.ComposeFormPatch{
		FormID:             "f1",
		VariationAudioURLs: map[string]map[string]string{"0": {"1": "https://cdn/1.mp3", "2": "https://cdn/2.mp3", "3": "https://cdn/3.mp3"}},
		SelectedVariations: map[string]json.RawMessage{"0": json.RawMessage(`["2"]`)},
	})
	require.NoError(t, err)
}

func TestPaymentDeliversForm(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	seedReadyForm(t, f)
	f.gateway.event = completedEvent("cs_1", map[string]string{
		MetaUserID:        "u1",
		MetaUserEmail:     "buyer@example.com",
		MetaCredits:       "1",
		MetaFormID:        "f1",
		MetaRecipientName: "Ada",
	})

	res, err := f.svc.HandleWebhook(ctx, []byte("{}"), "sig")
	require.NoError(t, err)
	assert.True(t, res.Delivered)

	require.Len(t, f.mailer.sent, 1)
	email := f.mailer.sent[0]
	assert.Equal(t, "buyer@example.com", email.To)
	assert.Contains(t, email.Subject, "Ada")
	assert.Contains(t, email.HTML, "https://huggnote.test/song/t2-s1")
	assert.NotContains(t, email.HTML, "t1-s1")

	form, err := f.compose.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusDelivered, form.Status)
	assert.NotNil(t, form.DeliveredAt)
	require.NotNil(t, form.StripeSessionID)
	assert.Equal(t, "cs_1", *form.StripeSessionID)
	assert.Equal(t, []string{"order.paid", "form.delivered"}, f.events.types)
}

func TestPaymentEmailFailureKeepsPayment(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	seedReadyForm(t, f)
	f.mailer.err = errors.New("smtp down")
	f.gateway.event = completedEvent("cs_1", map[string]string{
		MetaUserID:    "u1",
		MetaUserEmail: "buyer@example.com",
		MetaCredits:   "1",
		MetaFormID:    "f1",
	})

	res, err := f.svc.HandleWebhook(ctx, []byte("{}"), "sig")
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, 1, f.user(t, "u1").Credits)

	form, err := f.compose.Get(ctx, "f1", "")
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusPaymentSuccessful, form.Status)
	assert.Nil(t, form.DeliveredAt)
}

func TestBuildShareLinksWithoutSelection(t *testing.T) {
	db, compose := newComposeFixture(t)
	ctx := context.Background()
	createForm(t, compose, "f1")
	patchTasks(t, compose, "f1", "t1", "t2")
	seedGeneration(t, db, "t1")
	require.NoError(t, db.Model(&model.MusicGeneration{}).Where("task_id = ?", "t1").
		Update("audio_url_2", "https://cdn/t1-2.mp3").Error)

	form, err := compose.Patch(ctx, &model.ComposeFormPatch{
		FormID:             "f1",
		VariationAudioURLs: map[string]map[string]string{"0": {"1": "https://cdn/t1-2.mp3", "2": "https://cdn/t2.mp3"}},
	})
	require.NoError(t, err)

	svc := NewDeliveryService(repository.NewGenerationRepository(db), &fakeMailer{}, "https://huggnote.test")
	links, err := svc.BuildShareLinks(ctx, form)
	require.NoError(t, err)
	require.Len(t, links, 2)

	byVariation := map[string]string{}
	for _, l := range links {
		byVariation[l.VariationID] = l.URL
	}
	assert.Equal(t, "https://huggnote.test/song/t1-s2", byVariation["1"])
	assert.Equal(t, "https://cdn/t2.mp3", byVariation["2"])
}
