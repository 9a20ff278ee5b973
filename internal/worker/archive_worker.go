package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/hibiken/asynq"

	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/repository"
)

const (
	TaskTypeArchiveAudio = "audio:archive"
	QueueArchive         = "archive"

	maxAudioBytes = 64 << 20
)

// ArchivePayload names one finished rendition to mirror into object storage.
type ArchivePayload struct {
	TaskID   string `json:"taskId"`
	Slot     int    `json:"slot"`
	AudioURL string `json:"audioUrl"`
}

// ArchiveKey is the object key of an archived rendition.
func ArchiveKey(taskID string, slot int) string {
	return fmt.Sprintf("songs/%s/%d.mp3", taskID, slot)
}

// ArchiveQueue enqueues archive tasks on asynq.
type ArchiveQueue struct {
	client *asynq.Client
}

// NewArchiveQueue wraps an asynq client.
func NewArchiveQueue(c *asynq.Client) *ArchiveQueue {
	return &ArchiveQueue{client: c}
}

// EnqueueArchive schedules one rendition for archiving. Both the webhook and
// the status poller report completions, so the task id deduplicates them.
func (q *ArchiveQueue) EnqueueArchive(ctx context.Context, taskID string, slot int, audioURL string) error {
	data, err := json.Marshal(ArchivePayload{TaskID: taskID, Slot: slot, AudioURL: audioURL})
	if err != nil {
		return fmt.Errorf("marshal archive payload: %w", err)
	}

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeArchiveAudio, data),
		asynq.Queue(QueueArchive),
		asynq.TaskID(fmt.Sprintf("archive:%s:%d", taskID, slot)),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue archive task: %w", err)
	}
	return nil
}

// ArchiveWorker copies provider audio into object storage so share links keep
// working after the provider's URLs expire.
type ArchiveWorker struct {
	generations repository.GenerationRepository
	store       client.ObjectStore
	httpClient  *http.Client
}

// NewArchiveWorker creates an archive worker. A nil store turns every task
// into a no-op.
func NewArchiveWorker(generations repository.GenerationRepository, store client.ObjectStore) *ArchiveWorker {
	return &ArchiveWorker{
		generations: generations,
		store:       store,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// ProcessTask handles audio:archive tasks
func (w *ArchiveWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ArchivePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal archive payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.TaskID == "" || p.AudioURL == "" || (p.Slot != 1 && p.Slot != 2) {
		return fmt.Errorf("invalid archive payload %+v: %w", p, asynq.SkipRetry)
	}

	if w.store == nil {
		fiberlog.Debugf("[Archive] storage not configured, skipping %s/%d", p.TaskID, p.Slot)
		return nil
	}

	audio, contentType, err := w.download(ctx, p.AudioURL)
	if err != nil {
		return err
	}

	url, err := w.store.Upload(ctx, ArchiveKey(p.TaskID, p.Slot), bytes.NewReader(audio), contentType)
	if err != nil {
		return err
	}

	n, err := w.generations.UpdateByTaskID(ctx, p.TaskID, map[string]interface{}{
		model.SlotColumn("archive_url", p.Slot): url,
	})
	if err != nil {
		return fmt.Errorf("store archive url: %w", err)
	}
	if n == 0 {
		fiberlog.Warnf("[Archive] no generation row for task %s", p.TaskID)
	}

	fiberlog.Infof("[Archive] task %s slot %d archived (%d bytes)", p.TaskID, p.Slot, len(audio))
	return nil
}

func (w *ArchiveWorker) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %v: %w", err, asynq.SkipRetry)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, "", fmt.Errorf("audio %s returned %d: %w", url, resp.StatusCode, asynq.SkipRetry)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("audio %s returned %d", url, resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	if len(audio) > maxAudioBytes {
		return nil, "", fmt.Errorf("audio %s exceeds %d bytes: %w", url, maxAudioBytes, asynq.SkipRetry)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return audio, contentType, nil
}
