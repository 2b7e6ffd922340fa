package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"animify-backend/internal/imaging"
	"animify-backend/internal/models"
	"animify-backend/internal/services"
)

const maxAttempts = 3

var (
	// errJobDropped marks jobs whose item was deleted or already settled.
	errJobDropped  = errors.New("job dropped")
	errPollTimeout = errors.New("video generation timed out")
	errBadParams   = errors.New("stored generation parameters are unreadable")
	errInterrupted = errors.New("generation was interrupted by a server restart")
)

type generator interface {
	GenerateImage(ctx context.Context, req services.ImageGenerationRequest) (*services.ImageResult, error)
	TransformImage(ctx context.Context, req services.ImageTransformRequest) (*services.ImageResult, error)
	SwapFace(ctx context.Context, req services.FaceSwapRequest) (*services.ImageResult, error)
	Animate(ctx context.Context, req services.AnimateRequest) (string, error)
	CreateStory(ctx context.Context, req services.StoryRequest) (string, error)
	GetVideoTask(ctx context.Context, taskID string) (*services.VideoTask, error)
}

type mediaStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
	SetResult(ctx context.Context, id uuid.UUID, res models.MediaResult) error
	SetError(ctx context.Context, id uuid.UUID, errMsg string) error
	FailStale(ctx context.Context, before time.Time, errMsg string) ([]*models.MediaItem, error)
}

type sourceImages interface {
	SourceImage(ctx context.Context, item *models.MediaItem) ([]byte, string, error)
}

type updatePublisher interface {
	PublishUpdate(ctx context.Context, ownerID uuid.UUID, msg models.WSMessage)
}

type jobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

type Pool struct {
	redis       *redis.Client
	exh         generator
	media       mediaStore
	sources     sourceImages
	publisher   updatePublisher
	queue       jobQueue
	workerCount int
	stopChan    chan struct{}
	stopOnce    sync.Once

	// popCtx ends blocking pops on Stop; jobsCtx aborts running jobs once
	// the drain deadline passes.
	popCtx     context.Context
	cancelPop  context.CancelFunc
	jobsCtx    context.Context
	cancelJobs context.CancelFunc

	// wg tracks workers and retries waiting out their backoff.
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[uuid.UUID]models.Job

	pollInterval time.Duration
	pollTimeout  time.Duration
	schedule     func(d time.Duration, f func())
}

func NewPool(
	redisClient *redis.Client,
	exh generator,
	media mediaStore,
	sources sourceImages,
	publisher updatePublisher,
	queue jobQueue,
	workerCount int,
) *Pool {
	popCtx, cancelPop := context.WithCancel(context.Background())
	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	return &Pool{
		redis:        redisClient,
		exh:          exh,
		media:        media,
		sources:      sources,
		publisher:    publisher,
		queue:        queue,
		workerCount:  workerCount,
		stopChan:     make(chan struct{}),
		popCtx:       popCtx,
		cancelPop:    cancelPop,
		jobsCtx:      jobsCtx,
		cancelJobs:   cancelJobs,
		pending:      make(map[uuid.UUID]models.Job),
		pollInterval: 5 * time.Second,
		pollTimeout:  10 * time.Minute,
		schedule:     func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

func (p *Pool) Start() {
	queues := models.JobQueues()

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, queues)
	}

	log.Printf("Started %d worker goroutines", p.workerCount)
}

// Stop stops taking new jobs and waits for running ones to settle. Retries
// still in backoff are queued right away so the next process picks them up.
// When ctx expires first, running jobs are cancelled and put back on the queue.
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.cancelPop()
	})
	p.flushRetries()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Worker pool drained")
	case <-ctx.Done():
		log.Println("Worker pool drain deadline passed, interrupting running jobs")
		p.cancelJobs()
		<-done
	}
}

// RecoverStale fails items left loading by a process that exited mid-job.
// Items younger than the longest job run are left alone.
func (p *Pool) RecoverStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-p.staleAfter())
	code, msg := failureDetails(errInterrupted)

	items, err := p.media.FailStale(ctx, cutoff, msg)
	if err != nil {
		return 0, fmt.Errorf("fail stale media: %w", err)
	}

	for _, item := range items {
		p.publisher.PublishUpdate(ctx, item.OwnerID, models.WSMessage{
			Type: models.WSMediaFailed,
			Payload: models.MediaFailedEvent{
				MediaID:      item.ID,
				ErrorCode:    code,
				ErrorMessage: msg,
			},
		})
	}
	return len(items), nil
}

func (p *Pool) staleAfter() time.Duration {
	return p.pollTimeout + 10*time.Minute
}

func (p *Pool) stopping() bool {
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}

func (p *Pool) worker(id int, queues []string) {
	defer p.wg.Done()

	for {
		if p.stopping() {
			log.Printf("Worker %d shutting down", id)
			return
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(p.popCtx, 30*time.Second, queues...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || p.popCtx.Err() != nil {
				continue
			}
			log.Printf("Worker %d: queue pop failed: %v", id, err)
			select {
			case <-p.stopChan:
			case <-time.After(time.Second):
			}
			continue
		}

		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse job: %v", id, err)
			continue
		}

		// The lock outlives the longest video poll.
		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", p.pollTimeout+5*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		log.Printf("Worker %d: processing job %s (type: %s, attempt %d)", id, job.ID, job.Type, job.RetryCount+1)
		p.process(ctx, &job)

		p.redis.Del(ctx, lockKey)
	}
}

// process runs one job and settles its media item.
func (p *Pool) process(ctx context.Context, job *models.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.pollTimeout+2*time.Minute)
	defer cancel()
	stop := context.AfterFunc(p.jobsCtx, cancel)
	defer stop()

	res, err := p.execute(jobCtx, job)
	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}
	p.handleSuccess(ctx, job, res)
}

func (p *Pool) execute(ctx context.Context, job *models.Job) (models.MediaResult, error) {
	item, err := p.media.GetByID(ctx, job.MediaID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaResult{}, errJobDropped
	}
	if err != nil {
		return models.MediaResult{}, fmt.Errorf("load media item: %w", err)
	}
	if !item.Loading {
		return models.MediaResult{}, errJobDropped
	}

	switch job.Type {
	case models.OpGenerate:
		var params models.GenerateImageRequest
		if err := decodeParams(item, &params); err != nil {
			return models.MediaResult{}, err
		}
		img, err := p.exh.GenerateImage(ctx, services.ImageGenerationRequest{
			Prompt:         item.Prompt,
			NegativePrompt: params.NegativePrompt,
			Width:          params.Width,
			Height:         params.Height,
			Seed:           params.Seed,
		})
		if err != nil {
			return models.MediaResult{}, err
		}
		return imageResult(img), nil

	case models.OpTransform:
		source, err := p.parentImage(ctx, item)
		if err != nil {
			return models.MediaResult{}, err
		}
		var params models.TransformRequest
		if err := decodeParams(item, &params); err != nil {
			return models.MediaResult{}, err
		}
		img, err := p.exh.TransformImage(ctx, services.ImageTransformRequest{
			Image:          source,
			Prompt:         item.Prompt,
			NegativePrompt: params.NegativePrompt,
			Strength:       params.Strength,
		})
		if err != nil {
			return models.MediaResult{}, err
		}
		return imageResult(img), nil

	case models.OpFaceSwap:
		face, err := p.parentImage(ctx, item)
		if err != nil {
			return models.MediaResult{}, err
		}
		var params models.FaceSwapRequest
		if err := decodeParams(item, &params); err != nil {
			return models.MediaResult{}, err
		}
		if params.TargetID == nil {
			return models.MediaResult{}, &services.ValidationError{Fields: map[string]string{"target_id": "missing"}}
		}
		scene, err := p.ownedImage(ctx, item.OwnerID, *params.TargetID)
		if err != nil {
			return models.MediaResult{}, err
		}
		img, err := p.exh.SwapFace(ctx, services.FaceSwapRequest{SourceImage: face, TargetImage: scene})
		if err != nil {
			return models.MediaResult{}, err
		}
		return imageResult(img), nil

	case models.OpAnimate:
		source, err := p.parentImage(ctx, item)
		if err != nil {
			return models.MediaResult{}, err
		}
		var params models.AnimateRequest
		if err := decodeParams(item, &params); err != nil {
			return models.MediaResult{}, err
		}
		taskID, err := p.exh.Animate(ctx, services.AnimateRequest{Image: source, Prompt: item.Prompt, Duration: params.Duration})
		if err != nil {
			return models.MediaResult{}, err
		}
		return p.waitForVideo(ctx, taskID)

	case models.OpStory:
		source, err := p.parentImage(ctx, item)
		if err != nil {
			return models.MediaResult{}, err
		}
		var params models.StoryRequest
		if err := decodeParams(item, &params); err != nil {
			return models.MediaResult{}, err
		}
		taskID, err := p.exh.CreateStory(ctx, services.StoryRequest{Image: source, Prompt: item.Prompt, Scenes: params.Scenes})
		if err != nil {
			return models.MediaResult{}, err
		}
		return p.waitForVideo(ctx, taskID)

	default:
		return models.MediaResult{}, &services.ValidationError{Fields: map[string]string{"type": "unknown job type: " + job.Type}}
	}
}

func decodeParams(item *models.MediaItem, v interface{}) error {
	if len(item.ParamsJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(item.ParamsJSON, v); err != nil {
		return fmt.Errorf("media %s: %w: %v", item.ID, errBadParams, err)
	}
	return nil
}

func (p *Pool) parentImage(ctx context.Context, item *models.MediaItem) (string, error) {
	if item.ParentID == nil {
		return "", &services.NotFoundError{Message: "Source image is missing"}
	}
	return p.ownedImage(ctx, item.OwnerID, *item.ParentID)
}

// ownedImage loads an image item of the same owner as bare base64.
func (p *Pool) ownedImage(ctx context.Context, ownerID, id uuid.UUID) (string, error) {
	source, err := p.media.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && source.OwnerID != ownerID) {
		return "", &services.NotFoundError{Message: "Source image was deleted"}
	}
	if err != nil {
		return "", fmt.Errorf("load source item: %w", err)
	}

	data, _, err := p.sources.SourceImage(ctx, source)
	if err != nil {
		return "", err
	}
	return imaging.EncodeBase64(data), nil
}

// waitForVideo polls a video task until it settles or the poll deadline passes.
// Transient status errors keep the poll going.
func (p *Pool) waitForVideo(ctx context.Context, taskID string) (models.MediaResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.MediaResult{}, fmt.Errorf("task %s: %w", taskID, errPollTimeout)
		case <-ticker.C:
		}

		task, err := p.exh.GetVideoTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return models.MediaResult{}, fmt.Errorf("task %s: %w", taskID, errPollTimeout)
			}
			if !services.IsRetryable(err) {
				return models.MediaResult{}, err
			}
			log.Printf("Polling video task %s failed, will retry: %v", taskID, err)
			continue
		}

		switch task.Status {
		case services.TaskSucceeded:
			if task.VideoURL == "" {
				return models.MediaResult{}, &services.UpstreamError{Status: http.StatusBadGateway, Message: "video task finished without a video"}
			}
			videoURL := task.VideoURL
			return models.MediaResult{VideoURL: &videoURL}, nil
		case services.TaskFailed:
			msg := task.Error
			if msg == "" {
				msg = "video generation failed"
			}
			return models.MediaResult{}, &services.UpstreamError{Status: http.StatusUnprocessableEntity, Message: msg}
		}
	}
}

func imageResult(img *services.ImageResult) models.MediaResult {
	var res models.MediaResult
	if img.Base64 != "" {
		b64, mime := img.Base64, img.MimeType
		res.Base64 = &b64
		res.MimeType = &mime
	}
	if img.URL != "" {
		u := img.URL
		res.URL = &u
	}
	return res
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job, res models.MediaResult) {
	if err := p.media.SetResult(ctx, job.MediaID, res); err != nil {
		p.handleFailure(ctx, job, fmt.Errorf("store result: %w", err))
		return
	}

	item, err := p.media.GetByID(ctx, job.MediaID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Printf("Job %s finished but media %s was deleted", job.ID, job.MediaID)
		} else {
			log.Printf("Job %s: failed to reload media %s: %v", job.ID, job.MediaID, err)
		}
		return
	}

	p.publisher.PublishUpdate(ctx, job.OwnerID, models.WSMessage{
		Type:    models.WSMediaUpdated,
		Payload: item,
	})

	log.Printf("Job %s completed successfully", job.ID)
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	if errors.Is(err, errJobDropped) {
		log.Printf("Job %s dropped: media %s no longer awaits a result", job.ID, job.MediaID)
		return
	}

	// Cut short by shutdown: the attempt does not count.
	if p.jobsCtx.Err() != nil {
		log.Printf("Job %s interrupted by shutdown, re-queueing", job.ID)
		p.requeue(*job)
		return
	}

	job.RetryCount++
	errMsg := err.Error()

	if job.RetryCount < maxAttempts && retryable(err) {
		log.Printf("Job %s failed (attempt %d): %s, retrying", job.ID, job.RetryCount, errMsg)
		p.retryLater(*job, time.Duration(1<<uint(job.RetryCount))*time.Second)
		return
	}

	log.Printf("Job %s failed permanently: %s", job.ID, errMsg)
	p.fail(ctx, job, err)
}

func retryable(err error) bool {
	if errors.Is(err, errPollTimeout) || errors.Is(err, errBadParams) {
		return false
	}
	return services.IsRetryable(err)
}

// retryLater re-queues job after backoff. Once the pool is stopping the job
// goes back on the queue immediately.
func (p *Pool) retryLater(job models.Job, backoff time.Duration) {
	if p.stopping() {
		p.requeue(job)
		return
	}

	p.mu.Lock()
	p.pending[job.ID] = job
	p.mu.Unlock()
	p.wg.Add(1)

	p.schedule(backoff, func() {
		p.mu.Lock()
		retry, ok := p.pending[job.ID]
		delete(p.pending, job.ID)
		p.mu.Unlock()
		if !ok {
			return // flushed by Stop
		}
		defer p.wg.Done()
		p.requeue(retry)
	})
}

func (p *Pool) flushRetries() {
	p.mu.Lock()
	retries := make([]models.Job, 0, len(p.pending))
	for id, job := range p.pending {
		retries = append(retries, job)
		delete(p.pending, id)
	}
	p.mu.Unlock()

	for _, job := range retries {
		p.requeue(job)
		p.wg.Done()
	}
}

func (p *Pool) requeue(job models.Job) {
	if err := p.queue.Enqueue(context.Background(), &job); err != nil {
		log.Printf("Job %s: failed to re-queue: %v", job.ID, err)
		p.fail(context.Background(), &job, err)
	}
}

// fail stores the final error on the item and notifies the owner.
func (p *Pool) fail(ctx context.Context, job *models.Job, err error) {
	if _, getErr := p.media.GetByID(ctx, job.MediaID); errors.Is(getErr, pgx.ErrNoRows) {
		return
	}

	code, msg := failureDetails(err)
	if setErr := p.media.SetError(ctx, job.MediaID, msg); setErr != nil {
		log.Printf("Job %s: failed to store error on media %s: %v", job.ID, job.MediaID, setErr)
	}

	p.publisher.PublishUpdate(ctx, job.OwnerID, models.WSMessage{
		Type: models.WSMediaFailed,
		Payload: models.MediaFailedEvent{
			MediaID:      job.MediaID,
			JobID:        job.ID,
			ErrorCode:    code,
			ErrorMessage: msg,
		},
	})
}

func failureDetails(err error) (string, string) {
	var upErr *services.UpstreamError
	var nfErr *services.NotFoundError
	switch {
	case errors.Is(err, errPollTimeout):
		return "TIMEOUT", "Generation took too long. Please retry."
	case errors.Is(err, errInterrupted):
		return "INTERRUPTED", "Generation was interrupted by a server restart. Please retry."
	case errors.Is(err, errBadParams):
		return "JOB_FAILED", "The saved generation settings could not be read. Please start a new generation."
	case errors.As(err, &upErr):
		switch {
		case upErr.Status == http.StatusTooManyRequests:
			return "RATE_LIMITED", "The generation service is busy. Please retry in a moment."
		case upErr.Status >= 400 && upErr.Status < 500:
			return "UPSTREAM_REJECTED", upErr.Message
		default:
			return "UPSTREAM_ERROR", "The generation service failed: " + upErr.Message
		}
	case errors.As(err, &nfErr):
		return "SOURCE_MISSING", nfErr.Message
	default:
		return "JOB_FAILED", err.Error()
	}
}
