// Package analysis orchestrates the video inventory pipeline: sample frames
// from a staged video, push the frames and the source video to the CDN, call
// the vision endpoint once per unit, extract item labels, and persist the
// result for the room.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ndemidov/roomsight/internal/cdn"
	"github.com/ndemidov/roomsight/internal/extract"
	"github.com/ndemidov/roomsight/internal/models"
	"github.com/ndemidov/roomsight/internal/storage"
)

const defaultPrompt = "You are taking inventory of a room. List every distinct item visible " +
	"across these video frames. Respond with one item per line and nothing else."

type FrameSampler interface {
	Sample(ctx context.Context, videoPath string, interval time.Duration) ([][]byte, error)
}

type AssetUploader interface {
	Upload(ctx context.Context, data []byte, kind cdn.Kind) (string, error)
	UploadCached(ctx context.Context, localKey string, data []byte, kind cdn.Kind) (string, error)
}

type InferenceClient interface {
	Infer(ctx context.Context, prompt string, imageURLs []string) (string, error)
}

type VideoStore interface {
	GetByID(ctx context.Context, id string) (*models.Video, error)
	SetRemoteURL(ctx context.Context, id, remoteURL string) error
}

type RoomStore interface {
	AppendEntry(ctx context.Context, entry *models.VideoEntry) error
}

type ResultStore interface {
	CreateResult(ctx context.Context, result *models.AnalysisResult) error
	CreateBatchResult(ctx context.Context, result *models.BatchAnalysisResult) error
	HasCompletedResult(ctx context.Context, roomID, videoURL string) (bool, error)
}

type Config struct {
	SampleInterval time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
	Prompt         string
	Policy         RunPolicy
}

type Service struct {
	sampler   FrameSampler
	uploader  AssetUploader
	inference InferenceClient
	storage   storage.Storage
	videos    VideoStore
	rooms     RoomStore
	results   ResultStore
	config    Config

	unitsMu sync.RWMutex
	units   map[string]*Unit
}

func NewService(
	sampler FrameSampler,
	uploader AssetUploader,
	inference InferenceClient,
	storageService storage.Storage,
	videos VideoStore,
	rooms RoomStore,
	results ResultStore,
	config Config,
) *Service {
	if config.SampleInterval == 0 {
		config.SampleInterval = 2 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 200 * time.Millisecond
	}
	if config.PollTimeout == 0 {
		config.PollTimeout = 20 * time.Second
	}
	if config.Prompt == "" {
		config.Prompt = defaultPrompt
	}
	if config.Policy == "" {
		config.Policy = PolicyAdditive
	}

	return &Service{
		sampler:   sampler,
		uploader:  uploader,
		inference: inference,
		storage:   storageService,
		videos:    videos,
		rooms:     rooms,
		results:   results,
		config:    config,
		units:     make(map[string]*Unit),
	}
}

// Start launches the analysis of the given staged videos for a room. In
// separate mode every video gets its own concurrently-running unit; in batch
// mode one unit covers all of them with a single inference call. Units run
// detached from the caller's context and are cancelled through Unit.Cancel.
func (s *Service) Start(ctx context.Context, roomID string, videoIDs []string, mode Mode) ([]*Unit, error) {
	if len(videoIDs) == 0 {
		return nil, fmt.Errorf("at least one video is required")
	}

	videos := make([]*models.Video, 0, len(videoIDs))
	for _, id := range videoIDs {
		video, err := s.videos.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading video %s: %w", id, err)
		}
		if video == nil {
			return nil, fmt.Errorf("video %s not found", id)
		}
		if video.RoomID != roomID {
			return nil, fmt.Errorf("video %s does not belong to room %s", id, roomID)
		}
		videos = append(videos, video)
	}

	var units []*Unit
	switch mode {
	case ModeSeparate:
		for _, video := range videos {
			unit := s.newUnit(roomID, mode, []string{video.ID})
			go s.runIndividual(unit, video)
			units = append(units, unit)
		}
	case ModeBatch:
		unit := s.newUnit(roomID, mode, videoIDs)
		go s.runBatch(unit, videos)
		units = append(units, unit)
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", mode)
	}

	return units, nil
}

// Unit returns a running or finished unit by id.
func (s *Service) Unit(id string) (*Unit, bool) {
	s.unitsMu.RLock()
	defer s.unitsMu.RUnlock()

	unit, ok := s.units[id]
	return unit, ok
}

// Units lists every unit the service has started, newest last not guaranteed.
func (s *Service) Units() []*Unit {
	s.unitsMu.RLock()
	defer s.unitsMu.RUnlock()

	units := make([]*Unit, 0, len(s.units))
	for _, unit := range s.units {
		units = append(units, unit)
	}
	return units
}

func (s *Service) newUnit(roomID string, mode Mode, videoIDs []string) *Unit {
	unitCtx, cancel := context.WithCancel(context.Background())

	unit := &Unit{
		ID:       uuid.New().String(),
		RoomID:   roomID,
		Mode:     mode,
		VideoIDs: videoIDs,
		Updates:  make(chan Update, 64),
		cancel:   cancel,
	}
	unit.mu.Lock()
	unit.stage = StageIdle
	unit.startedAt = time.Now()
	unit.ctx = unitCtx
	unit.mu.Unlock()

	s.unitsMu.Lock()
	s.units[unit.ID] = unit
	s.unitsMu.Unlock()

	return unit
}

func (s *Service) runIndividual(unit *Unit, video *models.Video) {
	ctx := unit.ctx
	defer close(unit.Updates)

	log.Info().Str("unit", unit.ID).Str("video", video.ID).Msg("starting individual analysis")

	if s.config.Policy == PolicySkipCompleted && video.RemoteURL != "" {
		done, err := s.results.HasCompletedResult(ctx, unit.RoomID, video.RemoteURL)
		if err != nil {
			s.fail(ctx, unit, video.RemoteURL, fmt.Errorf("checking previous results: %w", err))
			return
		}
		if done {
			unit.setStage(StageCompleted, 100, "already analyzed, skipped")
			return
		}
	}

	remoteErr := s.ensureRemoteUpload(ctx, unit, video)

	frameURLs, err := s.sampleAndUploadFrames(ctx, unit, video, 10, 55)
	if err != nil {
		s.fail(ctx, unit, video.RemoteURL, err)
		return
	}

	unit.setStage(StageInferring, 60, "")
	raw, err := s.inference.Infer(ctx, s.config.Prompt, frameURLs)
	if err != nil {
		s.fail(ctx, unit, video.RemoteURL, err)
		return
	}

	unit.setStage(StageExtracting, 75, "")
	items := extract.Items(raw)

	remoteURL, err := s.awaitRemoteURL(ctx, video.ID, remoteErr)
	if err != nil {
		s.fail(ctx, unit, video.RemoteURL, err)
		return
	}

	unit.setStage(StagePersisting, 90, "")
	result := models.NewAnalysisResult(unit.RoomID, remoteURL)
	result.Items = items
	result.Status = models.StatusCompleted
	if err := s.results.CreateResult(ctx, result); err != nil {
		s.fail(ctx, unit, remoteURL, fmt.Errorf("persisting result: %w", err))
		return
	}
	if err := s.rooms.AppendEntry(ctx, models.NewVideoEntry(unit.RoomID, models.EntryIndividual, remoteURL)); err != nil {
		s.fail(ctx, unit, remoteURL, fmt.Errorf("appending room entry: %w", err))
		return
	}

	unit.setResultID(result.ID)
	unit.setStage(StageCompleted, 100, "")
	log.Info().Str("unit", unit.ID).Int("items", len(items)).Msg("analysis completed")
}

func (s *Service) runBatch(unit *Unit, videos []*models.Video) {
	ctx := unit.ctx
	defer close(unit.Updates)

	log.Info().Str("unit", unit.ID).Int("videos", len(videos)).Msg("starting batch analysis")

	remoteErrs := make([]<-chan error, len(videos))
	for i, video := range videos {
		remoteErrs[i] = s.ensureRemoteUpload(ctx, unit, video)
	}

	var frameURLs []string
	for i, video := range videos {
		// Sampling and frame uploads together advance progress from 10 to 55,
		// split evenly across the batch.
		base := 10 + 45*i/len(videos)
		top := 10 + 45*(i+1)/len(videos)
		urls, err := s.sampleAndUploadFrames(ctx, unit, video, base, top)
		if err != nil {
			s.failBatch(ctx, unit, nil, err)
			return
		}
		frameURLs = append(frameURLs, urls...)
	}

	unit.setStage(StageInferring, 60, "")
	raw, err := s.inference.Infer(ctx, s.config.Prompt, frameURLs)
	if err != nil {
		s.failBatch(ctx, unit, nil, err)
		return
	}

	unit.setStage(StageExtracting, 75, "")
	items := extract.Items(raw)

	remoteURLs := make([]string, len(videos))
	for i, video := range videos {
		url, err := s.awaitRemoteURL(ctx, video.ID, remoteErrs[i])
		if err != nil {
			s.failBatch(ctx, unit, nil, err)
			return
		}
		remoteURLs[i] = url
	}

	unit.setStage(StagePersisting, 90, "")
	batch := models.NewBatchAnalysisResult(unit.RoomID, remoteURLs)
	batch.Items = items
	batch.Status = models.StatusCompleted
	if err := s.results.CreateBatchResult(ctx, batch); err != nil {
		s.failBatch(ctx, unit, remoteURLs, fmt.Errorf("persisting batch result: %w", err))
		return
	}
	if err := s.rooms.AppendEntry(ctx, models.NewVideoEntry(unit.RoomID, models.EntryBatch, batch.ID)); err != nil {
		s.failBatch(ctx, unit, remoteURLs, fmt.Errorf("appending room entry: %w", err))
		return
	}

	unit.setResultID(batch.ID)
	unit.setStage(StageCompleted, 100, "")
	log.Info().Str("unit", unit.ID).Int("items", len(items)).Msg("batch analysis completed")
}

// ensureRemoteUpload starts the source-video CDN upload in the background if
// the video has no remote URL yet. Sampling does not wait on it; persistence
// later polls the store for the URL. The returned channel carries the upload
// error, if any, so the poll can fail fast instead of timing out.
func (s *Service) ensureRemoteUpload(ctx context.Context, unit *Unit, video *models.Video) <-chan error {
	errCh := make(chan error, 1)
	if video.RemoteURL != "" {
		errCh <- nil
		return errCh
	}

	unit.setStage(StageUploading, 5, "")

	go func() {
		data, err := s.storage.ReadFile(video.Filename)
		if err != nil {
			errCh <- fmt.Errorf("reading staged video: %w", err)
			return
		}
		url, err := s.uploader.UploadCached(ctx, video.ID, data, cdn.KindVideo)
		if err != nil {
			errCh <- fmt.Errorf("uploading video: %w", err)
			return
		}
		if err := s.videos.SetRemoteURL(ctx, video.ID, url); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	return errCh
}

func (s *Service) sampleAndUploadFrames(ctx context.Context, unit *Unit, video *models.Video, base, top int) ([]string, error) {
	unit.setStage(StageSampling, base, "")

	videoPath := s.storage.FilePath(video.Filename)
	frames, err := s.sampler.Sample(ctx, videoPath, s.config.SampleInterval)
	if err != nil {
		return nil, fmt.Errorf("sampling frames: %w", err)
	}

	mid := base + (top-base)/2
	unit.setStage(StageFramesUploading, mid, "")

	frameURLs := make([]string, 0, len(frames))
	for i, frame := range frames {
		url, err := s.uploader.Upload(ctx, frame, cdn.KindImage)
		if err != nil {
			return nil, fmt.Errorf("uploading frame %d: %w", i, err)
		}
		frameURLs = append(frameURLs, url)
		unit.setStage(StageFramesUploading, mid+(top-mid)*(i+1)/len(frames), "")
	}

	return frameURLs, nil
}

// awaitRemoteURL polls the video store at a fixed interval until the remote
// URL appears, the background upload reports an error, the bounded wait
// elapses, or the unit is cancelled.
func (s *Service) awaitRemoteURL(ctx context.Context, videoID string, uploadErr <-chan error) (string, error) {
	deadline := time.Now().Add(s.config.PollTimeout)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-uploadErr:
			if err != nil {
				return "", err
			}
			// Upload finished; the URL is in the store now.
		default:
		}

		video, err := s.videos.GetByID(ctx, videoID)
		if err != nil {
			return "", fmt.Errorf("polling video: %w", err)
		}
		if video != nil && video.RemoteURL != "" {
			return video.RemoteURL, nil
		}

		if time.Now().After(deadline) {
			return "", &PollTimeoutError{VideoID: videoID, Waited: s.config.PollTimeout}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// fail moves the unit to its terminal failed stage and records a failed
// result so the failure survives beyond the unit's in-memory lifetime.
// A sibling unit running concurrently is never affected.
func (s *Service) fail(ctx context.Context, unit *Unit, videoURL string, cause error) {
	log.Error().Err(cause).Str("unit", unit.ID).Msg("analysis failed")
	unit.setStage(StageFailed, 0, cause.Error())

	result := models.NewAnalysisResult(unit.RoomID, videoURL)
	result.Status = models.StatusFailed
	result.Message = cause.Error()
	if err := s.results.CreateResult(context.WithoutCancel(ctx), result); err != nil {
		log.Error().Err(err).Str("unit", unit.ID).Msg("failed to persist failed result")
		return
	}
	unit.setResultID(result.ID)
}

func (s *Service) failBatch(ctx context.Context, unit *Unit, videoURLs []string, cause error) {
	log.Error().Err(cause).Str("unit", unit.ID).Msg("batch analysis failed")
	unit.setStage(StageFailed, 0, cause.Error())

	batch := models.NewBatchAnalysisResult(unit.RoomID, videoURLs)
	batch.Status = models.StatusFailed
	batch.Message = cause.Error()
	if err := s.results.CreateBatchResult(context.WithoutCancel(ctx), batch); err != nil {
		log.Error().Err(err).Str("unit", unit.ID).Msg("failed to persist failed batch result")
		return
	}
	unit.setResultID(batch.ID)
}
