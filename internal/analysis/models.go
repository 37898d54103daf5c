package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stage is the lifecycle position of one analysis unit. Callers render
// progress however they like from the stage; the numeric progress value is a
// convenience, not a byte-accurate measurement.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageUploading       Stage = "uploading"
	StageSampling        Stage = "sampling"
	StageFramesUploading Stage = "frames_uploading"
	StageInferring       Stage = "inferring"
	StageExtracting      Stage = "extracting"
	StagePersisting      Stage = "persisting"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Mode selects how a set of videos is analyzed: one unit per video, or one
// combined unit covering all of them.
type Mode string

const (
	ModeSeparate Mode = "separate"
	ModeBatch    Mode = "batch"
)

// RunPolicy decides what happens when a video that already has a completed
// result is analyzed again.
type RunPolicy string

const (
	// PolicyAdditive always runs and appends a new result.
	PolicyAdditive RunPolicy = "additive"
	// PolicySkipCompleted completes immediately without re-analyzing.
	PolicySkipCompleted RunPolicy = "skip_completed"
)

// PollTimeoutError reports that a video's remote URL did not become available
// within the bounded wait before persistence.
type PollTimeoutError struct {
	VideoID string
	Waited  time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for remote URL of video %s", e.Waited, e.VideoID)
}

// Update is one progress event pushed to a unit's Updates channel.
type Update struct {
	UnitID   string `json:"unit_id"`
	Stage    Stage  `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// Unit is one running (or finished) analysis: a single video in separate
// mode, or a group of videos in batch mode.
type Unit struct {
	ID       string
	RoomID   string
	Mode     Mode
	VideoIDs []string

	// Updates carries stage transitions for streaming to clients. It is
	// closed when the unit reaches a terminal stage.
	Updates chan Update

	cancel func()
	ctx    context.Context

	mu          sync.Mutex
	stage       Stage
	progress    int
	message     string
	resultID    string
	startedAt   time.Time
	completedAt *time.Time
}

// Snapshot is a copyable view of a unit's current state.
type Snapshot struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	Mode        Mode       `json:"mode"`
	VideoIDs    []string   `json:"video_ids"`
	Stage       Stage      `json:"stage"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	ResultID    string     `json:"result_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (u *Unit) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	return Snapshot{
		ID:          u.ID,
		RoomID:      u.RoomID,
		Mode:        u.Mode,
		VideoIDs:    append([]string(nil), u.VideoIDs...),
		Stage:       u.stage,
		Progress:    u.progress,
		Message:     u.message,
		ResultID:    u.resultID,
		StartedAt:   u.startedAt,
		CompletedAt: u.completedAt,
	}
}

// Cancel stops the unit at its next suspension point.
func (u *Unit) Cancel() {
	if u.cancel != nil {
		u.cancel()
	}
}

// setStage advances the unit. Progress never moves backwards except for the
// reset to 0 on failure, and reaches 100 only at StageCompleted.
func (u *Unit) setStage(stage Stage, progress int, message string) {
	u.mu.Lock()
	if stage == StageFailed {
		u.progress = 0
	} else if progress > u.progress {
		u.progress = progress
	}
	u.stage = stage
	u.message = message
	if stage.Terminal() {
		now := time.Now()
		u.completedAt = &now
	}
	update := Update{UnitID: u.ID, Stage: u.stage, Progress: u.progress, Message: u.message}
	u.mu.Unlock()

	// Drop rather than block when nobody is draining the stream.
	select {
	case u.Updates <- update:
	default:
	}
}

func (u *Unit) setResultID(id string) {
	u.mu.Lock()
	u.resultID = id
	u.mu.Unlock()
}
