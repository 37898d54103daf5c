package models

import (
	"time"

	"github.com/google/uuid"
)

// Home is the root aggregate. Rooms belong to exactly one home.
type Home struct {
	ID        string
	Name      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

func NewHome(name string) *Home {
	return &Home{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
}

type Room struct {
	ID          string
	HomeID      string
	Name        string
	Icon        string
	Description string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

func NewRoom(homeID, name, icon, description string) *Room {
	return &Room{
		ID:          uuid.New().String(),
		HomeID:      homeID,
		Name:        name,
		Icon:        icon,
		Description: description,
		CreatedAt:   time.Now(),
	}
}

// EntryKind distinguishes the two kinds of records a room accumulates:
// an individually analyzed video, or a reference to a batch analysis that
// covered several videos at once.
type EntryKind string

const (
	EntryIndividual EntryKind = "individual"
	EntryBatch      EntryKind = "batch"
)

// VideoEntry is one slot of a room's inventory history. Ref holds the video's
// remote URL for EntryIndividual and the batch result id for EntryBatch.
// Entries are append-only.
type VideoEntry struct {
	ID        string
	RoomID    string
	Kind      EntryKind
	Ref       string
	CreatedAt time.Time
}

func NewVideoEntry(roomID string, kind EntryKind, ref string) *VideoEntry {
	return &VideoEntry{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Kind:      kind,
		Ref:       ref,
		CreatedAt: time.Now(),
	}
}

// Video is a staged local asset. RemoteURL starts empty and is set exactly
// once after the CDN upload completes.
type Video struct {
	ID          string
	RoomID      string
	Filename    string
	ContentType string
	Size        int64
	RemoteURL   string
	UploadTime  time.Time
}

func NewVideo(roomID, filename, contentType string, size int64) *Video {
	return &Video{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		UploadTime:  time.Now(),
	}
}

type ResultStatus string

const (
	StatusPending   ResultStatus = "pending"
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
)

// AnalysisResult is the outcome of analyzing one video. Each run produces a
// new record; runs never overwrite earlier ones.
type AnalysisResult struct {
	ID       string
	RoomID   string
	VideoURL string
	Items    []string
	// MissingItems is reserved and currently always empty.
	MissingItems []string
	Status       ResultStatus
	Message      string
	CreatedAt    time.Time
}

func NewAnalysisResult(roomID, videoURL string) *AnalysisResult {
	return &AnalysisResult{
		ID:           uuid.New().String(),
		RoomID:       roomID,
		VideoURL:     videoURL,
		Items:        []string{},
		MissingItems: []string{},
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
}

// BatchAnalysisResult covers one combined analysis of several videos.
type BatchAnalysisResult struct {
	ID        string
	RoomID    string
	VideoURLs []string
	Items     []string
	Status    ResultStatus
	Message   string
	CreatedAt time.Time
}

func NewBatchAnalysisResult(roomID string, videoURLs []string) *BatchAnalysisResult {
	if videoURLs == nil {
		videoURLs = []string{}
	}
	return &BatchAnalysisResult{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		VideoURLs: videoURLs,
		Items:     []string{},
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}
