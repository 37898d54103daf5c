package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ndemidov/roomsight/internal/analysis"
	"github.com/ndemidov/roomsight/internal/database"
	"github.com/ndemidov/roomsight/internal/models"
	"github.com/ndemidov/roomsight/internal/storage"
)

type App struct {
	Storage       storage.Storage
	HomeRepo      *database.HomeRepository
	RoomRepo      *database.RoomRepository
	VideoRepo     *database.VideoRepository
	AnalysisRepo  *database.AnalysisRepository
	Analysis      *analysis.Service
	MaxUploadSize int64
	Validate      *validator.Validate
}

func NewApp(
	storageService storage.Storage,
	homeRepo *database.HomeRepository,
	roomRepo *database.RoomRepository,
	videoRepo *database.VideoRepository,
	analysisRepo *database.AnalysisRepository,
	analysisService *analysis.Service,
	maxUploadSize int64,
) *App {
	return &App{
		Storage:       storageService,
		HomeRepo:      homeRepo,
		RoomRepo:      roomRepo,
		VideoRepo:     videoRepo,
		AnalysisRepo:  analysisRepo,
		Analysis:      analysisService,
		MaxUploadSize: maxUploadSize,
		Validate:      validator.New(),
	}
}

type createHomeRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

type homeResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toHomeResponse(home *models.Home) homeResponse {
	return homeResponse{ID: home.ID, Name: home.Name, CreatedAt: home.CreatedAt}
}

func (app *App) CreateHomeHandler(w http.ResponseWriter, r *http.Request) {
	var req createHomeRequest
	if !app.decode(w, r, &req) {
		return
	}

	home := models.NewHome(req.Name)
	if err := app.HomeRepo.Create(r.Context(), home); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create home")
		return
	}
	writeJSON(w, http.StatusCreated, toHomeResponse(home))
}

func (app *App) ListHomesHandler(w http.ResponseWriter, r *http.Request) {
	homes, err := app.HomeRepo.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list homes")
		return
	}

	resp := make([]homeResponse, 0, len(homes))
	for _, home := range homes {
		resp = append(resp, toHomeResponse(home))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (app *App) GetHomeHandler(w http.ResponseWriter, r *http.Request) {
	home, err := app.HomeRepo.GetByID(r.Context(), chi.URLParam(r, "homeID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get home")
		return
	}
	if home == nil {
		writeError(w, http.StatusNotFound, "home not found")
		return
	}
	writeJSON(w, http.StatusOK, toHomeResponse(home))
}

func (app *App) DeleteHomeHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.HomeRepo.SoftDelete(r.Context(), chi.URLParam(r, "homeID")); err != nil {
		writeError(w, http.StatusNotFound, "home not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createRoomRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=120"`
	Icon        string `json:"icon" validate:"max=64"`
	Description string `json:"description" validate:"max=1024"`
}

type roomResponse struct {
	ID          string    `json:"id"`
	HomeID      string    `json:"home_id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRoomResponse(room *models.Room) roomResponse {
	return roomResponse{
		ID:          room.ID,
		HomeID:      room.HomeID,
		Name:        room.Name,
		Icon:        room.Icon,
		Description: room.Description,
		CreatedAt:   room.CreatedAt,
	}
}

func (app *App) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	homeID := chi.URLParam(r, "homeID")

	home, err := app.HomeRepo.GetByID(r.Context(), homeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get home")
		return
	}
	if home == nil {
		writeError(w, http.StatusNotFound, "home not found")
		return
	}

	var req createRoomRequest
	if !app.decode(w, r, &req) {
		return
	}

	room := models.NewRoom(homeID, req.Name, req.Icon, req.Description)
	if err := app.RoomRepo.Create(r.Context(), room); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	writeJSON(w, http.StatusCreated, toRoomResponse(room))
}

func (app *App) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := app.RoomRepo.ListByHome(r.Context(), chi.URLParam(r, "homeID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	resp := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, toRoomResponse(room))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (app *App) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := app.RoomRepo.GetByID(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, toRoomResponse(room))
}

func (app *App) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.RoomRepo.SoftDelete(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type videoResponse struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	RemoteURL   string    `json:"remote_url,omitempty"`
	UploadTime  time.Time `json:"upload_time"`
}

func toVideoResponse(video *models.Video) videoResponse {
	return videoResponse{
		ID:          video.ID,
		RoomID:      video.RoomID,
		Filename:    video.Filename,
		ContentType: video.ContentType,
		Size:        video.Size,
		RemoteURL:   video.RemoteURL,
		UploadTime:  video.UploadTime,
	}
}

func (app *App) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := app.RoomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)
	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "video file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") {
		// Browsers sometimes send octet-stream for videos; fall back to the
		// file extension before rejecting.
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext != ".mp4" && ext != ".webm" && ext != ".mov" {
			writeError(w, http.StatusBadRequest, "only video files are allowed")
			return
		}
		contentType = "video/mp4"
	}

	filename, err := app.Storage.SaveFile(file, storage.FileInfo{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	video := models.NewVideo(roomID, filename, contentType, header.Size)
	if err := app.VideoRepo.Create(r.Context(), video); err != nil {
		app.Storage.DeleteFile(filename)
		writeError(w, http.StatusInternalServerError, "failed to save video information")
		return
	}

	writeJSON(w, http.StatusCreated, toVideoResponse(video))
}

func (app *App) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	videos, err := app.VideoRepo.ListByRoom(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}

	resp := make([]videoResponse, 0, len(videos))
	for _, video := range videos {
		resp = append(resp, toVideoResponse(video))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (app *App) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.VideoRepo.GetByID(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get video")
		return
	}
	if video == nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	writeJSON(w, http.StatusOK, toVideoResponse(video))
}

// StreamVideoHandler serves the staged file back for preview. ServeContent
// handles Range requests, so seeking works in browser players.
func (app *App) StreamVideoHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.VideoRepo.GetByID(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil || video == nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	file, err := app.Storage.OpenFile(video.Filename)
	if err != nil {
		writeError(w, http.StatusNotFound, "video file not found")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", video.ContentType)
	http.ServeContent(w, r, video.Filename, video.UploadTime, file)
}

func (app *App) DeleteVideoHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.VideoRepo.GetByID(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil || video == nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	if err := app.VideoRepo.Delete(r.Context(), video.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete video")
		return
	}
	app.Storage.DeleteFile(video.Filename)

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type entryResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

func (app *App) ListEntriesHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := app.RoomRepo.ListEntries(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, entryResponse{
			ID:        entry.ID,
			Kind:      string(entry.Kind),
			Ref:       entry.Ref,
			CreatedAt: entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type resultResponse struct {
	ID           string    `json:"id"`
	VideoURL     string    `json:"video_url,omitempty"`
	VideoURLs    []string  `json:"video_urls,omitempty"`
	Items        []string  `json:"items"`
	MissingItems []string  `json:"missing_items,omitempty"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	Batch        bool      `json:"batch"`
	CreatedAt    time.Time `json:"created_at"`
}

func (app *App) ListResultsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	results, err := app.AnalysisRepo.ListResultsByRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	batches, err := app.AnalysisRepo.ListBatchResultsByRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list batch results")
		return
	}

	resp := make([]resultResponse, 0, len(results)+len(batches))
	for _, result := range results {
		resp = append(resp, resultResponse{
			ID:           result.ID,
			VideoURL:     result.VideoURL,
			Items:        result.Items,
			MissingItems: result.MissingItems,
			Status:       string(result.Status),
			Message:      result.Message,
			CreatedAt:    result.CreatedAt,
		})
	}
	for _, batch := range batches {
		resp = append(resp, resultResponse{
			ID:        batch.ID,
			VideoURLs: batch.VideoURLs,
			Items:     batch.Items,
			Status:    string(batch.Status),
			Message:   batch.Message,
			Batch:     true,
			CreatedAt: batch.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode parses and validates a JSON request body.
func (app *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := app.Validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
