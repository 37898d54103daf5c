package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndemidov/roomsight/internal/analysis"
	"github.com/ndemidov/roomsight/internal/auth"
	"github.com/ndemidov/roomsight/internal/cdn"
	"github.com/ndemidov/roomsight/internal/database"
	"github.com/ndemidov/roomsight/internal/storage"
)

type stubSampler struct{}

func (stubSampler) Sample(ctx context.Context, videoPath string, interval time.Duration) ([][]byte, error) {
	return [][]byte{[]byte("frame-0"), []byte("frame-1")}, nil
}

type stubUploader struct {
	counter atomic.Int64
}

func (u *stubUploader) Upload(ctx context.Context, data []byte, kind cdn.Kind) (string, error) {
	return fmt.Sprintf("https://cdn.test/%s/%d", kind, u.counter.Add(1)), nil
}

func (u *stubUploader) UploadCached(ctx context.Context, localKey string, data []byte, kind cdn.Kind) (string, error) {
	return "https://cdn.test/video/" + localKey, nil
}

type stubInference struct{}

func (stubInference) Infer(ctx context.Context, prompt string, imageURLs []string) (string, error) {
	return "- Sofa\n- Lamp", nil
}

type testServer struct {
	server *httptest.Server
	app    *App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	homeRepo := database.NewHomeRepository(db)
	roomRepo := database.NewRoomRepository(db)
	videoRepo := database.NewVideoRepository(db)
	analysisRepo := database.NewAnalysisRepository(db)

	service := analysis.NewService(
		stubSampler{},
		&stubUploader{},
		stubInference{},
		store,
		videoRepo,
		roomRepo,
		analysisRepo,
		analysis.Config{PollInterval: 10 * time.Millisecond, PollTimeout: 2 * time.Second},
	)

	app := NewApp(store, homeRepo, roomRepo, videoRepo, analysisRepo, service, 10<<20)
	server := httptest.NewServer(NewRouter(app, nil))
	t.Cleanup(server.Close)

	return &testServer{server: server, app: app}
}

func (ts *testServer) request(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, ts.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	return resp, payload
}

func (ts *testServer) postJSON(t *testing.T, path string, body string) (*http.Response, []byte) {
	t.Helper()
	return ts.request(t, http.MethodPost, path, strings.NewReader(body), "application/json")
}

func (ts *testServer) createHome(t *testing.T, name string) string {
	t.Helper()

	resp, payload := ts.postJSON(t, "/api/homes", fmt.Sprintf(`{"name":%q}`, name))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var home homeResponse
	require.NoError(t, json.Unmarshal(payload, &home))
	return home.ID
}

func (ts *testServer) createRoom(t *testing.T, homeID, name string) string {
	t.Helper()

	resp, payload := ts.postJSON(t, "/api/homes/"+homeID+"/rooms", fmt.Sprintf(`{"name":%q}`, name))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var room roomResponse
	require.NoError(t, json.Unmarshal(payload, &room))
	return room.ID
}

func (ts *testServer) uploadVideo(t *testing.T, roomID, filename string) videoResponse {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, filename))
	header.Set("Content-Type", "video/mp4")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake video bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, payload := ts.request(t, http.MethodPost, "/api/rooms/"+roomID+"/videos", &buf, writer.FormDataContentType())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(payload))

	var video videoResponse
	require.NoError(t, json.Unmarshal(payload, &video))
	return video
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.request(t, http.MethodGet, "/ping", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(payload))
}

func TestCreateAndGetHome(t *testing.T) {
	ts := newTestServer(t)

	homeID := ts.createHome(t, "Lake House")

	resp, payload := ts.request(t, http.MethodGet, "/api/homes/"+homeID, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var home homeResponse
	require.NoError(t, json.Unmarshal(payload, &home))
	assert.Equal(t, "Lake House", home.Name)
}

func TestCreateHomeRejectsInvalidBody(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.postJSON(t, "/api/homes", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.postJSON(t, "/api/homes", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMissingHomeReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodGet, "/api/homes/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteHomeHidesIt(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Old Flat")

	resp, _ := ts.request(t, http.MethodDelete, "/api/homes/"+homeID, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/homes/"+homeID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateRoomUnderMissingHome(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.postJSON(t, "/api/homes/nope/rooms", `{"name":"Kitchen"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRooms(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	ts.createRoom(t, homeID, "Kitchen")
	ts.createRoom(t, homeID, "Bedroom")

	resp, payload := ts.request(t, http.MethodGet, "/api/homes/"+homeID+"/rooms", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []roomResponse
	require.NoError(t, json.Unmarshal(payload, &rooms))
	assert.Len(t, rooms, 2)
}

func TestUploadVideo(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")

	video := ts.uploadVideo(t, roomID, "tour.mp4")
	assert.Equal(t, roomID, video.RoomID)
	assert.Equal(t, "video/mp4", video.ContentType)
	assert.Empty(t, video.RemoteURL)

	resp, payload := ts.request(t, http.MethodGet, "/api/rooms/"+roomID+"/videos", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var videos []videoResponse
	require.NoError(t, json.Unmarshal(payload, &videos))
	require.Len(t, videos, 1)
	assert.Equal(t, video.ID, videos[0].ID)
}

func TestUploadVideoRejectsNonVideo(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("video", "notes.txt")
	require.NoError(t, err)
	part.Write([]byte("plain text"))
	require.NoError(t, writer.Close())

	resp, _ := ts.request(t, http.MethodPost, "/api/rooms/"+roomID+"/videos", &buf, writer.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamVideo(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")
	video := ts.uploadVideo(t, roomID, "tour.mp4")

	resp, payload := ts.request(t, http.MethodGet, "/api/videos/"+video.ID+"/stream", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "fake video bytes", string(payload))

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/api/videos/"+video.ID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-3")
	ranged, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	partial, err := io.ReadAll(ranged.Body)
	require.NoError(t, err)
	ranged.Body.Close()
	assert.Equal(t, http.StatusPartialContent, ranged.StatusCode)
	assert.Equal(t, "fake", string(partial))
}

func TestDeleteVideo(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")
	video := ts.uploadVideo(t, roomID, "tour.mp4")

	resp, _ := ts.request(t, http.MethodDelete, "/api/videos/"+video.ID, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/videos/"+video.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func (ts *testServer) waitForTerminal(t *testing.T, unitID string) analysis.Snapshot {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, payload := ts.request(t, http.MethodGet, "/api/analysis/"+unitID, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var snapshot analysis.Snapshot
		require.NoError(t, json.Unmarshal(payload, &snapshot))
		if snapshot.Stage.Terminal() {
			return snapshot
		}
		if time.Now().After(deadline) {
			t.Fatalf("unit %s did not finish, last stage %s", unitID, snapshot.Stage)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAnalyzeRoomVideo(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")
	video := ts.uploadVideo(t, roomID, "tour.mp4")

	resp, payload := ts.postJSON(t, "/api/rooms/"+roomID+"/analyze",
		fmt.Sprintf(`{"video_ids":[%q],"mode":"separate"}`, video.ID))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(payload))

	var started startAnalysisResponse
	require.NoError(t, json.Unmarshal(payload, &started))
	require.Len(t, started.Units, 1)

	snapshot := ts.waitForTerminal(t, started.Units[0].ID)
	assert.Equal(t, analysis.StageCompleted, snapshot.Stage)
	assert.Equal(t, 100, snapshot.Progress)

	resp, payload = ts.request(t, http.MethodGet, "/api/rooms/"+roomID+"/results", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var results []resultResponse
	require.NoError(t, json.Unmarshal(payload, &results))
	require.Len(t, results, 1)
	assert.Equal(t, []string{"Sofa", "Lamp"}, results[0].Items)
	assert.Equal(t, "completed", results[0].Status)

	resp, payload = ts.request(t, http.MethodGet, "/api/rooms/"+roomID+"/entries", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []entryResponse
	require.NoError(t, json.Unmarshal(payload, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "individual", entries[0].Kind)
}

func TestAnalyzeBatch(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")
	v1 := ts.uploadVideo(t, roomID, "one.mp4")
	v2 := ts.uploadVideo(t, roomID, "two.mp4")

	resp, payload := ts.postJSON(t, "/api/rooms/"+roomID+"/analyze",
		fmt.Sprintf(`{"video_ids":[%q,%q],"mode":"batch"}`, v1.ID, v2.ID))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(payload))

	var started startAnalysisResponse
	require.NoError(t, json.Unmarshal(payload, &started))
	require.Len(t, started.Units, 1)

	snapshot := ts.waitForTerminal(t, started.Units[0].ID)
	assert.Equal(t, analysis.StageCompleted, snapshot.Stage)

	resp, payload = ts.request(t, http.MethodGet, "/api/rooms/"+roomID+"/results", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var results []resultResponse
	require.NoError(t, json.Unmarshal(payload, &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Batch)
	assert.Len(t, results[0].VideoURLs, 2)
}

func TestAnalyzeRejectsUnknownVideo(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")

	resp, _ := ts.postJSON(t, "/api/rooms/"+roomID+"/analyze", `{"video_ids":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeRejectsEmptyVideoList(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")

	resp, _ := ts.postJSON(t, "/api/rooms/"+roomID+"/analyze", `{"video_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalysisStatusUnknownUnit(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodGet, "/api/analysis/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodPost, "/api/analysis/nope/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalysisEventsStream(t *testing.T) {
	ts := newTestServer(t)
	homeID := ts.createHome(t, "Home")
	roomID := ts.createRoom(t, homeID, "Living Room")
	video := ts.uploadVideo(t, roomID, "tour.mp4")

	resp, payload := ts.postJSON(t, "/api/rooms/"+roomID+"/analyze",
		fmt.Sprintf(`{"video_ids":[%q]}`, video.ID))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started startAnalysisResponse
	require.NoError(t, json.Unmarshal(payload, &started))
	require.Len(t, started.Units, 1)
	ts.waitForTerminal(t, started.Units[0].ID)

	resp, payload = ts.request(t, http.MethodGet, "/api/analysis/"+started.Units[0].ID+"/events", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := string(payload)
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, "event: done")
}

func TestAuthMiddlewareOnRouter(t *testing.T) {
	ts := newTestServer(t)
	provider := &auth.StaticProvider{Token: "sekrit"}
	server := httptest.NewServer(NewRouter(ts.app, provider))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/homes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/homes", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
