package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndemidov/roomsight/internal/analysis"
	"github.com/ndemidov/roomsight/internal/api"
	"github.com/ndemidov/roomsight/internal/auth"
	"github.com/ndemidov/roomsight/internal/cdn"
	"github.com/ndemidov/roomsight/internal/database"
	"github.com/ndemidov/roomsight/internal/frames"
	"github.com/ndemidov/roomsight/internal/inference"
	"github.com/ndemidov/roomsight/internal/logging"
	"github.com/ndemidov/roomsight/internal/storage"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatal().Str("key", key).Str("value", v).Msg("invalid integer in environment")
	}
	return n
}

func main() {
	logging.Init()

	port := envOr("PORT", "8080")
	uploadDir := envOr("UPLOAD_DIR", "./uploads")
	dbPath := envOr("DB_PATH", "./roomsight.db")
	maxUploadSize := int64(envInt("MAX_UPLOAD_SIZE", 100<<20))

	localStorage, err := storage.NewLocalStorage(uploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	db, err := database.NewDB(database.Config{Path: dbPath})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	homeRepo := database.NewHomeRepository(db)
	roomRepo := database.NewRoomRepository(db)
	videoRepo := database.NewVideoRepository(db)
	analysisRepo := database.NewAnalysisRepository(db)

	sampler, err := frames.NewSampler(envInt("FRAME_SIZE", 768))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize frame sampler")
	}

	uploader, err := cdn.NewUploader(cdn.Config{
		BaseURL:      os.Getenv("CDN_BASE_URL"),
		CloudName:    os.Getenv("CDN_CLOUD_NAME"),
		UploadPreset: os.Getenv("CDN_UPLOAD_PRESET"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize uploader")
	}

	client := inference.NewClient(inference.Config{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		APIURL: os.Getenv("OPENAI_API_URL"),
		Model:  os.Getenv("OPENAI_MODEL"),
	})
	if os.Getenv("OPENAI_API_KEY") == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set; analysis requests will fail")
	}

	policy := analysis.RunPolicy(envOr("RUN_POLICY", string(analysis.PolicyAdditive)))
	service := analysis.NewService(sampler, uploader, client, localStorage,
		videoRepo, roomRepo, analysisRepo, analysis.Config{
			SampleInterval: time.Duration(envInt("SAMPLE_INTERVAL_MS", 2000)) * time.Millisecond,
			Policy:         policy,
		})

	var provider auth.Provider
	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		provider = &auth.StaticProvider{Token: token}
	}

	app := api.NewApp(localStorage, homeRepo, roomRepo, videoRepo, analysisRepo, service, maxUploadSize)
	router := api.NewRouter(app, provider)

	log.Info().
		Str("port", port).
		Str("upload_dir", uploadDir).
		Str("db_path", dbPath).
		Int64("max_upload_size", maxUploadSize).
		Msg("server starting")

	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
