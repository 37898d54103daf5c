// Command analyze-video runs the full analysis pipeline for one staged video
// from the command line, streaming progress to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndemidov/roomsight/internal/analysis"
	"github.com/ndemidov/roomsight/internal/cdn"
	"github.com/ndemidov/roomsight/internal/database"
	"github.com/ndemidov/roomsight/internal/frames"
	"github.com/ndemidov/roomsight/internal/inference"
	"github.com/ndemidov/roomsight/internal/logging"
	"github.com/ndemidov/roomsight/internal/storage"
)

func main() {
	videoID := flag.String("id", "", "staged video id to analyze")
	flag.Parse()

	logging.Init()

	if *videoID == "" {
		log.Fatal().Msg("provide a video id with -id")
	}

	db, err := database.NewDB(database.Config{Path: getEnv("DB_PATH", "./roomsight.db")})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	videoRepo := database.NewVideoRepository(db)
	roomRepo := database.NewRoomRepository(db)
	analysisRepo := database.NewAnalysisRepository(db)

	ctx := context.Background()
	video, err := videoRepo.GetByID(ctx, *videoID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load video")
	}
	if video == nil {
		log.Fatal().Str("id", *videoID).Msg("video not found")
	}

	localStorage, err := storage.NewLocalStorage(getEnv("UPLOAD_DIR", "./uploads"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open upload directory")
	}

	sampler, err := frames.NewSampler(768)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize frame sampler")
	}

	uploader, err := cdn.NewUploader(cdn.Config{
		CloudName:    os.Getenv("CDN_CLOUD_NAME"),
		UploadPreset: os.Getenv("CDN_UPLOAD_PRESET"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize uploader")
	}

	client := inference.NewClient(inference.Config{APIKey: os.Getenv("OPENAI_API_KEY")})

	service := analysis.NewService(sampler, uploader, client, localStorage,
		videoRepo, roomRepo, analysisRepo, analysis.Config{})

	fmt.Printf("Analyzing video %s (%s)\n", video.ID, video.Filename)

	units, err := service.Start(ctx, video.RoomID, []string{video.ID}, analysis.ModeSeparate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start analysis")
	}
	unit := units[0]

	for update := range unit.Updates {
		if update.Message != "" {
			fmt.Printf("  %3d%% %s: %s\n", update.Progress, update.Stage, update.Message)
		} else {
			fmt.Printf("  %3d%% %s\n", update.Progress, update.Stage)
		}
	}

	snapshot := unit.Snapshot()
	if snapshot.Stage == analysis.StageFailed {
		log.Fatal().Str("reason", snapshot.Message).Msg("analysis failed")
	}

	result, err := analysisRepo.GetResult(ctx, snapshot.ResultID)
	if err != nil || result == nil {
		log.Fatal().Err(err).Msg("failed to load result")
	}

	fmt.Printf("Found %d items in %v:\n", len(result.Items), snapshot.CompletedAt.Sub(snapshot.StartedAt).Round(time.Millisecond))
	for _, item := range result.Items {
		fmt.Printf("  - %s\n", item)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
