package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/ndemidov/roomsight/internal/auth"
)

func NewRouter(app *App, provider auth.Provider) http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(provider))

		r.Route("/homes", func(r chi.Router) {
			r.Post("/", app.CreateHomeHandler)
			r.Get("/", app.ListHomesHandler)
			r.Get("/{homeID}", app.GetHomeHandler)
			r.Delete("/{homeID}", app.DeleteHomeHandler)
			r.Post("/{homeID}/rooms", app.CreateRoomHandler)
			r.Get("/{homeID}/rooms", app.ListRoomsHandler)
		})

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Get("/", app.GetRoomHandler)
			r.Delete("/", app.DeleteRoomHandler)
			r.Post("/videos", app.UploadVideoHandler)
			r.Get("/videos", app.ListVideosHandler)
			r.Get("/entries", app.ListEntriesHandler)
			r.Get("/results", app.ListResultsHandler)
			r.Post("/analyze", app.StartAnalysisHandler)
		})

		r.Route("/videos/{videoID}", func(r chi.Router) {
			r.Get("/", app.GetVideoHandler)
			r.Get("/stream", app.StreamVideoHandler)
			r.Delete("/", app.DeleteVideoHandler)
		})

		r.Route("/analysis/{unitID}", func(r chi.Router) {
			r.Get("/", app.AnalysisStatusHandler)
			r.Get("/events", app.AnalysisEventsHandler)
			r.Post("/cancel", app.CancelAnalysisHandler)
		})
	})

	return r
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
