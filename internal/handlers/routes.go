package handlers

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"slidegen/internal/services"
)

// APIPrefix is the path prefix of the presentation endpoints
const APIPrefix = "/api/v1/presentations"

// SetupRoutes wires every endpoint of the backend
func SetupRoutes(presentations *PresentationHandler, images *ImageHandler, ws *WebSocketHandler, mediaDir string, log *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(log.Named("http")))

	api := router.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("", presentations.CreatePresentation).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskId}", images.TaskStatus).Methods(http.MethodGet)
	api.HandleFunc("/{id}", presentations.GetPresentation).Methods(http.MethodGet)
	api.HandleFunc("/{id}", presentations.UpdatePresentation).Methods(http.MethodPatch)
	api.HandleFunc("/{id}/slides/{slideId}", presentations.UpdateSlide).Methods(http.MethodPatch)
	api.HandleFunc("/{id}/generate-images", images.GenerateImages).Methods(http.MethodPost)
	api.HandleFunc("/{id}/image-status", images.ImageStatus).Methods(http.MethodGet)
	api.HandleFunc("/{id}/slides/{slideId}/generate-image", images.GenerateImage).Methods(http.MethodPost)
	api.HandleFunc("/{id}/slides/{slideId}/regenerate-image", images.RegenerateImage).Methods(http.MethodPost)

	router.HandleFunc("/ws/presentations/{id}", ws.Subscribe).Methods(http.MethodGet)
	router.PathPrefix(services.MediaPrefix).Handler(
		http.StripPrefix(services.MediaPrefix, http.FileServer(http.Dir(mediaDir))))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			}
			if rec.status >= http.StatusInternalServerError {
				log.Warn("Request failed", fields...)
				return
			}
			log.Debug("Request", fields...)
		})
	}
}
