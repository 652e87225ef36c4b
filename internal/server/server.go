package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"taskdesk/internal/board"
	"taskdesk/internal/fs"
	"taskdesk/internal/memstore"
	"taskdesk/internal/mongo"
	"taskdesk/internal/sqlite"
)

type Config struct {
	Addr          string `env:"TASKDESK_ADDR" envDefault:":8080"`
	DataDir       string `env:"TASKDESK_DATA_DIR,required"`
	HmacKey       string `env:"TASKDESK_HMAC_KEY,required"`
	MaxUploadSize int64  `env:"TASKDESK_MAX_UPLOAD_SIZE" envDefault:"10485760"`

	// DBDriver selects the document store: "sqlite" (embedded, default),
	// "mongo" (replica set), or "memory" (ephemeral, single process).
	DBDriver string `env:"TASKDESK_DB_DRIVER" envDefault:"sqlite"`
	DBPath   string `env:"TASKDESK_DB_PATH"`
	MongoURI string `env:"TASKDESK_MONGO_URI"`
	MongoDB  string `env:"TASKDESK_MONGO_DB" envDefault:"taskdesk"`
}

func New(cfg *Config) *http.Server {
	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize document store", "error", err)
		panic(fmt.Sprintf("Failed to initialize document store: %v", err))
	}

	coord := board.NewCoordinator(store, fs.NewStorage(cfg.DataDir))
	h := &handlers{
		coord:  coord,
		signer: newSigner(cfg.HmacKey),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthz)

	mux.HandleFunc("POST /v1/users", h.createUser)
	mux.HandleFunc("GET /v1/users/{id}", h.getUser)

	mux.HandleFunc("POST /v1/projects", requireUser(h.createProject))
	mux.HandleFunc("GET /v1/projects", h.listProjects)
	mux.HandleFunc("GET /v1/projects/search", h.searchProjects)
	mux.HandleFunc("GET /v1/projects/{id}", h.getProject)
	mux.HandleFunc("PATCH /v1/projects/{id}", requireUser(h.updateProject))
	mux.HandleFunc("DELETE /v1/projects/{id}", requireUser(h.deleteProject))

	mux.HandleFunc("POST /v1/tasks", requireUser(h.createTask))
	mux.HandleFunc("GET /v1/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /v1/tasks/{id}", requireUser(h.updateTask))
	mux.HandleFunc("DELETE /v1/tasks/{id}", requireUser(h.deleteTask))
	mux.HandleFunc("POST /v1/tasks/{id}/claim", requireUser(h.claimTask))
	mux.HandleFunc("PUT /v1/tasks/{id}/status", requireUser(h.changeTaskStatus))

	mux.HandleFunc("GET /v1/files/{id}", h.downloadFile)
	mux.HandleFunc("GET /v1/files/{id}/url", requireUser(h.fileURL))

	// Wrap the handler with logging middleware
	handler := loggingMiddleware(limitBody(mux, cfg.MaxUploadSize))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func openStore(cfg *Config) (board.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("TASKDESK_DB_PATH is required for the sqlite driver")
		}
		return sqlite.New(cfg.DBPath)
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("TASKDESK_MONGO_URI is required for the mongo driver")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
