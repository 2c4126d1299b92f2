// Command ordersyncd runs the offline-first sync daemon: it owns the
// durable queue and cache, drains pending operations against the order
// API whenever connectivity allows, and exposes a localhost HTTP/WS
// surface for the point-of-sale UI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tablekit/ordersync/internal/cache"
	"github.com/tablekit/ordersync/internal/clock"
	"github.com/tablekit/ordersync/internal/config"
	"github.com/tablekit/ordersync/internal/conflict"
	"github.com/tablekit/ordersync/internal/logging"
	"github.com/tablekit/ordersync/internal/models"
	"github.com/tablekit/ordersync/internal/queue"
	"github.com/tablekit/ordersync/internal/store"
	"github.com/tablekit/ordersync/internal/sync"
	"github.com/tablekit/ordersync/internal/transform"
)

func main() {
	configPath := flag.String("config", "ordersync.yaml", "path to the YAML configuration file")
	listenAddr := flag.String("listen", "localhost:8090", "local HTTP/WebSocket listen address")
	apiURL := flag.String("api", "http://localhost:8080", "base URL of the order API")
	flag.Parse()

	logging.Init(os.Stdout, logging.LevelInfo)
	log := logging.Get().WithComponent("main")

	cfg := config.Default()
	if _, statErr := os.Stat(*configPath); statErr == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load configuration", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		log.Info("config file not found, using defaults", map[string]interface{}{
			"path": *configPath,
		})
	}

	st, err := store.OpenSQLite(cfg.DataDir)
	if err != nil {
		log.Error("failed to open store", err, map[string]interface{}{"data_dir": cfg.DataDir})
		os.Exit(1)
	}
	defer st.Close()

	pipeline, err := transform.NewPipeline(cfg.EnableCompression, cfg.EnableEncryption, []byte(cfg.EncryptionKey))
	if err != nil {
		log.Error("failed to build transform pipeline", err)
		os.Exit(1)
	}

	hub := NewWSHub()
	clk := clock.System()

	q, err := queue.New(st, clk, cfg.MaxQueueSize, hub)
	if err != nil {
		log.Error("failed to load queue", err)
		os.Exit(1)
	}

	c, err := cache.NewManager(st, pipeline, clk, cfg.MaxCacheSize, hub)
	if err != nil {
		log.Error("failed to load cache", err)
		os.Exit(1)
	}

	resolver := conflict.NewResolver(cfg.ConflictResolution)
	transport := sync.NewHTTPTransport(*apiURL, os.Getenv("ORDERSYNC_API_TOKEN"))
	engine := sync.NewSyncEngine(q, c, resolver, transport, clk, cfg, hub)

	probe := newNetProbe(*apiURL+"/v1/health", 10*time.Second)
	sync.NewNetworkMonitor(engine, probe, cfg.SyncStrategy)
	probe.Start()
	engine.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/stats", handleStats(engine, q, c))
	mux.HandleFunc("/api/sync", handleSync(engine))
	mux.HandleFunc("/api/operations", handleEnqueue(q, cfg))
	mux.HandleFunc("/api/deadletters", handleDeadLetters(q))
	mux.HandleFunc("/api/conflicts/", handleResolveConflict(engine))
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{Addr: *listenAddr, Handler: mux}

	go func() {
		log.Info("daemon listening", map[string]interface{}{
			"addr":     *listenAddr,
			"api":      *apiURL,
			"strategy": string(cfg.SyncStrategy),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	probe.Stop()
	engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "ordersyncd",
	})
}

// handleStats reports engine, queue, and cache counters.
func handleStats(engine *sync.SyncEngine, q *queue.Queue, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body := map[string]interface{}{
			"status":  string(engine.Status()),
			"pending": engine.PendingChanges(),
			"online":  engine.Online(),
			"queue":   q.Stats(),
			"cache":   c.Stats(),
		}
		if last := engine.LastSync(); last != nil {
			body["last_sync"] = last.UnixMilli()
		}
		if err := engine.LastError(); err != nil {
			body["last_error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// handleSync triggers a manual cycle.
func handleSync(engine *sync.SyncEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		result, err := engine.SyncNow(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		if result == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"skipped": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"synced":    result.Synced,
			"retried":   result.Retried,
			"failed":    result.Failed,
			"conflicts": result.Conflicts,
		})
	}
}

// enqueueRequest is the POST /api/operations body.
type enqueueRequest struct {
	Action   string          `json:"action"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority"`
}

// handleEnqueue accepts a new offline operation from the UI.
func handleEnqueue(q *queue.Queue, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
			return
		}

		id, err := q.Enqueue(models.Operation{
			Action:  req.Action,
			Key:     req.Key,
			Payload: req.Payload,
		}, parsePriority(req.Priority), cfg.RetryAttempts)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id})
	}
}

// handleDeadLetters lists dead-lettered items or requeues them all.
func handleDeadLetters(q *queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			letters, err := q.DeadLetters()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"items": letters})

		case http.MethodPost:
			n, err := q.RetryDeadLetters()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"requeued": n})

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// resolveRequest is the POST /api/conflicts/{id} body.
type resolveRequest struct {
	Strategy string `json:"strategy"`
}

// handleResolveConflict applies a user-chosen strategy to a held
// conflict.
func handleResolveConflict(engine *sync.SyncEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/conflicts/")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "missing conflict id"})
			return
		}

		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
			return
		}

		if err := engine.ResolveHeld(id, req.Strategy); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": id})
	}
}

func parsePriority(s string) models.Priority {
	switch s {
	case "critical":
		return models.PriorityCritical
	case "high":
		return models.PriorityHigh
	case "low":
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
