package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// WebhookEndpoint is one registered path, implementing the §6.2 webhook
// receive envelope: method allow-list, optional shared-secret signature
// verification, and an enabled/disabled flag.
type WebhookEndpoint struct {
	Path      string
	EventType string
	Methods   []string
	Secret    string // empty disables signature verification
	Enabled   bool
}

// HTTPTrigger exposes registered webhook endpoints and the always-on
// generic /events endpoint over gorilla/mux, the teacher's own router.
type HTTPTrigger struct {
	logger *zap.Logger
	runner *Runner
	port   int
	router *mux.Router
	server *http.Server

	endpoints map[string]WebhookEndpoint
}

// NewHTTPTrigger creates a new HTTP trigger bound to runner.
func NewHTTPTrigger(logger *zap.Logger, runner *Runner, port int) *HTTPTrigger {
	return &HTTPTrigger{
		logger:    logger,
		runner:    runner,
		port:      port,
		router:    mux.NewRouter(),
		endpoints: make(map[string]WebhookEndpoint),
	}
}

// RegisterEndpoint adds a webhook endpoint. Call before Start.
func (h *HTTPTrigger) RegisterEndpoint(ep WebhookEndpoint) {
	h.endpoints[ep.Path] = ep
}

// Start starts the HTTP trigger server.
func (h *HTTPTrigger) Start() error {
	for path := range h.endpoints {
		h.router.HandleFunc(path, h.handleWebhook(path)).Methods(h.endpoints[path].methodsOrDefault()...)
	}

	h.router.HandleFunc("/events", h.handleEvent).Methods("POST")
	h.router.HandleFunc("/health", h.handleHealth).Methods("GET")

	h.server = &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", h.port),
		Handler:      h.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	h.logger.Info("starting HTTP trigger server", zap.Int("port", h.port))
	return h.server.ListenAndServe()
}

// Stop stops the HTTP trigger server.
func (h *HTTPTrigger) Stop(ctx context.Context) error {
	if h.server != nil {
		return h.server.Shutdown(ctx)
	}
	return nil
}

func (ep WebhookEndpoint) methodsOrDefault() []string {
	if len(ep.Methods) == 0 {
		return []string{"POST"}
	}
	return ep.Methods
}

// handleWebhook implements the §6.2 contract: disabled endpoint -> 503,
// method not allowed is handled by mux's route match itself, signature
// mismatch -> 401, otherwise dispatch by the endpoint's declared event type.
func (h *HTTPTrigger) handleWebhook(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ep := h.endpoints[path]
		if !ep.Enabled {
			http.Error(w, "endpoint disabled", http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		if ep.Secret != "" && !verifySignature(ep.Secret, body, r.Header.Get("X-Hub-Signature-256")) {
			http.Error(w, "signature mismatch", http.StatusUnauthorized)
			return
		}

		var payload map[string]interface{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				http.Error(w, "invalid JSON payload", http.StatusBadRequest)
				return
			}
		}

		h.dispatch(r, ep.EventType, payload)
		writeAccepted(w, ep.EventType)
	}
}

// verifySignature checks a GitHub-style "sha256=<hex>" header with a
// constant-time comparison, per §6.2.
func verifySignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(given, expected)
}

// eventPayload is the generic /events request shape: an explicit event type
// plus arbitrary data, for callers that aren't a specific webhook provider.
type eventPayload struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func (h *HTTPTrigger) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.Event == "" {
		http.Error(w, "event type is required", http.StatusBadRequest)
		return
	}

	h.dispatch(r, payload.Event, payload.Data)
	writeAccepted(w, payload.Event)
}

func (h *HTTPTrigger) dispatch(r *http.Request, eventType string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["_remote_addr"] = r.RemoteAddr
	data["_user_agent"] = r.UserAgent()

	h.logger.Info("dispatching webhook event", zap.String("event", eventType))
	h.runner.Dispatch(context.Background(), eventType, data)
}

func writeAccepted(w http.ResponseWriter, eventType string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "accepted",
		"event":     eventType,
		"timestamp": time.Now().Unix(),
	})
}

func (h *HTTPTrigger) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
