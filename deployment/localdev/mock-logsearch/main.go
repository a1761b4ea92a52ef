package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

const appCommit = "3f786850e387550fdab836ed7e6dc881de23001b"

type logEvent struct {
	ID         string     `json:"id"`
	Attributes eventAttrs `json:"attributes"`
}

type eventAttrs struct {
	Timestamp  time.Time      `json:"timestamp"`
	Service    string         `json:"service"`
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v2/logs/events/search", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		stack := "java.lang.NullPointerException: Customer not found\n" +
			"\tat com.acme.card.CustomerLookup.resolve(CustomerLookup.kt:45)\n" +
			"\tat com.acme.card.CardHandler.handleEvent(CardHandler.kt:112)"
		writeJSON(w, map[string]any{
			"data": []logEvent{
				{
					ID: "ev-1",
					Attributes: eventAttrs{
						Timestamp: time.Now().Add(-10 * time.Minute),
						Service:   "card-service",
						Status:    "error",
						Message:   "failed to resolve customer for card event",
						Attributes: map[string]any{
							"sessionid":   "sess-local-1",
							"version":     appCommit + "___128",
							"logger_name": "com.acme.card.CustomerLookup",
							"error.stack": stack,
						},
					},
				},
				{
					ID: "ev-2",
					Attributes: eventAttrs{
						Timestamp: time.Now().Add(-9 * time.Minute),
						Service:   "card-service",
						Status:    "info",
						Message:   "card event received",
						Attributes: map[string]any{
							"sessionid": "sess-local-1",
							"version":   appCommit + "___128",
						},
					},
				},
			},
		})
	})

	logger := log.New(log.Writer(), "logsearch-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
