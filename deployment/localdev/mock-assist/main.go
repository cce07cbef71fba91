package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type anomalyFinding struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

type anomalyReport struct {
	ID       string           `json:"id"`
	Entity   string           `json:"entity"`
	Action   string           `json:"action"`
	Findings []anomalyFinding `json:"findings"`
}

func main() {
	logger := log.New(log.Writer(), "assist-mock ", log.LstdFlags|log.Lmicroseconds)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]any{
				{
					"index": 0,
					"message": chatMessage{
						Role:    "assistant",
						Content: cannedReply(req.Messages),
					},
					"finish_reason": "stop",
				},
			},
		})
	})

	mux.HandleFunc("/webhooks/anomaly", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var report anomalyReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Printf("anomaly report %s: entity=%s action=%s findings=%d",
			report.ID, report.Entity, report.Action, len(report.Findings))
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:    ":8091",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8091")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// cannedReply picks a response keyed off the last user message so local
// chats feel vaguely conversational.
func cannedReply(messages []chatMessage) string {
	var last string
	for _, message := range messages {
		if message.Role == "user" {
			last = message.Content
		}
	}
	lowered := strings.ToLower(last)
	switch {
	case strings.Contains(lowered, "battery"):
		return "Your battery voltage has been trending low. I recommend booking a battery replacement this week."
	case strings.Contains(lowered, "brake"):
		return "Brake pad thickness is below the safe threshold. Please schedule a brake service as soon as possible."
	case strings.Contains(lowered, "appointment"), strings.Contains(lowered, "schedule"):
		return "The next free workshop slot is tomorrow at 09:00. Shall I book it for you?"
	default:
		return "Your vehicle is in good shape overall. Keep an eye on the dashboard and drive safely."
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
