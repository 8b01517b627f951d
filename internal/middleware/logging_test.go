package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// captureRequestLog はロギングミドルウェア越しにリクエストを1件処理し、
// 出力されたJSONログをパースして返す。
func captureRequestLog(t *testing.T, req *http.Request, h http.HandlerFunc) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	NewLoggingMiddleware(logger)(h).ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSONログのパースに失敗: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/candidates", nil)
	entry := captureRequestLog(t, req, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/candidates" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/candidates")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	duration, ok := entry["duration_ms"].(float64)
	if !ok || duration < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
}

func TestLoggingMiddleware_UserIDField(t *testing.T) {
	t.Run("認証済みリクエストはuser_idを含む", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/candidates", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), "recruiter-42"))

		entry := captureRequestLog(t, req, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if entry["user_id"] != "recruiter-42" {
			t.Errorf("user_id = %q, want %q", entry["user_id"], "recruiter-42")
		}
	})

	t.Run("未認証リクエストはuser_idを含まない", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		entry := captureRequestLog(t, req, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if val, ok := entry["user_id"]; ok && val != "" {
			t.Errorf("user_id should be absent, got %q", val)
		}
	})
}

// ステータスコードに応じてログレベルが切り替わること。
// 409（楽観ロック競合）はWarn止まりでErrorにならない。
func TestLoggingMiddleware_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"200はInfo", http.StatusOK, "INFO"},
		{"201はInfo", http.StatusCreated, "INFO"},
		{"404はWarn", http.StatusNotFound, "WARN"},
		{"409はWarn", http.StatusConflict, "WARN"},
		{"422はWarn", http.StatusUnprocessableEntity, "WARN"},
		{"500はError", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/evaluations/ev-1/decision", nil)
			entry := captureRequestLog(t, req, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			if status := int(entry["status"].(float64)); status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %q, want %q", entry["level"], tt.wantLevel)
			}
		})
	}
}

// WriteHeaderを呼ばずにWriteした場合も200が記録されること
func TestLoggingMiddleware_ImplicitStatusOnBodyWrite(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/criteria", nil)
	entry := captureRequestLog(t, req, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"criteria":[]}`))
	})

	if status := int(entry["status"].(float64)); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
}

func TestLevelForStatus(t *testing.T) {
	if got := levelForStatus(204); got != slog.LevelInfo {
		t.Errorf("levelForStatus(204) = %v, want Info", got)
	}
	if got := levelForStatus(423); got != slog.LevelWarn {
		t.Errorf("levelForStatus(423) = %v, want Warn", got)
	}
	if got := levelForStatus(503); got != slog.LevelError {
		t.Errorf("levelForStatus(503) = %v, want Error", got)
	}
}
