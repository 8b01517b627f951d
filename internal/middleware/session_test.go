package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// recruiterSessionRepo は単一の採用担当者セッションのみを認めるリポジトリを返す。
func recruiterSessionRepo(sessionID, userID string) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != sessionID {
				return nil, nil
			}
			return &model.Session{
				ID:        sessionID,
				UserID:    userID,
				ExpiresAt: time.Now().Add(1 * time.Hour),
			}, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsUserID(t *testing.T) {
	mw := NewSessionMiddleware(recruiterSessionRepo("sess-recruiter-1", "recruiter-42"))

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/candidates", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-recruiter-1"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedUserID != "recruiter-42" {
		t.Errorf("userID = %q, want %q", capturedUserID, "recruiter-42")
	}
}

func TestSessionMiddleware_Unauthenticated_Returns401(t *testing.T) {
	tests := []struct {
		name string
		repo *mockSessionRepository
		// nilの場合はCookieなしのリクエストを送る
		cookie *http.Cookie
	}{
		{
			name:   "Cookieなし",
			repo:   &mockSessionRepository{},
			cookie: nil,
		},
		{
			name:   "空のセッションID",
			repo:   &mockSessionRepository{},
			cookie: &http.Cookie{Name: "session_id", Value: ""},
		},
		{
			name:   "未検出または期限切れ",
			repo:   recruiterSessionRepo("sess-recruiter-1", "recruiter-42"),
			cookie: &http.Cookie{Name: "session_id", Value: "sess-expired"},
		},
		{
			name: "リポジトリエラー",
			repo: &mockSessionRepository{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return nil, context.DeadlineExceeded
				},
			},
			cookie: &http.Cookie{Name: "session_id", Value: "sess-any"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(tt.repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/candidates", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}

			var body ErrorResponseBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("401レスポンスがJSONでない: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
			if body.Category != "auth" {
				t.Errorf("category = %q, want %q", body.Category, "auth")
			}
		})
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if err == nil {
		t.Error("expected error for missing user ID in context")
	}
}

func TestUserIDFromContext_RoundTrip(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "recruiter-7")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "recruiter-7" {
		t.Errorf("userID = %q, want %q", userID, "recruiter-7")
	}
}
