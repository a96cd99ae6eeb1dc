package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/domain"
	"edudesk-quiz-service/internal/infra/memory"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var testSecret = []byte("test-secret")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	service := app.NewSessionService(memory.NewSessionStore(), quizzes, app.WithClock(clock.Now))
	router := NewRouter(service, zap.NewNop(), RouterConfig{JWTSecret: testSecret})
	return router, clock
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := SignToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		OwnerID:   "instructor-1",
		Title:     "Arithmetic",
		TimeLimit: 1800,
		Questions: []domain.Question{
			{ID: "q1", Number: 1, Text: "What is 2 + 2?", CorrectAnswer: "B"},
			{ID: "q2", Number: 2, Text: "What is 3 * 3?", CorrectAnswer: "C", Explanation: "3 * 3 = 9"},
		},
	}
}
