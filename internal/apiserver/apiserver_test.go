package apiserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/prioritycore/internal/aienrich"
	"github.com/notifyhub/prioritycore/internal/apiserver"
	"github.com/notifyhub/prioritycore/internal/authtoken"
	"github.com/notifyhub/prioritycore/internal/dedup"
	"github.com/notifyhub/prioritycore/internal/dnd"
	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/fatigue"
	"github.com/notifyhub/prioritycore/internal/kvstore"
	"github.com/notifyhub/prioritycore/internal/pipeline"
	"github.com/notifyhub/prioritycore/pkg/clock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopRules struct{}

func (noopRules) MatchRules(e domain.Event) []domain.Rule { return nil }

type noopAudit struct{}

func (noopAudit) Write(ctx context.Context, rec domain.AuditRecord) error { return nil }

func newTestServer() (*apiserver.Server, *authtoken.Issuer) {
	c := clock.NewFixed(time.Now())
	store := kvstore.NewMemStore()
	orch := pipeline.New(c, dedup.New(store, c), noopRules{}, dnd.New(c), fatigue.New(store, c), aienrich.New(""), noopAudit{}, nil)
	tokens := authtoken.New("test-secret", time.Hour)
	s := apiserver.New(apiserver.Config{RateLimitWindow: time.Minute, RateLimitMax: 1000}, orch, nil, nil, tokens)
	return s, tokens
}

func TestHealthCheck_NoAuthRequired(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluate_RequiresAuth(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(domain.Event{UserID: "u1", EventType: "reminder"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvaluate_WithValidTokenReturnsDecision(t *testing.T) {
	s, tokens := newTestServer()
	token, err := tokens.Issue("caller-1", nil)
	require.NoError(t, err)

	body, _ := json.Marshal(domain.Event{UserID: "u1", EventType: "reminder", PriorityHint: domain.PriorityCritical})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var d domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, domain.DecisionNow, d.Decision)
}

func TestEvaluate_InvalidEventRejected(t *testing.T) {
	s, tokens := newTestServer()
	token, _ := tokens.Issue("caller-1", nil)

	body, _ := json.Marshal(domain.Event{EventType: "reminder"}) // missing user_id
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulesReload_NotConfiguredReturns501(t *testing.T) {
	s, tokens := newTestServer()
	token, _ := tokens.Issue("caller-1", []string{"rules:reload"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/reload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
