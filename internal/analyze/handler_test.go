package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest-backend/internal/quota"
	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/safety"
	"rag-ingest-backend/internal/shared/auth"
	"rag-ingest-backend/internal/shared/server/middleware"
)

type fakeAnalyzer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, in ragclient.AnalyzeRequest) (ragclient.Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return ragclient.Response{}, f.err
	}
	return ragclient.Response{Status: 200, Body: []byte(`{"summary":"ok","chunks":2}`)}, nil
}

type brokenStore struct{}

func (brokenStore) Consume(context.Context, string, time.Time, int) (quota.Outcome, error) {
	return quota.Outcome{}, assert.AnError
}

func (brokenStore) Count(context.Context, string, time.Time) (int, error) {
	return 0, assert.AnError
}

func newTestRouter(t *testing.T, store quota.Store, analyzer Analyzer) (*gin.Engine, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := auth.NewManager("analyze-test-secret", "", time.Hour)
	svc := &Service{
		Ledger:    &quota.Ledger{Store: store, Limits: quota.Limits{Admin: 100, SocialWorker: 20, Client: 3}},
		RAG:       analyzer,
		Validator: safety.NewValidator([]string{"text/plain", "application/pdf"}, 1<<20, nil),
	}

	r := gin.New()
	api := r.Group("/api/v1", middleware.Auth(tokens))
	NewHandler(svc, 1<<20).RegisterRoutes(api)
	return r, tokens
}

func bearer(t *testing.T, tokens *auth.Manager, p auth.Principal) string {
	t.Helper()
	tok, err := tokens.Sign(p)
	require.NoError(t, err)
	return "Bearer " + tok
}

func analyzeRequest(t *testing.T, token string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="notes.txt"`)
	header.Set("Content-Type", "text/plain")
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/file", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", token)
	return req
}

func TestAnalyzeQuotaExactUnderConcurrency(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	router, tokens := newTestRouter(t, quota.NewMemoryStore(), analyzer)
	token := bearer(t, tokens, auth.Principal{UserID: "client-1", Role: auth.RoleClient})

	const callers = 4
	reqs := make([]*http.Request, callers)
	for i := range reqs {
		reqs[i] = analyzeRequest(t, token, []byte("some notes"))
	}
	codes := make([]int, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, reqs[i])
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	var ok, limited int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, limited)
	assert.Equal(t, int32(3), analyzer.calls.Load())
}

func TestAnalyzeOverQuotaReportsRetryAfter(t *testing.T) {
	router, tokens := newTestRouter(t, quota.NewMemoryStore(), &fakeAnalyzer{})
	token := bearer(t, tokens, auth.Principal{UserID: "client-2", Role: auth.RoleClient})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, analyzeRequest(t, token, []byte("notes")))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, analyzeRequest(t, token, []byte("notes")))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "QUOTA_EXCEEDED", body["code"])
	assert.EqualValues(t, 3, body["used"])
	assert.EqualValues(t, 3, body["limit"])
	assert.Greater(t, body["resetSeconds"].(float64), float64(0))
}

func TestAnalyzeUpstreamFailureStillCharges(t *testing.T) {
	analyzer := &fakeAnalyzer{err: &ragclient.Error{Op: ragclient.OpAnalyze, Kind: ragclient.KindTimeout, Message: "RAG request timed out"}}
	router, tokens := newTestRouter(t, quota.NewMemoryStore(), analyzer)
	token := bearer(t, tokens, auth.Principal{UserID: "client-3", Role: auth.RoleClient})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, analyzeRequest(t, token, []byte("notes")))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	usage := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/usage", nil)
	usage.Header.Set("Authorization", token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, usage)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 1, body["used"])
	assert.EqualValues(t, 3, body["limit"])
}

func TestAnalyzeInvalidFileNotCharged(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	router, tokens := newTestRouter(t, quota.NewMemoryStore(), analyzer)
	token := bearer(t, tokens, auth.Principal{UserID: "client-4", Role: auth.RoleClient})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, analyzeRequest(t, token, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, analyzer.calls.Load())

	usage := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/usage", nil)
	usage.Header.Set("Authorization", token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, usage)
	assert.Contains(t, rec.Body.String(), `"used":0`)
}

func TestAnalyzeStoreErrorIsUnavailable(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	router, tokens := newTestRouter(t, brokenStore{}, analyzer)
	token := bearer(t, tokens, auth.Principal{UserID: "client-5", Role: auth.RoleClient})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, analyzeRequest(t, token, []byte("notes")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, analyzer.calls.Load())
}

func TestAnalyzeRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, quota.NewMemoryStore(), &fakeAnalyzer{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyze/usage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
