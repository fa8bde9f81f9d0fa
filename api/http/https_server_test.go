package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"TradeRAG/internal/modules/ai/application/dto/request"
	"TradeRAG/internal/modules/ai/application/dto/respond"
	"TradeRAG/internal/modules/ai/application/service"
	"TradeRAG/internal/modules/ai/infrastructure/chunking"
	"TradeRAG/internal/modules/ai/infrastructure/embedding"
	"TradeRAG/internal/modules/ai/infrastructure/pipeline"
	"TradeRAG/internal/modules/ai/infrastructure/reader"
	"TradeRAG/internal/modules/ai/infrastructure/vectordb"
	"TradeRAG/pkg/back"
	"TradeRAG/pkg/util/myjwt"
	"TradeRAG/pkg/xerr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetrieveSvc struct{}

func (stubRetrieveSvc) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	return []string{"a"}, nil
}

func (stubRetrieveSvc) Query(ctx context.Context, req request.RetrieveRequest) (*respond.RetrieveRespond, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, xerr.New(xerr.BadRequest, "query is required")
	}
	return &respond.RetrieveRespond{QueryID: "q_1", Query: req.Query, TopK: 3, Passages: []string{"BTCUSDT Spot Price: $50000"}}, nil
}

type stubIngestSvc struct {
	manual int
	dir    string
}

func (s *stubIngestSvc) IngestNow(ctx context.Context) (int, error) { return 0, nil }

func (s *stubIngestSvc) RunMarketIngest(ctx context.Context, trigger string) (*respond.IngestRespond, error) {
	s.manual++
	return &respond.IngestRespond{RunID: "r1", Trigger: trigger, Inserted: 4}, nil
}

func (s *stubIngestSvc) IngestDocuments(ctx context.Context, dir string) (*respond.IngestRespond, error) {
	s.dir = dir
	return &respond.IngestRespond{RunID: "r2", Documents: 1}, nil
}

func (s *stubIngestSvc) RecentRuns(ctx context.Context, limit int) ([]respond.IngestRunItem, error) {
	return nil, xerr.ErrNoHistory
}

func init() {
	gin.SetMode(gin.TestMode)
}

func do(t *testing.T, h http.Handler, method, path, body, token string) (int, back.Response) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp back.Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	r := NewRouter(RouterDeps{RetrieveSvc: stubRetrieveSvc{}, IngestSvc: &stubIngestSvc{}, Backend: "memory", VectorDim: 384})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"memory","vector_dim":384}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRetrieveRoute(t *testing.T) {
	r := NewRouter(RouterDeps{RetrieveSvc: stubRetrieveSvc{}, IngestSvc: &stubIngestSvc{}})

	code, resp := do(t, r, http.MethodPost, "/ai/retrieve", `{"query":"btc price","top_k":3}`, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, xerr.OK, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "q_1", data["query_id"])
	assert.Len(t, data["passages"], 1)

	_, resp = do(t, r, http.MethodPost, "/ai/retrieve", `{}`, "")
	assert.Equal(t, xerr.BadRequest, resp.Code)

	_, resp = do(t, r, http.MethodPost, "/ai/retrieve", `{`, "")
	assert.Equal(t, xerr.BadRequest, resp.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	signer, err := myjwt.NewSigner("secret", "TradeRAG", 1)
	require.NoError(t, err)
	ingest := &stubIngestSvc{}
	r := NewRouter(RouterDeps{RetrieveSvc: stubRetrieveSvc{}, IngestSvc: ingest, Signer: signer})

	_, resp := do(t, r, http.MethodPost, "/ai/ingest", "", "")
	assert.Equal(t, xerr.Unauthorized, resp.Code)
	_, resp = do(t, r, http.MethodPost, "/ai/ingest", "", "not-a-token")
	assert.Equal(t, xerr.Unauthorized, resp.Code)
	assert.Equal(t, 0, ingest.manual)

	tok, err := signer.GenerateToken("ops")
	require.NoError(t, err)
	_, resp = do(t, r, http.MethodPost, "/ai/ingest", "", tok)
	assert.Equal(t, xerr.OK, resp.Code)
	assert.Equal(t, 1, ingest.manual)
	assert.Equal(t, "manual", resp.Data.(map[string]interface{})["trigger"])
}

func TestAdminRoutesClosedWithoutSigner(t *testing.T) {
	ingest := &stubIngestSvc{}
	r := NewRouter(RouterDeps{RetrieveSvc: stubRetrieveSvc{}, IngestSvc: ingest})

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/ai/ingest"},
		{http.MethodPost, "/ai/documents"},
		{http.MethodGet, "/ai/runs"},
	} {
		_, resp := do(t, r, route.method, route.path, "", "")
		assert.Equal(t, xerr.Forbidden, resp.Code, route.path)
	}
	assert.Equal(t, 0, ingest.manual)

	_, resp := do(t, r, http.MethodPost, "/ai/retrieve", `{"query":"btc"}`, "")
	assert.Equal(t, xerr.OK, resp.Code)
}

func TestAdminRoutesOpenWhenAllowed(t *testing.T) {
	ingest := &stubIngestSvc{}
	r := NewRouter(RouterDeps{RetrieveSvc: stubRetrieveSvc{}, IngestSvc: ingest, AdminOpen: true})

	_, resp := do(t, r, http.MethodPost, "/ai/documents", `{"dir":"docs/rules"}`, "")
	assert.Equal(t, xerr.OK, resp.Code)
	assert.Equal(t, "docs/rules", ingest.dir)

	_, resp = do(t, r, http.MethodPost, "/ai/documents", "", "")
	assert.Equal(t, xerr.OK, resp.Code)
	assert.Equal(t, "", ingest.dir)

	_, resp = do(t, r, http.MethodGet, "/ai/runs?limit=5", "", "")
	assert.Equal(t, xerr.ServiceUnavailable, resp.Code)

	_, resp = do(t, r, http.MethodGet, "/ai/runs?limit=abc", "", "")
	assert.Equal(t, xerr.BadRequest, resp.Code)
}

func newDocsRouter(t *testing.T, docsDir string) http.Handler {
	t.Helper()
	const dim = 32
	vs := vectordb.NewMemoryStore("router_test")
	emb := embedding.NewHashEmbedder(dim)
	ingestPipe, err := pipeline.NewIngestPipeline(vs, emb, nil, nil, pipeline.IngestOptions{VectorDim: dim})
	require.NoError(t, err)
	retrievePipe, err := pipeline.NewRetrievePipeline(vs, emb, dim, 3)
	require.NoError(t, err)
	ch, err := chunking.NewChunker(context.Background(), 200, 20)
	require.NoError(t, err)

	ingest := service.NewIngestService(ingestPipe, reader.NewDocumentReader(nil, nil), ch, nil, nil,
		service.IngestServiceOptions{DocsDir: docsDir})
	return NewRouter(RouterDeps{
		RetrieveSvc: service.NewRetrieveService(retrievePipe),
		IngestSvc:   ingest,
		AdminOpen:   true,
		Backend:     "memory",
	})
}

func TestDocumentsRouteStaysInsideDocsDir(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "creds.txt"), []byte("db password hunter2"), 0o600))
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "funding.md"), []byte("Funding is settled every 8 hours."), 0o600))

	r := newDocsRouter(t, root)

	body, err := json.Marshal(request.IngestDocumentsRequest{Dir: outside})
	require.NoError(t, err)
	_, resp := do(t, r, http.MethodPost, "/ai/documents", string(body), "")
	assert.Equal(t, xerr.Forbidden, resp.Code)

	_, resp = do(t, r, http.MethodPost, "/ai/documents", `{"dir":"../"}`, "")
	assert.Equal(t, xerr.Forbidden, resp.Code)

	_, resp = do(t, r, http.MethodPost, "/ai/documents", "", "")
	require.Equal(t, xerr.OK, resp.Code)
	assert.EqualValues(t, 1, resp.Data.(map[string]interface{})["inserted"])

	_, resp = do(t, r, http.MethodPost, "/ai/retrieve", `{"query":"password","top_k":5}`, "")
	require.Equal(t, xerr.OK, resp.Code)
	passages := resp.Data.(map[string]interface{})["passages"].([]interface{})
	for _, p := range passages {
		assert.NotContains(t, p, "hunter2")
	}
}
