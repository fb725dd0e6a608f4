package server

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/artifact"
	"github.com/doctorfy/doctorfy/internal/common"
	"github.com/doctorfy/doctorfy/internal/export"
	"github.com/doctorfy/doctorfy/internal/extract"
	"github.com/doctorfy/doctorfy/internal/imaging"
	"github.com/doctorfy/doctorfy/internal/llm"
	"github.com/doctorfy/doctorfy/internal/pipeline"
	"github.com/doctorfy/doctorfy/internal/repository"
)

const testSecret = "test-secret"

type stubModel struct{ text string }

func (s stubModel) Analyze(context.Context, llm.Request) (string, error) {
	return s.text, nil
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, string, ...string) ([]byte, []byte, error) {
	return []byte("extracted text"), nil, nil
}

type testApp struct {
	srv     *httptest.Server
	studies repository.StudyRepository
	users   repository.UserRepository
	ledger  repository.LedgerRepository
	store   *artifact.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	db, err := repository.Open(ctx, common.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	store, err := artifact.NewStore(t.TempDir(), 16<<20, nil)
	require.NoError(t, err)

	studies := repository.NewStudyRepository(db, nil)
	users := repository.NewUserRepository(db, nil)
	ledger := repository.NewLedgerRepository(db, nil)
	model := stubModel{text: "Findings: unremarkable study."}

	orch := pipeline.NewOrchestrator(nil, pipeline.Config{}, studies, ledger, store,
		extract.NewExtractor(extract.Config{Runner: nopRunner{}}, nil),
		imaging.NewNormalizer(0, nil), model)
	composer := pipeline.NewComposer(nil, pipeline.Config{}, studies, users, ledger, model)
	exporter := export.NewService(ledger, nil)

	h := NewHandler(nil, studies, ledger, store, orch, composer, exporter, 16<<20)
	srv := httptest.NewServer(NewRouter(h, AuthConfig{JWTSecret: testSecret}))
	t.Cleanup(srv.Close)

	return &testApp{srv: srv, studies: studies, users: users, ledger: ledger, store: store}
}

func (a *testApp) newUser(t *testing.T, credits int64, role string) (uuid.UUID, string) {
	t.Helper()
	u := &repository.User{Credits: decimal.NewFromInt(credits), Role: role}
	require.NoError(t, a.users.Create(context.Background(), u))
	token, err := GenerateAccessToken(AuthConfig{JWTSecret: testSecret}, u.ID.String(), role)
	require.NoError(t, err)
	return u.ID, token
}

func (a *testApp) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, fields map[string]string, fileNames []string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, name := range fileNames {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(pngBytes(t))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func uploadStudy(t *testing.T, a *testApp, token string, files ...string) studyView {
	t.Helper()
	body, ct := multipartUpload(t, map[string]string{"study_type": "xray", "name": "chest"}, files)
	resp := a.do(t, http.MethodPost, "/medical-studies/upload", token, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sv studyView
	decodeJSON(t, resp, &sv)
	return sv
}

func TestUpload(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")

	sv := uploadStudy(t, a, token, "chest.png")
	assert.Equal(t, "xray", sv.StudyType)
	assert.Equal(t, "chest", sv.Name)
	assert.Equal(t, string(constants.StudyStatusPending), sv.Status)
	assert.Len(t, sv.Files, 1)
}

func TestUploadWireShape(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")

	body, ct := multipartUpload(t, map[string]string{"study_type": "xray"}, []string{"chest.png"})
	resp := a.do(t, http.MethodPost, "/medical-studies/upload", token, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var raw map[string]any
	decodeJSON(t, resp, &raw)
	paths, ok := raw["file_paths"].([]any)
	require.True(t, ok, "manifest is published under file_paths")
	assert.Len(t, paths, 1)
	assert.NotContains(t, raw, "files")
}

func TestUploadKeepsFreeTextTypeHint(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")

	body, ct := multipartUpload(t, map[string]string{"study_type": "chest-xray with contrast"}, []string{"a.png"})
	resp := a.do(t, http.MethodPost, "/medical-studies/upload", token, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sv studyView
	decodeJSON(t, resp, &sv)
	assert.Equal(t, "chest-xray with contrast", sv.StudyType, "the hint is stored verbatim")

	// Rename keeps the same free-text semantics.
	payload := strings.NewReader(`{"study_type":"lateral view"}`)
	resp = a.do(t, http.MethodPost, "/medical-studies/studies/"+sv.ID+"/rename", token, payload, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &sv)
	assert.Equal(t, "lateral view", sv.StudyType)
}

func TestUploadRejectsBadFileCounts(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")

	body, ct := multipartUpload(t, nil, nil)
	resp := a.do(t, http.MethodPost, "/medical-studies/upload", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = multipartUpload(t, nil, []string{"a.png", "b.png", "c.png", "d.png", "e.png"})
	resp = a.do(t, http.MethodPost, "/medical-studies/upload", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = multipartUpload(t, nil, []string{"a.png", "b.png", "c.png", "d.png"})
	resp = a.do(t, http.MethodPost, "/medical-studies/upload", token, body, ct)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestUploadRejectsBadExtension(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")

	body, ct := multipartUpload(t, nil, []string{"malware.exe"})
	resp := a.do(t, http.MethodPost, "/medical-studies/upload", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{
		"/medical-studies/studies",
		"/credits/balance",
	} {
		resp := a.do(t, http.MethodGet, path, "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "path %s", path)
	}

	resp := a.do(t, http.MethodGet, "/medical-studies/studies", "not-a-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Health and metrics stay public.
	resp = a.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = a.do(t, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetStudyAccessControl(t *testing.T) {
	a := newTestApp(t)
	_, ownerToken := a.newUser(t, 0, "patient")
	_, strangerToken := a.newUser(t, 0, "patient")
	_, doctorToken := a.newUser(t, 0, "doctor")

	sv := uploadStudy(t, a, ownerToken, "chest.png")

	resp := a.do(t, http.MethodGet, "/medical-studies/studies/"+sv.ID, ownerToken, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/medical-studies/studies/"+sv.ID, strangerToken, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/medical-studies/studies/"+sv.ID, doctorToken, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/medical-studies/studies/"+uuid.NewString(), ownerToken, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListStudies(t *testing.T) {
	a := newTestApp(t)
	_, t1 := a.newUser(t, 0, "patient")
	_, t2 := a.newUser(t, 0, "patient")
	_, doctorToken := a.newUser(t, 0, "doctor")

	uploadStudy(t, a, t1, "a.png")
	uploadStudy(t, a, t2, "b.png")

	var out struct {
		Studies []studyView `json:"studies"`
	}
	resp := a.do(t, http.MethodGet, "/medical-studies/studies", t1, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &out)
	assert.Len(t, out.Studies, 1)

	resp = a.do(t, http.MethodGet, "/medical-studies/studies?all=1", doctorToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &out)
	assert.Len(t, out.Studies, 2)

	resp = a.do(t, http.MethodGet, "/medical-studies/studies?all=1", t1, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAnalyzeEndpoint(t *testing.T) {
	a := newTestApp(t)
	userID, token := a.newUser(t, 5, "patient")

	sv := uploadStudy(t, a, token, "chest.png")

	resp := a.do(t, http.MethodPost, "/medical-studies/studies/"+sv.ID+"/analyze", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Interpretation   string `json:"interpretation"`
		Status           string `json:"status"`
		CreditsUsed      string `json:"credits_used"`
		CreditsRemaining string `json:"credits_remaining"`
	}
	decodeJSON(t, resp, &out)
	assert.Contains(t, out.Interpretation, "Findings:")
	assert.Equal(t, string(constants.StudyStatusCompleted), out.Status)
	assert.Equal(t, "5", out.CreditsUsed)
	assert.Equal(t, "0", out.CreditsRemaining)

	balance, err := a.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestAnalyzeInsufficientCreditsIs402(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 3, "patient")

	sv := uploadStudy(t, a, token, "chest.png")

	resp := a.do(t, http.MethodPost, "/medical-studies/studies/"+sv.ID+"/analyze", token, nil, "")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	var body errorBody
	decodeJSON(t, resp, &body)
	assert.NotEmpty(t, body.Error)
	assert.Empty(t, body.AnalysisStatus, "pre-flight failures carry no analysis status")
}

func TestRenameEndpoint(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")
	sv := uploadStudy(t, a, token, "chest.png")

	payload := strings.NewReader(`{"name":"left wrist xray"}`)
	resp := a.do(t, http.MethodPost, "/medical-studies/studies/"+sv.ID+"/rename", token, payload, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated studyView
	decodeJSON(t, resp, &updated)
	assert.Equal(t, "left wrist xray", updated.Name)
	assert.Equal(t, "xray", updated.StudyType, "omitted fields keep their values")
	assert.Equal(t, sv.Files, updated.Files, "manifest never changes")

	payload = strings.NewReader(`{}`)
	resp = a.do(t, http.MethodPost, "/medical-studies/studies/"+sv.ID+"/rename", token, payload, "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadSingleFile(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")
	sv := uploadStudy(t, a, token, "chest.png")

	resp := a.do(t, http.MethodGet, "/medical-studies/studies/"+sv.ID+"/download", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes(t), data)
}

func TestDownloadMultiFileIsZip(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 0, "patient")
	sv := uploadStudy(t, a, token, "a.png", "b.png")

	resp := a.do(t, http.MethodGet, "/medical-studies/studies/"+sv.ID+"/download", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data[:2]), "zip magic")
}

func TestInterpretationDownload(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 5, "patient")
	sv := uploadStudy(t, a, token, "chest.png")

	// Before analysis: 400.
	resp := a.do(t, http.MethodGet, "/medical-studies/studies/"+sv.ID+"/interpretation/download", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/medical-studies/studies/"+sv.ID+"/analyze", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/medical-studies/studies/"+sv.ID+"/interpretation/download", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Findings:")
}

func TestDiagnoseEndpoint(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 10, "patient")

	payload := strings.NewReader(`{"symptoms_text":"persistent cough"}`)
	resp := a.do(t, http.MethodPost, "/diagnosis/generate", token, payload, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Diagnosis        string `json:"diagnosis"`
		CreditsRemaining string `json:"credits_remaining"`
	}
	decodeJSON(t, resp, &out)
	assert.NotEmpty(t, out.Diagnosis)
	assert.Equal(t, "0", out.CreditsRemaining)
}

func TestDiagnoseEmptyInputsIs400(t *testing.T) {
	a := newTestApp(t)
	_, token := a.newUser(t, 10, "patient")

	payload := strings.NewReader(`{"study_ids":[],"symptoms_text":""}`)
	resp := a.do(t, http.MethodPost, "/diagnosis/generate", token, payload, "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreditsEndpoints(t *testing.T) {
	a := newTestApp(t)
	userID, token := a.newUser(t, 20, "patient")

	_, err := a.ledger.Debit(context.Background(), userID, decimal.NewFromInt(5), constants.TxReasonStudyAnalysis, "s1")
	require.NoError(t, err)

	resp := a.do(t, http.MethodGet, "/credits/balance", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal struct {
		Balance string `json:"balance"`
	}
	decodeJSON(t, resp, &bal)
	assert.Equal(t, "15", bal.Balance)

	resp = a.do(t, http.MethodGet, "/credits/transactions", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var txs struct {
		Transactions []struct {
			Delta  string `json:"delta"`
			Reason string `json:"reason"`
		} `json:"transactions"`
	}
	decodeJSON(t, resp, &txs)
	require.Len(t, txs.Transactions, 1)
	assert.Equal(t, "-5", txs.Transactions[0].Delta)

	resp = a.do(t, http.MethodGet, "/credits/transactions/export", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data[:2]), "xlsx is a zip container")
}
