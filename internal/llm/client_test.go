package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctorfy/doctorfy/internal/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)
}

func textResponse(texts ...string) []byte {
	type block struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	blocks := make([]block, 0, len(texts))
	for _, tx := range texts {
		blocks = append(blocks, block{Type: "text", Text: tx})
	}
	raw, _ := json.Marshal(map[string]any{"content": blocks})
	return raw
}

func TestAnalyzeSuccess(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_, _ = w.Write(textResponse("Findings: ", "unremarkable."))
	})

	out, err := c.Analyze(context.Background(), Request{User: "analyze this", Texts: []string{"report text"}})
	require.NoError(t, err)
	assert.Equal(t, "Findings: unremarkable.", out)
	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, apiVersion, gotVersion)
}

func TestAnalyzeMissingKeyFailsBeforeIO(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.Analyze(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.Equal(t, common.KindProviderAuth, common.KindOf(err))
	assert.False(t, called)
}

func TestAnalyzeDropsImagesBeyondCap(t *testing.T) {
	var imageBlocks int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content []struct {
					Type string `json:"type"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, blk := range body.Messages[0].Content {
			if blk.Type == "image" {
				imageBlocks++
			}
		}
		_, _ = w.Write(textResponse("ok"))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, MaxImages: 3}, nil)
	images := make([]Image, 10)
	for i := range images {
		images[i] = Image{MediaType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	}
	_, err := c.Analyze(context.Background(), Request{User: "x", Images: images})
	require.NoError(t, err)
	assert.Equal(t, 3, imageBlocks)
}

func TestAnalyzeStatusTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   common.Kind
	}{
		{http.StatusTooManyRequests, common.KindProviderOverloaded},
		{529, common.KindProviderOverloaded},
		{http.StatusBadRequest, common.KindProviderInvalidInput},
		{http.StatusRequestEntityTooLarge, common.KindProviderInvalidInput},
		{http.StatusUnprocessableEntity, common.KindProviderInvalidInput},
		{http.StatusUnauthorized, common.KindProviderAuth},
		{http.StatusForbidden, common.KindProviderAuth},
		{http.StatusGatewayTimeout, common.KindProviderTimeout},
		{http.StatusInternalServerError, common.KindProviderOther},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
		})
		_, err := c.Analyze(context.Background(), Request{User: "x"})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.want, common.KindOf(err), "status %d", tc.status)
	}
}

func TestAnalyzeOverloadedBodyTypeWins(t *testing.T) {
	// The provider signals overload with a 500-range status sometimes; the
	// body error type takes precedence.
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error","message":"busy"}}`))
	})
	_, err := c.Analyze(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.Equal(t, common.KindProviderOverloaded, common.KindOf(err))
}

func TestAnalyzeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Analyze(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.Equal(t, common.KindProviderTimeout, common.KindOf(err))
}

func TestAnalyzeEmptyResponseIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(textResponse())
	})
	_, err := c.Analyze(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.Equal(t, common.KindProviderOther, common.KindOf(err))
}
