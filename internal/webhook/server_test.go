package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/log"
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/store"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

const testSecret = "finalize-secret"

type fakeHandler struct {
	calls []string
	fn    func(id string) (bool, error)
}

func (f *fakeHandler) OnFinalized(_ context.Context, id string) (bool, error) {
	f.calls = append(f.calls, id)
	if f.fn != nil {
		return f.fn(id)
	}
	return true, nil
}

func newTestServer(h FinalizeHandler, maxBody int64) *Server {
	return New(Config{
		Listen:      "127.0.0.1:0",
		Secret:      testSecret,
		MaxBodySize: maxBody,
	}, h, log.WithComponent("webhook"))
}

func post(t *testing.T, s *Server, path string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(DefaultSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhookEnqueues(t *testing.T) {
	h := &fakeHandler{}
	s := newTestServer(h, 0)
	body := []byte(`{"submission_id":" s1 "}`)

	rec := post(t, s, DefaultPath, body, Sign(body, testSecret))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp FinalizedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, FinalizedResponse{SubmissionID: "s1", Enqueued: true}, resp)
	assert.Equal(t, []string{"s1"}, h.calls)
}

func TestHandleWebhookAutoScoringDisabled(t *testing.T) {
	h := &fakeHandler{fn: func(string) (bool, error) { return false, nil }}
	s := newTestServer(h, 0)
	body := []byte(`{"submission_id":"s1"}`)

	rec := post(t, s, DefaultPath, body, Sign(body, testSecret))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp FinalizedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Enqueued)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	h := &fakeHandler{}
	s := newTestServer(h, 0)
	body := []byte(`{"submission_id":"s1"}`)

	for name, sig := range map[string]string{
		"missing": "",
		"wrong":   Sign(body, "other-secret"),
		"garbage": "sha256=not-hex",
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(t, s, DefaultPath, body, sig)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.NotContains(t, rec.Body.String(), "hex")
		})
	}
	assert.Empty(t, h.calls)
}

func TestHandleWebhookBodyTooLarge(t *testing.T) {
	h := &fakeHandler{}
	s := newTestServer(h, 32)
	body := []byte(`{"submission_id":"` + strings.Repeat("x", 64) + `"}`)

	rec := post(t, s, DefaultPath, body, Sign(body, testSecret))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, h.calls)
}

func TestHandleWebhookBadRequests(t *testing.T) {
	s := newTestServer(&fakeHandler{}, 0)

	for name, body := range map[string][]byte{
		"not json":   []byte(`submission s1`),
		"missing id": []byte(`{"team_id":"t1"}`),
		"blank id":   []byte(`{"submission_id":"  "}`),
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(t, s, DefaultPath, body, Sign(body, testSecret))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleWebhookErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown submission", err: store.ErrNotFound, want: http.StatusNotFound},
		{name: "not finalized", err: queue.ErrNotFinalized, want: http.StatusBadRequest},
		{name: "internal", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{fn: func(string) (bool, error) { return false, tt.err }}
			s := newTestServer(h, 0)
			body := []byte(`{"submission_id":"s1"}`)
			rec := post(t, s, DefaultPath, body, Sign(body, testSecret))
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		})
	}
}

func TestHandleWebhookUnknownPath(t *testing.T) {
	s := newTestServer(&fakeHandler{}, 0)
	body := []byte(`{"submission_id":"s1"}`)
	rec := post(t, s, "/hooks/other", body, Sign(body, testSecret))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{Secret: testSecret}, &fakeHandler{}, log.WithComponent("webhook"))
	assert.Equal(t, DefaultPath, s.config.Path)
	assert.Equal(t, DefaultSignatureHeader, s.config.SignatureHeader)
	assert.Equal(t, int64(DefaultMaxBodySize), s.config.MaxBodySize)
}

func TestFromGlobalConfig(t *testing.T) {
	cfg, err := FromGlobalConfig(&config.WebhooksConfig{
		Listen:      "127.0.0.1:8081",
		Secret:      "s",
		MaxBodySize: "64KB",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultPath, cfg.Path)
	assert.Equal(t, DefaultSignatureHeader, cfg.SignatureHeader)
	assert.Equal(t, int64(64*1024), cfg.MaxBodySize)

	_, err = FromGlobalConfig(nil)
	assert.Error(t, err)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Listen: "x"})
	assert.Error(t, err, "secret is required")

	_, err = FromGlobalConfig(&config.WebhooksConfig{Secret: "s", MaxBodySize: "huge"})
	assert.Error(t, err)
}
