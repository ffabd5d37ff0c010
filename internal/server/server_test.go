package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivana/sales-agent/internal/agent/model"
)

type stubRunner struct {
	reply string
	err   error
	last  model.TurnInput
	calls int
}

func (s *stubRunner) Invoke(_ context.Context, in model.TurnInput) (string, error) {
	s.calls++
	s.last = in
	return s.reply, s.err
}

type stubStates struct {
	cleared []string
}

func (s *stubStates) LoadOrCreate(_ context.Context, id string) (*model.ConversationState, error) {
	return model.NewConversationState(id), nil
}

func (s *stubStates) Save(_ context.Context, _ *model.ConversationState) error { return nil }

func (s *stubStates) Clear(_ context.Context, id string) error {
	s.cleared = append(s.cleared, id)
	return nil
}

type recordingDeliverer struct {
	bodies []string
}

func (d *recordingDeliverer) Deliver(_ context.Context, _, _, body string) error {
	d.bodies = append(d.bodies, body)
	return nil
}

func performForm(t *testing.T, s *Server, method, path, form string) *ut.ResponseRecorder {
	t.Helper()
	return ut.PerformRequest(s.hz.Engine, method, path,
		&ut.Body{Body: bytes.NewBufferString(form), Len: len(form)},
		ut.Header{Key: "Content-Type", Value: "application/x-www-form-urlencoded"},
	)
}

func newTestServer(t *testing.T, runner *stubRunner, states *stubStates) *Server {
	t.Helper()
	s, err := New(model.ServerConfig{Host: "127.0.0.1", Port: 0}, runner, states, LogDeliverer{})
	require.NoError(t, err)
	return s
}

func TestChatWebhookReturnsReply(t *testing.T) {
	runner := &stubRunner{reply: "Hola, soy el asistente de Drivana."}
	s := newTestServer(t, runner, &stubStates{})

	w := performForm(t, s, http.MethodPost, "/api/chat", "Body=hola&WaId=5215512345678&From=whatsapp%3A%2B521&To=whatsapp%3A%2B522")
	resp := w.Result()

	assert.Equal(t, http.StatusOK, resp.StatusCode())

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, "Hola, soy el asistente de Drivana.", body["reply"])
	assert.Equal(t, "5215512345678", body["conversation_id"])
	assert.NotEmpty(t, body["correlation_id"])

	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, "5215512345678", runner.last.ConversationID)
	assert.Equal(t, "hola", runner.last.Message)
	assert.NotEmpty(t, runner.last.CorrelationID)
}

func TestChatWebhookRepliesWithApologyOnTurnFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("catalog query failed")}
	delivered := &recordingDeliverer{}
	s, err := New(model.ServerConfig{Host: "127.0.0.1", Port: 0}, runner, &stubStates{}, delivered)
	require.NoError(t, err)

	w := performForm(t, s, http.MethodPost, "/api/chat", "Body=hola&WaId=5215512345678&From=whatsapp%3A%2B521&To=whatsapp%3A%2B522")
	resp := w.Result()

	// An internal fault still yields exactly one reply, in persona.
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, TurnFailureReply, body["reply"])
	assert.Equal(t, "5215512345678", body["conversation_id"])
	assert.NotContains(t, body, "error")

	require.Len(t, delivered.bodies, 1)
	assert.Equal(t, TurnFailureReply, delivered.bodies[0])
}

func TestChatWebhookRejectsMissingFields(t *testing.T) {
	runner := &stubRunner{reply: "no debe llegar"}
	s := newTestServer(t, runner, &stubStates{})

	w := performForm(t, s, http.MethodPost, "/api/chat", "Body=hola")
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())
	assert.Equal(t, 0, runner.calls)

	w = performForm(t, s, http.MethodPost, "/api/chat", "WaId=5215512345678")
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())
	assert.Equal(t, 0, runner.calls)
}

func TestClearConversation(t *testing.T) {
	states := &stubStates{}
	s := newTestServer(t, &stubRunner{}, states)

	w := performForm(t, s, http.MethodDelete, "/api/conversations/conv-9", "")
	resp := w.Result()

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, []string{"conv-9"}, states.cleared)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, &stubStates{})

	w := performForm(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
}
