package handler

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"persona-chat/internal/domain"
	"persona-chat/internal/session"
	"persona-chat/internal/usecase"
)

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func newTestAdapter(t *testing.T, f *fixture) *LambdaAdapter {
	t.Helper()
	a, err := NewLambdaAdapter(f.router)
	require.NoError(t, err)
	return a
}

func TestNewLambdaAdapter_ValidatesDependency(t *testing.T) {
	_, err := NewLambdaAdapter(nil)
	require.Error(t, err)
}

func TestLambdaHandle_HappyPath(t *testing.T) {
	f := newFixture(t, false)
	f.turns.out = usecase.TurnOutput{AssistantMessage: domain.Message{ID: "m-2", Role: domain.RoleAssistant, Content: "hello"}}
	a := newTestAdapter(t, f)

	event := makeEvent(http.MethodPost, "/api/messages", `{"conversationId":"c-1","content":"hi","role":"user"}`)
	event.Headers["Cookie"] = "sess=" + f.cookie(t, session.Identity{UserID: testUser}).Value

	resp, err := a.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, testUser, f.turns.in.CallerID)
	require.Equal(t, "m-2", parseBody[postMessageResponse](t, []byte(resp.Body)).AssistantMessage.ID)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestLambdaHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	f := newFixture(t, false)
	a := newTestAdapter(t, f)

	event := makeEvent(http.MethodGet, "/healthz", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := a.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestLambdaHandle_DecodesBase64Body(t *testing.T) {
	f := newFixture(t, false)
	f.conversations.conv = domain.Conversation{ID: "c-5"}
	a := newTestAdapter(t, f)

	event := makeEvent(http.MethodPost, "/api/conversations", base64.StdEncoding.EncodeToString([]byte(`{"personaId":"p-1"}`)))
	event.IsBase64Encoded = true
	event.MultiValueHeaders = map[string][]string{"Authorization": {"Bearer " + f.cookie(t, session.Identity{UserID: testUser}).Value}}

	resp, err := a.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"conversationId":"c-5"}`, resp.Body)
}

func TestLambdaHandle_InvalidBase64(t *testing.T) {
	f := newFixture(t, false)
	a := newTestAdapter(t, f)

	event := makeEvent(http.MethodPost, "/api/messages", "%%%")
	event.IsBase64Encoded = true
	resp, err := a.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLambdaHandle_GuestCookieInMultiValueHeaders(t *testing.T) {
	f := newFixture(t, true)
	a := newTestAdapter(t, f)

	resp, err := a.Handle(context.Background(), makeEvent(http.MethodGet, "/api/session", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.MultiValueHeaders["Set-Cookie"], 1)
	require.Contains(t, resp.Body, `"guest":true`)
}

func TestLambdaHandle_QueryParameters(t *testing.T) {
	f := newFixture(t, false)
	a := newTestAdapter(t, f)
	token := f.cookie(t, session.Identity{UserID: "user-3"}).Value

	event := makeEvent(http.MethodGet, "/auth/callback", "")
	event.QueryStringParameters = map[string]string{"token": token, "next": "/personas"}
	resp, err := a.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/personas", resp.Headers["Location"])
}
