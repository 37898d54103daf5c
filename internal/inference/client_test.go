package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		APIKey: "test-key",
		APIURL: server.URL,
		Model:  "gpt-4o",
	})
}

func TestInferSendsPromptAndImageURLs(t *testing.T) {
	var gotBody chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		fmt.Fprint(w, `{"choices":[{"message":{"content":"- Sofa\n- Lamp"}}]}`)
	})

	text, err := client.Infer(context.Background(), "List the items.", []string{
		"https://cdn.example/f0.jpg",
		"https://cdn.example/f1.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "- Sofa\n- Lamp", text)

	require.Len(t, gotBody.Messages, 1)
	content := gotBody.Messages[0].Content
	require.Len(t, content, 3)
	assert.Equal(t, "text", content[0].Type)
	assert.Equal(t, "List the items.", content[0].Text)
	assert.Equal(t, "https://cdn.example/f0.jpg", content[1].ImageURL.URL)
	assert.Equal(t, "https://cdn.example/f1.jpg", content[2].ImageURL.URL)
}

func TestInferMissingAPIKeyFailsBeforeNetworkCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(Config{APIURL: server.URL})

	_, err := client.Infer(context.Background(), "prompt", []string{"https://cdn.example/f.jpg"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.False(t, called)
}

func TestInferRequiresImageURLs(t *testing.T) {
	client := NewClient(Config{APIKey: "key"})

	_, err := client.Infer(context.Background(), "prompt", nil)
	assert.Error(t, err)
}

func TestInferErrorPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	})

	_, err := client.Infer(context.Background(), "prompt", []string{"https://cdn.example/f.jpg"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "rate limited", apiErr.Message)
}

func TestInferNonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream unavailable")
	})

	_, err := client.Infer(context.Background(), "prompt", []string{"https://cdn.example/f.jpg"})
	require.Error(t, err)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
}

func TestInferEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := client.Infer(context.Background(), "prompt", []string{"https://cdn.example/f.jpg"})
	assert.Error(t, err)
}
