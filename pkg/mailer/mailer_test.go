package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSendGridSenderPostsMessage(t *testing.T) {
	var captured map[string]any
	var auth, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "SG.test",
		Host:      server.URL,
		FromName:  "Substitute Teachers",
		FromEmail: "no-reply@example.com",
	}, nil)

	err := sender.Send(context.Background(), Email{
		ToName:    "Ada",
		ToAddress: "ada@example.com",
		Subject:   "New substitute request",
		PlainText: "Math, grade 5",
		HTML:      "<p>Math, grade 5</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer SG.test", auth)
	assert.Equal(t, "/v3/mail/send", path)
	require.NotNil(t, captured)

	from := captured["from"].(map[string]any)
	assert.Equal(t, "no-reply@example.com", from["email"])

	personalizations := captured["personalizations"].([]any)
	require.Len(t, personalizations, 1)
	p := personalizations[0].(map[string]any)
	assert.Equal(t, "New substitute request", p["subject"])

	content := captured["content"].([]any)
	assert.Len(t, content, 2)
}

func TestSendGridSenderReturnsErrorOnRejectedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer server.Close()

	sender := NewSendGridSender(SendGridConfig{APIKey: "bad", Host: server.URL}, nil)
	err := sender.Send(context.Background(), Email{ToAddress: "ada@example.com", Subject: "x", PlainText: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestSendGridSenderRequiresRecipient(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "k"}, nil)
	assert.Error(t, sender.Send(context.Background(), Email{Subject: "x"}))
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	require.NoError(t, sender.Send(context.Background(), Email{ToAddress: "ada@example.com", Subject: "hello"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello", logs.All()[0].ContextMap()["subject"])
}
