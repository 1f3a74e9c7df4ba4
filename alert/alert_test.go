package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_etl/config"
)

func sampleAlert() Alert {
	return Alert{
		ExecutionID: "exec-1",
		Time:        time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Message:     "fetch failed: timeout after 3 attempt(s)",
		Source:      "https://fakestoreapi.com/products",
	}
}

func TestWebhook_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, nil).Send(context.Background(), sampleAlert())
	require.NoError(t, err)

	assert.Equal(t, "exec-1", got["execution_id"])
	assert.Equal(t, "fetch failed: timeout after 3 attempt(s)", got["message"])
	assert.Contains(t, got["text"], "Pipeline Failed")
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, nil).Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSMTP_Send(t *testing.T) {
	cfg := config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "bot@example.com",
		Password: "secret",
		To:       []string{"ops@example.com", "dev@example.com"},
	}

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	p := NewSMTP(cfg)
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		assert.NotNil(t, a)
		return nil
	}

	require.NoError(t, p.Send(context.Background(), sampleAlert()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, cfg.To, gotTo)
	assert.Contains(t, gotMsg, "Subject: ETL Alert: Pipeline Failed\r\n")
	assert.Contains(t, gotMsg, "To: ops@example.com, dev@example.com")
	assert.Contains(t, gotMsg, "ETL Pipeline Failed: fetch failed")
}

func TestSMTP_NoRecipients(t *testing.T) {
	err := NewSMTP(config.SMTPConfig{Host: "smtp.example.com"}).Send(context.Background(), sampleAlert())
	require.Error(t, err)
}

type recordingAlerter struct {
	calls int
	err   error
}

func (r *recordingAlerter) Send(ctx context.Context, a Alert) error {
	r.calls++
	return r.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	failing := &recordingAlerter{err: errors.New("down")}
	ok := &recordingAlerter{}

	err := Multi{failing, ok, NoOp{}}.Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	assert.NoError(t, Multi{}.Send(context.Background(), sampleAlert()))
}

func TestFromConfig(t *testing.T) {
	_, ok := FromConfig(config.AlertConfig{}, nil).(NoOp)
	assert.True(t, ok)

	single := FromConfig(config.AlertConfig{WebhookURL: "http://example.com/hook"}, nil)
	_, ok = single.(*Webhook)
	assert.True(t, ok)

	both := FromConfig(config.AlertConfig{
		WebhookURL: "http://example.com/hook",
		SMTP:       config.SMTPConfig{Host: "smtp.example.com", Port: 25, To: []string{"ops@example.com"}},
	}, nil)
	multi, ok := both.(Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}
