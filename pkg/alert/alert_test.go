package alert

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyDeliversSignedWebhook(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Logshield-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{WebhookURL: srv.URL, WebhookSecret: "s3cret"})
	err := n.Notify(context.Background(), &Notification{
		SourceIP:  "203.0.113.7",
		EventType: "auth_failure",
		RiskScore: 0.91,
		RiskLevel: "critical",
		Action:    "BLOCK_IP",
		Reasons:   []string{"14 failed logins in the last minute"},
	})
	require.NoError(t, err)

	var decoded Notification
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "203.0.113.7", decoded.SourceIP)
	assert.NotEmpty(t, decoded.ID)
	assert.False(t, decoded.Timestamp.IsZero())

	want := Sign("s3cret", gotBody)
	assert.True(t, hmac.Equal([]byte(want), []byte(gotSig)), "signature mismatch")
}

func TestNotifyCooldownSuppressesRepeats(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewNotifier(Config{WebhookURL: srv.URL, Cooldown: time.Hour})

	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(context.Background(), &Notification{SourceIP: "203.0.113.7"}))
	}
	// A different source is not affected by the first source's cooldown.
	require.NoError(t, n.Notify(context.Background(), &Notification{SourceIP: "198.51.100.4"}))

	assert.Equal(t, int64(2), calls.Load())
}

func TestNotifyHourlyCap(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewNotifier(Config{WebhookURL: srv.URL, Cooldown: time.Nanosecond, MaxPerHour: 3})

	for i := 0; i < 10; i++ {
		ip := "203.0.113." + string(rune('1'+i))
		require.NoError(t, n.Notify(context.Background(), &Notification{SourceIP: ip}))
	}
	assert.Equal(t, int64(3), calls.Load())
}

func TestNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(Config{WebhookURL: srv.URL})
	err := n.Notify(context.Background(), &Notification{SourceIP: "203.0.113.7"})
	assert.ErrorContains(t, err, "status 500")
}

func TestNoChannelsConfigured(t *testing.T) {
	n := NewNotifier(Config{})
	assert.NoError(t, n.Notify(context.Background(), &Notification{SourceIP: "203.0.113.7"}))
}
