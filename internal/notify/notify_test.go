package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.calls = append(r.calls, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventMarketResolved}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventMarketCreated, "created", "x"))
	require.Empty(t, s.calls)

	require.NoError(t, n.Notify(context.Background(), EventMarketResolved, "resolved", "y"))
	require.Equal(t, []string{"resolved|y"}, s.calls)
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	require.Len(t, s.calls, 1)
}

func TestNotifier_OneFailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventMarketResolved, "t", "m")
	require.ErrorIs(t, err, boom)
	require.Len(t, good.calls, 1)
}

func TestNotifier_DisabledIsNoop(t *testing.T) {
	var n *Notifier
	require.False(t, n.Enabled())
	require.NoError(t, n.Notify(context.Background(), EventMarketResolved, "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Resolved", "body"))
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "*Resolved*\nbody", got["text"])
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewTelegramSender("x", "1").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestDiscordSender_Embed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Send(context.Background(), "Market resolved", strings.Repeat("a", 5000)))

	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	require.Equal(t, "Market resolved", e.Title)
	require.Len(t, []rune(e.Description), discordDescriptionLimit)
	require.True(t, strings.HasSuffix(e.Description, "…"))
	require.Equal(t, "2026-03-01T12:00:00Z", e.Timestamp)
	require.Equal(t, discordColor, e.Color)
}

func TestDiscordSender_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":1.5,"global":false}`))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "retry after 1.5s")
}

func TestResolutionMessage(t *testing.T) {
	require.Equal(t,
		"Will it rain? resolved YES. Paid 10.00 to 1 holder(s).",
		ResolutionMessage("Will it rain?", "YES", 1, 10),
	)
	require.Equal(t, "5.12", Money(5.1249))
}
