package notify

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2025, 3, 1, 21, 4, 5, 0, time.Local)
	err := NewWriter(&buf).Notify(context.Background(), Notice{Title: "Duty ended", Message: "server stopped", At: at})
	require.NoError(t, err)
	assert.Equal(t, "[21:04:05] Duty ended: server stopped\n", buf.String())
}

type failing struct{ err error }

func (f failing) Notify(context.Context, Notice) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	err := Multi{failing{boom}, nil, NewWriter(&buf)}.Notify(context.Background(), Notice{Title: "t", Message: "m"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "t: m", "later notifiers still run")
}

func TestSlackPostsToChannel(t *testing.T) {
	var gotChannel, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat.postMessage"))
		gotChannel = r.FormValue("channel")
		gotText = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	client := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	err := NewSlack(client, "C123").Notify(context.Background(), Notice{
		User:    "Alice",
		Title:   "Duty ended automatically",
		Message: "the game server is no longer running",
	})
	require.NoError(t, err)
	assert.Equal(t, "C123", gotChannel)
	assert.Equal(t, "*Duty ended automatically* (Alice)\n\nthe game server is no longer running", gotText)
}

func TestSlackReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	client := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	err := NewSlack(client, "C404").Notify(context.Background(), Notice{Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

type fakeBus struct {
	method string
	args   []interface{}
	err    error
}

func (f *fakeBus) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.method = method
	f.args = args
	return &dbus.Call{Err: f.err}
}

func TestDesktopCallsNotificationService(t *testing.T) {
	fb := &fakeBus{}
	closed := false
	d := &Desktop{AppName: "dtt", open: func() (bus, func() error, error) {
		return fb, func() error { closed = true; return nil }, nil
	}}

	err := d.Notify(context.Background(), Notice{Title: "Duty ended", Message: "server stopped"})
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, notificationsNotify, fb.method)
	require.Len(t, fb.args, 8)
	assert.Equal(t, "dtt", fb.args[0])
	assert.Equal(t, "Duty ended", fb.args[3])
	assert.Equal(t, "server stopped", fb.args[4])
}

func TestDesktopCallError(t *testing.T) {
	d := &Desktop{open: func() (bus, func() error, error) {
		return &fakeBus{err: errors.New("no notification daemon")}, func() error { return nil }, nil
	}}
	err := d.Notify(context.Background(), Notice{})
	assert.ErrorContains(t, err, "no notification daemon")
}
