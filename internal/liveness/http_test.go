package liveness_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
)

func TestHTTPProbeSignals(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   liveness.Signal
	}{
		{name: "ok without body", status: http.StatusOK, want: liveness.Up},
		{name: "ok with running true", status: http.StatusOK, body: `{"running":true,"players":12}`, want: liveness.Up},
		{name: "ok with running false", status: http.StatusOK, body: `{"running":false}`, want: liveness.Down},
		{name: "ok with non-JSON body", status: http.StatusOK, body: "Garry's Mod", want: liveness.Up},
		{name: "no content", status: http.StatusNoContent, want: liveness.Up},
		{name: "service unavailable", status: http.StatusServiceUnavailable, want: liveness.Down},
		{name: "not found", status: http.StatusNotFound, want: liveness.Down},
		{name: "internal error", status: http.StatusInternalServerError, want: liveness.Down},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sig, err := liveness.NewHTTPProbe(srv.URL).Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}
}

func TestHTTPProbeNonServerErrorsAreInconclusive(t *testing.T) {
	for _, status := range []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusProxyAuthRequired,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusGatewayTimeout,
	} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()

			sig, err := liveness.NewHTTPProbe(srv.URL).Check(context.Background())
			assert.ErrorIs(t, err, liveness.ErrInconclusive)
			assert.Equal(t, liveness.Unknown, sig)
		})
	}
}

func TestHTTPProbeTransportFailureIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sig, err := liveness.NewHTTPProbe(url).Check(context.Background())
	assert.ErrorIs(t, err, liveness.ErrInconclusive)
	assert.Equal(t, liveness.Unknown, sig)
}

func TestHTTPProbeTimeoutIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	sig, err := liveness.CheckOnce(context.Background(), liveness.NewHTTPProbe(srv.URL), 20*time.Millisecond)
	assert.ErrorIs(t, err, liveness.ErrInconclusive)
	assert.Equal(t, liveness.Unknown, sig)
}

func TestHTTPProbeSendsStaticToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sig, err := liveness.NewHTTPProbe(srv.URL, liveness.WithStaticToken("s3cret")).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, liveness.Up, sig)
}

func TestHTTPProbeClientCredentials(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	infoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer issued" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"running":true}`))
	}))
	defer infoSrv.Close()

	p := liveness.NewHTTPProbe(infoSrv.URL, liveness.WithClientCredentials(clientcredentials.Config{
		ClientID:     "dtt",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	}))
	sig, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, liveness.Up, sig)
}

func TestHTTPProbeRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := liveness.NewHTTPProbe(srv.URL, liveness.WithRateLimit(time.Hour, 1))
	sig, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, liveness.Up, sig)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Check(ctx)
	assert.ErrorIs(t, err, liveness.ErrInconclusive)
}
