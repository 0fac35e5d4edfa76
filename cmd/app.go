package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Tiliavir/duty-time-tracker/internal/admin"
	"github.com/Tiliavir/duty-time-tracker/internal/announce"
	"github.com/Tiliavir/duty-time-tracker/internal/auth"
	"github.com/Tiliavir/duty-time-tracker/internal/config"
	"github.com/Tiliavir/duty-time-tracker/internal/duty"
	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/notify"
	"github.com/Tiliavir/duty-time-tracker/internal/obs"
	"github.com/Tiliavir/duty-time-tracker/internal/seal"
	"github.com/Tiliavir/duty-time-tracker/internal/storage"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

// setupError marks failures of the environment (config, store) rather than
// of the user's request. They exit with status 2.
type setupError struct{ err error }

func (e setupError) Error() string { return e.err.Error() }
func (e setupError) Unwrap() error { return e.err }

func setup(err error) error {
	if err == nil {
		return nil
	}
	return setupError{err: err}
}

// exitCode maps an error to the process status: 2 for config and storage
// failures, 1 for everything else.
func exitCode(err error) int {
	var se setupError
	var ce *storage.CorruptError
	switch {
	case errors.As(err, &se), errors.As(err, &ce), errors.Is(err, kv.ErrUnavailable):
		return 2
	default:
		return 1
	}
}

// app is everything a command needs, wired from the configuration.
type app struct {
	cfg      config.Config
	store    kv.Store
	loc      *time.Location
	duty     *duty.Service
	dir      *auth.Directory
	sessions *auth.Sessions
	agg      *admin.Aggregator
	board    *announce.Board
	probe    liveness.Probe
}

// openApp loads the configuration and opens the store.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, setup(err)
	}
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))

	loc, err := timecalc.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, setup(err)
	}
	codec, err := seal.New(cfg.Encoding.Mode, cfg.Encoding.XORKey, cfg.Encoding.Secret)
	if err != nil {
		return nil, setup(err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, setup(err)
	}

	secret, err := auth.LoadSecret(cfg.Dir, cfg.Session.Secret)
	if err != nil {
		store.Close()
		return nil, setup(err)
	}

	a := &app{cfg: cfg, store: store, loc: loc}
	a.probe = newProbe(cfg, store)

	var chat notify.Notifier
	if cfg.Notify.SlackToken != "" && cfg.Notify.SlackChannel != "" {
		chat = notify.NewSlack(slack.New(cfg.Notify.SlackToken), cfg.Notify.SlackChannel)
	}
	notices := notify.Multi{notify.NewWriter(os.Stderr)}
	if cfg.Notify.Desktop {
		notices = append(notices, notify.NewDesktop())
	}
	if chat != nil {
		notices = append(notices, chat)
	}

	a.duty = duty.NewService(store, codec, duty.Options{
		Probe: a.probe,
		Liveness: liveness.Config{
			Interval:        cfg.Liveness.Interval(),
			Timeout:         cfg.Liveness.Timeout(),
			MaxInconclusive: cfg.Liveness.MaxInconclusive,
		},
		RequireLive: cfg.Liveness.RequireLive,
		Notifier:    notices,
		Location:    loc,
	})
	a.dir = auth.NewDirectory(store, codec)
	a.sessions = auth.NewSessions(cfg.Dir, secret, cfg.Session.TTL())
	a.agg = admin.NewAggregator(a.dir, a.duty, store, admin.Options{OnlineWindow: cfg.Admin.OnlineWindow()})

	boardCodec := codec
	if _, ok := codec.(seal.Plain); ok {
		// Announcements were always obfuscated, keep them readable by older clients.
		boardCodec = seal.NewXOR(seal.LegacyAnnouncementKey)
	}
	a.board = announce.NewBoard(store, boardCodec, chat)
	return a, nil
}

func openStore(cfg config.Config) (kv.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return kv.OpenSQLite(cfg.StorePath())
	default:
		return kv.OpenFile(cfg.StorePath())
	}
}

func newProbe(cfg config.Config, store kv.Store) liveness.Probe {
	lc := cfg.Liveness
	switch lc.Probe {
	case "flag":
		return liveness.NewFlagProbe(store)
	case "http":
		var opts []liveness.HTTPOption
		switch {
		case lc.OAuth.TokenURL != "":
			opts = append(opts, liveness.WithClientCredentials(clientcredentials.Config{
				ClientID:     lc.OAuth.ClientID,
				ClientSecret: lc.OAuth.ClientSecret,
				TokenURL:     lc.OAuth.TokenURL,
				Scopes:       lc.OAuth.Scopes,
			}))
		case lc.Token != "":
			opts = append(opts, liveness.WithStaticToken(lc.Token))
		}
		if lc.RateLimitSeconds > 0 {
			opts = append(opts, liveness.WithRateLimit(lc.RateLimit(), 1))
		}
		return liveness.NewHTTPProbe(lc.URL, opts...)
	default:
		return nil
	}
}

// Close stops monitors without ending sessions and closes the store.
func (a *app) Close() {
	a.duty.Close()
	if err := a.store.Close(); err != nil {
		obs.Log(obs.LevelWarn, "closing store", map[string]any{"err": err})
	}
}

// currentUser resolves the logged-in account and records it as seen.
func (a *app) currentUser() (model.User, error) {
	claims, err := a.sessions.Current()
	if err != nil {
		return model.User{}, err
	}
	u, err := a.dir.Lookup(claims.Subject)
	if errors.Is(err, auth.ErrUnknownUser) {
		_ = a.sessions.Logout()
		return model.User{}, fmt.Errorf("account %q no longer exists, please log in again", claims.Subject)
	}
	if err != nil {
		return model.User{}, err
	}
	if err := a.dir.Touch(u.Name, time.Now()); err != nil {
		obs.Log(obs.LevelWarn, "recording last seen", map[string]any{"user": u.Name, "err": err})
	}
	return u, nil
}

// openAs opens the app and resolves the logged-in user in one step.
func openAs() (*app, model.User, error) {
	a, err := openApp()
	if err != nil {
		return nil, model.User{}, err
	}
	u, err := a.currentUser()
	if err != nil {
		a.Close()
		return nil, model.User{}, err
	}
	return a, u, nil
}
