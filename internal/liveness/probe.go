// Package liveness watches whether the game server a duty session depends on
// is still running.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/storage"
)

//go:generate mockgen -destination=../mocks/mock_probe.go -package=mocks . Probe

// Signal is the outcome of one probe.
type Signal int

const (
	Unknown Signal = iota
	Up
	Down
)

func (s Signal) String() string {
	switch s {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// ErrInconclusive marks a probe that could not tell whether the server runs:
// network failures, timeouts, throttling.
var ErrInconclusive = errors.New("liveness: probe inconclusive")

// Probe reports the liveness of the tracked activity.
type Probe interface {
	// Check returns Up or Down, or an error wrapping ErrInconclusive.
	Check(ctx context.Context) (Signal, error)
}

func inconclusive(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconclusive, fmt.Sprintf(format, args...))
}

// CheckOnce runs p with a bounded timeout. A nil error always comes with Up
// or Down; anything else is reported as inconclusive.
func CheckOnce(ctx context.Context, p Probe, timeout time.Duration) (Signal, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sig, err := p.Check(ctx)
	if err != nil {
		if !errors.Is(err, ErrInconclusive) {
			err = fmt.Errorf("%w: %w", ErrInconclusive, err)
		}
		return Unknown, err
	}
	if sig != Up && sig != Down {
		return Unknown, inconclusive("probe returned %s", sig)
	}
	return sig, nil
}

// FlagProbe reads the local gmodRunning flag: "true" means up, anything else
// (including no flag) means down.
type FlagProbe struct {
	r kv.Reader
}

func NewFlagProbe(r kv.Reader) *FlagProbe {
	return &FlagProbe{r: r}
}

func (p *FlagProbe) Check(ctx context.Context) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Unknown, inconclusive("%v", err)
	}
	v, _, err := p.r.Get(storage.LiveFlagKey)
	if err != nil {
		return Unknown, inconclusive("reading flag: %v", err)
	}
	if v == "true" {
		return Up, nil
	}
	return Down, nil
}

// SetFlag writes the local flag read by FlagProbe.
func SetFlag(w kv.Writer, up bool) error {
	if up {
		return w.Set(storage.LiveFlagKey, "true")
	}
	return w.Set(storage.LiveFlagKey, "false")
}
