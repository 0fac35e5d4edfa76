// Package notify delivers user-visible notices: forced session ends and
// announcements.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

//go:generate mockgen -destination=../mocks/mock_notifier.go -package=mocks . Notifier

// Notice is one message for a user.
type Notice struct {
	User    string
	Title   string
	Message string
	At      time.Time
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Multi fans a notice out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Writer prints notices as text lines, for terminals and logs.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Notify(_ context.Context, n Notice) error {
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := fmt.Fprintf(w.w, "[%s] %s: %s\n", at.Format("15:04:05"), n.Title, n.Message)
	return err
}
