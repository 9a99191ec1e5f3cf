// Package chat keeps the local transcript, the conversation list and the
// durable store consistent while the user sends messages, switches
// conversations and attaches documents.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/session"
	"github.com/raphaelgruber/docchat/internal/store"
)

// Validation errors. They are returned before any state changes.
var (
	ErrNotSignedIn  = errors.New("not signed in")
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendInFlight = errors.New("a message is already being sent")
	ErrNoID         = errors.New("conversation id is empty")
)

// Answerer is the answering backend.
type Answerer interface {
	Chat(ctx context.Context, req backend.ChatRequest) (string, error)
}

// Deps holds the collaborators shared by the controllers. It is built once
// at startup and passed explicitly; controllers never reach for globals.
type Deps struct {
	Store    store.Store
	Backend  Answerer
	Identity *session.Identity
	Notices  *Notices
	Logger   *slog.Logger
	Metrics  *metrics.Collector

	// AnswerTimeout bounds each backend call. Zero waits indefinitely.
	AnswerTimeout time.Duration

	// Now is the clock used for message timestamps.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// owner returns the signed-in user or ErrNotSignedIn.
func (d *Deps) owner() (string, error) {
	if d.Identity == nil {
		return "", ErrNotSignedIn
	}
	if id, ok := d.Identity.UserID(); ok {
		return id, nil
	}
	return "", ErrNotSignedIn
}

// stillSignedInAs guards writes issued after a suspension point so they
// never land in a different user's scope.
func (d *Deps) stillSignedInAs(owner string) bool {
	id, err := d.owner()
	return err == nil && id == owner
}

// write runs one store mutation with timing and error accounting.
func (d *Deps) write(fn func() error) error {
	start := time.Now()
	err := fn()
	d.Metrics.Since(metrics.OpStoreWrite, start)
	if err != nil {
		d.Metrics.RecordError(metrics.OpStoreWrite)
	}
	return err
}

// recoverable logs a failure that does not abort the current operation and
// surfaces it as a transient notice.
func (d *Deps) recoverable(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Warn(msg, append(attrs, "error", err)...)
	d.Notices.Post(NoticeError, msg+": "+backend.Detail(err))
}
