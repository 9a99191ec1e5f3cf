package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/docchat/internal/store"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// refetchTimeout bounds the re-read issued for each live notification.
const refetchTimeout = 10 * time.Second

// liveQuery is one running LIVE SELECT.
type liveQuery struct {
	c             *Client
	id            string
	notifications chan connection.Notification
	done          chan struct{}
}

func (c *Client) startLive(ctx context.Context, sql string, vars map[string]any) (*liveQuery, error) {
	results, err := surrealdb.Query[surrealmodels.UUID](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("live select: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, fmt.Errorf("live select: no live query id returned")
	}
	id := (*results)[0].Result.String()

	notifications, err := c.db.LiveNotifications(id)
	if err != nil {
		_ = surrealdb.Kill(ctx, c.db, id)
		return nil, fmt.Errorf("live notifications: %w", err)
	}

	c.logger.Debug("live query started", "live_id", id)
	return &liveQuery{c: c, id: id, notifications: notifications, done: make(chan struct{})}, nil
}

// run calls fn for every notification until stop. Notifications are
// handled one at a time, in delivery order.
func (q *liveQuery) run(fn func(connection.Notification)) {
	for {
		select {
		case <-q.done:
			return
		case n, ok := <-q.notifications:
			if !ok {
				return
			}
			select {
			case <-q.done:
				return
			default:
			}
			fn(n)
		}
	}
}

// stop ends delivery at once and kills the query in the background.
// Killing from inside a notification handler must not wait on the
// connection that is delivering the notification.
func (q *liveQuery) stop() {
	close(q.done)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := surrealdb.Kill(ctx, q.c.db, q.id); err != nil {
			q.c.logger.Warn("failed to kill live query", "live_id", q.id, "error", err)
		}
		if err := q.c.db.CloseLiveNotifications(q.id); err != nil {
			q.c.logger.Debug("failed to close live notifications", "live_id", q.id, "error", err)
		}
	}()
}

// ListConversations subscribes to the owner's conversation summaries.
// Every change re-reads the full list.
func (c *Client) ListConversations(ctx context.Context, ownerID string, fn store.ListHandler) (store.Unsubscribe, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("list conversations: empty owner")
	}

	q, err := c.startLive(ctx, `LIVE SELECT * FROM conversation WHERE owner = $owner`, map[string]any{"owner": ownerID})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	summaries, err := c.Summaries(ctx, ownerID)
	if err != nil {
		q.stop()
		return nil, err
	}
	fn(summaries, nil)

	go q.run(func(connection.Notification) {
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		fn(c.Summaries(ctx, ownerID))
	})
	return store.Once(q.stop), nil
}

// SubscribeConversation subscribes to one conversation. The handler gets
// the full record after every change, or nil once it is deleted.
func (c *Client) SubscribeConversation(ctx context.Context, ownerID, id string, fn store.RecordHandler) (store.Unsubscribe, error) {
	if ownerID == "" || id == "" {
		return nil, fmt.Errorf("subscribe conversation: empty owner or id")
	}

	q, err := c.startLive(ctx, `LIVE SELECT * FROM conversation WHERE id = $rid AND owner = $owner`, map[string]any{
		"rid":   conversationID(id),
		"owner": ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe conversation: %w", err)
	}

	rec, err := c.GetConversation(ctx, ownerID, id)
	if err != nil {
		q.stop()
		return nil, err
	}
	fn(rec, nil)

	go q.run(func(n connection.Notification) {
		if n.Action == connection.DeleteAction {
			fn(nil, nil)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		fn(c.GetConversation(ctx, ownerID, id))
	})
	return store.Once(q.stop), nil
}
