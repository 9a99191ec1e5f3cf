package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/raphaelgruber/docchat/internal/store"
)

// firstList subscribes to the owner's conversation list just long enough to
// receive the initial push.
func firstList(ctx context.Context, st store.Store, owner string) ([]models.ConversationSummary, error) {
	type result struct {
		list []models.ConversationSummary
		err  error
	}
	ch := make(chan result, 1)
	unsub, err := st.ListConversations(ctx, owner, func(list []models.ConversationSummary, err error) {
		select {
		case ch <- result{list, err}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer unsub()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("list conversations: %w", r.err)
		}
		models.SortSummaries(r.list)
		return r.list, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetchRecord reads one conversation through its subscription.
func fetchRecord(ctx context.Context, st store.Store, owner, id string) (*models.ConversationRecord, error) {
	type result struct {
		rec *models.ConversationRecord
		err error
	}
	ch := make(chan result, 1)
	unsub, err := st.SubscribeConversation(ctx, owner, id, func(rec *models.ConversationRecord, err error) {
		select {
		case ch <- result{rec, err}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	defer unsub()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("get conversation: %w", r.err)
		}
		if r.rec == nil {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return r.rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
