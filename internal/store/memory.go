package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/docchat/internal/models"
)

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

// Memory is an in-process Store with realtime push.
//
// Pushes are serialized: a writer mutates state, snapshots it and delivers it
// before the next writer starts, so every subscriber sees pushes in commit
// order. Handlers run outside the data lock but must not call mutating
// methods or subscribe from inside a callback.
type Memory struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex
	records  map[string]map[string]*models.ConversationRecord // owner -> id -> record
	listSubs map[string]map[uint64]ListHandler                // owner -> sub
	recSubs  map[string]map[uint64]RecordHandler              // owner/id -> sub
	nextSub  uint64
	now      func() time.Time
	logger   *slog.Logger
}

// NewMemory creates an empty in-memory store.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		records:  make(map[string]map[string]*models.ConversationRecord),
		listSubs: make(map[string]map[uint64]ListHandler),
		recSubs:  make(map[string]map[uint64]RecordHandler),
		now:      time.Now,
		logger:   logger.With("component", "memory-store"),
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Memory) WithClock(now func() time.Time) *Memory {
	s.now = now
	return s
}

func recordKey(ownerID, id string) string {
	return ownerID + "/" + id
}

// ListConversations implements Store.
func (s *Memory) ListConversations(ctx context.Context, ownerID string, fn ListHandler) (Unsubscribe, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("list conversations: empty owner")
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.nextSub++
	subID := s.nextSub
	if s.listSubs[ownerID] == nil {
		s.listSubs[ownerID] = make(map[uint64]ListHandler)
	}
	s.listSubs[ownerID][subID] = fn
	summaries := s.summariesLocked(ownerID)
	s.mu.Unlock()

	fn(summaries, nil)

	return Once(func() {
		s.mu.Lock()
		delete(s.listSubs[ownerID], subID)
		s.mu.Unlock()
	}), nil
}

// SubscribeConversation implements Store.
func (s *Memory) SubscribeConversation(ctx context.Context, ownerID, id string, fn RecordHandler) (Unsubscribe, error) {
	if ownerID == "" || id == "" {
		return nil, fmt.Errorf("subscribe conversation: empty owner or id")
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	key := recordKey(ownerID, id)
	s.mu.Lock()
	s.nextSub++
	subID := s.nextSub
	if s.recSubs[key] == nil {
		s.recSubs[key] = make(map[uint64]RecordHandler)
	}
	s.recSubs[key][subID] = fn
	rec := s.recordLocked(ownerID, id)
	s.mu.Unlock()

	fn(rec, nil)

	return Once(func() {
		s.mu.Lock()
		delete(s.recSubs[key], subID)
		s.mu.Unlock()
	}), nil
}

// CreateConversation implements Store.
func (s *Memory) CreateConversation(ctx context.Context, ownerID string, initial models.ConversationRecord) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("create conversation: empty owner")
	}

	rec := initial.Clone()
	rec.ID = uuid.NewString()
	rec.OwnerID = ownerID
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastUpdatedAt.IsZero() {
		rec.LastUpdatedAt = now
	}

	s.commit(ownerID, rec.ID, func() error {
		if s.records[ownerID] == nil {
			s.records[ownerID] = make(map[string]*models.ConversationRecord)
		}
		s.records[ownerID][rec.ID] = &rec
		return nil
	})

	s.logger.Debug("conversation created", "owner", ownerID, "id", rec.ID)
	return rec.ID, nil
}

// AppendMessage implements Store.
func (s *Memory) AppendMessage(ctx context.Context, ownerID, id string, msg models.Message) error {
	return s.commit(ownerID, id, func() error {
		rec, ok := s.records[ownerID][id]
		if !ok {
			return fmt.Errorf("append message: %w", ErrNotFound)
		}
		msg.Attachment = msg.Attachment.Clone()
		rec.Messages = append(rec.Messages, msg)
		rec.LastUpdatedAt = s.now()
		return nil
	})
}

// SetActiveAttachment implements Store.
func (s *Memory) SetActiveAttachment(ctx context.Context, ownerID, id string, attachment *models.AttachmentRef) error {
	return s.commit(ownerID, id, func() error {
		rec, ok := s.records[ownerID][id]
		if !ok {
			return fmt.Errorf("set active attachment: %w", ErrNotFound)
		}
		rec.ActiveAttachment = attachment.Clone()
		rec.LastUpdatedAt = s.now()
		return nil
	})
}

// DeleteConversation implements Store.
func (s *Memory) DeleteConversation(ctx context.Context, ownerID, id string) error {
	return s.commit(ownerID, id, func() error {
		if _, ok := s.records[ownerID][id]; !ok {
			return fmt.Errorf("delete conversation: %w", ErrNotFound)
		}
		delete(s.records[ownerID], id)
		return nil
	})
}

// commit applies mutate under the data lock and then pushes the new state
// to the list and record subscribers of that conversation.
func (s *Memory) commit(ownerID, id string, mutate func() error) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if err := mutate(); err != nil {
		s.mu.Unlock()
		return err
	}
	summaries := s.summariesLocked(ownerID)
	listHandlers := make([]ListHandler, 0, len(s.listSubs[ownerID]))
	for _, fn := range s.listSubs[ownerID] {
		listHandlers = append(listHandlers, fn)
	}
	subs := s.recSubs[recordKey(ownerID, id)]
	recHandlers := make([]RecordHandler, 0, len(subs))
	for _, fn := range subs {
		recHandlers = append(recHandlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range recHandlers {
		fn(s.snapshot(ownerID, id), nil)
	}
	for _, fn := range listHandlers {
		out := make([]models.ConversationSummary, len(summaries))
		copy(out, summaries)
		fn(out, nil)
	}
	return nil
}

func (s *Memory) snapshot(ownerID, id string) *models.ConversationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordLocked(ownerID, id)
}

// recordLocked returns a copy of the record or nil. Caller must hold a lock.
func (s *Memory) recordLocked(ownerID, id string) *models.ConversationRecord {
	rec, ok := s.records[ownerID][id]
	if !ok {
		return nil
	}
	c := rec.Clone()
	return &c
}

// summariesLocked returns the owner's summaries. Caller must hold a lock.
func (s *Memory) summariesLocked(ownerID string) []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0, len(s.records[ownerID]))
	for _, rec := range s.records[ownerID] {
		out = append(out, rec.Summary())
	}
	return out
}
