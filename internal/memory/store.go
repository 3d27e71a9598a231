package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation groups the messages of one chat session.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the listing view of a conversation.
type Summary struct {
	ID           string    `json:"conversation_id"`
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	LastMessage  string    `json:"last_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is an in-memory conversation history with TTL expiry. Reading a
// conversation refreshes its TTL; expired entries are dropped lazily on
// access and eagerly by the sweeper.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	ttl           time.Duration
	maxHistory    int
	logger        *slog.Logger
	now           func() time.Time
}

func NewStore(ttl time.Duration, maxHistory int, logger *slog.Logger) *Store {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		ttl:           ttl,
		maxHistory:    maxHistory,
		logger:        logger,
		now:           time.Now,
	}
}

// Append adds a message to a conversation, creating it on first use. The
// per-conversation history is capped at maxHistory: older messages fall off.
func (s *Store) Append(conversationID, userID string, msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID, UserID: userID, CreatedAt: now}
		s.conversations[conversationID] = conv
	}
	conv.UpdatedAt = now

	conv.Messages = append(conv.Messages, msg)
	if len(conv.Messages) > s.maxHistory {
		conv.Messages = conv.Messages[len(conv.Messages)-s.maxHistory:]
	}

	return msg
}

// Get returns a copy of the conversation, or false when it does not exist
// or has expired. A hit refreshes the TTL.
func (s *Store) Get(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	if s.expired(conv) {
		delete(s.conversations, conversationID)
		return Conversation{}, false
	}

	conv.UpdatedAt = s.now()

	out := *conv
	out.Messages = append([]Message(nil), conv.Messages...)
	return out, true
}

// History returns up to limit most recent messages of a conversation, oldest
// first. limit <= 0 means all retained messages.
func (s *Store) History(conversationID string, limit int) []Message {
	conv, ok := s.Get(conversationID)
	if !ok {
		return nil
	}
	if limit > 0 && len(conv.Messages) > limit {
		return conv.Messages[len(conv.Messages)-limit:]
	}
	return conv.Messages
}

// List returns non-expired conversation summaries for a user, newest first.
func (s *Store) List(userID string, limit, offset int) []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []Summary
	for _, conv := range s.conversations {
		if conv.UserID != userID || s.expired(conv) {
			continue
		}
		sum := Summary{
			ID:           conv.ID,
			UserID:       conv.UserID,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		}
		if n := len(conv.Messages); n > 0 {
			last := conv.Messages[n-1].Content
			if len(last) > 100 {
				last = last[:100] + "..."
			}
			sum.LastMessage = last
		}
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	if offset >= len(summaries) {
		return nil
	}
	summaries = summaries[offset:]
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}

// Delete removes a conversation. Returns whether it existed.
func (s *Store) Delete(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return false
	}
	delete(s.conversations, conversationID)
	return true
}

// Len reports the number of retained conversations, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Sweep drops every expired conversation and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, conv := range s.conversations {
		if s.expired(conv) {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps at the given interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.Debug("expired conversations removed", "count", removed)
			}
		}
	}
}

func (s *Store) expired(conv *Conversation) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(conv.UpdatedAt) > s.ttl
}
