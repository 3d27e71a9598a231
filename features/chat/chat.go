package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"carebridge/internal/memory"
	"carebridge/internal/retrieval"
	"carebridge/internal/safety"
)

// Searcher provides retrieval context for grounding responses.
type Searcher interface {
	Query(ctx context.Context, query string, opts *retrieval.QueryOptions) (*retrieval.Result, error)
}

// Generator produces the model completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Classifier is the safety filter surface the chat flow needs.
type Classifier interface {
	CheckContent(content, contentType string) safety.Assessment
	GenerateSafeResponse(userMessage string) string
	Disclaimer(kind string) string
}

const (
	contextTopK    = 3
	historyWindow  = 6
	maxMessageSize = 4000
)

// Reply is the outcome of one chat turn.
type Reply struct {
	ConversationID string           `json:"conversation_id"`
	Response       string           `json:"response"`
	RiskLevel      safety.RiskLevel `json:"risk_level"`
	Grounded       bool             `json:"grounded"`
	Sources        []Source         `json:"sources,omitempty"`
}

// Source names a retrieved chunk the response was grounded on.
type Source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Score      float32 `json:"relevance_score"`
}

type Service struct {
	searcher          Searcher
	generator         Generator
	filter            Classifier
	store             *memory.Store
	requireDisclaimer bool
	logger            *slog.Logger
}

func NewService(searcher Searcher, generator Generator, filter Classifier, store *memory.Store, requireDisclaimer bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		searcher:          searcher,
		generator:         generator,
		filter:            filter,
		store:             store,
		requireDisclaimer: requireDisclaimer,
		logger:            logger,
	}
}

// Send runs one chat turn: classify the user message, gather retrieval
// context, generate, classify the response, and record both turns. Canned
// fallbacks are hand-written and never re-classified.
func (s *Service) Send(ctx context.Context, conversationID, userID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if len(message) > maxMessageSize {
		return nil, fmt.Errorf("message exceeds %d characters", maxMessageSize)
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	userCheck := s.filter.CheckContent(message, "user_input")
	if !userCheck.IsSafe {
		s.logger.WarnContext(ctx, "user message flagged",
			"conversation_id", conversationID,
			"risk_level", userCheck.RiskLevel.String(),
		)
		reply := &Reply{
			ConversationID: conversationID,
			Response:       s.withDisclaimer(s.filter.GenerateSafeResponse(message)),
			RiskLevel:      userCheck.RiskLevel,
		}
		s.record(conversationID, userID, message, reply.Response)
		return reply, nil
	}

	docs := s.retrieveContext(ctx, message)
	history := s.store.History(conversationID, historyWindow)

	response, generated := s.generate(ctx, message, history, docs)
	if !generated {
		docs = nil
	}

	riskLevel := userCheck.RiskLevel
	if generated {
		respCheck := s.filter.CheckContent(response, "ai_response")
		riskLevel = safety.MaxLevel(riskLevel, respCheck.RiskLevel)
		if !respCheck.IsSafe {
			s.logger.WarnContext(ctx, "generated response flagged, using fallback",
				"conversation_id", conversationID,
				"risk_level", respCheck.RiskLevel.String(),
			)
			response = s.filter.GenerateSafeResponse(message)
			docs = nil
		}
	}

	reply := &Reply{
		ConversationID: conversationID,
		Response:       s.withDisclaimer(response),
		RiskLevel:      riskLevel,
		Grounded:       len(docs) > 0,
		Sources:        sources(docs),
	}
	s.record(conversationID, userID, message, reply.Response)
	return reply, nil
}

// History returns the retained messages of a conversation, oldest first.
func (s *Service) History(conversationID string) []memory.Message {
	return s.store.History(conversationID, 0)
}

// Delete drops a conversation. Returns false when it did not exist.
func (s *Service) Delete(conversationID string) bool {
	return s.store.Delete(conversationID)
}

func (s *Service) retrieveContext(ctx context.Context, message string) []retrieval.Document {
	topK := contextTopK
	result, err := s.searcher.Query(ctx, message, &retrieval.QueryOptions{TopK: &topK})
	if err != nil {
		// Retrieval is best-effort here: an ungrounded answer still goes
		// through both safety checks.
		s.logger.WarnContext(ctx, "context retrieval failed, answering ungrounded", "error", err)
		return nil
	}
	return result.Documents
}

func (s *Service) generate(ctx context.Context, message string, history []memory.Message, docs []retrieval.Document) (string, bool) {
	prompt := buildPrompt(message, history, docs)

	response, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.ErrorContext(ctx, "generation failed, using fallback", "error", err)
		return s.filter.GenerateSafeResponse(message), false
	}
	return response, true
}

func (s *Service) withDisclaimer(response string) string {
	if !s.requireDisclaimer {
		return response
	}
	disclaimer := s.filter.Disclaimer("general")
	if disclaimer == "" || strings.Contains(response, disclaimer) {
		return response
	}
	return response + "\n\n" + disclaimer
}

func (s *Service) record(conversationID, userID, userMessage, response string) {
	s.store.Append(conversationID, userID, memory.Message{Role: "user", Content: userMessage})
	s.store.Append(conversationID, userID, memory.Message{Role: "assistant", Content: response})
}

func buildPrompt(message string, history []memory.Message, docs []retrieval.Document) string {
	var sb strings.Builder

	sb.WriteString("You are a careful healthcare information assistant. ")
	sb.WriteString("Provide general educational information only. Never diagnose, ")
	sb.WriteString("prescribe, or recommend treatments. Encourage consulting a ")
	sb.WriteString("qualified healthcare professional for personal medical concerns.\n")

	if len(docs) > 0 {
		sb.WriteString("\nUse the following reference material when relevant:\n")
		for i, doc := range docs {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, doc.Content)
		}
	}

	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
		}
	}

	sb.WriteString("\nuser: ")
	sb.WriteString(message)
	sb.WriteString("\nassistant:")
	return sb.String()
}

func sources(docs []retrieval.Document) []Source {
	if len(docs) == 0 {
		return nil
	}
	out := make([]Source, 0, len(docs))
	for _, doc := range docs {
		out = append(out, Source{
			DocumentID: doc.DocumentID,
			Title:      doc.Metadata["title"],
			Score:      doc.Score,
		})
	}
	return out
}
