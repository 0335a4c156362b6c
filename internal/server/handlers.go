package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ChatPane/internal/apiclient"
	"ChatPane/internal/llm"
	"ChatPane/internal/session"
	"ChatPane/internal/store"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type statusCheckCreate struct {
	ClientName string `json:"client_name" binding:"required"`
}

type statusCheckResponse struct {
	ID         string `json:"id"`
	ClientName string `json:"client_name"`
	Timestamp  string `json:"timestamp"`
}

type chatCreate struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Hello World"})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": s.provider.Name()})
}

func (s *Server) createStatusCheck(c *gin.Context) {
	var in statusCheckCreate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	check := store.StatusCheck{ID: s.newID(), ClientName: in.ClientName, Timestamp: s.now()}
	if err := s.store.AddStatusCheck(c.Request.Context(), check); err != nil {
		s.logger.Error("status check error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("Status check error: %v", err)})
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(check))
}

func (s *Server) listStatusChecks(c *gin.Context) {
	checks, err := s.store.StatusChecks(c.Request.Context(), statusListLimit)
	if err != nil {
		s.logger.Error("status list error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("Status check error: %v", err)})
		return
	}

	out := make([]statusCheckResponse, len(checks))
	for i, check := range checks {
		out[i] = toStatusResponse(check)
	}
	c.JSON(http.StatusOK, out)
}

func toStatusResponse(check store.StatusCheck) statusCheckResponse {
	return statusCheckResponse{
		ID:         check.ID,
		ClientName: check.ClientName,
		Timestamp:  session.FormatTimestamp(check.Timestamp),
	}
}

func (s *Server) newSession(c *gin.Context) {
	id := s.newID()
	s.logger.Info("new session", "session_id", id)
	c.JSON(http.StatusOK, apiclient.NewSessionResponse{SessionID: id})
}

func (s *Server) chat(c *gin.Context) {
	var in chatCreate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	resp, err := s.reply(c.Request.Context(), in)
	if err != nil {
		s.logger.Error("chat error", "session_id", in.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("Chat error: %v", err)})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// reply stores the user message, asks the provider with the session's recent history
// and stores the answer
func (s *Server) reply(ctx context.Context, in chatCreate) (*apiclient.ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "server.chat",
		trace.WithAttributes(attribute.String("chat.session_id", in.SessionID)))
	defer span.End()

	fail := func(err error) (*apiclient.ChatResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	userRec := store.MessageRecord{
		ID:        s.newID(),
		SessionID: in.SessionID,
		Message:   in.Message,
		Sender:    string(session.SenderUser),
		Timestamp: s.now(),
	}
	if err := s.store.AppendMessage(ctx, userRec); err != nil {
		return fail(err)
	}

	history, err := s.store.History(ctx, in.SessionID, s.cfg.LLM.HistoryLimit)
	if err != nil {
		return fail(err)
	}

	turns := make([]llm.Turn, len(history))
	for i, rec := range history {
		role := llm.RoleUser
		if rec.Sender == string(session.SenderAssistant) {
			role = llm.RoleAssistant
		}
		turns[i] = llm.Turn{Role: role, Content: rec.Message}
	}

	completion, err := s.provider.Complete(ctx, llm.Request{
		System:    s.cfg.LLM.SystemMessage,
		Turns:     turns,
		MaxTokens: s.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fail(err)
	}

	assistantRec := store.MessageRecord{
		ID:        s.newID(),
		SessionID: in.SessionID,
		Message:   completion.Text,
		Sender:    string(session.SenderAssistant),
		Timestamp: s.now(),
	}
	if err := s.store.AppendMessage(ctx, assistantRec); err != nil {
		return fail(err)
	}

	return &apiclient.ChatResponse{
		ID:               assistantRec.ID,
		SessionID:        in.SessionID,
		UserMessage:      in.Message,
		AssistantMessage: completion.Text,
		Timestamp:        session.FormatTimestamp(assistantRec.Timestamp),
	}, nil
}

func (s *Server) history(c *gin.Context) {
	sessionID := c.Param("session_id")

	records, err := s.store.History(c.Request.Context(), sessionID, historyResponseLimit)
	if err != nil {
		s.logger.Error("history retrieval error", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("History retrieval error: %v", err)})
		return
	}

	messages := make([]apiclient.HistoryMessage, len(records))
	for i, rec := range records {
		messages[i] = apiclient.HistoryMessage{
			ID:        rec.ID,
			Message:   rec.Message,
			Sender:    rec.Sender,
			Timestamp: session.FormatTimestamp(rec.Timestamp),
		}
	}
	c.JSON(http.StatusOK, apiclient.HistoryResponse{SessionID: sessionID, Messages: messages})
}
