package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tripsphere/backend/internal/server/middleware"
	"github.com/tripsphere/backend/pkg/convo"
	"github.com/tripsphere/backend/pkg/logger"
)

// parsePageQuery decodes the shared pagination query parameters. The cursor
// stays nil when absent.
func parsePageQuery(cursorToken string, directionToken string) (*uuid.UUID, convo.Direction, error) {
	direction, err := convo.ParseDirection(directionToken)
	if err != nil {
		return nil, "", err
	}
	if cursorToken == "" {
		return nil, direction, nil
	}
	id, err := convo.DecodeCursor(cursorToken)
	if err != nil {
		return nil, "", err
	}
	return &id, direction, nil
}

// GetConversationsHandler pages the caller's conversations, newest first by
// default.
func GetConversationsHandler(c echo.Context) error {
	type getConversationsParams struct {
		Limit     int    `query:"limit" validate:"omitempty,min=1,max=200"`
		Cursor    string `query:"cursor"`
		Direction string `query:"direction"`
	}

	type getConversationsResponse struct {
		Conversations []convo.Conversation `json:"conversations"`
		NextCursor    *string              `json:"next_cursor,omitempty"`
	}

	params := new(getConversationsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	cursor, direction, err := parsePageQuery(params.Cursor, params.Direction)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}

	userID := c.(*middleware.AppContext).UserID
	ctx := c.Request().Context()
	convos := c.(*middleware.AppContext).App.Convos

	conversations, next, err := convos.ListConversationsByUser(ctx, userID, params.Limit, cursor, direction)
	if err != nil {
		logger.Error("Failed to list conversations", "user", userID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, getConversationsResponse{
		Conversations: conversations,
		NextCursor:    next,
	})
}

// GetMessagesHandler pages one conversation's messages. Backward (newest
// first) is the default; forward replays history oldest first.
func GetMessagesHandler(c echo.Context) error {
	type getMessagesParams struct {
		ConversationID string `param:"id" validate:"required"`
		Limit          int    `query:"limit" validate:"omitempty,min=1,max=200"`
		Cursor         string `query:"cursor"`
		Direction      string `query:"direction"`
	}

	type getMessagesResponse struct {
		Messages   []convo.Message `json:"messages"`
		NextCursor *string         `json:"next_cursor,omitempty"`
	}

	params := new(getMessagesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	conversationID, err := uuid.Parse(params.ConversationID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid conversation ID"})
	}

	cursor, direction, err := parsePageQuery(params.Cursor, params.Direction)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}

	userID := c.(*middleware.AppContext).UserID
	ctx := c.Request().Context()
	convos := c.(*middleware.AppContext).App.Convos

	if _, err := convos.FindConversationForUser(ctx, conversationID, userID); err != nil {
		if errors.Is(err, convo.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Conversation not found"})
		}
		if errors.Is(err, convo.ErrForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"message": "Forbidden"})
		}
		logger.Error("Failed to load conversation", "conversation", conversationID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	messages, next, err := convos.ListByConversation(ctx, conversationID, params.Limit, cursor, direction)
	if err != nil {
		logger.Error("Failed to list messages", "conversation", conversationID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, getMessagesResponse{
		Messages:   messages,
		NextCursor: next,
	})
}

// GetMessageHandler loads a single message the caller is allowed to see.
func GetMessageHandler(c echo.Context) error {
	type getMessageParams struct {
		MessageID string `param:"id" validate:"required"`
	}

	params := new(getMessageParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	messageID, err := uuid.Parse(params.MessageID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid message ID"})
	}

	userID := c.(*middleware.AppContext).UserID
	ctx := c.Request().Context()
	convos := c.(*middleware.AppContext).App.Convos

	msg, err := convos.FindMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, convo.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Message not found"})
		}
		logger.Error("Failed to load message", "message", messageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	if _, err := convos.FindConversationForUser(ctx, msg.ConversationID, userID); err != nil {
		if errors.Is(err, convo.ErrForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"message": "Forbidden"})
		}
		if errors.Is(err, convo.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Message not found"})
		}
		logger.Error("Failed to load conversation", "conversation", msg.ConversationID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, msg)
}
