package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tripsphere/backend/internal/server/middleware"
	"github.com/tripsphere/backend/pkg/convo"
	"github.com/tripsphere/backend/pkg/logger"
)

// CreateConversationHandler opens a new conversation for the caller.
func CreateConversationHandler(c echo.Context) error {
	type createConversationBody struct {
		Title    string          `json:"title"`
		Metadata json.RawMessage `json:"metadata"`
	}

	type createConversationResponse struct {
		Message      string              `json:"message"`
		Conversation *convo.Conversation `json:"conversation,omitempty"`
	}

	data := new(createConversationBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createConversationResponse{
			Message: "Invalid request body",
		})
	}

	userID := c.(*middleware.AppContext).UserID
	ctx := c.Request().Context()
	convos := c.(*middleware.AppContext).App.Convos

	id, err := uuid.NewV7()
	if err != nil {
		logger.Error("Failed to generate conversation ID", "err", err)
		return c.JSON(http.StatusInternalServerError, createConversationResponse{
			Message: "Internal server error",
		})
	}

	conversation := &convo.Conversation{
		ConversationID: id,
		Title:          data.Title,
		UserID:         userID,
		Metadata:       data.Metadata,
	}
	if err := convos.CreateConversation(ctx, conversation); err != nil {
		logger.Error("Failed to create conversation", "err", err)
		return c.JSON(http.StatusInternalServerError, createConversationResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusCreated, createConversationResponse{
		Message:      "Conversation created",
		Conversation: conversation,
	})
}

// PostMessageHandler appends a message to a conversation the caller owns.
// The client may supply its own UUIDv7 message_id for idempotent retries;
// otherwise one is generated.
func PostMessageHandler(c echo.Context) error {
	type postMessageBody struct {
		ConversationID string          `param:"id" validate:"required"`
		MessageID      string          `json:"message_id"`
		Author         convo.Author    `json:"author"`
		Parts          []convo.Part    `json:"parts"`
		Metadata       json.RawMessage `json:"metadata"`
	}

	type postMessageResponse struct {
		Message   string `json:"message"`
		MessageID string `json:"message_id,omitempty"`
	}

	data := new(postMessageBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, postMessageResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, postMessageResponse{
			Message: "Invalid request body",
		})
	}

	conversationID, err := uuid.Parse(data.ConversationID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, postMessageResponse{
			Message: "Invalid conversation ID",
		})
	}

	userID := c.(*middleware.AppContext).UserID
	ctx := c.Request().Context()
	convos := c.(*middleware.AppContext).App.Convos

	if _, err := convos.FindConversationForUser(ctx, conversationID, userID); err != nil {
		if errors.Is(err, convo.ErrNotFound) {
			return c.JSON(http.StatusNotFound, postMessageResponse{
				Message: "Conversation not found",
			})
		}
		if errors.Is(err, convo.ErrForbidden) {
			return c.JSON(http.StatusForbidden, postMessageResponse{
				Message: "Forbidden",
			})
		}
		logger.Error("Failed to load conversation", "conversation", conversationID, "err", err)
		return c.JSON(http.StatusInternalServerError, postMessageResponse{
			Message: "Internal server error",
		})
	}

	var messageID uuid.UUID
	if data.MessageID != "" {
		messageID, err = uuid.Parse(data.MessageID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, postMessageResponse{
				Message: "Invalid message ID",
			})
		}
	} else {
		messageID, err = uuid.NewV7()
		if err != nil {
			logger.Error("Failed to generate message ID", "err", err)
			return c.JSON(http.StatusInternalServerError, postMessageResponse{
				Message: "Internal server error",
			})
		}
	}

	msg := &convo.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		Author:         data.Author,
		Parts:          data.Parts,
		Metadata:       data.Metadata,
	}
	if err := msg.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, postMessageResponse{
			Message: err.Error(),
		})
	}
	if err := convos.SaveMessage(ctx, msg); err != nil {
		logger.Error("Failed to save message", "conversation", conversationID, "err", err)
		return c.JSON(http.StatusInternalServerError, postMessageResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusCreated, postMessageResponse{
		Message:   "Message stored",
		MessageID: messageID.String(),
	})
}
