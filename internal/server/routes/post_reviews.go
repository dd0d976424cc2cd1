package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tripsphere/backend/internal/queue"
	"github.com/tripsphere/backend/internal/server/middleware"
	"github.com/tripsphere/backend/pkg/logger"
)

// CreateReviewHandler accepts a review and hands it to the ingestion queue.
// The worker does the splitting and embedding; the handler only validates
// and publishes.
func CreateReviewHandler(c echo.Context) error {
	return publishReview(c, queue.TagCreateReview)
}

// UpdateReviewHandler replaces a review's content through the queue.
func UpdateReviewHandler(c echo.Context) error {
	return publishReview(c, queue.TagUpdateReview)
}

func publishReview(c echo.Context, tag string) error {
	type reviewBody struct {
		ID       string `json:"id" param:"id" validate:"required"`
		TargetID string `json:"target_id" validate:"required"`
		Text     string `json:"text" validate:"required"`
	}

	type reviewResponse struct {
		Message string `json:"message"`
	}

	data := new(reviewBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, reviewResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, reviewResponse{
			Message: "Invalid request body",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	err := queue.PublishReviewEvent(ch, tag, queue.ReviewEvent{
		ID:       data.ID,
		Text:     data.Text,
		TargetID: data.TargetID,
	})
	if err != nil {
		logger.Error("Failed to publish review event", "review", data.ID, "tag", tag, "err", err)
		return c.JSON(http.StatusInternalServerError, reviewResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, reviewResponse{
		Message: "Review accepted",
	})
}

// DeleteReviewHandler queues removal of a review's stored units.
func DeleteReviewHandler(c echo.Context) error {
	type deleteReviewParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(deleteReviewParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	ch := c.(*middleware.AppContext).App.Queue
	err := queue.PublishReviewEvent(ch, queue.TagDeleteReview, queue.ReviewEvent{ID: params.ID})
	if err != nil {
		logger.Error("Failed to publish review event", "review", params.ID, "tag", queue.TagDeleteReview, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"message": "Review removal queued"})
}
