package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tripsphere/backend/internal/server/middleware"
	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/workflow"
)

// CreateIndexHandler submits an indexing job for a target. A target with an
// active job keeps that job; the existing task ID is returned instead of
// queueing a second run.
func CreateIndexHandler(c echo.Context) error {
	type createIndexBody struct {
		TargetID   string `json:"target_id" validate:"required"`
		TargetType string `json:"target_type" validate:"required,oneof=attraction hotel"`
	}

	type createIndexResponse struct {
		Message string `json:"message"`
		TaskID  string `json:"task_id,omitempty"`
	}

	data := new(createIndexBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createIndexResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createIndexResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	jobs := c.(*middleware.AppContext).App.Jobs

	active, err := jobs.FindActiveByTarget(ctx, data.TargetID, data.TargetType)
	if err != nil {
		logger.Error("Failed to check active jobs", "target", data.TargetID, "err", err)
		return c.JSON(http.StatusInternalServerError, createIndexResponse{
			Message: "Internal server error",
		})
	}
	if active != nil {
		return c.JSON(http.StatusConflict, createIndexResponse{
			Message: "Target is already being indexed",
			TaskID:  active.ID,
		})
	}

	job := &workflow.Job{
		ID:         util.NewV7(),
		TargetID:   data.TargetID,
		TargetType: data.TargetType,
		Operation:  "index",
		State:      workflow.StateSubmitted,
	}
	if err := jobs.Create(ctx, job); err != nil {
		logger.Error("Failed to create index job", "target", data.TargetID, "err", err)
		return c.JSON(http.StatusInternalServerError, createIndexResponse{
			Message: "Internal server error",
		})
	}

	logger.Info("Index job submitted", "task", job.ID, "target", data.TargetID, "type", data.TargetType)
	return c.JSON(http.StatusAccepted, createIndexResponse{
		Message: "Index job submitted",
		TaskID:  job.ID,
	})
}
