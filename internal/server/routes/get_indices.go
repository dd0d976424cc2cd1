package routes

import (
	"errors"
	"net/http"
	"time"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tripsphere/backend/internal/server/middleware"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/workflow"
)

// GetIndexStatusHandler reports the state of one indexing job.
func GetIndexStatusHandler(c echo.Context) error {
	type getIndexParams struct {
		TaskID string `param:"task_id" validate:"required"`
	}

	type getIndexResponse struct {
		TaskID     string    `json:"task_id"`
		TargetID   string    `json:"target_id"`
		TargetType string    `json:"target_type"`
		State      string    `json:"state"`
		Stage      string    `json:"stage,omitempty"`
		Error      string    `json:"error,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	params := new(getIndexParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	ctx := c.Request().Context()
	jobs := c.(*middleware.AppContext).App.Jobs

	job, err := jobs.Get(ctx, params.TaskID)
	if err != nil {
		if errors.Is(err, workflow.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Task not found"})
		}
		logger.Error("Failed to load index job", "task", params.TaskID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, getIndexResponse{
		TaskID:     job.ID,
		TargetID:   job.TargetID,
		TargetType: job.TargetType,
		State:      job.State,
		Stage:      job.Stage,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
}
