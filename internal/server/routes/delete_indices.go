package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tripsphere/backend/internal/server/middleware"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/workflow"
)

// DeleteIndexHandler tears down everything indexed for a target: text units,
// entity embeddings, and the graph subgraph. An active job is canceled so a
// running worker stops at its next stage boundary.
func DeleteIndexHandler(c echo.Context) error {
	type deleteIndexParams struct {
		TargetID   string `param:"target_id" validate:"required"`
		TargetType string `query:"target_type" validate:"omitempty,oneof=attraction hotel"`
	}

	params := new(deleteIndexParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if params.TargetType == "" {
		params.TargetType = "attraction"
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	active, err := app.Jobs.FindActiveByTarget(ctx, params.TargetID, params.TargetType)
	if err != nil {
		logger.Error("Failed to check active jobs", "target", params.TargetID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if active != nil && !workflow.IsTerminal(active.State) {
		if err := app.Jobs.MarkCanceled(ctx, active.ID); err != nil {
			logger.Warn("Failed to cancel active job", "task", active.ID, "err", err)
		}
	}

	units, err := app.Units.DeleteByTarget(ctx, params.TargetID, params.TargetType)
	if err != nil {
		logger.Error("Failed to delete text units", "target", params.TargetID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	embeddings, err := app.Units.DeleteEntityEmbeddingsByTarget(ctx, params.TargetID, params.TargetType)
	if err != nil {
		logger.Error("Failed to delete entity embeddings", "target", params.TargetID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if app.Graph != nil {
		if err := app.Graph.DeleteTarget(ctx, params.TargetID); err != nil {
			logger.Error("Failed to delete graph", "target", params.TargetID, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
	}

	logger.Info("Index deleted", "target", params.TargetID, "units", units, "embeddings", embeddings)
	return c.NoContent(http.StatusNoContent)
}
