package middleware

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/tripsphere/backend/pkg/convo"
	"github.com/tripsphere/backend/pkg/graphstore"
	"github.com/tripsphere/backend/pkg/vector"
	"github.com/tripsphere/backend/pkg/workflow"
)

// App carries the long-lived dependencies every handler needs. Graph is nil
// when no graph database is configured.
type App struct {
	DBConn *pgxpool.Pool
	Queue  *amqp091.Channel
	Jobs   *workflow.PGJobStore
	Convos *convo.Store
	Units  *vector.Store
	Graph  *graphstore.Client
}

type AppContext struct {
	echo.Context
	App    *App
	UserID string
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, ""}
			return next(cc)
		}
	}
}

// AuthMiddleware resolves the caller from the X-User-ID header set by the
// gateway. Requests without an identity are rejected.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cc, ok := c.(*AppContext)
		if !ok {
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		userID := c.Request().Header.Get("X-User-ID")
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}
		cc.UserID = userID
		return next(cc)
	}
}
