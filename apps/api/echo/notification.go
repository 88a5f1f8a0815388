package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/gradebook/core/notify"
)

type notificationApi struct {
	repo notify.Repository
}

func registerNotificationAPI(g *echo.Group, repo notify.Repository) {
	api := notificationApi{repo: repo}
	g.GET("/users/:id/notifications", api.query)
}

func (api *notificationApi) query(ctx echo.Context) error {
	limit, err := queryLimit(ctx)
	if err != nil {
		return err
	}
	notes, err := api.repo.ListNotifications(ctx.Request().Context(), ctx.Param("id"), limit)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, notes)
}
