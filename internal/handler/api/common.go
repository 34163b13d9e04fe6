package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mersvpn/mersyar/internal/repository"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// Repos bundles the repositories the API handlers read directly.
type Repos struct {
	Panel    *repository.PanelRepository
	Invoice  *repository.InvoiceRepository
	Customer *repository.CustomerRepository
	Link     *repository.LinkRepository
	Note     *repository.NoteRepository
	Setting  *repository.SettingRepository
}

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}
