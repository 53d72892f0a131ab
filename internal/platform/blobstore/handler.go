package blobstore

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// DownloadHandler serves presigned URLs issued by an InMemoryBlobStore.
type DownloadHandler struct {
	store *InMemoryBlobStore
}

func NewDownloadHandler(store *InMemoryBlobStore) *DownloadHandler {
	return &DownloadHandler{store: store}
}

// RegisterRoutes mounts the download route; prefix must match the store's base URL path.
func (h *DownloadHandler) RegisterRoutes(e *echo.Echo, prefix string) {
	e.GET(strings.TrimRight(prefix, "/")+"/*", h.handleDownload)
}

func (h *DownloadHandler) handleDownload(c echo.Context) error {
	key := c.Param("*")
	r, obj, err := h.store.Open(key, c.QueryParam("token"))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "blob not found or link expired")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Stream(http.StatusOK, obj.ContentType, r)
}
