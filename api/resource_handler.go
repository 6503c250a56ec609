package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/models"
)

// ResourceService is the behaviour the handlers need from the service layer.
type ResourceService interface {
	Create(ctx context.Context, req *models.ResourceRequest) (*models.ResourceResponse, error)
	Get(ctx context.Context, id int64) (*models.ResourceResponse, error)
	List(ctx context.Context) ([]*models.ResourceResponse, error)
	Update(ctx context.Context, id int64, req *models.ResourceRequest, expectedVersion *int64) (*models.ResourceResponse, error)
	Patch(ctx context.Context, id int64, req *models.PatchResourceRequest, expectedVersion *int64) (*models.ResourceResponse, error)
	Delete(ctx context.Context, id int64, expectedVersion *int64) error
	NotifyAll(ctx context.Context) (*models.BatchNotificationResponse, error)
}

// ResourceHandler serves /api/v1/resources.
type ResourceHandler struct {
	svc   ResourceService
	clock clock.Clock
}

// NewResourceHandler creates a handler backed by svc.
func NewResourceHandler(svc ResourceService, clk clock.Clock) *ResourceHandler {
	return &ResourceHandler{svc: svc, clock: clk}
}

// Register mounts the routes on group.
func (h *ResourceHandler) Register(group *gin.RouterGroup) {
	group.POST("", h.create)
	group.GET("", h.list)
	group.POST("/send-all", h.sendAll)
	group.GET("/:id", h.get)
	group.PUT("/:id", h.update)
	group.PATCH("/:id", h.patch)
	group.DELETE("/:id", h.delete)
}

func (h *ResourceHandler) create(c *gin.Context) {
	var req models.ResourceRequest
	if err := bindJSON(c, &req); err != nil {
		WriteError(c, h.clock, err)
		return
	}

	resp, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}
	writeResource(c, http.StatusCreated, resp)
}

func (h *ResourceHandler) list(c *gin.Context) {
	resp, err := h.svc.List(c.Request.Context())
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ResourceHandler) get(c *gin.Context) {
	id, err := resourceID(c)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}

	resp, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}
	writeResource(c, http.StatusOK, resp)
}

func (h *ResourceHandler) update(c *gin.Context) {
	id, version, err := mutationTarget(c)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}

	var req models.ResourceRequest
	if err := bindJSON(c, &req); err != nil {
		WriteError(c, h.clock, err)
		return
	}

	resp, err := h.svc.Update(c.Request.Context(), id, &req, version)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}
	writeResource(c, http.StatusOK, resp)
}

func (h *ResourceHandler) patch(c *gin.Context) {
	id, version, err := mutationTarget(c)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}

	var req models.PatchResourceRequest
	if err := bindJSON(c, &req); err != nil {
		WriteError(c, h.clock, err)
		return
	}

	resp, err := h.svc.Patch(c.Request.Context(), id, &req, version)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}
	writeResource(c, http.StatusOK, resp)
}

func (h *ResourceHandler) delete(c *gin.Context) {
	id, version, err := mutationTarget(c)
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id, version); err != nil {
		WriteError(c, h.clock, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ResourceHandler) sendAll(c *gin.Context) {
	resp, err := h.svc.NotifyAll(c.Request.Context())
	if err != nil {
		WriteError(c, h.clock, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeResource(c *gin.Context, status int, resp *models.ResourceResponse) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(resp.Version, 10)))
	c.JSON(status, resp)
}

// bindJSON enforces a JSON content type and decodes the body. Unknown enum
// literals are reported separately from other malformed input.
func bindJSON(c *gin.Context, obj any) error {
	contentType := c.GetHeader("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || (mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json")) {
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return NewError(http.StatusUnsupportedMediaType, "Content-Type '%s' is not supported", contentType)
	}

	if err := c.ShouldBindJSON(obj); err != nil {
		var enumErr *models.InvalidEnumError
		if errors.As(err, &enumErr) {
			return ErrInvalidEnum
		}
		return ErrInvalidBody
	}
	return nil
}

func resourceID(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewError(http.StatusBadRequest, "Invalid resource id '%s'", raw)
	}
	return id, nil
}

func mutationTarget(c *gin.Context) (int64, *int64, error) {
	id, err := resourceID(c)
	if err != nil {
		return 0, nil, err
	}
	version, err := expectedVersion(c)
	if err != nil {
		return 0, nil, err
	}
	return id, version, nil
}

// expectedVersion reads an optional If-Match header carrying a version,
// accepting 3, "3" and W/"3".
func expectedVersion(c *gin.Context) (*int64, error) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	value := strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, NewError(http.StatusBadRequest, "Invalid If-Match header '%s'", raw)
	}
	return &v, nil
}
