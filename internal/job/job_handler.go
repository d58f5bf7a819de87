package job

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mssind/configurator/common"
	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/dto"
	"github.com/mssind/configurator/middleware"
)

type JobHandler struct {
	service JobServiceInterface
}

func NewJobHandler(s JobServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// RegisterRoutes mounts the job endpoints on the router group.
func (h *JobHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/jobs", h.Create)
	r.GET("/jobs", h.List)
	r.GET("/jobs/:id", h.Get)
	r.POST("/jobs/:id/cancel", h.Cancel)
}

// Create handles POST /jobs. It validates the body, delegates to the
// service, and returns 201 with the PENDING job; callers poll from there.
func (h *JobHandler) Create(c *gin.Context) {
	var req dto.JobCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.CreateJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Get handles GET /jobs/:id, the polling endpoint.
func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid job ID"))
		return
	}

	resp, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Cancel handles POST /jobs/:id/cancel. Returns 409 when the job has
// already started processing or finished.
func (h *JobHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid job ID"))
		return
	}

	resp, err := h.service.CancelJob(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List handles GET /jobs?status=&limit=.
func (h *JobHandler) List(c *gin.Context) {
	status := config.JobStatus(c.Query("status"))

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.Error(common.Errf(http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	resp, err := h.service.ListJobs(c.Request.Context(), status, limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
