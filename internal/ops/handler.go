// Package ops exposes the operational HTTP surface of a securebus process:
// health, status, dead-letter management, data-subject requests and
// compliance reports.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"securebus/internal/compliance"
	"securebus/internal/consumer"
	"securebus/internal/logger"
	"securebus/internal/producer"
	"securebus/pkg/errors"
	"securebus/pkg/health"
)

type ProducerStatus interface {
	Status() producer.Status
}

type ConsumerOps interface {
	Status() consumer.Status
	DeadLetters() []consumer.DeadLetterMessage
	Retry(ctx context.Context, id string) error
}

type ComplianceOps interface {
	HandleDataSubjectRequest(ctx context.Context, kind compliance.RequestKind, subjectID string, details map[string]interface{}) (compliance.RequestResult, error)
	GenerateReport(ctx context.Context, start, end time.Time) (compliance.Report, error)
}

type Handler struct {
	Producer   ProducerStatus
	Consumer   ConsumerOps
	Compliance ComplianceOps
	Health     *health.CheckerRegistry
	Logger     logger.Logger
}

func NewHandler(p ProducerStatus, c ConsumerOps, cmp ComplianceOps, registry *health.CheckerRegistry, log logger.Logger) *Handler {
	return &Handler{
		Producer:   p,
		Consumer:   c,
		Compliance: cmp,
		Health:     registry,
		Logger:     log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.GetHealth)
	router.GET("/status", h.GetStatus)

	v1 := router.Group("/api/v1")
	{
		deadLetters := v1.Group("/dead-letters")
		{
			deadLetters.GET("", h.ListDeadLetters)
			deadLetters.POST("/:id/retry", h.RetryDeadLetter)
		}

		v1.POST("/subjects/:id/requests", h.CreateSubjectRequest)
		v1.GET("/compliance/report", h.GetComplianceReport)
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	result := h.Health.Check(c.Request.Context())
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

type StatusResponse struct {
	Producer producer.Status `json:"producer"`
	Consumer consumer.Status `json:"consumer"`
}

func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Producer: h.Producer.Status(),
		Consumer: h.Consumer.Status(),
	})
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	c.JSON(http.StatusOK, h.Consumer.DeadLetters())
}

func (h *Handler) RetryDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if err := h.Consumer.Retry(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "recovered"})
}

type SubjectRequest struct {
	Kind    string                 `json:"kind" binding:"required"`
	Details map[string]interface{} `json:"details"`
}

func (h *Handler) CreateSubjectRequest(c *gin.Context) {
	var req SubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	kind, err := compliance.ParseRequestKind(req.Kind)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.Compliance.HandleDataSubjectRequest(c.Request.Context(), kind, c.Param("id"), req.Details)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetComplianceReport reads the RFC 3339 from and to query parameters. The
// window defaults to the last 24 hours.
func (h *Handler) GetComplianceReport(c *gin.Context) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.HandleError(c, errors.ErrValidation.WithMessage("from must be RFC 3339").WithCause(err))
			return
		}
		start = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.HandleError(c, errors.ErrValidation.WithMessage("to must be RFC 3339").WithCause(err))
			return
		}
		end = t
	}

	report, err := h.Compliance.GenerateReport(c.Request.Context(), start, end)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
