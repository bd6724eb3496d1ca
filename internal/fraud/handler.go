package fraud

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/pagination"
	"github.com/mbd888/fraudgate/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handler provides HTTP endpoints for fraud scoring and the audit trail.
type Handler struct {
	service *Service
}

// NewHandler creates a new fraud handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the fraud routes under an /api/v1 group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/fraud-detection", h.Evaluate)
	r.GET("/fraud-detection/assessments/:id", validation.IDParamMiddleware("id"), h.GetAssessment)
	r.GET("/fraud-detection/users/:userId/assessments", validation.IDParamMiddleware("userId"), h.ListUserAssessments)
	r.GET("/model", h.GetModel)
}

// transactionRequest is the wire form of a transaction. Pointer fields let
// binding tell a missing field from a zero value; every field is required.
type transactionRequest struct {
	Amount                      *float64 `json:"amount" binding:"required"`
	UserID                      *string  `json:"userId" binding:"required"`
	TransactionType             *string  `json:"transactionType" binding:"required"`
	Time                        *string  `json:"time" binding:"required"`
	Location                    *string  `json:"location" binding:"required"`
	CurrentDevice               *string  `json:"currentDevice" binding:"required"`
	CurrentDeviceID             *string  `json:"currentDeviceId" binding:"required"`
	LastDevice                  *string  `json:"lastDevice" binding:"required"`
	LastDeviceID                *string  `json:"lastDeviceId" binding:"required"`
	LastTransactionLocation     *string  `json:"lastTransactionLocation" binding:"required"`
	LastTransactionAmount       *float64 `json:"lastTransactionAmount" binding:"required"`
	UserAge                     *float64 `json:"userAge" binding:"required"`
	AccountBalance              *float64 `json:"accountBalance" binding:"required"`
	TransactionsInLast24h       *float64 `json:"transactionsInLast24h" binding:"required"`
	TimeSinceLastTransaction    *float64 `json:"timeSinceLastTransaction" binding:"required"`
	TransactionAmountDifference *float64 `json:"transactionAmountDifference" binding:"required"`
}

func (r *transactionRequest) transaction() *features.Transaction {
	return &features.Transaction{
		Amount:                      *r.Amount,
		UserID:                      *r.UserID,
		TransactionType:             *r.TransactionType,
		Time:                        *r.Time,
		Location:                    *r.Location,
		CurrentDevice:               *r.CurrentDevice,
		CurrentDeviceID:             *r.CurrentDeviceID,
		LastDevice:                  *r.LastDevice,
		LastDeviceID:                *r.LastDeviceID,
		LastTransactionLocation:     *r.LastTransactionLocation,
		LastTransactionAmount:       *r.LastTransactionAmount,
		UserAge:                     *r.UserAge,
		AccountBalance:              *r.AccountBalance,
		TransactionsInLast24h:       *r.TransactionsInLast24h,
		TimeSinceLastTransaction:    *r.TimeSinceLastTransaction,
		TransactionAmountDifference: *r.TransactionAmountDifference,
	}
}

// validate bounds the string fields. Identifiers are stored in indexed columns.
func (r *transactionRequest) validate() validation.ValidationErrors {
	return validation.Validate(
		validation.MaxLength("userId", *r.UserID, validation.MaxIDLength),
		validation.Printable("userId", *r.UserID),
		validation.MaxLength("transactionType", *r.TransactionType, validation.MaxIDLength),
		validation.MaxLength("time", *r.Time, validation.MaxIDLength),
		validation.MaxLength("location", *r.Location, validation.MaxStringLength),
		validation.MaxLength("currentDevice", *r.CurrentDevice, validation.MaxStringLength),
		validation.MaxLength("currentDeviceId", *r.CurrentDeviceID, validation.MaxStringLength),
		validation.MaxLength("lastDevice", *r.LastDevice, validation.MaxStringLength),
		validation.MaxLength("lastDeviceId", *r.LastDeviceID, validation.MaxStringLength),
		validation.MaxLength("lastTransactionLocation", *r.LastTransactionLocation, validation.MaxStringLength),
	)
}

// Evaluate handles POST /api/v1/fraud-detection
func (h *Handler) Evaluate(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	a, err := h.service.Score(c.Request.Context(), req.transaction())
	if err != nil {
		var extractErr *features.ExtractionError
		switch {
		case errors.As(err, &extractErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transaction",
				"message": extractErr.Error(),
				"field":   extractErr.Field,
			})
		case errors.Is(err, ErrNotReady):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "model_not_ready",
				"message": "Fraud model is still training. Retry shortly.",
			})
		default:
			logging.L(c.Request.Context()).Error("scoring failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to score transaction.",
			})
		}
		return
	}

	if a.Decision == DecisionBlock {
		c.JSON(http.StatusForbidden, gin.H{
			"error":        "fraud_suspected",
			"message":      "Transaction blocked due to suspected fraud.",
			"decision":     a.Decision,
			"probability":  a.Probability,
			"assessmentId": a.ID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Transaction approved.",
		"decision":     a.Decision,
		"probability":  a.Probability,
		"assessmentId": a.ID,
	})
}

// GetAssessment handles GET /api/v1/fraud-detection/assessments/:id
func (h *Handler) GetAssessment(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Assessment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// ListUserAssessments handles GET /api/v1/fraud-detection/users/:userId/assessments
func (h *Handler) ListUserAssessments(c *gin.Context) {
	limit := defaultListLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxListLimit)
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": err.Error(),
		})
		return
	}

	items, err := h.service.ListByUser(c.Request.Context(), c.Param("userId"), cursor, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	page, next, more := pagination.ComputePage(items, limit, func(a *Assessment) (time.Time, string) {
		return a.EvaluatedAt, a.ID
	})
	if page == nil {
		page = []*Assessment{}
	}

	c.JSON(http.StatusOK, gin.H{
		"assessments": page,
		"count":       len(page),
		"nextCursor":  next,
		"hasMore":     more,
	})
}

// GetModel handles GET /api/v1/model
func (h *Handler) GetModel(c *gin.Context) {
	m := h.service.Model()
	if m == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "model_not_ready",
			"message": "Fraud model is still training.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"modelId":     m.ID(),
		"inputWidth":  m.InputWidth(),
		"features":    features.FieldNames(),
		"lossHistory": m.LossHistory(),
		"trainedAt":   m.TrainedAt(),
		"seed":        m.Seed(),
	})
}
