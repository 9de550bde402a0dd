package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/ledger"
	"servicehours/internal/students"
)

type profileResponse struct {
	Student           students.Record `json:"student"`
	Summary           ledger.Summary  `json:"summary"`
	RemainingHours    float64         `json:"remaining_hours"`
	NeedsSetup        bool            `json:"needs_setup"`
	IsAdmin           bool            `json:"is_admin"`
	PendingPreference any             `json:"pending_preference"`
}

func (h *handler) me(c *gin.Context) {
	ctx := c.Request.Context()
	claims := claimsOf(c)

	rec, err := h.Students.Get(ctx, claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	sum, err := h.Ledger.Summary(ctx, rec.UID)
	if err != nil {
		h.fail(c, err)
		return
	}
	isAdmin := h.Roles.IsAdmin(claims.Email)
	resp := profileResponse{
		Student:        rec,
		Summary:        sum,
		RemainingHours: rec.RemainingHours(),
		NeedsSetup:     rec.NeedsSetup() && !isAdmin,
		IsAdmin:        isAdmin,
	}

	switch pending, err := h.Preferences.Pending(ctx, rec.UID); {
	case err == nil:
		resp.PendingPreference = pending
	case !errors.Is(err, apperr.ErrRecordNotFound):
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type placementRequest struct {
	Class    string `json:"class" binding:"required"`
	Location string `json:"location" binding:"required"`
}

func (h *handler) completeSetup(c *gin.Context) {
	var req placementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.Students.CompleteSetup(c.Request.Context(), claimsOf(c).Subject, req.Class, req.Location)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": rec})
}

func (h *handler) requestPreferences(c *gin.Context) {
	var req placementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pr, err := h.Preferences.Submit(c.Request.Context(), claimsOf(c).Subject, req.Class, req.Location)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": pr})
}

func (h *handler) myEntries(c *gin.Context) {
	h.listEntries(c, claimsOf(c).Subject)
}

// listEntries serves one page of studentID's entries from the status, cursor
// and limit query parameters.
func (h *handler) listEntries(c *gin.Context, studentID string) {
	status, err := ledger.ParseStatus(c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	f := ledger.Filter{Status: status, Cursor: c.Query("cursor")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.fail(c, apperr.Validation("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}
	page, err := h.Ledger.List(c.Request.Context(), studentID, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type submitEntryRequest struct {
	Title       string   `json:"title" binding:"required,max=200"`
	Description string   `json:"description" binding:"max=4000"`
	Hours       *float64 `json:"hours" binding:"required,gte=0"`
	Date        string   `json:"date" binding:"required,calendar_date"`
	Attachments []string `json:"attachments" binding:"max=5,dive,url"`
}

func (h *handler) submitEntry(c *gin.Context) {
	var req submitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, _ := time.Parse(ledger.DateLayout, req.Date)

	entry, err := h.Ledger.Submit(c.Request.Context(), claimsOf(c).Subject, ledger.SubmitInput{
		Title:       req.Title,
		Description: req.Description,
		Hours:       *req.Hours,
		Date:        date,
		Attachments: req.Attachments,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (h *handler) myStream(c *gin.Context) {
	h.stream(c, claimsOf(c).Subject)
}

func (h *handler) stream(c *gin.Context, topic string) {
	if h.Streamer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates are not available"})
		return
	}
	// ServeWS writes its own response when the upgrade fails.
	if err := h.Streamer.ServeWS(c.Writer, c.Request, topic); err != nil {
		h.logger.Debug("stream upgrade failed", zap.String("topic", topic), zap.Error(err))
	}
}
