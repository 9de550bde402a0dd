package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"servicehours/internal/export"
	"servicehours/internal/live"
	"servicehours/internal/students"
)

type studentRow struct {
	students.Record
	RemainingHours float64 `json:"remaining_hours"`
}

func (h *handler) listStudents(c *gin.Context) {
	recs, err := h.Students.List(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.fail(c, err)
		return
	}
	rows := make([]studentRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, studentRow{Record: r, RemainingHours: r.RemainingHours()})
	}
	c.JSON(http.StatusOK, gin.H{"students": rows})
}

func (h *handler) exportStudents(c *gin.Context) {
	ctx := c.Request.Context()
	recs, err := h.Students.List(ctx, c.Query("search"))
	if err != nil {
		h.fail(c, err)
		return
	}
	rows := make([]export.Row, 0, len(recs))
	for _, r := range recs {
		sum, err := h.Ledger.Summary(ctx, r.UID)
		if err != nil {
			h.fail(c, err)
			return
		}
		rows = append(rows, export.Row{Student: r, Summary: sum})
	}

	now := h.Now()
	data, err := export.Workbook(rows, now)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(now)+`"`)
	c.Data(http.StatusOK, export.ContentType, data)
}

func (h *handler) studentEntries(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Students.Get(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.listEntries(c, id)
}

type punishmentRequest struct {
	Hours  *float64 `json:"hours" binding:"required,gt=0"`
	Reason string   `json:"reason" binding:"required,max=1000"`
}

func (h *handler) addPunishment(c *gin.Context) {
	var req punishmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Workflow.AddPunishment(c.Request.Context(), c.Param("id"), *req.Hours, req.Reason, claimsOf(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handler) reconcileStudent(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.Query("repair"))
	check := h.Reconcile.Check
	if repair {
		check = h.Reconcile.Repair
	}
	report, err := check(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) sweep(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.Query("repair"))
	res, err := h.Reconcile.Sweep(c.Request.Context(), repair)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) approveEntry(c *gin.Context) {
	res, err := h.Workflow.Approve(c.Request.Context(), c.Param("id"), claimsOf(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) rejectEntry(c *gin.Context) {
	res, err := h.Workflow.Reject(c.Request.Context(), c.Param("id"), claimsOf(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) deleteEntry(c *gin.Context) {
	res, err := h.Workflow.DeleteEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) listPreferences(c *gin.Context) {
	reqs, err := h.Preferences.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (h *handler) approvePreference(c *gin.Context) {
	res, err := h.Workflow.ApprovePreference(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) rejectPreference(c *gin.Context) {
	res, err := h.Workflow.RejectPreference(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// adminStream delivers every student's events.
func (h *handler) adminStream(c *gin.Context) {
	h.stream(c, live.Everyone)
}
