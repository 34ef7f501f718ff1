package reports

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coursemart/backend/pkg/response"
)

const (
	dateLayout    = "2006-01-02"
	maxRange      = 366 * 24 * time.Hour
	defaultWindow = 30 * 24 * time.Hour
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Handler serves ledger exports.
type Handler struct {
	payments Lister
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a reports handler.
func NewHandler(payments Lister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{payments: payments, now: time.Now, logger: logger}
}

// parseRange reads from/to as UTC dates. to is inclusive. Defaults to the last 30 days.
func (h *Handler) parseRange(c *gin.Context) (time.Time, time.Time, error) {
	today := h.now().UTC().Truncate(24 * time.Hour)
	to := today.Add(24 * time.Hour)
	if v := c.Query("to"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date, expected YYYY-MM-DD")
		}
		to = d.Add(24 * time.Hour)
	}
	from := to.Add(-defaultWindow)
	if v := c.Query("from"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date, expected YYYY-MM-DD")
		}
		from = d
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must not be after to")
	}
	if to.Sub(from) > maxRange {
		return time.Time{}, time.Time{}, fmt.Errorf("range too large, max 366 days")
	}
	return from, to, nil
}

// ExportPayments handles GET /admin/payments/export?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *Handler) ExportPayments(c *gin.Context) {
	from, to, err := h.parseRange(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	list, err := h.payments.ListCreatedBetween(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("ledger query failed", zap.Error(err))
		response.Internal(c, "failed to load payments")
		return
	}
	body, err := BuildLedger(list)
	if err != nil {
		h.logger.Error("ledger build failed", zap.Error(err))
		response.Internal(c, "failed to build export")
		return
	}
	name := fmt.Sprintf("payments_%s_%s.xlsx", from.Format(dateLayout), to.Add(-24*time.Hour).Format(dateLayout))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxMIME, body)
}
