package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/infra/widgetsurface"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
)

// CardRefresher runs the card pipeline.
type CardRefresher interface {
	RefreshByID(ctx context.Context, recipientID string, opts cards.Options) (cards.Result, error)
	RefreshAll(ctx context.Context, opts cards.Options) ([]cards.Result, error)
}

// WidgetViewer exposes the currently published widget state.
type WidgetViewer interface {
	View() widgetsurface.View
}

// Handler wires the HTTP transport to domain services.
type Handler struct {
	recipients recipient.Service
	refresher  CardRefresher
	widget     WidgetViewer
	logger     *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(recipients recipient.Service, refresher CardRefresher, widget WidgetViewer, logger *slog.Logger) *Handler {
	return &Handler{
		recipients: recipients,
		refresher:  refresher,
		widget:     widget,
		logger:     logger.With("component", "http.handler"),
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRecipients returns every recipient, most recently updated first.
func (h *Handler) ListRecipients(c *gin.Context) {
	list, err := h.recipients.List(c.Request.Context())
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	if list == nil {
		list = []recipient.Recipient{}
	}
	c.JSON(http.StatusOK, gin.H{"recipients": list})
}

// CreateRecipient adds a recipient.
func (h *Handler) CreateRecipient(c *gin.Context) {
	var req recipient.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidRequest, errMessage(err), err))
		return
	}
	req.ID = ""
	rec, err := h.recipients.Save(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// UpdateRecipient replaces the editable fields of a recipient.
func (h *Handler) UpdateRecipient(c *gin.Context) {
	var req recipient.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidRequest, errMessage(err), err))
		return
	}
	req.ID = c.Param("id")
	rec, err := h.recipients.Save(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteRecipient removes a recipient.
func (h *Handler) DeleteRecipient(c *gin.Context) {
	if err := h.recipients.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// GenerateCards runs the pipeline for one recipient.
func (h *Handler) GenerateCards(c *gin.Context) {
	opts, ok := bindOptions(c)
	if !ok {
		return
	}
	res, err := h.refresher.RefreshByID(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// RefreshAll runs the pipeline for every recipient.
func (h *Handler) RefreshAll(c *gin.Context) {
	opts, ok := bindOptions(c)
	if !ok {
		return
	}
	results, err := h.refresher.RefreshAll(c.Request.Context(), opts)
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	out := make([]refreshResult, 0, len(results))
	for _, r := range results {
		item := refreshResult{RecipientID: r.RecipientID, Trigger: string(r.Trigger)}
		if r.Err != nil {
			item.Error = &errorBody{Code: apperrors.CodeOf(r.Err), Message: r.Err.Error()}
		} else {
			group := r.Group
			item.Group = &group
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// Widget returns the state currently published to widgets.
func (h *Handler) Widget(c *gin.Context) {
	c.JSON(http.StatusOK, h.widget.View())
}

type refreshResult struct {
	RecipientID string       `json:"recipientId"`
	Trigger     string       `json:"triggerType,omitempty"`
	Group       *cards.Group `json:"group,omitempty"`
	Error       *errorBody   `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// bindOptions reads optional generation options; an empty body means defaults.
func bindOptions(c *gin.Context) (cards.Options, bool) {
	var opts cards.Options
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return opts, true
	}
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidRequest, errMessage(err), err))
		return opts, false
	}
	return opts, true
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
