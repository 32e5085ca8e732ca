package http

import (
	"net/http"
	"strconv"

	commonerrors "github.com/spendlog/backend/internal/common/errors"
	"github.com/spendlog/backend/internal/common/httpmetrics"
	"github.com/spendlog/backend/internal/common/logger"
	"github.com/spendlog/backend/internal/observability/metrics"
)

type ErrorHandler struct {
	log *logger.Logger
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	return &ErrorHandler{log: log}
}

func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	ctx := r.Context()
	traceID := TraceIDFromContext(ctx)

	if domainErr, ok := commonerrors.AsDomainError(err); ok {
		h.handleDomainError(w, r, domainErr)
		return
	}

	logFields := logger.Fields{
		"error":  err.Error(),
		"action": "unhandled_error",
	}
	if traceID != "" {
		logFields["trace_id"] = traceID
	}

	h.log.WithFields(ctx, logFields).Errorf("unhandled error: %v", err)

	metrics.HTTPErrorsTotal.WithLabelValues(
		strconv.Itoa(http.StatusInternalServerError),
		httpmetrics.NormalizePath(r.URL.Path),
		r.Method,
	).Inc()

	WriteErrorEnvelope(w, http.StatusInternalServerError, CodeUnknown, "internal server error", nil, traceID)
}

func (h *ErrorHandler) handleDomainError(w http.ResponseWriter, r *http.Request, domainErr commonerrors.DomainError) {
	ctx := r.Context()
	traceID := TraceIDFromContext(ctx)

	status := domainErr.HTTPStatus()

	logFields := logger.Fields{
		"error_code": domainErr.Code(),
		"category":   string(domainErr.Category()),
		"status":     status,
		"action":     "domain_error",
	}
	h.log.WithFields(ctx, logFields).Debugf("domain error: %s", domainErr.Error())

	metrics.DomainErrorsTotal.WithLabelValues(
		string(domainErr.Category()),
		domainErr.Code(),
		strconv.Itoa(status),
	).Inc()

	metrics.HTTPErrorsTotal.WithLabelValues(
		strconv.Itoa(status),
		httpmetrics.NormalizePath(r.URL.Path),
		r.Method,
	).Inc()

	WriteErrorEnvelope(w, status, domainErr.Code(), domainErr.Message(), nil, traceID)
}

func HandleError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	NewErrorHandler(log).HandleError(w, r, err)
}
