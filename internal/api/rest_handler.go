package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"repartition/internal/domain"
	"repartition/internal/processor"
	"repartition/internal/repository"
	"repartition/internal/rulecodec"
	"repartition/internal/service"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	userHeader      = "X-User-ID"
	anonymousUser   = "anonymous"
	maxRequestBytes = 1 << 20
	dateLayout      = "2006-01-02"
)

type APIHandler struct {
	processor      *processor.DistributionProcessor
	rules          *service.RuleSetService
	history        *service.HistoryService
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	processor *processor.DistributionProcessor,
	rules *service.RuleSetService,
	history *service.HistoryService,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		processor:      processor,
		rules:          rules,
		history:        history,
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
}

// ComputeRequest previews a distribution. Rules, when present, is a rule
// document in the import format and replaces the active configuration for
// this computation only.
type ComputeRequest struct {
	domain.DistributionInput
	Rules json.RawMessage `json:"rules,omitempty"`
}

type CommitRequest struct {
	domain.DistributionInput
	AcknowledgeWarnings []domain.WarningCode `json:"acknowledge_warnings,omitempty"`
}

type RuleRequest struct {
	Label          string            `json:"label,omitempty"`
	BasePercentage decimal.Decimal   `json:"base_percentage"`
	MaxPercentage  *decimal.Decimal  `json:"max_percentage,omitempty"`
	Conditions     domain.Conditions `json:"conditions"`
}

type ListResponse struct {
	Records []*domain.DistributionRecord `json:"records"`
	Count   int                          `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *APIHandler) ComputeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req ComputeRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		result *domain.DistributionResult
		err    error
	)
	if len(req.Rules) > 0 && string(req.Rules) != "null" {
		rules, decodeErr := rulecodec.Decode(req.Rules, rulecodec.FormatJSON)
		if decodeErr != nil {
			h.sendServiceError(w, decodeErr)
			return
		}
		result, err = h.processor.ComputeWithRules(ctx, req.DistributionInput, rules)
	} else {
		result, err = h.processor.Compute(ctx, req.DistributionInput)
	}
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, result, http.StatusOK)
}

func (h *APIHandler) CommitHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req CommitRequest
	if !h.decode(w, r, &req) {
		return
	}

	record, err := h.processor.ComputeAndCommit(ctx, req.DistributionInput, processor.CommitOptions{
		CaseNumber:          req.CaseNumber,
		User:                userFrom(r),
		AcknowledgeWarnings: req.AcknowledgeWarnings,
	})
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/distributions/"+record.ID)
	h.sendJSON(w, record, http.StatusCreated)
}

// CheckHandler re-runs the consistency checks on a result supplied by the
// caller, typically one edited by hand before commit.
func (h *APIHandler) CheckHandler(w http.ResponseWriter, r *http.Request) {
	var result domain.DistributionResult
	if !h.decode(w, r, &result) {
		return
	}
	h.sendJSON(w, h.processor.Check(&result), http.StatusOK)
}

func (h *APIHandler) ListDistributionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	filter, err := parseHistoryFilter(r)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	records, err := h.history.List(ctx, filter)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, ListResponse{Records: records, Count: len(records)}, http.StatusOK)
}

func (h *APIHandler) GetDistributionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	record, err := h.history.Get(ctx, r.PathValue("id"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, record, http.StatusOK)
}

func (h *APIHandler) DeleteDistributionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.history.Delete(ctx, r.PathValue("id"), userFrom(r)); err != nil {
		h.sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListRulesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	rules, err := h.rules.Active(ctx)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, rules, http.StatusOK)
}

func (h *APIHandler) GetRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	key, err := domain.ParseCategory(r.PathValue("key"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	rule, err := h.rules.Get(ctx, key)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	setETag(w, rule.Version)
	h.sendJSON(w, rule, http.StatusOK)
}

// PutRuleHandler replaces one rule. If-Match carries the version the client
// last read; without it the write is unconditional.
func (h *APIHandler) PutRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	key, err := domain.ParseCategory(r.PathValue("key"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	expectedVersion, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		h.sendError(w, "If-Match must be a rule version", http.StatusBadRequest, "INVALID_PRECONDITION")
		return
	}

	var req RuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule := domain.DistributionRule{
		Key:            key,
		Label:          strings.TrimSpace(req.Label),
		BasePercentage: req.BasePercentage,
		MaxPercentage:  req.BasePercentage,
		Conditions:     req.Conditions,
	}
	if req.MaxPercentage != nil {
		rule.MaxPercentage = *req.MaxPercentage
	}

	stored, err := h.rules.Upsert(ctx, rule, expectedVersion, userFrom(r))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	setETag(w, stored.Version)
	h.sendJSON(w, stored, http.StatusOK)
}

func (h *APIHandler) DeleteRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	key, err := domain.ParseCategory(r.PathValue("key"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	if err := h.rules.Remove(ctx, key, userFrom(r)); err != nil {
		h.sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ExportRulesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	format, err := rulecodec.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	data, err := h.rules.Export(ctx, format)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write rule export", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) ImportRulesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	rawFormat := r.URL.Query().Get("format")
	if rawFormat == "" && strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		rawFormat = string(rulecodec.FormatYAML)
	}
	format, err := rulecodec.ParseFormat(rawFormat)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	rules, err := h.rules.Import(ctx, data, format, userFrom(r))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, rules, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().UTC(),
		"version":      "1.0.0",
		"split_policy": h.processor.SplitPolicy(),
	}
	h.sendJSON(w, response, http.StatusOK)
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return false
	}
	return true
}

func parseHistoryFilter(r *http.Request) (domain.HistoryFilter, error) {
	q := r.URL.Query()
	filter := domain.HistoryFilter{CaseNumber: strings.TrimSpace(q.Get("case_number"))}

	var err error
	if filter.From, err = parseTime("from", q.Get("from"), false); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime("to", q.Get("to"), true); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseCount("limit", q.Get("limit")); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseCount("offset", q.Get("offset")); err != nil {
		return filter, err
	}
	return filter, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(field, raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: field, Err: domain.ErrInvalidCondition, Detail: "expected RFC 3339 or YYYY-MM-DD"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseCount(field, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &domain.ValidationError{Field: field, Err: domain.ErrInvalidCondition, Detail: "expected a non-negative integer"}
	}
	return n, nil
}

func parseIfMatch(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid version")
	}
	return v, nil
}

func setETag(w http.ResponseWriter, version int) {
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(version)))
}

func userFrom(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(userHeader)); user != "" {
		return user
	}
	return anonymousUser
}

func (h *APIHandler) sendServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, ErrorResponse{
			Error:   "Validation failed",
			Code:    "VALIDATION_ERROR",
			Field:   validationErr.Field,
			Details: err.Error(),
		}, http.StatusBadRequest)
	case errors.Is(err, rulecodec.ErrUnsupportedFormat),
		errors.Is(err, rulecodec.ErrEmptyDocument),
		errors.Is(err, rulecodec.ErrDuplicateKey),
		errors.Is(err, rulecodec.ErrMalformed):
		h.writeError(w, ErrorResponse{Error: "Invalid rule document", Code: "INVALID_DOCUMENT", Details: err.Error()}, http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound):
		h.writeError(w, ErrorResponse{Error: "Not found", Code: "NOT_FOUND", Details: err.Error()}, http.StatusNotFound)
	case errors.Is(err, repository.ErrVersionConflict):
		h.writeError(w, ErrorResponse{Error: "Rule was modified concurrently", Code: "VERSION_CONFLICT", Details: err.Error()}, http.StatusConflict)
	case errors.Is(err, repository.ErrDuplicate):
		h.writeError(w, ErrorResponse{Error: "Duplicate entry", Code: "DUPLICATE", Details: err.Error()}, http.StatusConflict)
	case errors.Is(err, processor.ErrUnacknowledgedWarnings):
		h.writeError(w, ErrorResponse{Error: "Distribution has unacknowledged warnings", Code: "UNACKNOWLEDGED_WARNINGS", Details: err.Error()}, http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrSealMismatch):
		h.writeError(w, ErrorResponse{Error: "Record failed integrity check", Code: "SEAL_MISMATCH"}, http.StatusInternalServerError)
	case errors.Is(err, context.DeadlineExceeded):
		h.sendError(w, "Request timed out", http.StatusGatewayTimeout, "TIMEOUT")
	default:
		h.logger.Error("Request failed", slog.String("error", err.Error()))
		h.sendError(w, "Internal error", http.StatusInternalServerError, "SERVER_ERROR")
	}
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	h.writeError(w, ErrorResponse{Error: message, Code: code}, statusCode)
}

func (h *APIHandler) writeError(w http.ResponseWriter, resp ErrorResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)

	h.logger.Warn("API error response",
		slog.String("message", resp.Error),
		slog.String("code", resp.Code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/distributions/compute", h.ComputeHandler)
	mux.HandleFunc("POST /api/v1/distributions/check", h.CheckHandler)
	mux.HandleFunc("POST /api/v1/distributions", h.CommitHandler)
	mux.HandleFunc("GET /api/v1/distributions", h.ListDistributionsHandler)
	mux.HandleFunc("GET /api/v1/distributions/{id}", h.GetDistributionHandler)
	mux.HandleFunc("DELETE /api/v1/distributions/{id}", h.DeleteDistributionHandler)

	mux.HandleFunc("GET /api/v1/rules", h.ListRulesHandler)
	mux.HandleFunc("GET /api/v1/rules/export", h.ExportRulesHandler)
	mux.HandleFunc("POST /api/v1/rules/import", h.ImportRulesHandler)
	mux.HandleFunc("GET /api/v1/rules/{key}", h.GetRuleHandler)
	mux.HandleFunc("PUT /api/v1/rules/{key}", h.PutRuleHandler)
	mux.HandleFunc("DELETE /api/v1/rules/{key}", h.DeleteRuleHandler)

	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
}
