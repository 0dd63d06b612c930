// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hylla/canetrack/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	svc    common.WorkspaceService
	router chi.Router
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// fieldUpdate is the PATCH body for every level.
type fieldUpdate struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// confirmationBody carries a typed confirmation phrase.
type confirmationBody struct {
	Confirmation string `json:"confirmation"`
}

// NewHandler constructs one HTTP API adapter over the workspace service.
func NewHandler(svc common.WorkspaceService) *Handler {
	h := &Handler{svc: svc}
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{Code: "not_found", Message: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, APIError{Code: "method_not_allowed", Message: "method not allowed"})
	})
	r.Post("/reload", h.handleReload)
	r.Get("/changes", h.handleListChanges)
	r.Route("/blocs", func(r chi.Router) {
		r.Get("/", h.handleListBlocs)
		r.Post("/", h.handleAddBloc)
		r.Route("/{blocID}", func(r chi.Router) {
			r.Patch("/", h.handleUpdateBloc)
			r.Delete("/", h.handleDeleteBloc)
			r.Post("/retire", h.handleRetireBloc)
			r.Post("/operations", h.handleAddOperation)
			r.Route("/operations/{opID}", func(r chi.Router) {
				r.Patch("/", h.handleUpdateOperation)
				r.Delete("/", h.handleDeleteOperation)
				r.Post("/work-packages", h.handleAddWorkPackage)
				r.Route("/work-packages/{wpID}", func(r chi.Router) {
					r.Patch("/", h.handleUpdateWorkPackage)
					r.Delete("/", h.handleDeleteWorkPackage)
					r.Post("/advance", h.handleAdvanceWorkPackage)
				})
			})
		})
	})
	h.router = r
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "workspace service is not configured",
		})
		return
	}
	h.router.ServeHTTP(w, r)
}

// handleListBlocs serves GET `/blocs`.
func (h *Handler) handleListBlocs(w http.ResponseWriter, r *http.Request) {
	includeRetired := true
	if raw := strings.TrimSpace(r.URL.Query().Get("include_retired")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, APIError{Code: "invalid_request", Message: "include_retired must be a boolean"})
			return
		}
		includeRetired = v
	}
	forest, err := h.svc.ListBlocs(r.Context(), includeRetired)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forest)
}

// handleReload serves POST `/reload`.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	forest, err := h.svc.Reload(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forest)
}

// handleListChanges serves GET `/changes`.
func (h *Handler) handleListChanges(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{Code: "invalid_request", Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	events, err := h.svc.ListChanges(r.Context(), limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleAddBloc serves POST `/blocs`.
func (h *Handler) handleAddBloc(w http.ResponseWriter, r *http.Request) {
	var req common.AddBlocRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	res, err := h.svc.AddBloc(r.Context(), req)
	writeMutation(w, http.StatusCreated, res, err)
}

// handleUpdateBloc serves PATCH `/blocs/{blocID}`.
func (h *Handler) handleUpdateBloc(w http.ResponseWriter, r *http.Request) {
	h.updateField(w, r, common.LevelBloc)
}

// handleDeleteBloc serves DELETE `/blocs/{blocID}`.
func (h *Handler) handleDeleteBloc(w http.ResponseWriter, r *http.Request) {
	var body confirmationBody
	if err := decodeOptionalJSONBody(r.Context(), w, r, &body); err != nil {
		writeErrorFrom(w, err)
		return
	}
	res, err := h.svc.DeleteBloc(r.Context(), chi.URLParam(r, "blocID"), body.Confirmation)
	writeMutation(w, http.StatusOK, res, err)
}

// handleRetireBloc serves POST `/blocs/{blocID}/retire`.
func (h *Handler) handleRetireBloc(w http.ResponseWriter, r *http.Request) {
	var body confirmationBody
	if err := decodeOptionalJSONBody(r.Context(), w, r, &body); err != nil {
		writeErrorFrom(w, err)
		return
	}
	res, err := h.svc.RetireBloc(r.Context(), chi.URLParam(r, "blocID"), body.Confirmation)
	writeMutation(w, http.StatusOK, res, err)
}

// handleAddOperation serves POST `/blocs/{blocID}/operations`.
func (h *Handler) handleAddOperation(w http.ResponseWriter, r *http.Request) {
	var req common.AddOperationRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.BlocID = chi.URLParam(r, "blocID")
	res, err := h.svc.AddOperation(r.Context(), req)
	writeMutation(w, http.StatusCreated, res, err)
}

// handleUpdateOperation serves PATCH `/blocs/{blocID}/operations/{opID}`.
func (h *Handler) handleUpdateOperation(w http.ResponseWriter, r *http.Request) {
	h.updateField(w, r, common.LevelOperation)
}

// handleDeleteOperation serves DELETE `/blocs/{blocID}/operations/{opID}?confirm=true`.
func (h *Handler) handleDeleteOperation(w http.ResponseWriter, r *http.Request) {
	confirmed, ok := confirmQuery(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeleteOperation(r.Context(), nodeRef(r), confirmed)
	writeMutation(w, http.StatusOK, res, err)
}

// handleAddWorkPackage serves POST `.../operations/{opID}/work-packages`.
func (h *Handler) handleAddWorkPackage(w http.ResponseWriter, r *http.Request) {
	var req common.AddWorkPackageRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.BlocID = chi.URLParam(r, "blocID")
	req.OperationID = chi.URLParam(r, "opID")
	res, err := h.svc.AddWorkPackage(r.Context(), req)
	writeMutation(w, http.StatusCreated, res, err)
}

// handleUpdateWorkPackage serves PATCH `.../work-packages/{wpID}`.
func (h *Handler) handleUpdateWorkPackage(w http.ResponseWriter, r *http.Request) {
	h.updateField(w, r, common.LevelWorkPackage)
}

// handleAdvanceWorkPackage serves POST `.../work-packages/{wpID}/advance`.
func (h *Handler) handleAdvanceWorkPackage(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.AdvanceWorkPackage(r.Context(), nodeRef(r))
	writeMutation(w, http.StatusOK, res, err)
}

// handleDeleteWorkPackage serves DELETE `.../work-packages/{wpID}?confirm=true`.
func (h *Handler) handleDeleteWorkPackage(w http.ResponseWriter, r *http.Request) {
	confirmed, ok := confirmQuery(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeleteWorkPackage(r.Context(), nodeRef(r), confirmed)
	writeMutation(w, http.StatusOK, res, err)
}

// updateField decodes a `{field,value}` body and applies it at level.
func (h *Handler) updateField(w http.ResponseWriter, r *http.Request, level string) {
	var body fieldUpdate
	if err := decodeJSONBody(r.Context(), w, r, &body); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if strings.TrimSpace(body.Field) == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "invalid_request", Message: "field is required"})
		return
	}
	res, err := h.svc.UpdateField(r.Context(), common.UpdateFieldRequest{
		Level:   level,
		NodeRef: nodeRef(r),
		Field:   body.Field,
		Value:   body.Value,
	})
	writeMutation(w, http.StatusOK, res, err)
}

// nodeRef reads the hierarchy ids from the route.
func nodeRef(r *http.Request) common.NodeRef {
	return common.NodeRef{
		BlocID:        chi.URLParam(r, "blocID"),
		OperationID:   chi.URLParam(r, "opID"),
		WorkPackageID: chi.URLParam(r, "wpID"),
	}
}

// confirmQuery parses the optional `confirm` query flag.
func confirmQuery(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("confirm"))
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "invalid_request", Message: "confirm must be a boolean"})
		return false, false
	}
	return v, true
}

// writeMutation writes one mutation result or its mapped error.
func writeMutation(w http.ResponseWriter, status int, res common.MutationView, err error) {
	if err != nil {
		writeMutationError(w, res, err)
		return
	}
	writeJSON(w, status, res)
}

// writeMutationError adds reconcile state to persistence failures.
func writeMutationError(w http.ResponseWriter, res common.MutationView, err error) {
	if errors.Is(err, common.ErrPersistenceFailed) || errors.Is(err, common.ErrVersionConflict) {
		apiErr := apiErrorFrom(err)
		apiErr.Context = map[string]any{"reconciled": res.Reconciled}
		status := http.StatusBadGateway
		if errors.Is(err, common.ErrVersionConflict) {
			status = http.StatusConflict
		}
		writeJSONError(w, status, apiErr)
		return
	}
	writeErrorFrom(w, err)
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), apiErrorFrom(err))
}

// statusFor picks the HTTP status for one adapter error.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, common.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrPersistenceFailed):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrConfirmationRequired):
		return http.StatusPreconditionFailed
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// apiErrorFrom builds the envelope body for one adapter error.
func apiErrorFrom(err error) APIError {
	switch {
	case err == nil:
		return APIError{Code: "internal_error", Message: "unknown error"}
	case errors.Is(err, common.ErrVersionConflict):
		return APIError{
			Code:    "version_conflict",
			Message: err.Error(),
			Hint:    "The record changed since it was loaded. Fetch /blocs and retry.",
		}
	case errors.Is(err, common.ErrPersistenceFailed):
		return APIError{Code: "persistence_failed", Message: err.Error()}
	case errors.Is(err, common.ErrConfirmationRequired):
		return APIError{
			Code:    "confirmation_required",
			Message: err.Error(),
			Hint:    "Send the exact confirmation phrase, or confirm=true for operations and work packages.",
		}
	case errors.Is(err, common.ErrNotFound):
		return APIError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, common.ErrInvalidRequest):
		apiErr := APIError{Code: "invalid_request", Message: err.Error()}
		if fields := common.FieldErrors(err); len(fields) > 0 {
			apiErr.Context = map[string]any{"fields": fields}
		}
		return apiErr
	default:
		return APIError{Code: "internal_error", Message: err.Error()}
	}
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
