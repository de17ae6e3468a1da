package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tradechat-backend/internal/models"
	"tradechat-backend/internal/services"
	"tradechat-backend/pkg/httputil"
)

const maxBodyBytes = 1 << 20

// ConversationService defines the interface expected from the conversation service.
type ConversationService interface {
	ResolveConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, req models.AppendMessageRequest) (*models.Conversation, *models.Message, error)
	ListConversations(ctx context.Context, filter models.ListConversationsFilter) ([]models.Conversation, error)
}

type ConversationHandler struct {
	conversations ConversationService
	log           *slog.Logger
}

func NewConversationHandler(svc ConversationService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: svc,
		log:           logger.With("component", "ConversationHandler"),
	}
}

// HandleCreateConversation handles POST /v1/conversations
// Responds 201 when the conversation was created and 200 when it already existed.
func (h *ConversationHandler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	conv, created, err := h.conversations.ResolveConversation(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, "create conversation", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.RespondJSON(w, status, models.ConversationResponse{Conversation: *conv, Created: created})
}

// HandleGetConversation handles GET /v1/conversations/{conversationID}
func (h *ConversationHandler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, r, "get conversation", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conv)
}

// HandleListConversations handles GET /v1/conversations?product_id=&buyer_id=&seller_id=&limit=&offset=
func (h *ConversationHandler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ListConversationsFilter{}
	if v := q.Get("product_id"); v != "" {
		filter.ProductID = v
	}
	if v := q.Get("buyer_id"); v != "" {
		filter.BuyerID = v
	}
	if v := q.Get("seller_id"); v != "" {
		filter.SellerID = v
	}

	fields := map[string]string{}
	filter.Limit = queryInt(q.Get("limit"), "limit", fields)
	filter.Offset = queryInt(q.Get("offset"), "offset", fields)
	if len(fields) > 0 {
		httputil.RespondFieldErrors(w, services.ErrValidation.Error(), fields)
		return
	}

	convs, err := h.conversations.ListConversations(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, "list conversations", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ListConversationsResponse{
		Conversations: convs,
		Limit:         services.ClampLimit(filter.Limit),
		Offset:        filter.Offset,
	})
}

// HandleAppendMessage handles POST /v1/conversations/{conversationID}/messages
func (h *ConversationHandler) HandleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.AppendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	conv, _, err := h.conversations.AppendMessage(r.Context(), chi.URLParam(r, "conversationID"), req)
	if err != nil {
		h.respondServiceError(w, r, "append message", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.RespondFieldErrors(w, services.ErrValidation.Error(), verr.Fields)
	case errors.Is(err, services.ErrInvalidIdentifier):
		httputil.RespondError(w, http.StatusBadRequest, "Invalid conversation ID")
	case errors.Is(err, services.ErrSenderNotParticipant):
		httputil.RespondError(w, http.StatusBadRequest, services.ErrSenderNotParticipant.Error())
	case errors.Is(err, services.ErrConversationNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, services.ErrStoreUnavailable):
		h.log.Warn("store unavailable", "op", op, "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		httputil.RespondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable, retry later")
	default:
		h.log.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to "+op)
	}
}

// decodeJSON keeps numbers exact so large numeric identifiers survive decoding.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(dst)
}

func queryInt(raw, field string, fields map[string]string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fields[field] = "must be an integer"
		return 0
	}
	return n
}
