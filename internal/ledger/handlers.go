package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/ksred/klear-confirm/pkg/response"
)

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// StatusCode maps a ledger error to the HTTP status of its response
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindEntryNotFound:
		return http.StatusNotFound
	case KindNoHistory:
		return http.StatusConflict
	case KindInvalidStoreKind:
		return http.StatusBadRequest
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func actorContext(c *gin.Context) *gin.Context {
	if clientID := c.GetString("clientID"); clientID != "" {
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), clientID))
	}
	return c
}

func (h *GinHandlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request StatusUpdateRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.Result(c, http.StatusBadRequest, types.Result{Success: false, Message: "emailId and status are required"})
			return
		}

		result, err := h.service.updateStatus(actorContext(c).Request.Context(), *request.EmailID, request.Status)
		response.Result(c, StatusCode(err), result)
	}
}

func (h *GinHandlers) UndoStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request UndoRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.Result(c, http.StatusBadRequest, types.Result{Success: false, Message: "emailId is required"})
			return
		}

		result, err := h.service.undoStatusChange(actorContext(c).Request.Context(), *request.EmailID)
		response.Result(c, StatusCode(err), result)
	}
}

func (h *GinHandlers) ClearStoreHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request ClearRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.Result(c, http.StatusBadRequest, types.Result{Success: false, Message: "File type is required"})
			return
		}

		result, err := h.service.clearStore(actorContext(c).Request.Context(), request.FileType)
		response.Result(c, StatusCode(err), result)
	}
}

func (h *GinHandlers) MatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		matches, err := h.service.Matches()
		response.Handle(c, matches, err)
	}
}

func (h *GinHandlers) IdentifiedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identified, err := h.service.Identified()
		response.Handle(c, identified, err)
	}
}

func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, err := strconv.Atoi(c.Param("trade_id"))
		if err != nil {
			response.BadRequest(c, "trade_id must be an integer")
			return
		}

		changes, err := h.service.History(tradeID)
		response.Handle(c, changes, err)
	}
}
