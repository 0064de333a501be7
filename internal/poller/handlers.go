package poller

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-confirm/pkg/response"
)

// GinHandlers contains HTTP handlers for the polling endpoints
type GinHandlers struct {
	processor *Processor
}

func NewGinHandlers(processor *Processor) *GinHandlers {
	return &GinHandlers{
		processor: processor,
	}
}

// PollHandler runs one polling cycle, waiting for a running one to finish first
func (h *GinHandlers) PollHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.processor.RunCycle(c.Request.Context())
		if err != nil {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.Success(c, result)
	}
}
