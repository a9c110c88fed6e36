package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nadeko0/wirechat/logger"
	"github.com/nadeko0/wirechat/middleware"
	"github.com/nadeko0/wirechat/service/storage"
	"github.com/nadeko0/wirechat/tools/errs"
)

// HandleHistory serves one page of the conversation between the caller
// and :other_id, oldest first. Query params: before_id for paging into
// older messages, limit (capped at the default window).
func (g *Gateway) HandleHistory(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}

	otherID, err := strconv.ParseInt(c.Param("other_id"), 10, 64)
	if err != nil || otherID <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrInvalidMessage.WithDetail("bad other_id"))
		return
	}

	beforeID, _ := strconv.ParseInt(c.Query("before_id"), 10, 64)
	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)
	if limit <= 0 || limit > storage.DefaultHistoryLimit {
		limit = storage.DefaultHistoryLimit
	}

	h, err := g.store.Fetch(c.Request.Context(), uid, otherID, beforeID, limit)
	if err != nil {
		logger.Errorf("[gateway] history fetch user=%d other=%d: %v", uid, otherID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "history fetch failed"})
		return
	}
	if h.Messages == nil {
		h.Messages = []storage.Message{}
	}
	c.JSON(http.StatusOK, h)
}
