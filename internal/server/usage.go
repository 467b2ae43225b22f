package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
)

func (s *Server) ListUsage(c *gin.Context) {
	req := usagedomain.ListUsageRequest{
		UserID:    strings.TrimSpace(c.Query("user_id")),
		Feature:   strings.TrimSpace(c.Query("feature")),
		PageToken: c.Query("page_token"),
	}
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid value"))
			return
		}
		req.PageSize = size
	}

	resp, err := s.usageSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
