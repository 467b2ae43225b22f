package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SweepExpiredGrants runs one expiry pass on demand. The scheduled sweeper
// covers normal operation; this endpoint exists for incident response.
func (s *Server) SweepExpiredGrants(c *gin.Context) {
	summary, err := s.ledgerSvc.ExpireStaleGrants(c.Request.Context(), time.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) ReconcileBalance(c *gin.Context) {
	report, err := s.ledgerSvc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
