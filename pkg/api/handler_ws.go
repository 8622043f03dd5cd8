package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// handleWebSocket upgrades the connection and delegates to the
// ConnectionManager, which blocks until the socket closes.
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.connMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WebSocket not available"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		return
	}

	s.connMgr.HandleConnection(c.Request.Context(), conn)
}
