package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
)

// Handler upgrades authenticated HTTP requests into hub-managed
// websocket connections.
type Handler struct {
	hub      *Hub
	router   *Router
	auth     service.AuthService
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, router *Router, auth service.AuthService, allowedOrigins string) *Handler {
	origins := strings.Split(allowedOrigins, ",")
	return &Handler{
		hub:    hub,
		router: router,
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range origins {
					if strings.TrimSpace(allowed) == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Serve handles GET /ws. Authentication happens before the upgrade so
// a bad credential costs a plain 401, not a socket.
func (h *Handler) Serve(c *gin.Context) {
	userID, err := Authenticate(c.Request, h.auth)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed for %s: %v", userID, err)
		return
	}

	client := NewClient(h.hub, conn, userID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.router)
}
