package httpapi

import (
	"net/http"
	"strconv"

	"github.com/daehyunko/roomchat/internal/metrics"
	"github.com/daehyunko/roomchat/internal/service"
	"github.com/daehyunko/roomchat/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps bundles what the router needs.
type Deps struct {
	DB        *store.DB
	Messages  *service.MessageService
	Presence  *service.PresenceService
	Rooms     *service.RoomService
	Logger    *zap.Logger
	JWTSecret string
	RateLimit rate.Limit
	RateBurst int
}

// NewRouter wires middleware and all API routes.
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(d.Logger))
	r.Use(metrics.GinMiddleware())
	if d.RateLimit > 0 {
		r.Use(RateLimit(d.RateLimit, d.RateBurst))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(Auth(d.JWTSecret, d.DB))

	api.POST("/rooms", createRoom(d.Rooms))
	api.POST("/rooms/:roomId/join", joinRoom(d.Rooms))
	api.POST("/rooms/:roomId/leave", leaveRoom(d.Rooms))

	api.GET("/rooms/:roomId", getSnapshot(d.Messages))
	api.GET("/rooms/:roomId/messages/history", getHistory(d.Messages))
	api.GET("/rooms/:roomId/messages/longpoll", poll(d.Messages))
	api.POST("/rooms/:roomId/messages", createMessage(d.Messages))
	api.GET("/rooms/:roomId/likes", likedMessages(d.Messages))

	api.DELETE("/messages/:id", deleteMessage(d.Messages))
	api.POST("/messages/:id/like", likeMessage(d.Messages))

	api.POST("/rooms/:roomId/presence", heartbeat(d.Presence))
	api.GET("/rooms/:roomId/presence", listOnline(d.Presence))
	api.POST("/rooms/:roomId/typing", setTyping(d.Presence))
	api.GET("/rooms/:roomId/typing", listTyping(d.Presence))

	return r
}

func createRoom(rooms *service.RoomService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, service.ErrValidation("invalid payload"))
			return
		}
		info, err := rooms.Create(req.Name, userID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, info)
	}
}

func joinRoom(rooms *service.RoomService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := rooms.Join(c.Param("roomId"), userID(c)); err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"success": true})
	}
}

func leaveRoom(rooms *service.RoomService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := rooms.Leave(c.Param("roomId"), userID(c)); err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"success": true})
	}
}

func getSnapshot(msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := msgs.GetSnapshot(c.Param("roomId"), userID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, snap)
	}
}

func getHistory(msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		hist, err := msgs.GetHistory(c.Param("roomId"), userID(c), c.Query("beforeMessageId"), limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, hist)
	}
}

func poll(msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		since, err := strconv.ParseInt(c.DefaultQuery("sinceVersion", "0"), 10, 64)
		if err != nil || since < 0 {
			respondErr(c, service.ErrValidation("invalid sinceVersion"))
			return
		}
		result, err := msgs.Poll(c.Param("roomId"), userID(c), since)
		if err != nil {
			respondErr(c, err)
			return
		}
		metrics.PollRequestsTotal.Inc()
		metrics.PollEventsReturned.Add(float64(len(result.Events)))
		respondOK(c, result)
	}
}

func createMessage(msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Content          string `json:"content"`
			ClientMessageID  string `json:"client_message_id"`
			ReplyToMessageID string `json:"reply_to_message_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, service.ErrValidation("invalid payload"))
			return
		}
		created, err := msgs.Create(service.CreateMessageInput{
			RoomID:           c.Param("roomId"),
			UserID:           userID(c),
			Content:          req.Content,
			ClientMessageID:  req.ClientMessageID,
			ReplyToMessageID: req.ReplyToMessageID,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		metrics.MessagesCreatedTotal.Inc()
		respondOK(c, created.Wire())
	}
}

func likedMessages(msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := msgs.LikedMessageIDs(c.Param("roomId"), userID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"likedMessageIds": ids})
	}
}

func deleteMessage(msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleteForAll := c.Query("deleteForAll") == "true"
		if err := msgs.Delete(c.Param("id"), userID(c), deleteForAll); err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"success": true})
	}
}

func likeMessage(msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := msgs.ToggleLike(c.Param("id"), userID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, result)
	}
}

func heartbeat(presence *service.PresenceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IsOnline bool `json:"is_online"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, service.ErrValidation("invalid payload"))
			return
		}
		if err := presence.Heartbeat(c.Param("roomId"), userID(c), req.IsOnline); err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"success": true})
	}
}

func listOnline(presence *service.PresenceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := presence.ListOnline(c.Param("roomId"), userID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"online_users": users})
	}
}

func setTyping(presence *service.PresenceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IsTyping bool `json:"is_typing"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, service.ErrValidation("invalid payload"))
			return
		}
		if err := presence.SetTyping(c.Param("roomId"), userID(c), req.IsTyping); err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"success": true})
	}
}

func listTyping(presence *service.PresenceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := presence.ListTyping(c.Param("roomId"), userID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, gin.H{"typing_users": users})
	}
}
