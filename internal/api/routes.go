package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) routes() {
	v1 := s.router.Group("/v1")

	v1.GET("/state", s.state)
	v1.GET("/conversations", s.listConversations)
	v1.GET("/conversations/:id", s.getConversation)
	v1.GET("/conversations/:id/messages", s.listMessages)
	v1.POST("/conversations/:id/read", s.markRead)

	v1.POST("/selection", s.selectConversation)
	v1.DELETE("/selection", s.closeConversation)

	v1.POST("/navigation/messaging", s.enterMessaging)
	v1.DELETE("/navigation/messaging", s.leaveMessaging)

	v1.POST("/messages", s.sendMessage)
	v1.POST("/messages/:id/retry", s.retryMessage)

	v1.GET("/notifications", s.listNotifications)
	v1.DELETE("/notifications", s.dismissAll)
	v1.DELETE("/notifications/:surface/:id", s.dismissNotification)
	v1.POST("/notifications/:surface/:id/open", s.openNotification)
	v1.PUT("/notifications/permission", s.setPermission)

	v1.GET("/search", s.search)
	v1.GET("/events", s.events)

	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
}

// fail writes err as {"error": ...} with a status derived from its kind.
func fail(c *gin.Context, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, store.ErrUnknownConversation), errors.Is(err, store.ErrUnknownMessage):
		code = http.StatusNotFound
	case errors.Is(err, outbox.ErrEmpty):
		code = http.StatusBadRequest
	case errors.Is(err, outbox.ErrNotRetryable):
		code = http.StatusConflict
	case backend.IsAuth(err):
		code = http.StatusUnauthorized
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func pageSize(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultPageSize, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxPageSize), true
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Store.Snapshot())
}

func (s *Server) listConversations(c *gin.Context) {
	kind := store.ConversationKind(c.Query("kind"))
	switch kind {
	case "", store.KindGroup, store.KindDirect, store.KindSystem:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown conversation kind " + string(kind)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": s.deps.Store.Conversations(kind)})
}

func (s *Server) getConversation(c *gin.Context) {
	conv, ok := s.deps.Store.Conversation(c.Param("id"))
	if !ok {
		fail(c, store.ErrUnknownConversation)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// listMessages returns the newest messages held in memory, or with ?before=
// (RFC 3339) older ones from the archive.
func (s *Server) listMessages(c *gin.Context) {
	id := c.Param("id")
	limit, ok := pageSize(c)
	if !ok {
		return
	}

	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be RFC 3339"})
			return
		}
		if s.deps.Archive == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive is disabled"})
			return
		}
		msgs, err := s.deps.Archive.ListMessages(id, before, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs, "has_more": len(msgs) == limit})
		return
	}

	if _, ok := s.deps.Store.Conversation(id); !ok {
		fail(c, store.ErrUnknownConversation)
		return
	}
	msgs := s.deps.Store.Messages(id)
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[len(msgs)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "has_more": hasMore})
}

func (s *Server) markRead(c *gin.Context) {
	if err := s.deps.Actions.MarkConversationRead(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type selectRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

func (s *Server) selectConversation(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Actions.SelectConversation(c.Request.Context(), req.ConversationID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Store.Snapshot())
}

func (s *Server) closeConversation(c *gin.Context) {
	s.deps.Actions.CloseConversation()
	c.Status(http.StatusNoContent)
}

func (s *Server) enterMessaging(c *gin.Context) {
	s.deps.Actions.EnterMessaging()
	c.Status(http.StatusNoContent)
}

func (s *Server) leaveMessaging(c *gin.Context) {
	s.deps.Actions.LeaveMessaging()
	c.Status(http.StatusNoContent)
}

type sendRequest struct {
	ConversationID string             `json:"conversation_id" binding:"required"`
	Content        string             `json:"content"`
	Kind           store.ContentKind  `json:"kind"`
	ReplyTo        *store.ReplyRef    `json:"reply_to"`
	Attachments    []store.Attachment `json:"attachments"`
}

// sendMessage answers 202 with the optimistic copy; the outcome arrives on
// the event stream as message.send_ack or message.send_failed.
func (s *Server) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := s.deps.Actions.SendMessage(c.Request.Context(), outbox.Draft{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Kind:           req.Kind,
		ReplyTo:        req.ReplyTo,
		Attachments:    req.Attachments,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, m)
}

func (s *Server) retryMessage(c *gin.Context) {
	m, err := s.deps.Actions.RetryMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, m)
}

type notificationsResponse struct {
	Toasts     []notify.Entry    `json:"toasts"`
	Native     []notify.Entry    `json:"native"`
	Panel      []notify.Entry    `json:"panel"`
	Permission notify.Permission `json:"permission,omitempty"`
}

func (s *Server) listNotifications(c *gin.Context) {
	resp := notificationsResponse{
		Toasts: []notify.Entry{},
		Native: []notify.Entry{},
		Panel:  []notify.Entry{},
	}
	if s.deps.Toast != nil {
		resp.Toasts = s.deps.Toast.Active()
	}
	if s.deps.Native != nil {
		resp.Native = s.deps.Native.Active()
	}
	if s.deps.Panel != nil {
		resp.Panel = s.deps.Panel.Entries()
	}
	if s.deps.Permissions != nil {
		resp.Permission = s.deps.Permissions.Permission()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) dismissAll(c *gin.Context) {
	n := 0
	if s.deps.Panel != nil {
		n = s.deps.Panel.DismissAll()
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": n})
}

func (s *Server) dismissNotification(c *gin.Context) {
	id := c.Param("id")
	var ok bool
	switch c.Param("surface") {
	case notify.SurfaceToast:
		ok = s.deps.Toast != nil && s.deps.Toast.Dismiss(id)
	case notify.SurfacePanel:
		ok = s.deps.Panel != nil && s.deps.Panel.Dismiss(id)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "only toast and panel notifications can be dismissed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// openNotification is a click on a notification: the record is cleared and
// its conversation opened.
func (s *Server) openNotification(c *gin.Context) {
	id := c.Param("id")
	var (
		rec notify.Record
		ok  bool
	)
	switch c.Param("surface") {
	case notify.SurfaceToast:
		if s.deps.Toast != nil {
			rec, ok = s.deps.Toast.View(id)
		}
	case notify.SurfaceNative:
		if s.deps.Native != nil {
			rec, ok = s.deps.Native.Click(id)
		}
	case notify.SurfacePanel:
		if s.deps.Panel != nil {
			rec, ok = panelRecord(s.deps.Panel, id)
			ok = ok && s.deps.Panel.Dismiss(id)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown surface " + c.Param("surface")})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	if err := s.deps.Actions.Navigate(c.Request.Context(), rec.ConversationID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func panelRecord(p *notify.Panel, id string) (notify.Record, bool) {
	for _, e := range p.Entries() {
		if e.Record.ID == id {
			return e.Record, true
		}
	}
	return notify.Record{}, false
}

type permissionRequest struct {
	Permission notify.Permission `json:"permission" binding:"required"`
}

func (s *Server) setPermission(c *gin.Context) {
	if s.deps.Permissions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "native notifications are disabled"})
		return
	}
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Permission {
	case notify.PermissionDefault, notify.PermissionGranted, notify.PermissionDenied:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown permission " + string(req.Permission)})
		return
	}
	s.deps.Permissions.SetPermission(req.Permission)
	c.Status(http.StatusNoContent)
}

func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, ok := pageSize(c)
	if !ok {
		return
	}
	if s.deps.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive is disabled"})
		return
	}
	results, err := s.deps.Archive.SearchMessages(q, c.Query("conversation_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
