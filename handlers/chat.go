package handlers

import (
	"net/http"

	"campusconnect/apperrors"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (h *Handlers) SendChatMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		ReceiverID string `json:"receiverId"`
		Text       string `json:"text"`
	}
	if !bindJSON(c, &req) {
		return
	}
	receiver, err := primitive.ObjectIDFromHex(req.ReceiverID)
	if err != nil {
		respondError(c, apperrors.Validation("Invalid receiver ID"))
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	msg, err := h.Chat.Send(ctx, userID, receiver, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handlers) ChatMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	partner, ok := pathID(c, "userId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	msgs, err := h.Chat.Messages(ctx, userID, partner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

func (h *Handlers) MarkChatRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	partner, ok := pathID(c, "userId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.Chat.MarkRead(ctx, userID, partner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updatedCount": n})
}

func (h *Handlers) DeleteConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	partner, ok := pathID(c, "userId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Chat.DeleteConversation(ctx, userID, partner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"deleted":   res.Deleted,
		"slotFreed": res.SlotFreed,
		"message":   "Conversation deleted",
	})
}
