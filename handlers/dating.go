package handlers

import (
	"net/http"
	"strconv"

	"campusconnect/models"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) SendLike(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	target, ok := pathID(c, "userId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Likes.RecordLike(ctx, userID, target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) ReceivedLikes(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	received, err := h.Likes.ReceivedLikes(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"likes": received, "count": len(received)})
}

func (h *Handlers) RevealLike(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	likeID, ok := pathID(c, "likeId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Likes.Reveal(ctx, likeID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) StartChat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	likeID, ok := pathID(c, "likeId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Likes.StartChat(ctx, likeID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) DirectChat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	likeID, ok := pathID(c, "likeId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Likes.DirectChat(ctx, likeID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) BuyLikes(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Ledger.BuyLikes(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"likes":   res.User.Likes,
		"coins":   res.User.Coins,
		"charged": res.Charged,
		"message": "Likes purchased",
	})
}

func (h *Handlers) BuyChatSlot(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Ledger.BuyChatSlot(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chatSlots":      res.User.ChatSlots,
		"availableSlots": res.User.AvailableSlots(),
		"coins":          res.User.Coins,
		"charged":        res.Charged,
		"message":        "Chat slot purchased",
	})
}

func (h *Handlers) DeclineLike(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	likeID, ok := pathID(c, "likeId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Likes.Decline(ctx, likeID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Like declined"})
}

func (h *Handlers) ActiveChats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	chats, err := h.Likes.ActiveChats(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "count": len(chats)})
}

func (h *Handlers) PassUser(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	target, ok := pathID(c, "userId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Likes.Pass(ctx, userID, target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Passed"})
}

func (h *Handlers) Unmatch(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	likeID, ok := pathID(c, "likeId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Likes.Unmatch(ctx, likeID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unmatched"})
}

func (h *Handlers) Recommendations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	ctx, cancel := requestContext(c)
	defer cancel()

	recs, err := h.Recommend.Recommend(ctx, userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs, "count": len(recs)})
}

func (h *Handlers) MyStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	st, err := h.Ledger.Status(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handlers) GetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Profiles.Get(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.DatingProfileUpdate
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Profiles.Update(ctx, userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
