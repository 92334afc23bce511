package handlers

import (
	"context"
	"net/http"
	"time"

	"campusconnect/apperrors"
	"campusconnect/auth"
	"campusconnect/blinddate"
	"campusconnect/chat"
	"campusconnect/ledger"
	"campusconnect/likes"
	"campusconnect/matchmaking"
	"campusconnect/middleware"
	"campusconnect/notify"
	"campusconnect/payments"
	"campusconnect/profile"
	"campusconnect/recommend"
	"campusconnect/rewards"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const requestTimeout = 10 * time.Second

// Handlers adapts the services to gin. Every field must be set.
type Handlers struct {
	Auth          *auth.Service
	Ledger        *ledger.Service
	Likes         *likes.Service
	Matchmaking   *matchmaking.Service
	Blind         *blinddate.Service
	Chat          *chat.Service
	Rewards       *rewards.Service
	Payments      *payments.Service
	Profiles      *profile.Service
	Recommend     *recommend.Service
	Notifications *notify.Service
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// respondError renders caller-facing errors with their kind and details.
// Anything else is logged and hidden behind a generic 500.
func respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.As(err); ok {
		body := gin.H{}
		for k, v := range appErr.Details {
			body[k] = v
		}
		body["error"] = string(appErr.Kind)
		body["message"] = appErr.Message
		c.JSON(appErr.HTTPStatus(), body)
		return
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}).Error("[Handler] request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "INTERNAL",
		"message": "Something went wrong",
	})
}

func currentUser(c *gin.Context) (primitive.ObjectID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.New(apperrors.KindUnauthorized, "Not authenticated"))
	}
	return id, ok
}

func pathID(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		respondError(c, apperrors.Validation("Invalid %s", name))
		return primitive.NilObjectID, false
	}
	return id, true
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, apperrors.Validation("Invalid request body: %v", err))
		return false
	}
	return true
}
