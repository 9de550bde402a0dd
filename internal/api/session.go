package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"servicehours/internal/auth"
	"servicehours/internal/identity"
)

type signInRequest struct {
	IDToken  string `json:"id_token" binding:"required"`
	PhotoURL string `json:"photo_url" binding:"omitempty,url"`
}

func (h *handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.Gate.SignIn(c.Request.Context(), identity.SignInInput{IDToken: req.IDToken, PhotoURL: req.PhotoURL})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := h.Gate.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type signOutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// signOut revokes the access token and, when it belongs to the same
// principal, the refresh token in the body.
func (h *handler) signOut(c *gin.Context) {
	var req signOutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	access := claimsOf(c)
	tokens := []auth.Claims{access}
	if req.RefreshToken != "" {
		if rc, err := h.Gate.ParseRefresh(req.RefreshToken); err == nil && rc.Subject == access.Subject {
			tokens = append(tokens, rc)
		}
	}
	if err := h.Gate.SignOut(c.Request.Context(), tokens...); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
