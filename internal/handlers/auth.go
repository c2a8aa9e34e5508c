package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/middleware"
	"boatmarket/internal/models"
	"boatmarket/internal/service"
)

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
	DeviceName  string `json:"deviceName"`
}

type authResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	DeviceID     string       `json:"deviceId"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"displayName"`
	Role        string  `json:"role"`
	Status      string  `json:"status"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

func toUserResponse(user models.User) userResponse {
	return userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		Status:      string(user.Status),
		AvatarURL:   user.AvatarURL,
	}
}

func (h HandlerSet) SignUp(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}

	result, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		DeviceName:  req.DeviceName,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAuthResponse(result))
}

type loginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAuthResponse(result))
}

type refreshRequest struct {
	UserID       string `json:"userId" binding:"required"`
	DeviceID     string `json:"deviceId" binding:"required"`
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), service.RefreshInput{
		UserID:       req.UserID,
		DeviceID:     req.DeviceID,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAuthResponse(result))
}

type logoutRequest struct {
	UserID   string `json:"userId" binding:"required"`
	DeviceID string `json:"deviceId" binding:"required"`
}

func (h HandlerSet) Logout(c *gin.Context) {
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.UserID, req.DeviceID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}

	err := h.auth.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrWrongPassword) {
			badRequest(c, "invalid_current_password", "current password is incorrect")
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h HandlerSet) respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, service.ErrUserSuspended):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user_suspended"})
	case errors.Is(err, service.ErrEmailTaken):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "email_taken"})
	default:
		h.respondError(c, err)
	}
}

func toAuthResponse(result service.AuthResult) authResponse {
	return authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		DeviceID:     result.DeviceID,
		User:         toUserResponse(result.User),
	}
}
