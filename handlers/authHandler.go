package handlers

import (
	"RetinaTrack/middlewares"
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/services"
	"RetinaTrack/utils"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AuthHandler struct {
	UserService services.UserService
	tokens      *utils.TokenService
	log         logrus.FieldLogger
}

func NewAuthHandler(userService services.UserService, tokens *utils.TokenService, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		UserService: userService,
		tokens:      tokens,
		log:         log.WithField("handler", "auth"),
	}
}

// Login authenticates the user and returns tokens along with user info
func (h *AuthHandler) Login(c *gin.Context) {
	var credentials struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&credentials); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}

	user, err := h.UserService.AuthenticateUser(c.Request.Context(), credentials.Email, credentials.Password)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}

	accessToken, refreshToken, err := h.tokens.GenerateTokens(user.ID, user.RoleName)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	utils.SetAuthCookies(c, h.tokens, accessToken, refreshToken)

	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         user,
	})
}

// RefreshToken issues a new access token from a refresh token sent in the
// body or the refresh cookie.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.ShouldBindJSON(&body)
	token := body.RefreshToken
	if token == "" {
		token, _ = c.Cookie(utils.RefreshTokenCookie)
	}
	if token == "" {
		middlewares.BadRequest(c, "refresh token is required")
		return
	}

	claims, err := h.tokens.ValidateToken(token, utils.TokenKindRefresh)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}
	user, err := h.UserService.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}
	if !user.Active {
		middlewares.HttpError(c, h.log, models.ErrInactiveUser)
		return
	}

	accessToken, err := h.tokens.GenerateAccessToken(user.ID, user.RoleName)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	utils.SetAuthCookies(c, h.tokens, accessToken, token)
	c.JSON(http.StatusOK, gin.H{"accessToken": accessToken})
}

// Logoff logs the user out by clearing cookies
func (h *AuthHandler) Logoff(c *gin.Context) {
	utils.ClearAuthCookies(c)
	c.Status(http.StatusOK)
}

// SendResetCode emails a password reset code. The answer is the same whether
// or not the account exists.
func (h *AuthHandler) SendResetCode(c *gin.Context) {
	var data struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&data); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}
	if err := h.UserService.SendResetCode(c.Request.Context(), data.Email); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.Status(http.StatusOK)
}

// ChangePassword sets a new password using a reset code.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var data struct {
		Email       string `json:"email" binding:"required"`
		ResetCode   string `json:"resetCode" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&data); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}
	if err := h.UserService.ResetPassword(c.Request.Context(), data.Email, data.ResetCode, data.NewPassword); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.Status(http.StatusOK)
}

// GetUserProfile retrieves the current user's profile
func (h *AuthHandler) GetUserProfile(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	user, err := h.UserService.GetUserByID(c.Request.Context(), auth.UID)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	if user == nil {
		middlewares.HttpError(c, h.log, models.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type profileRequest struct {
	DisplayName   string `json:"displayName"`
	Email         string `json:"email"`
	Specialty     string `json:"specialty"`
	LicenseNumber string `json:"licenseNumber"`
	Phone         string `json:"phone"`
}

// UpdateUserProfile updates the caller's own profile.
func (h *AuthHandler) UpdateUserProfile(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}
	err := h.UserService.UpdateUserProfile(c.Request.Context(), auth.UID, repositories.ProfileUpdate{
		DisplayName:   req.DisplayName,
		Email:         req.Email,
		Specialty:     req.Specialty,
		LicenseNumber: req.LicenseNumber,
		Phone:         req.Phone,
	})
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.Status(http.StatusOK)
}

// CreateUser opens an account. Admin only.
func (h *AuthHandler) CreateUser(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		DisplayName   string `json:"displayName"`
		Email         string `json:"email"`
		Password      string `json:"password"`
		Role          string `json:"role"`
		Specialty     string `json:"specialty"`
		LicenseNumber string `json:"licenseNumber"`
		Phone         string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}
	user, err := h.UserService.CreateUser(c.Request.Context(), auth, services.NewUserInput{
		DisplayName:   req.DisplayName,
		Email:         req.Email,
		Password:      req.Password,
		Role:          req.Role,
		Specialty:     req.Specialty,
		LicenseNumber: req.LicenseNumber,
		Phone:         req.Phone,
	})
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) ListUsers(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	users, err := h.UserService.GetAllUsers(c.Request.Context(), auth)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *AuthHandler) ChangeRole(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}
	if err := h.UserService.ChangeRole(c.Request.Context(), auth, c.Param("uid"), req.Role); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *AuthHandler) SetActive(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}
	if err := h.UserService.SetActive(c.Request.Context(), auth, c.Param("uid"), *req.Active); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.Status(http.StatusOK)
}
