package controllers

import (
	"RetinaTrack/handlers"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	Handler   *handlers.AuthHandler
	tokenAuth gin.HandlerFunc
	adminOnly gin.HandlerFunc
}

// NewAuthController creates a new AuthController. tokenAuth and adminOnly
// are the middlewares guarding protected and admin routes.
func NewAuthController(authHandler *handlers.AuthHandler, tokenAuth, adminOnly gin.HandlerFunc) *AuthController {
	return &AuthController{
		Handler:   authHandler,
		tokenAuth: tokenAuth,
		adminOnly: adminOnly,
	}
}

// RegisterRoutes initializes all authentication and user administration routes
func (ac *AuthController) RegisterRoutes(router *gin.Engine) {
	// Public routes
	router.POST("/auth/login", ac.Handler.Login)
	router.POST("/auth/refresh-token", ac.Handler.RefreshToken)
	router.POST("/auth/send-reset-code", ac.Handler.SendResetCode)
	router.POST("/auth/change-password", ac.Handler.ChangePassword)

	authGroup := router.Group("/auth", ac.tokenAuth)
	{
		authGroup.POST("/logoff", ac.Handler.Logoff)
		authGroup.GET("/user/profile", ac.Handler.GetUserProfile)
		authGroup.PUT("/user/update-profile", ac.Handler.UpdateUserProfile)
	}

	adminGroup := router.Group("/admin/users", ac.tokenAuth, ac.adminOnly)
	{
		adminGroup.POST("", ac.Handler.CreateUser)
		adminGroup.GET("", ac.Handler.ListUsers)
		adminGroup.PUT("/:uid/role", ac.Handler.ChangeRole)
		adminGroup.PUT("/:uid/active", ac.Handler.SetActive)
	}
}
