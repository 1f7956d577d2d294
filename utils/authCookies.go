package utils

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

func SetAuthCookies(c *gin.Context, tokens *TokenService, accessToken, refreshToken string) {
	setCookie(c, AccessTokenCookie, accessToken, tokens.AccessTTL())
	setCookie(c, RefreshTokenCookie, refreshToken, tokens.RefreshTTL())
}

func setCookie(c *gin.Context, name, value string, expiry time.Duration) {
	secure := gin.Mode() != gin.DebugMode
	c.SetCookie(name, value, int(expiry.Seconds()), "/", "", secure, true)
}

func ClearAuthCookies(c *gin.Context) {
	setCookie(c, AccessTokenCookie, "", -time.Second)
	setCookie(c, RefreshTokenCookie, "", -time.Second)
}
