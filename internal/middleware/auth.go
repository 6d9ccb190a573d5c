package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"k8s.io/klog/v2"
)

// UserIDKey gin 上下文中保存用户 ID 的键
const UserIDKey = "user_id"

// DevUserHeader 开发模式下指定用户的请求头
const DevUserHeader = "X-User-ID"

type ctxKey struct{}

var ErrInvalidToken = errors.New("invalid or expired token")

// Authenticator 校验 Supabase 签发的 HS256 访问令牌，sub 即用户 ID。
// 未配置密钥时进入开发模式：用户取自 X-User-ID 请求头，缺省为 anonymous。
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	if secret == "" {
		klog.Warningf("[Auth] 未配置 JWT 密钥，使用开发模式鉴权")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// DevMode 是否未配置密钥
func (a *Authenticator) DevMode() bool {
	return len(a.secret) == 0
}

// ParseToken 校验令牌并返回用户 ID
func (a *Authenticator) ParseToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// RequireAuth 鉴权中间件，成功后把用户 ID 写入 gin 上下文与请求 context
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.authenticate(c)
		if err != nil {
			klog.V(6).Infof("[Auth] 鉴权失败: path=%s, error=%v", c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func (a *Authenticator) authenticate(c *gin.Context) (string, error) {
	if a.DevMode() {
		if id := strings.TrimSpace(c.GetHeader(DevUserHeader)); id != "" {
			return id, nil
		}
		return "anonymous", nil
	}
	tokenString := extractToken(c)
	if tokenString == "" {
		return "", errors.New("missing token")
	}
	return a.ParseToken(tokenString)
}

// extractToken 依次读取 ?token= 与 Authorization: Bearer，EventSource 与 WebSocket 无法设置请求头
func extractToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID 读取鉴权中间件写入的用户 ID
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// UserIDFromContext 从请求 context 读取用户 ID
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}
