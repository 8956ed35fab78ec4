package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/utils"
)

// 上下文键
const (
	ContextSubject = "subject"
	ContextRole    = "role"
)

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	jwt *utils.JWTManager
}

// NewAuthMiddleware 创建认证中间件，jwt 为空时不做认证
func NewAuthMiddleware(jwt *utils.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Enabled 是否启用认证
func (m *AuthMiddleware) Enabled() bool {
	return m != nil && m.jwt != nil
}

// RequireRole 需要特定角色的中间件
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			abortWithError(c, apperrors.New(apperrors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			abortWithError(c, apperrors.Wrap(err, apperrors.ErrTokenInvalid))
			return
		}

		if len(roles) > 0 && !containsRole(roles, claims.Role) {
			appErr := apperrors.New(apperrors.ErrAuthentication, "权限不足")
			c.AbortWithStatusJSON(403, gin.H{
				"code":    appErr.Code.String(),
				"message": appErr.Message,
				"details": appErr.Details,
			})
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// Authorization: Bearer <token>
	if bearerToken := c.GetHeader("Authorization"); bearerToken != "" {
		parts := strings.SplitN(bearerToken, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	return ""
}

// GetSubject 从上下文获取令牌主体
func GetSubject(c *gin.Context) (string, bool) {
	if v, exists := c.Get(ContextSubject); exists {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// abortWithError 按错误码中止请求
func abortWithError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus(), gin.H{
		"code":    err.Code.String(),
		"message": err.Message,
		"details": err.Details,
	})
}
