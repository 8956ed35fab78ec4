package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
)

// JWTTestSuite JWT工具测试套件
type JWTTestSuite struct {
	suite.Suite
	manager *JWTManager
}

func (suite *JWTTestSuite) SetupTest() {
	suite.manager = NewJWTManager("test-secret-key", "coin-hopper", time.Hour)
}

// 测试默认有效期
func (suite *JWTTestSuite) TestNewJWTManager() {
	suite.Equal(time.Hour, suite.manager.Expiry())
	suite.Equal(24*time.Hour, NewJWTManager("s", "", 0).Expiry())
}

// 测试生成并验证令牌
func (suite *JWTTestSuite) TestGenerateAndValidate() {
	token, err := suite.manager.GenerateToken("cashier-1", RoleOperator, 0)
	suite.Require().NoError(err)
	suite.NotEmpty(token)

	claims, err := suite.manager.ValidateToken(token)
	suite.Require().NoError(err)
	suite.Equal("cashier-1", claims.Subject)
	suite.Equal(RoleOperator, claims.Role)
	suite.Equal("coin-hopper", claims.Issuer)
	suite.WithinDuration(time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

// 测试过期令牌
func (suite *JWTTestSuite) TestExpiredToken() {
	claims := &JWTClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    "coin-hopper",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateToken(token)
	suite.True(apperrors.Is(err, apperrors.ErrTokenExpired), "got %v", err)
}

// 测试无效令牌
func (suite *JWTTestSuite) TestInvalidTokens() {
	_, err := suite.manager.ValidateToken("not.a.token")
	suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))

	// 密钥不同
	other := NewJWTManager("other-secret", "coin-hopper", time.Hour)
	token, _ := other.GenerateToken("x", RoleOperator, 0)
	_, err = suite.manager.ValidateToken(token)
	suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))

	// 签发者不同
	foreign := NewJWTManager("test-secret-key", "someone-else", time.Hour)
	token, _ = foreign.GenerateToken("x", RoleOperator, 0)
	_, err = suite.manager.ValidateToken(token)
	suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))

	// 篡改签名
	token, _ = suite.manager.GenerateToken("x", RoleOperator, 0)
	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	_, err = suite.manager.ValidateToken(strings.Join(parts, "."))
	suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))
}

// 测试拒绝非 HS256 算法
func (suite *JWTTestSuite) TestRejectsNoneAlgorithm() {
	claims := &JWTClaims{Role: RoleOperator, RegisteredClaims: jwt.RegisteredClaims{Issuer: "coin-hopper"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateToken(token)
	suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
