package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wfunc/coin-hopper/internal/config"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/utils"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发操作员令牌",
	Long:  `使用 security.jwt.secret 签发 HS256 令牌，出币接口凭此令牌调用。`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "令牌主体（操作员名）")
	tokenCmd.Flags().StringVar(&tokenRole, "role", utils.RoleOperator, "令牌角色")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "有效期，0 使用配置的 expire_hours")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	manager, err := newJWTManager(&cfg.Security.JWT)
	if err != nil {
		return err
	}
	if manager == nil {
		return apperrors.New(apperrors.ErrConfigMissing, "security.jwt.secret")
	}

	token, err := manager.GenerateToken(tokenSubject, tokenRole, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// newJWTManager 按配置创建令牌管理器，secret 为空时返回 nil（不鉴权）
func newJWTManager(cfg *config.JWTConfig) (*utils.JWTManager, error) {
	if cfg.Secret == "" {
		return nil, nil
	}
	if cfg.ExpireHours < 0 {
		return nil, apperrors.New(apperrors.ErrConfigValidate, "security.jwt.expire_hours must not be negative")
	}
	return utils.NewJWTManager(cfg.Secret, cfg.Issuer, time.Duration(cfg.ExpireHours)*time.Hour), nil
}
