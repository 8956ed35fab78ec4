package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// 版本信息，构建时通过 -ldflags 注入
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hopperd",
	Short: "投币入账与出币控制服务",
	Long: `hopperd 统计纸币器脉冲并入账，按请求驱动出币机电机出币，
通过 HTTP/WebSocket 提供余额、出币和日志查询。`,
	SilenceUsage: true,
	// 不带子命令时直接运行服务
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
