package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "版本: %s\n", Version)
		fmt.Fprintf(out, "构建时间: %s\n", BuildTime)
		fmt.Fprintf(out, "Git提交: %s\n", GitCommit)
		fmt.Fprintf(out, "Go版本: %s\n", runtime.Version())
		fmt.Fprintf(out, "操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
