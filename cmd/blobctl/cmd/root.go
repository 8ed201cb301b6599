// Package cmd blobctl 运维工具的子命令
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "blobctl",
	Short: "Operator tool for the blob service",
	Long: `blobctl works directly against the blob service's storage.

It computes content hashes the same way upload clients must, previews
ownership challenges, and removes temp files left by expired uploads.`,
	SilenceUsage: true,
}

// Execute 入口，错误时以非零状态退出
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")
}
