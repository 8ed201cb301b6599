package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"terminal-terrace/blob-service/config"
	"terminal-terrace/blob-service/internal/blobfs"
	"terminal-terrace/blob-service/internal/database"
	"terminal-terrace/blob-service/internal/janitor"
	"terminal-terrace/blob-service/pkg/logger"
)

var gcOpts struct {
	Grace time.Duration
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove temp files whose upload transaction no longer exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(configPath); err != nil {
			return err
		}
		conf := config.Conf
		// 内存存储在新进程里是空的，所有临时文件都会被当成孤儿
		if conf.TxStore.Driver == "memory" {
			return fmt.Errorf("txstore.driver 为 memory 时不能离线清理")
		}

		log, err := logger.New(conf.Log.Level, conf.Log.Format)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		zap.ReplaceGlobals(log)

		database.InitTxStoreBackend()
		defer database.Close()

		store, err := database.NewTxStore(conf.TxStore.Driver, database.TxStoreOptions(conf.Upload))
		if err != nil {
			return err
		}
		files, err := blobfs.New(afero.NewOsFs(), conf.Storage.Root, conf.Storage.HashWorkers)
		if err != nil {
			return err
		}

		grace := conf.Janitor.Grace
		if cmd.Flags().Changed("grace") {
			grace = gcOpts.Grace
		}
		n, err := janitor.New(store, files, nil, log, grace).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d temp file(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().DurationVar(&gcOpts.Grace, "grace", 0, "覆盖 janitor.grace，只删除早于该时长的文件")
}
