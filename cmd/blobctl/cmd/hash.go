package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"terminal-terrace/blob-service/internal/digest"
)

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the content hash and size an upload of the file must declare",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range args {
			sum, size, err := hashFile(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %d  %s\n", sum, size, p)
		}
		return nil
	},
}

func hashFile(p string) (digest.Hash, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return digest.Hash{}, 0, err
	}
	defer f.Close()

	h := digest.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return digest.Hash{}, 0, fmt.Errorf("读取 %s 失败: %w", p, err)
	}
	return digest.FromHasher(h), n, nil
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
