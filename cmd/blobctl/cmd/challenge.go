package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"terminal-terrace/blob-service/internal/sampler"
	"terminal-terrace/blob-service/internal/upload"
)

var challengeOpts struct {
	Size        uint64
	Seed        uint64
	SampleCount uint64
	SampleSize  uint64
}

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Print the verify ranges drawn for a blob of the given size",
	Long: `Print the ranges an ownership challenge would ask for.

The server seeds its generator from crypto/rand; --seed makes the output
reproducible for debugging clients.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rng := sampler.NewRand()
		if cmd.Flags().Changed("seed") {
			rng = sampler.NewSeededRand(challengeOpts.Seed)
		}
		ranges := sampler.GenerateChallengeRanges(rng, challengeOpts.Size, challengeOpts.SampleCount, challengeOpts.SampleSize)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Ranges      []sampler.VerifyRange `json:"ranges"`
			TotalLength uint64                `json:"totalLength"`
		}{ranges, sampler.TotalLength(ranges)})
	},
}

func init() {
	rootCmd.AddCommand(challengeCmd)

	defaults := upload.DefaultConfig()
	fls := challengeCmd.Flags()
	fls.Uint64Var(&challengeOpts.Size, "size", 0, "blob 大小（字节）")
	fls.Uint64Var(&challengeOpts.Seed, "seed", 0, "随机种子")
	fls.Uint64Var(&challengeOpts.SampleCount, "count", defaults.SampleCount, "区间个数")
	fls.Uint64Var(&challengeOpts.SampleSize, "sample-size", defaults.SampleSize, "每个区间的字节数")
	_ = challengeCmd.MarkFlagRequired("size")
}
