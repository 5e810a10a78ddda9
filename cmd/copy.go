package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cloudsum/cloudsum/internal/checksum"
	"github.com/cloudsum/cloudsum/internal/service"
)

var copyCmd = &cobra.Command{
	Use:   "copy [source] [destination]",
	Short: "Copy an object with checksum verification",
	Long: "Copies one object between stores, reusing the source's multipart " +
		"layout where the destination allows it, and verifies the result by " +
		"resolving the source and destination checksums. A destination that " +
		"already matches the source is skipped.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, dest := args[0], args[1]

		checksumList, _ := cmd.Flags().GetString("checksum")
		tagModeStr, _ := cmd.Flags().GetString("tag-mode")
		partSize, _ := cmd.Flags().GetInt64("part-size")
		noSkip, _ := cmd.Flags().GetBool("no-skip")
		noCheck, _ := cmd.Flags().GetBool("no-check")
		writeSums, _ := cmd.Flags().GetBool("write-sums")

		kinds, err := checksum.ParseKinds(checksumList)
		if err != nil {
			return err
		}
		tagMode, err := service.ParseTagMode(tagModeStr)
		if err != nil {
			return err
		}

		result, opStats, err := copyService.Copy(context.Background(), source, dest, service.CopyOptions{
			Kinds:     kinds,
			TagMode:   tagMode,
			PartSize:  partSize,
			NoSkip:    noSkip,
			NoCheck:   noCheck,
			WriteSums: writeSums,
			Quiet:     quiet,
		})
		printStats(opStats)
		if err != nil {
			return err
		}

		return printJSON(result)
	},
}

func init() {
	copyCmd.Flags().String("checksum", "", "Extra checksums to compute while streaming (e.g. sha256)")
	copyCmd.Flags().String("tag-mode", string(service.TagSuppress), "Tag handling: suppress, best-effort or copy")
	copyCmd.Flags().Int64("part-size", 0, "Override the multipart part size in bytes")
	copyCmd.Flags().Bool("no-skip", false, "Copy even when the destination already matches the source")
	copyCmd.Flags().Bool("no-check", false, "Skip the verification pass after the transfer")
	copyCmd.Flags().Bool("write-sums", true, "Write the merged record to the destination's sums file")
	rootCmd.AddCommand(copyCmd)
}
