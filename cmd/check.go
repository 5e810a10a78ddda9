package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cloudsum/cloudsum/internal/service"
)

var checkCmd = &cobra.Command{
	Use:   "check [path|s3://bucket/key|gs://bucket/key]...",
	Short: "Compare objects by their recorded checksums",
	Long: "Groups the inputs by proven equality: two objects are in the same " +
		"group when a common checksum kind matches. Exits 1 when any pair of " +
		"inputs provably differs.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		update, _ := cmd.Flags().GetBool("update")

		result, opStats, err := checkService.Check(context.Background(), args, service.CheckOptions{
			Update: update,
			Quiet:  quiet,
		})
		printStats(opStats)
		if err != nil {
			return err
		}

		if err := printJSON(result); err != nil {
			return err
		}
		return service.CheckError(result)
	},
}

func init() {
	checkCmd.Flags().Bool("update", false, "Merge records within each group and write them back to every member")
	rootCmd.AddCommand(checkCmd)
}
