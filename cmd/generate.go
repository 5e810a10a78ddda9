package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/cloudsum/cloudsum/internal/checksum"
	"github.com/cloudsum/cloudsum/internal/service"
	"github.com/cloudsum/cloudsum/internal/stats"
)

var generateCmd = &cobra.Command{
	Use:   "generate [path|s3://bucket/key|gs://bucket/key|-]...",
	Short: "Compute checksums and record them in sums files",
	Long: "Computes the requested checksums for each input object and merges " +
		"them into the object's sums file. Local inputs may be glob patterns; " +
		"\"-\" reads from stdin and prints the record without saving it.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checksumList, _ := cmd.Flags().GetString("checksum")
		missing, _ := cmd.Flags().GetBool("missing")
		verify, _ := cmd.Flags().GetBool("verify")
		forceOverwrite, _ := cmd.Flags().GetBool("force-overwrite")

		// An explicit 0s timeout expires immediately, so unset and zero
		// must stay distinguishable.
		var partialTimeout *time.Duration
		if cmd.Flags().Changed("partial-timeout") {
			d, _ := cmd.Flags().GetDuration("partial-timeout")
			partialTimeout = &d
		}

		kinds, err := checksum.ParseKinds(checksumList)
		if err != nil {
			return err
		}

		inputs, err := expandInputs(args)
		if err != nil {
			return err
		}

		records, opStats, err := generateService.Generate(context.Background(), inputs, service.GenerateOptions{
			Kinds:          kinds,
			Missing:        missing,
			Verify:         verify,
			ForceOverwrite: forceOverwrite,
			PartialTimeout: partialTimeout,
			Quiet:          quiet,
		})
		printStats(opStats)
		if err != nil {
			return err
		}

		return printJSON(records)
	},
}

// expandInputs resolves local glob patterns. Cloud locations and plain
// paths pass through untouched.
func expandInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		if arg == "-" || strings.Contains(arg, "://") || !hasGlobMeta(arg) {
			inputs = append(inputs, arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern %q matched no files", arg)
		}
		for _, match := range matches {
			if strings.HasSuffix(match, ".sums") {
				continue
			}
			inputs = append(inputs, match)
		}
	}
	return inputs, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func printJSON(v interface{}) error {
	var data []byte
	var err error
	if prettyJSON {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printStats(opStats *stats.OperationStats) {
	if !showStats || opStats == nil {
		return
	}
	data, err := opStats.MarshalIndentJSON(prettyJSON)
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stderr, string(data))
}

func init() {
	generateCmd.Flags().String("checksum", "md5", "Comma-separated checksums to compute (e.g. md5,sha256,md5-aws-8mib)")
	generateCmd.Flags().Bool("missing", false, "Compute only the checksums that make the inputs comparable")
	generateCmd.Flags().Bool("verify", false, "Recompute checksums already present in the sums file")
	generateCmd.Flags().Bool("force-overwrite", false, "Replace the sums file instead of merging into it")
	generateCmd.Flags().Duration("partial-timeout", time.Duration(0), "Best-effort time limit; expiring yields a partial, unsaved record")
	rootCmd.AddCommand(generateCmd)
}
