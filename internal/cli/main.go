// Package cli is the stockreel command line: build a video from narration
// and captions on the local machine, and inspect local run history.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func Main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "stockreel",
		Short:        "Cover narrated audio with stock footage",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.AddCommand(newBuildCommand(), newHistoryCommand(), newStylesCommand())
	return root
}

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a video from a narration track and its captions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			return runBuild(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.String("audio", "", "Narration audio file (required)")
	f.String("captions", "", "Caption file (.srt, .vtt or .json)")
	f.Bool("autocaptions", false, "Transcribe the narration instead of reading captions")
	f.String("out", "out.mp4", "Output video path")
	f.String("resolution", "", "Output size WIDTHxHEIGHT (default DEFAULT_RESOLUTION)")
	f.Int("fps", 0, "Output frame rate (default DEFAULT_FPS)")
	f.String("style", "", "Visual style: general, cinematic, nature or tech")
	f.String("title", "", "Video title, mixed into search queries")
	f.String("custom-queries", "", "YAML or JSON file mapping segment index to search query")
	f.Bool("no-music", false, "Disable background music")
	f.String("music", "", "Background music file or URL (default BACKGROUND_MUSIC_PATH)")
	f.Float64("music-gain", 0, "Background music gain in [0, 1] (default MUSIC_GAIN)")
	f.Float64("min-seg", 0, "Minimum segment length in seconds (default MIN_SEGMENT_SECONDS)")
	f.String("tmpdir", "", "Scratch directory (default TEMP_DIR)")
	f.String("manifest", "", "Also write a JSON manifest of the clips and audio")
	f.String("captions-out", "", "Write the segments used as a WebVTT file")
	f.String("history", "", "Record the run in a database, e.g. sqlite://runs.db")
	f.Bool("keep-temp", false, "Keep the scratch directory after the run")
	_ = cmd.MarkFlagRequired("audio")

	return cmd
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded with build --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, _ := cmd.Flags().GetString("db")
			limit, _ := cmd.Flags().GetInt("limit")
			return listHistory(cmd.Context(), cmd.OutOrStdout(), dsn, limit)
		},
	}
	cmd.Flags().String("db", "sqlite://runs.db", "History database")
	cmd.Flags().Int("limit", 20, "Number of runs to show")
	return cmd
}
