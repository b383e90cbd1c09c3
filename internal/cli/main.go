package cli

import (
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		writeError(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ytdub --vtt <track.vtt> --video <in.mp4> --voice <voice>",
		Short:        "Re-dub a subtitled video with synthesized narration",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}
	root.SilenceErrors = true

	f := root.Flags()
	f.String("vtt", "", "WebVTT caption track")
	f.String("video", "", "Source video")
	f.String("voice", "", "Voice selector passed to the speech engine")
	f.StringP("output", "o", "output.mp4", "Output video")
	f.String("config", "", "TOML config file (default ./"+defaultConfigName+" if present)")
	f.String("engine", "", "Speech engine: edge-tts or openai")
	f.String("subtitles-out", "", "Also write the reconciled captions as WebVTT")
	f.String("manifest", "", "Also write a JSON manifest of the run")
	f.Bool("burn-subtitles", false, "Burn the reconciled captions into the picture")
	f.String("work-dir", "", "Base directory for run workspaces")
	f.Int("synth-workers", 0, "Concurrent synthesis calls")
	f.Int("encode-workers", 0, "Concurrent segment encodes")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "console or json")
	_ = root.MarkFlagRequired("vtt")
	_ = root.MarkFlagRequired("video")

	// Hidden tuning flag (internal)
	f.Int("sample-rate", 0, "Narration sample rate in Hz")
	_ = f.MarkHidden("sample-rate")

	return root
}
