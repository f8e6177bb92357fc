package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cambrix/ubvremux/internal/config"
	"github.com/cambrix/ubvremux/internal/driver"
	"github.com/cambrix/ubvremux/pkg/bytesize"
)

var (
	flagWithAudio    bool
	flagWithVideo    bool
	flagForceRate    int
	flagFastStart    bool
	flagOutputFolder string
	flagVideoTrack   uint16
	flagBaseName     string
	flagWorkers      int
	flagFailFast     bool
)

// remuxCmd is also the action run when ubvremux is invoked with file
// arguments and no subcommand (§ambient-stack "remux (default)").
var remuxCmd = &cobra.Command{
	Use:   "remux <file>...",
	Short: "Remux .ubv recordings into MP4 files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemux,
}

func init() {
	addRemuxFlags(remuxCmd.Flags())
	bindRemuxFlags(remuxCmd.Flags())
	rootCmd.AddCommand(remuxCmd)

	addRemuxFlags(rootCmd.Flags())
	bindRemuxFlags(rootCmd.Flags())
	rootCmd.Args = cobra.ArbitraryArgs
	rootCmd.RunE = func(c *cobra.Command, args []string) error {
		if len(args) == 0 {
			return c.Help()
		}
		return runRemux(c, args)
	}
}

func addRemuxFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&flagWithAudio, "with-audio", true, "include audio stream(s)")
	fs.BoolVar(&flagWithVideo, "with-video", true, "include the video stream")
	fs.IntVar(&flagForceRate, "force-rate", 0, "0 = variable framerate; otherwise constant framerate at this fps")
	fs.BoolVar(&flagFastStart, "fast-start", false, "emit faststart layout (moov before mdat)")
	fs.StringVar(&flagOutputFolder, "output-folder", "./", "output directory, or \"SRC-FOLDER\" for \"next to the input\"")
	fs.Uint16Var(&flagVideoTrack, "video-track", 0, "0 = auto-detect; otherwise an explicit track id")
	fs.StringVar(&flagBaseName, "base-name", "", "override the derived output base name")
	fs.IntVar(&flagWorkers, "workers", 0, "files processed concurrently; 0 = auto (host CPU count, capped at 8)")
	fs.BoolVar(&flagFailFast, "fail-fast", false, "abort the whole run on the first file-level error")
}

func bindRemuxFlags(fs *pflag.FlagSet) {
	mustBindPFlag("remux.with_audio", fs.Lookup("with-audio"))
	mustBindPFlag("remux.with_video", fs.Lookup("with-video"))
	mustBindPFlag("remux.force_rate", fs.Lookup("force-rate"))
	mustBindPFlag("remux.fast_start", fs.Lookup("fast-start"))
	mustBindPFlag("remux.output_folder", fs.Lookup("output-folder"))
	mustBindPFlag("remux.video_track", fs.Lookup("video-track"))
	mustBindPFlag("remux.base_name", fs.Lookup("base-name"))
	mustBindPFlag("runtime.workers", fs.Lookup("workers"))
	mustBindPFlag("runtime.fail_fast", fs.Lookup("fail-fast"))
}

func runRemux(_ *cobra.Command, args []string) error {
	return runDriver(args, true)
}

// runDriver loads configuration, forces MP4 mode on or off, and drives
// every input path through the file driver, logging each progress event
// as it arrives.
func runDriver(paths []string, mp4 bool) error {
	viper.Set("remux.mp4", mp4)
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var failed bool
	onEvent := func(e driver.Event) {
		logEvent(e, &failed)
	}

	if err := driver.ProcessFiles(ctx, paths, cfg, onEvent); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("one or more files completed with errors")
	}
	return nil
}

func logEvent(e driver.Event, failed *bool) {
	logger := slog.Default()
	switch ev := e.(type) {
	case driver.LogEvent:
		switch ev.Severity {
		case "warn":
			logger.Warn(ev.Message)
		case "error":
			logger.Error(ev.Message)
		default:
			logger.Info(ev.Message)
		}
	case driver.FileStartedEvent:
		logger.Info("file started", slog.String("path", ev.Path))
	case driver.PartitionsFoundEvent:
		logger.Info("partitions found", slog.Int("count", ev.Count))
	case driver.PartitionStartedEvent:
		logger.Info("partition started", slog.Int("index", ev.Index), slog.Int("total", ev.Total))
	case driver.OutputGeneratedEvent:
		logger.Info("output generated", slog.String("path", ev.Path), slog.String("size", bytesize.Format(bytesize.Size(ev.Size))))
	case driver.PartitionErrorEvent:
		*failed = true
		logger.Error("partition failed", slog.Int("index", ev.Index), slog.String("error", ev.Message))
	case driver.FileCompletedEvent:
		if len(ev.Errors) > 0 {
			*failed = true
		}
		logger.Info("file completed",
			slog.String("path", ev.Path),
			slog.Int("outputs", len(ev.Outputs)),
			slog.Int("errors", len(ev.Errors)))
	}
}
