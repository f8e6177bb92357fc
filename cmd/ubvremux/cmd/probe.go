package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cambrix/ubvremux/internal/driver"
	"github.com/cambrix/ubvremux/internal/ubvanalysis"
	"github.com/cambrix/ubvremux/internal/ubvpartition"
	"github.com/cambrix/ubvremux/internal/ubvprobe"
)

var probeVideoTrack uint16

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print codec parameters for a .ubv recording's first partition",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().Uint16Var(&probeVideoTrack, "video-track", 0, "0 = auto-detect; otherwise an explicit track id")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(_ *cobra.Command, args []string) error {
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	partitions, err := ubvpartition.ParseUBV(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("%s: no partitions found", path)
	}

	videoTrackID := probeVideoTrack
	if videoTrackID == 0 {
		videoTrackID, err = driver.DetectVideoTrack(partitions)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	analysed, err := ubvanalysis.Analyse(partitions[0], videoTrackID, true)
	if err != nil {
		return fmt.Errorf("analysing %s: %w", path, err)
	}

	printVideoProbe(path, videoTrackID, analysed)
	printAudioProbe(path, analysed)
	return nil
}

func printVideoProbe(path string, videoTrackID uint16, a *ubvanalysis.AnalysedPartition) {
	if a.Video == nil || len(a.VideoFrames) == 0 {
		fmt.Println("video: none")
		return
	}
	p, err := ubvprobe.ProbeVideo(path, videoTrackID, a.VideoFrames)
	if err != nil {
		fmt.Printf("video: probe failed: %v\n", err)
		return
	}
	fmt.Printf("video: codec=%s %dx%d frames=%d fps=%d\n", p.CodecTag, p.Width, p.Height, a.Video.FrameCount, a.Video.NominalFPS)
}

func printAudioProbe(path string, a *ubvanalysis.AnalysedPartition) {
	if a.Audio == nil || len(a.AudioFrames) == 0 {
		fmt.Println("audio: none")
		return
	}
	p, err := ubvprobe.ProbeAudio(path, a.Audio.TrackID, a.Audio.ClockRate, a.AudioFrames)
	if err != nil {
		fmt.Printf("audio: probe failed: %v\n", err)
		return
	}
	fmt.Printf("audio: codec=%s rate=%d channels=%d frames=%d\n", p.CodecTag, p.SampleRate, p.ChannelCount, a.Audio.FrameCount)
}
