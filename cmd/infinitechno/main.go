package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/infinitechno/internal/api"
	"github.com/satindergrewal/infinitechno/internal/config"
	"github.com/satindergrewal/infinitechno/internal/device"
	"github.com/satindergrewal/infinitechno/internal/engine"
	"github.com/satindergrewal/infinitechno/internal/music"
	"github.com/satindergrewal/infinitechno/internal/recorder"
	"github.com/satindergrewal/infinitechno/internal/reference"
	"github.com/satindergrewal/infinitechno/internal/stream"
	"github.com/satindergrewal/infinitechno/internal/ui"
	"github.com/satindergrewal/infinitechno/internal/viz"
)

var (
	cfg         = config.Load()
	recordStart bool
	statusEvery time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "infinitechno: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "infinitechno",
	Short: "Endless generative techno built from reference MIDI loops",
	Long: `infinitechno analyzes a folder of MIDI files, cuts them into loop
fragments per role (bass, melody, pad, arp) and streams an endless
arrangement of them over a synthesized drum bed.

Examples:
  infinitechno --reference ./midi
  infinitechno run -d ./midi --bpm 132 --key "F minor" --record
  infinitechno run --headless --device null --port 8080
  infinitechno analyze ./midi`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runEngine,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream to the audio device (default)",
	RunE:  runEngine,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [dir]",
	Short: "Print the fragments found in a reference folder",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&cfg.ReferenceDir, "reference", "d", cfg.ReferenceDir, "Folder of reference MIDI files")
	f.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Folder for recordings")
	f.StringVar(&cfg.RecordPrefix, "prefix", cfg.RecordPrefix, "Recording file name prefix")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file while the terminal UI is shown")
	f.StringVar(&cfg.Device, "device", cfg.Device, "Audio output: speaker or null")
	f.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Output sample rate in Hz")
	f.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "Frames per audio block")
	f.IntVar(&cfg.DeviceQueue, "queue", cfg.DeviceQueue, "Blocks queued ahead of the device")
	f.Float64Var(&cfg.BPM, "bpm", cfg.BPM, "Tempo")
	f.StringVar(&cfg.Key, "key", cfg.Key, `Global key, e.g. "A minor"`)
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed (0 picks one)")
	f.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for streams and API (0 disables)")
	f.StringVar(&cfg.VizMode, "viz", cfg.VizMode, "Visualization detail: full or reduced")
	f.BoolVar(&cfg.Headless, "headless", cfg.Headless, "No terminal UI, log to stderr")

	runFlags := func(c *cobra.Command) {
		c.Flags().BoolVar(&recordStart, "record", false, "Start recording immediately")
		c.Flags().DurationVar(&statusEvery, "status-every", 30*time.Second, "Headless status log interval (0 disables)")
	}
	runFlags(rootCmd)
	runFlags(runCmd)

	rootCmd.AddCommand(runCmd, analyzeCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if !cfg.Headless {
		logFile, err := tea.LogToFile(cfg.LogFile, "infinitechno")
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Println("infinitechno starting up...")

	lib, err := reference.NewAnalyzer().AnalyzeDir(cfg.ReferenceDir)
	if err != nil {
		return err
	}
	if lib.Pool.Total() == 0 {
		log.Printf("No usable fragments in %s, playing drums only", cfg.ReferenceDir)
	}

	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	dev, err := device.Open(cfg.Device, cfg.SampleRate, cfg.BlockSize, cfg.DeviceQueue, cfg.UnderrunLimit)
	if err != nil {
		return err
	}

	rec := recorder.New(cfg.OutputDir, cfg.RecordPrefix, cfg.SampleRate)
	feed := &viz.Feed{}
	eng := engine.New(opts, lib.Pool, dev, rec, feed)
	if recordStart {
		eng.ToggleRecording()
	}

	if cfg.Port > 0 {
		startServer(ctx, eng, feed)
	}

	errc := make(chan error, 1)
	go func() {
		err := eng.Run(ctx)
		cancel()
		errc <- err
	}()

	if cfg.Headless {
		go logStatus(ctx, eng, statusEvery)
		// plays until a signal arrives or the engine stops
		<-ctx.Done()
	} else if err := ui.Run(ctx, eng, feed); err != nil {
		log.Printf("UI error: %v", err)
	}
	cancel()

	if err := <-errc; err != nil {
		return err
	}
	log.Println("infinitechno stopped")
	return nil
}

// startServer mounts the audio streams and the API on cfg.Port.
func startServer(ctx context.Context, eng *engine.Engine, feed *viz.Feed) {
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, eng.Frames())

	streams := api.Streams{HTTP: stream.NewHTTPHandler(broadcaster, cfg.SampleRate)}
	var webrtcHandler *stream.WebRTCHandler
	if h, err := stream.NewWebRTCHandler(broadcaster, cfg.SampleRate); err != nil {
		log.Printf("WebRTC disabled: %v", err)
	} else {
		webrtcHandler = h
		streams.WebRTC = h
	}

	listeners := func() (int, int) {
		peers := 0
		if webrtcHandler != nil {
			peers = webrtcHandler.PeerCount()
		}
		return broadcaster.ListenerCount(), peers
	}

	srv := api.New(eng, feed, streams, listeners)
	go func() {
		if err := srv.Run(ctx, cfg.Port); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()
}

func logStatus(ctx context.Context, eng *engine.Engine, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := eng.Snapshot()
			roles := make([]string, 0, len(s.Patterns))
			for _, p := range s.Patterns {
				roles = append(roles, p.Role)
			}
			rec := ""
			if s.Recording.Recording {
				rec = fmt.Sprintf(", recording %.0fs", s.Recording.Seconds)
			}
			log.Printf("Status: bar %d %s [%s] fx %s%s",
				s.Bar, s.Section.Kind, strings.Join(roles, " "), s.Preset, rec)
		}
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	dir := cfg.ReferenceDir
	if len(args) == 1 {
		dir = args[0]
	}
	lib, err := reference.NewAnalyzer().AnalyzeDir(dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d files, %d fragments, %d skipped\n\n", lib.Files, lib.Pool.Total(), len(lib.Skipped))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tFRAGMENT\tBARS\tKEY\tBPM\tNOTES\tDENSITY")
	for _, role := range music.Roles {
		for _, f := range lib.Pool[role] {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.0f\t%d\t%.2f\n",
				role, f.ID, f.Bars, f.KeyName(), f.BPM, len(f.Events), f.Density)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, err := range lib.Skipped {
		fmt.Fprintf(out, "skipped: %v\n", err)
	}
	return nil
}
