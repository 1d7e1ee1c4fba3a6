// Command transcoderd is a thin CLI wrapper around the orchestrator core:
// it exercises the queue, worker pool, encoder driver, and progress bus
// end to end, but the CLI surface itself is external wrapper code, not
// part of the core's own test surface (§6).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/transcoder/internal/bus"
	"github.com/gwlsn/transcoder/internal/bwf"
	"github.com/gwlsn/transcoder/internal/config"
	"github.com/gwlsn/transcoder/internal/encoder"
	"github.com/gwlsn/transcoder/internal/history"
	"github.com/gwlsn/transcoder/internal/job"
	"github.com/gwlsn/transcoder/internal/logger"
	"github.com/gwlsn/transcoder/internal/platform"
	"github.com/gwlsn/transcoder/internal/queue"
	"github.com/gwlsn/transcoder/internal/worker"
)

// presets is the named codec-preset catalog the CLI exposes. Preset
// catalogs are out of the core's scope (§1 Non-goals); this map is the
// external wrapper's own concern, same as the original's CLI shape.
var presets = map[string]config.TranscodeConfig{
	"prores-hq": {
		VideoCodec:      config.VideoProResKS,
		AudioCodec:      config.AudioPCM24,
		Container:       config.ContainerMOV,
		ProResProfile:   config.ProResHQ,
		AudioSampleRate: 48000,
		HWAccel:         true,
		MapAllAudio:     true,
	},
	"prores-proxy": {
		VideoCodec:      config.VideoProResKS,
		AudioCodec:      config.AudioPCM16,
		Container:       config.ContainerMOV,
		ProResProfile:   config.ProResProxy,
		AudioSampleRate: 48000,
		HWAccel:         true,
		MapAllAudio:     true,
	},
	"dnxhr-sq": {
		VideoCodec:      config.VideoDNxHR,
		AudioCodec:      config.AudioPCM24,
		Container:       config.ContainerMXF,
		DnxhrProfile:    config.DnxhrSQ,
		AudioSampleRate: 48000,
		MapAllAudio:     true,
	},
	"h264-review": {
		VideoCodec:      config.VideoH264,
		AudioCodec:      config.AudioAAC,
		Container:       config.ContainerMP4,
		VideoBitrate:    "8M",
		AudioBitrate:    "192k",
		AudioSampleRate: 48000,
		HWAccel:         true,
	},
	"bwf-extract": {
		Kind:          "bwf_extraction",
		BWFSampleRate: 48000,
	},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	configPath := os.Getenv("TRANSCODER_CONFIG")
	if configPath == "" {
		configPath = "config/transcoder.yaml"
	}

	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcoderd: loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	switch os.Args[1] {
	case "transcode":
		runTranscode(cfg, os.Args[2:])
	case "presets":
		runPresets()
	case "verify":
		runVerify(cfg)
	case "info":
		runInfo(cfg)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: transcoderd <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  transcode --input P --output P --preset NAME [--workers N]")
	fmt.Fprintln(os.Stderr, "  presets")
	fmt.Fprintln(os.Stderr, "  verify")
	fmt.Fprintln(os.Stderr, "  info")
}

func runPresets() {
	for name := range presets {
		fmt.Println(name)
	}
}

// runVerify checks that the configured external tools are reachable,
// exiting non-zero if any required tool is missing (§6: "Exit code 0 on
// success, non-zero on error").
func runVerify(cfg *config.AppConfig) {
	tools := platform.NewTools()
	failed := false

	for _, t := range []struct {
		name string
		path string
	}{
		{"ffmpeg", cfg.FFmpegPath},
		{"ffprobe", cfg.FFprobePath},
		{"bmxtranswrap", cfg.BmxTranswrapPath},
	} {
		resolved, err := tools.Find(t.name, t.path)
		if err != nil {
			fmt.Printf("  %-14s MISSING (%v)\n", t.name, err)
			failed = true
			continue
		}
		fmt.Printf("  %-14s %s\n", t.name, resolved)
	}

	if failed {
		os.Exit(1)
	}
}

func runInfo(cfg *config.AppConfig) {
	fmt.Printf("workers:         %d\n", resolvedWorkerCount(cfg))
	fmt.Printf("default hwaccel: %s\n", platform.DefaultHWAccel())
	fmt.Printf("history db:      %s\n", cfg.HistoryDBPath)
	fmt.Printf("bwf sample rate: %d\n", cfg.BWFSampleRate)
}

func resolvedWorkerCount(cfg *config.AppConfig) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	return platform.WorkerCount()
}

func runTranscode(cfg *config.AppConfig, args []string) {
	fs := flag.NewFlagSet("transcode", flag.ExitOnError)
	input := fs.String("input", "", "input media path")
	output := fs.String("output", "", "output media path")
	presetName := fs.String("preset", "prores-hq", "codec preset name (see `presets`)")
	workers := fs.Int("workers", 0, "worker pool size (0 = use config/platform default)")
	fs.Parse(args)

	if *input == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "transcoderd: --input and --output are required")
		os.Exit(2)
	}

	preset, ok := presets[*presetName]
	if !ok {
		fmt.Fprintf(os.Stderr, "transcoderd: unknown preset %q (see `transcoderd presets`)\n", *presetName)
		os.Exit(2)
	}

	tools := platform.NewTools()
	ffmpegPath, err := tools.Find("ffmpeg", cfg.FFmpegPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcoderd: %v\n", err)
		os.Exit(1)
	}
	ffprobePath, err := tools.Find("ffprobe", cfg.FFprobePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcoderd: %v\n", err)
		os.Exit(1)
	}
	if _, err := tools.Find("bmxtranswrap", cfg.BmxTranswrapPath); err != nil {
		logger.Warn("bmxtranswrap not found; MXF rewrap unavailable", "error", err)
	}

	q := queue.New()
	b := bus.New(cfg.ProgressBusCapacity)

	prober := encoder.NewProber(ffprobePath)
	transcoder := encoder.NewTranscoder(ffmpegPath, prober)
	extractor := bwf.NewExtractor(ffmpegPath, ffprobePath, "")

	var recorder worker.HistoryRecorder
	if cfg.HistoryDBPath != "" {
		store, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			logger.Warn("history store unavailable", "error", err)
		} else {
			defer store.Close()
			recorder = store
		}
	}

	workerCount := *workers
	if workerCount <= 0 {
		workerCount = resolvedWorkerCount(cfg)
	}

	pool := worker.New(q, b, transcoder, extractor, recorder, cfg.BWFSampleRate, workerCount)

	configJSON, err := json.Marshal(preset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcoderd: encoding preset: %v\n", err)
		os.Exit(1)
	}

	j := job.New(*input, *output, configJSON, job.Normal)
	if err := q.AddJob(j); err != nil {
		fmt.Fprintf(os.Stderr, "transcoderd: %v\n", err)
		os.Exit(1)
	}

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	if err := pool.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "transcoderd: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ntranscoderd: cancelling...")
		_ = pool.CancelJob(j.ID)
	}()

	exitCode := watchJob(sub, j.ID)
	_ = pool.Stop()
	os.Exit(exitCode)
}

func watchJob(sub *bus.Subscription, jobID uuid.UUID) int {
	for ev := range sub.Events {
		if ev.JobID != jobID {
			continue
		}
		switch ev.Kind {
		case bus.JobProgress:
			if ev.FPS != nil {
				fmt.Printf("\r  %5.1f%%  %.1f fps", ev.Progress, *ev.FPS)
			} else {
				fmt.Printf("\r  %5.1f%%", ev.Progress)
			}
		case bus.JobCompleted:
			fmt.Printf("\r  100.0%%  done in %s\n", time.Duration(ev.DurationSeconds)*time.Second)
			return 0
		case bus.JobFailed:
			fmt.Printf("\n  failed: %s\n", ev.Error)
			return 1
		case bus.JobCancelled:
			fmt.Println("\n  cancelled")
			return 1
		}
	}
	return 1
}
