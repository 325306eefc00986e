// Command particles runs the particle simulator headless and reports how the
// particle buffer grew.
//
// Usage:
//
//	particles [-config run.toml] [-backend software] [-frames 120] [-spawn 500]
//	          [-bursts 4] [-variant attractor|gravity] [-integrator gpu|cpu]
//	          [-snapshot out.png] [-scale 2] [-profile cpu|mem] [-v]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/particles"
	"github.com/gogpu/particles/internal/physics"
)

func main() {
	cfg, cli, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("particles: %v", err)
	}

	level := slog.LevelWarn
	if cli.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	particles.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runProfiled(ctx, cfg, cli.profile, os.Stdout); err != nil {
		stop()
		log.Fatalf("particles: %v", err)
	}
}

func runProfiled(ctx context.Context, cfg config, mode string, out io.Writer) error {
	switch mode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("unknown profile mode %q", mode)
	}
	return run(ctx, cfg, out)
}

// report summarizes a finished run.
type report struct {
	backend    string
	integrator string
	frames     int
	particles  uint32
	capacity   uint32
	grows      uint64
	elapsed    time.Duration
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	dev, err := openBackend(newBackendRegistry(), cfg.Backend)
	if err != nil {
		return err
	}
	defer dev.Close()

	sim, err := particles.NewSimulation(dev.device, dev.queue,
		particles.WithInitialCapacity(uint32(cfg.Capacity)),
		particles.WithFenceTimeout(cfg.Timeout.Duration),
		particles.WithMemoryBudget(cfg.MemoryMB<<20),
	)
	if err != nil {
		return err
	}
	defer sim.Close()

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	params := cfg.stepParams()
	schedule := burstSchedule(cfg.Frames, cfg.Bursts)
	cpu := cfg.Integrator == integratorCPU

	// The CPU integrator keeps its own copy; the device buffer still
	// receives every burst.
	var host []particles.Particle

	start := time.Now()
	for frame := range cfg.Frames {
		for range schedule[frame] {
			burst := spawnBurst(rng, cfg.Spawn)
			if err := sim.SpawnParticles(ctx, burst); err != nil {
				return fmt.Errorf("frame %d: spawn: %w", frame, err)
			}
			if cpu {
				host = append(host, burst...)
			}
		}
		if cpu {
			err = physics.StepParallel(ctx, host, params, 0)
		} else {
			err = sim.Step(ctx, params)
		}
		if err != nil {
			return fmt.Errorf("frame %d: step: %w", frame, err)
		}
	}
	elapsed := time.Since(start)

	if cfg.Snapshot != "" {
		if !cpu {
			if host, err = sim.Snapshot(ctx); err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
		}
		if err := writeSnapshot(cfg.Snapshot, host, cfg); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}

	printReport(out, report{
		backend:    dev.name,
		integrator: cfg.Integrator,
		frames:     cfg.Frames,
		particles:  sim.Len(),
		capacity:   sim.Cap(),
		grows:      sim.Generation(),
		elapsed:    elapsed,
	})
	return nil
}

func printReport(out io.Writer, r report) {
	p := message.NewPrinter(language.English)
	p.Fprintf(out, "%s/%s: %d particles (capacity %d, %d grows) over %d frames in %v\n",
		r.backend, r.integrator, r.particles, r.capacity, r.grows, r.frames, r.elapsed.Round(time.Millisecond))
}
