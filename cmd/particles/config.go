package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/particles"
)

// Integration step variants.
const (
	variantAttractor = "attractor"
	variantGravity   = "gravity"
)

// Integrators.
const (
	integratorGPU = "gpu"
	integratorCPU = "cpu"
)

// config is the run configuration. It is read from an optional TOML file
// and then overridden by any flag given on the command line.
type config struct {
	Backend    string     `toml:"backend"`
	Frames     int        `toml:"frames"`
	Spawn      int        `toml:"spawn"`
	Bursts     int        `toml:"bursts"`
	DT         float32    `toml:"dt"`
	Variant    string     `toml:"variant"`
	Integrator string     `toml:"integrator"`
	Attractor  [2]float32 `toml:"attractor"`
	Strength   float32    `toml:"strength"`
	Gravity    [2]float32 `toml:"gravity"`
	Timeout    duration   `toml:"timeout"`
	Capacity   int        `toml:"capacity"`
	MemoryMB   uint64     `toml:"memory_mb"`
	Seed       uint64     `toml:"seed"`
	Snapshot   string     `toml:"snapshot"`
	Scale      int        `toml:"scale"`
	Width      int        `toml:"width"`
	Height     int        `toml:"height"`
}

func defaultConfig() config {
	return config{
		Frames:     120,
		Spawn:      500,
		Bursts:     4,
		DT:         1.0 / 60,
		Variant:    variantAttractor,
		Integrator: integratorGPU,
		Strength:   0.5,
		Gravity:    [2]float32{0, -1},
		Timeout:    duration{5 * time.Second},
		Capacity:   1024,
		Seed:       1,
		Scale:      2,
		Width:      256,
		Height:     256,
	}
}

// duration decodes TOML strings such as "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// loadConfig decodes a TOML file over base. Unknown keys are rejected.
func loadConfig(path string, base config) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, err
	}
	defer f.Close()

	cfg := base
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return base, fmt.Errorf("config %s: %s", path, strict.String())
		}
		return base, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// cliFlags holds values that only exist on the command line.
type cliFlags struct {
	configPath string
	profile    string
	verbose    bool
}

// parseFlags parses args into a configuration. Values from -config are
// applied first; flags set explicitly on the command line win.
func parseFlags(fs *flag.FlagSet, args []string) (config, cliFlags, error) {
	var cli cliFlags
	cfg := defaultConfig()

	fs.StringVar(&cli.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&cli.profile, "profile", "", "write a cpu or mem profile")
	fs.BoolVar(&cli.verbose, "v", false, "verbose logging")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "GPU backend (vulkan, metal, dx12, gles, software, noop); empty picks the best available")
	fs.IntVar(&cfg.Frames, "frames", cfg.Frames, "frames to simulate")
	fs.IntVar(&cfg.Spawn, "spawn", cfg.Spawn, "particles per burst")
	fs.IntVar(&cfg.Bursts, "bursts", cfg.Bursts, "spawn bursts spread over the run")
	dt := fs.Float64("dt", float64(cfg.DT), "time step in seconds")
	fs.StringVar(&cfg.Variant, "variant", cfg.Variant, "forces: attractor or gravity")
	fs.StringVar(&cfg.Integrator, "integrator", cfg.Integrator, "integrator: gpu or cpu")
	fs.StringVar(&cfg.Snapshot, "snapshot", cfg.Snapshot, "write the final frame to this PNG file")
	fs.IntVar(&cfg.Scale, "scale", cfg.Scale, "snapshot upscale factor")
	fs.Uint64Var(&cfg.MemoryMB, "memory-mb", cfg.MemoryMB, "particle memory budget in MiB; 0 is unlimited")

	if err := fs.Parse(args); err != nil {
		return cfg, cli, err
	}
	cfg.DT = float32(*dt)

	if cli.configPath != "" {
		file, err := loadConfig(cli.configPath, defaultConfig())
		if err != nil {
			return cfg, cli, err
		}
		fs.Visit(func(f *flag.Flag) { file.override(f.Name, cfg) })
		cfg = file
	}
	return cfg, cli, cfg.validate()
}

// override copies the field bound to flag name from src.
func (c *config) override(name string, src config) {
	switch name {
	case "backend":
		c.Backend = src.Backend
	case "frames":
		c.Frames = src.Frames
	case "spawn":
		c.Spawn = src.Spawn
	case "bursts":
		c.Bursts = src.Bursts
	case "dt":
		c.DT = src.DT
	case "variant":
		c.Variant = src.Variant
	case "integrator":
		c.Integrator = src.Integrator
	case "snapshot":
		c.Snapshot = src.Snapshot
	case "scale":
		c.Scale = src.Scale
	case "memory-mb":
		c.MemoryMB = src.MemoryMB
	}
}

func (c config) validate() error {
	switch {
	case c.Frames < 1:
		return fmt.Errorf("frames must be positive, got %d", c.Frames)
	case c.Spawn < 0 || uint64(c.Spawn) > math.MaxUint32:
		return fmt.Errorf("spawn out of range: %d", c.Spawn)
	case c.Bursts < 0:
		return fmt.Errorf("bursts must not be negative, got %d", c.Bursts)
	case c.DT <= 0:
		return fmt.Errorf("dt must be positive, got %v", c.DT)
	case c.Variant != variantAttractor && c.Variant != variantGravity:
		return fmt.Errorf("unknown variant %q", c.Variant)
	case c.Integrator != integratorGPU && c.Integrator != integratorCPU:
		return fmt.Errorf("unknown integrator %q", c.Integrator)
	case c.Timeout.Duration < 0:
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	case c.Capacity < 0 || uint64(c.Capacity) > math.MaxUint32:
		return fmt.Errorf("capacity out of range: %d", c.Capacity)
	case c.MemoryMB > math.MaxUint64>>20:
		return fmt.Errorf("memory budget out of range: %d MiB", c.MemoryMB)
	case c.Scale < 1:
		return fmt.Errorf("scale must be at least 1, got %d", c.Scale)
	case c.Width < 1 || c.Height < 1:
		return fmt.Errorf("invalid snapshot size %dx%d", c.Width, c.Height)
	}
	return nil
}

// stepParams returns the per-frame inputs of the configured variant.
func (c config) stepParams() particles.StepParams {
	p := particles.StepParams{DeltaTime: c.DT}
	switch c.Variant {
	case variantGravity:
		p.Gravity = c.Gravity
	default:
		p.Attractor = c.Attractor
		p.Strength = c.Strength
	}
	return p
}
