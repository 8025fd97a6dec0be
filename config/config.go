// Package config holds the grid configuration shared by the command-line
// front ends. A configuration can come from a JSON file, the E_SIM_*
// environment variables, or both.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/mesh"
)

// Environment variables read by ApplyEnv and FromEnv.
const (
	EnvRows       = "E_SIM_ROWS"
	EnvColumns    = "E_SIM_COLS"
	EnvMemorySize = "E_SIM_MLEN"
	EnvKernel     = "E_SIM_KERN"
	EnvArch       = "E_SIM_ARCH"
	EnvConfig     = "E_SIM_CONFIG"
)

// Kernel names.
const (
	KernelNull = "null"
	KernelUnix = "unix"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config describes the machine to build.
type Config struct {
	// Rows is the number of grid rows. Default: 8.
	Rows int `json:"rows"`

	// Columns is the number of grid columns. Default: 8.
	Columns int `json:"columns"`

	// MemorySize is the external memory size in bytes.
	// Default: 32 MiB.
	MemorySize uint32 `json:"memory_size"`

	// Architecture names the Epiphany revision ("EpiphanyIII" or
	// "EpiphanyIV"). Default: EpiphanyIV.
	Architecture string `json:"architecture"`

	// Kernel selects the host kernel ("null" or "unix"). Default: unix.
	Kernel string `json:"kernel"`

	// IdleDurationMS is how long an idle core sleeps between interrupt
	// checks. Default: 10.
	IdleDurationMS int `json:"idle_duration_ms"`

	// SleepDurationMS is how long an inactive core sleeps between polls.
	// Default: 50.
	SleepDurationMS int `json:"sleep_duration_ms"`
}

// Default returns the configuration of an 8x8 Epiphany-IV grid with the
// minimum external memory and the Unix kernel.
func Default() *Config {
	return &Config{
		Rows:            8,
		Columns:         8,
		MemorySize:      mesh.MinMemorySize,
		Architecture:    mesh.EpiphanyIV.String(),
		Kernel:          KernelUnix,
		IdleDurationMS:  int(emu.DefaultIdleDuration / time.Millisecond),
		SleepDurationMS: int(emu.DefaultSleepDuration / time.Millisecond),
	}
}

// Load reads a configuration from a JSON file. Fields missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration describes a machine that can be
// built.
func (c *Config) Validate() error {
	arch, err := c.Arch()
	if err != nil {
		return err
	}
	switch c.Kernel {
	case KernelNull, KernelUnix:
	default:
		return fmt.Errorf("%w: %q is not a known kernel", ErrInvalid, c.Kernel)
	}
	if c.IdleDurationMS <= 0 {
		return fmt.Errorf("%w: idle_duration_ms must be > 0", ErrInvalid)
	}
	if c.SleepDurationMS <= 0 {
		return fmt.Errorf("%w: sleep_duration_ms must be > 0", ErrInvalid)
	}
	if err := emu.ValidateGrid(arch, c.Rows, c.Columns, c.MemorySize); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Arch parses the Architecture field.
func (c *Config) Arch() (mesh.Architecture, error) {
	arch, err := mesh.ParseArchitecture(c.Architecture)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return arch, nil
}

// ApplyEnv overrides fields from the E_SIM_* variables that lookup finds.
// lookup has the signature of os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRows); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalid, EnvRows, v)
		}
		c.Rows = n
	}
	if v, ok := lookup(EnvColumns); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalid, EnvColumns, v)
		}
		c.Columns = n
	}
	if v, ok := lookup(EnvMemorySize); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 32)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalid, EnvMemorySize, v)
		}
		c.MemorySize = uint32(n)
	}
	if v, ok := lookup(EnvKernel); ok {
		c.Kernel = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvArch); ok {
		c.Architecture = strings.TrimSpace(v)
	}
	return nil
}

// FromEnv builds a configuration from the defaults, the JSON file named by
// E_SIM_CONFIG when set, and the remaining E_SIM_* variables, in that order.
// The result is validated.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path, ok := lookup(EnvConfig); ok && path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewKernel creates the host kernel the configuration names. The Unix
// kernel's standard streams are bound to the given reader and writers.
func (c *Config) NewKernel(stdin io.Reader, stdout, stderr io.Writer) (emu.Kernel, error) {
	switch c.Kernel {
	case KernelNull:
		return emu.NullKernel{}, nil
	case KernelUnix:
		return emu.NewUnixKernel(
			emu.WithStdin(stdin),
			emu.WithStdout(stdout),
			emu.WithStderr(stderr),
		), nil
	}
	return nil, fmt.Errorf("%w: %q is not a known kernel", ErrInvalid, c.Kernel)
}

// NewMachine validates the configuration and builds the machine it
// describes. opts are applied after the configuration's own options, so a
// caller can still replace the kernel or durations.
func (c *Config) NewMachine(kernel emu.Kernel, opts ...emu.MachineOption) (*emu.Machine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	arch, _ := c.Arch()

	base := []emu.MachineOption{
		emu.WithKernel(kernel),
		emu.WithIdleDuration(time.Duration(c.IdleDurationMS) * time.Millisecond),
		emu.WithSleepDuration(time.Duration(c.SleepDurationMS) * time.Millisecond),
	}
	return emu.NewMachine(arch, c.Rows, c.Columns, c.MemorySize, append(base, opts...)...)
}
