// Package config reads and writes the sable.toml project manifest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the manifest file name looked up from the working directory.
const FileName = "sable.toml"

// ---------------------------------------------------------------------------
// Manifest schema
// ---------------------------------------------------------------------------

// Config is the full sable.toml manifest.
type Config struct {
	Package PackageConfig `toml:"package"`
	Build   BuildConfig   `toml:"build"`
	Inputs  InputsConfig  `toml:"inputs"`
}

// PackageConfig names the project.
type PackageConfig struct {
	// Name is the project name; it doubles as the default output name.
	Name string `toml:"name"`

	// Version is a semantic version string.
	Version string `toml:"version"`

	// Entry is the primary IR source file, used when inputs.files is empty.
	Entry string `toml:"entry"`
}

// BuildConfig holds defaults for the build pipeline. Command-line flags
// override every field.
type BuildConfig struct {
	// Target is an os/arch pair such as "linux/amd64". Empty means host.
	Target string `toml:"target"`

	// Output is the base name for build artifacts.
	Output string `toml:"output"`

	// BuildDir is where artifacts are written. Defaults to "build".
	BuildDir string `toml:"build_dir"`

	// AsmOnly stops the pipeline after writing the .asm file.
	AsmOnly bool `toml:"asm_only"`

	// KeepAsm retains intermediate files after linking.
	KeepAsm bool `toml:"keep_asm"`
}

// InputsConfig lists the IR source files making up the unit.
type InputsConfig struct {
	Files []string `toml:"files"`
}

// ---------------------------------------------------------------------------
// Load / save / find
// ---------------------------------------------------------------------------

// Load reads and parses a manifest.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the manifest with a short comment header.
func (c *Config) Save(path string) error {
	var sb strings.Builder
	sb.WriteString("# sable project manifest\n")
	sb.WriteString("# run 'sable build' from this directory or any below it\n\n")

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	sb.Write(data)

	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Find walks from startPath toward the filesystem root looking for a
// manifest. Returns its full path, or "" when none exists.
func Find(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}

	dir := startPath
	if !info.IsDir() {
		dir = filepath.Dir(startPath)
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Default builds a starter manifest for a new project.
func Default(name string) *Config {
	if name == "" || name == "." || name == "/" {
		name = "my-app"
	}
	return &Config{
		Package: PackageConfig{
			Name:    sanitizeName(name),
			Version: "0.1.0",
			Entry:   "main.sir",
		},
		Build: BuildConfig{
			BuildDir: "build",
		},
	}
}

// sanitizeName lowercases a project name and strips characters that would
// not survive as a file base name.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "_", "-")

	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			result.WriteRune(r)
		}
	}

	s := result.String()
	if s == "" {
		return "my-app"
	}
	return s
}
