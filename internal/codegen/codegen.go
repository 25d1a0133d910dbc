package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// Options controls the behaviour of the code-generation pipeline.
// ---------------------------------------------------------------------------

// Options configures the codegen pipeline.
type Options struct {
	// Target platform. If nil, the host platform is auto-detected.
	Target *Target

	// BuildDir is the directory where all build artifacts are written.
	// Defaults to "./build" relative to the working directory.
	BuildDir string

	// OutputName is the base name for the output files (without extension).
	// Defaults to "out".
	OutputName string

	// AsmOnly stops after emitting the assembly file (skip assemble + link).
	AsmOnly bool

	// SkipLink stops after assembling (produce .o but don't link).
	SkipLink bool

	// Keep retains the assembly and object files after a successful link.
	Keep bool

	// Logger receives pipeline progress and warnings. Nil means silent.
	Logger *zap.Logger
}

// DefaultOptions returns sensible defaults (host target, build/ directory).
func DefaultOptions() *Options {
	return &Options{
		BuildDir: "build",
	}
}

// ---------------------------------------------------------------------------
// Result is returned by Generate with paths to all produced artifacts.
// ---------------------------------------------------------------------------

type Result struct {
	AsmFile string // path to the assembly file
	ObjFile string // path to the object file (empty if AsmOnly)
	ExeFile string // path to the executable (empty if AsmOnly or SkipLink)
	Dump    string // human-readable unit dump (for debugging)
}

// ---------------------------------------------------------------------------
// Generate — the public entry point for the full codegen pipeline
//
// Pipeline: IR unit → validate → Assembly text (emit) → Object (assemble)
// → Executable (link)
// ---------------------------------------------------------------------------

// Generate runs the full code-generation pipeline on the given unit.
func Generate(unit *ir.Unit, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// --- Resolve target ---
	target := opts.Target
	if target == nil {
		var err error
		target, err = HostTarget()
		if err != nil {
			return nil, fmt.Errorf("cannot detect host target: %w", err)
		}
	}

	// --- Validate the unit ---
	diags, verr := ir.Validate(unit)
	for _, d := range diags {
		if d.Severity == ir.SeverityWarning {
			log.Warn("validation", zap.String("fn", d.Fn), zap.Int("instr", d.Instr), zap.String("detail", d.Message))
		}
	}
	if verr != nil {
		return nil, fmt.Errorf("invalid unit: %w", verr)
	}

	// --- Determine output name ---
	outputName := opts.OutputName
	if outputName == "" {
		outputName = "out"
	}
	// Sanitize: replace dots/spaces with underscores.
	outputName = strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, outputName)

	// --- Create build directory ---
	buildDir := opts.BuildDir
	if buildDir == "" {
		buildDir = "build"
	}
	// Create platform-specific subdirectory.
	platformDir := filepath.Join(buildDir, fmt.Sprintf("%s_%s", target.OS, target.Arch))
	if err := os.MkdirAll(platformDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create build directory %s: %w", platformDir, err)
	}

	result := &Result{Dump: unit.DebugDump()}

	// --- Step 1: Emit assembly ---
	log.Debug("emitting assembly",
		zap.String("os", target.OSName()),
		zap.String("arch", target.ArchName()))

	var asmText string
	switch target.Arch {
	case Arch_x86_64:
		var err error
		asmText, err = EmitX86_64(unit, target)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported architecture for emission: %s", target.Arch)
	}

	// --- Step 2: Write assembly file ---
	tc := NewToolchain(target, platformDir, outputName)
	tc.Logger = log

	if err := tc.WriteAssembly(asmText); err != nil {
		return nil, fmt.Errorf("cannot write assembly file: %w", err)
	}
	result.AsmFile = tc.AsmFile
	log.Info("assembly written", zap.String("path", result.AsmFile))

	if opts.AsmOnly {
		return result, nil
	}

	// --- Step 3: Assemble ---
	if missing := DetectToolchain(target); len(missing) > 0 {
		if target.OS == OS_Windows && runtime.GOOS == "windows" {
			nasmPath, golinkPath, err := EnsureWindowsToolchain(log)
			if err != nil {
				log.Warn("toolchain setup failed; assemble and link manually",
					zap.String("asm", result.AsmFile), zap.Error(err))
				return result, nil
			}
			tc.NASMPath = nasmPath
			tc.GoLinkPath = golinkPath
		} else {
			log.Warn("missing toolchain components; assemble and link manually",
				zap.Strings("missing", missing), zap.String("asm", result.AsmFile))
			return result, nil
		}
	}

	log.Debug("assembling")
	if err := tc.Assemble(); err != nil {
		return result, fmt.Errorf("assembly failed: %w", err)
	}
	result.ObjFile = tc.ObjFile

	if opts.SkipLink {
		return result, nil
	}

	// --- Step 4: Link ---
	log.Debug("linking")
	if err := tc.Link(); err != nil {
		return result, fmt.Errorf("linking failed: %w", err)
	}
	result.ExeFile = tc.ExeFile
	log.Info("executable written", zap.String("path", result.ExeFile))

	if !opts.Keep {
		os.Remove(tc.AsmFile)
		os.Remove(tc.ObjFile)
		result.AsmFile = ""
		result.ObjFile = ""
	}

	return result, nil
}
