package codegen

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Toolchain — assembler + linker invocation for each target
// ---------------------------------------------------------------------------

// Toolchain represents the external programs used to assemble and link.
type Toolchain struct {
	Target     *Target
	BuildDir   string
	AsmFile    string // path to the assembly file
	ObjFile    string // path to the object file
	ExeFile    string // path to the final executable
	Logger     *zap.Logger
	NASMPath   string // custom NASM path (auto-downloaded on Windows)
	GoLinkPath string // custom GoLink path (auto-downloaded on Windows)
}

// NewToolchain creates a Toolchain for the given target and build directory.
func NewToolchain(target *Target, buildDir, baseName string) *Toolchain {
	return &Toolchain{
		Target:   target,
		BuildDir: buildDir,
		AsmFile:  filepath.Join(buildDir, baseName+target.FileExtAsm()),
		ObjFile:  filepath.Join(buildDir, baseName+target.FileExtObj()),
		ExeFile:  filepath.Join(buildDir, baseName+target.FileExtExe()),
		Logger:   zap.NewNop(),
	}
}

// WriteAssembly writes the assembly string to the .asm file.
func (tc *Toolchain) WriteAssembly(asm string) error {
	return os.WriteFile(tc.AsmFile, []byte(asm), 0644)
}

// Assemble invokes NASM to produce an object file from the assembly.
func (tc *Toolchain) Assemble() error {
	nasmBin := "nasm"
	if tc.NASMPath != "" {
		nasmBin = tc.NASMPath
	}

	cmd := exec.Command(nasmBin, "-f", tc.Target.ObjFmt.String(), "-o", tc.ObjFile, tc.AsmFile)
	return tc.runCmd(cmd, "assemble (nasm)")
}

// Link invokes the linker to produce the final executable.
func (tc *Toolchain) Link() error {
	switch tc.Target.OS {
	case OS_Darwin:
		return tc.linkDarwin()
	case OS_Linux:
		return tc.linkLinux()
	case OS_Windows:
		return tc.linkWindows()
	default:
		return fmt.Errorf("unsupported OS for linking: %s", tc.Target.OS)
	}
}

// ---------------------------------------------------------------------------
// Linker backends
// ---------------------------------------------------------------------------

func (tc *Toolchain) linkDarwin() error {
	// The linker wants the macOS SDK sysroot for libSystem.
	sdkPath, err := findMacOSSDK()
	if err != nil {
		// Try without sysroot as fallback.
		sdkPath = ""
	}

	args := []string{
		"-o", tc.ExeFile,
		"-e", tc.Target.EntryPoint,
		"-arch", "x86_64",
	}

	if sdkPath != "" {
		args = append(args, "-L"+sdkPath+"/usr/lib", "-lSystem")
	} else {
		args = append(args, "-lSystem")
	}

	args = append(args, tc.ObjFile)

	cmd := exec.Command("ld", args...)
	return tc.runCmd(cmd, "link")
}

func (tc *Toolchain) linkLinux() error {
	cmd := exec.Command("ld", "-o", tc.ExeFile, tc.ObjFile)
	return tc.runCmd(cmd, "link")
}

func (tc *Toolchain) linkWindows() error {
	// Try GoLink first (common in hobby compiler setups), then MSVC link.
	golinkBin := ""
	if tc.GoLinkPath != "" {
		golinkBin = tc.GoLinkPath
	} else if p, err := exec.LookPath("golink"); err == nil {
		golinkBin = p
	}

	if golinkBin != "" {
		cmd := exec.Command(golinkBin, "/entry", "main", "/console",
			tc.ObjFile,
			"kernel32.dll", "user32.dll", "gdi32.dll", "msvcrt.dll")
		return tc.runCmd(cmd, "link (golink)")
	}

	// Try MSVC link.exe.
	link, err := exec.LookPath("link")
	if err == nil {
		cmd := exec.Command(link,
			"/ENTRY:main",
			"/SUBSYSTEM:CONSOLE",
			fmt.Sprintf("/OUT:%s", tc.ExeFile),
			tc.ObjFile,
			"kernel32.lib", "user32.lib", "gdi32.lib", "msvcrt.lib",
		)
		return tc.runCmd(cmd, "link (msvc)")
	}

	return fmt.Errorf("no suitable linker found for Windows (tried golink, link.exe)")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (tc *Toolchain) runCmd(cmd *exec.Cmd, stage string) error {
	tc.Logger.Debug("running", zap.String("stage", stage), zap.Strings("args", cmd.Args))

	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stdout

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("%s failed: %v\n%s", stage, err, stderr.String())
	}
	return nil
}

func findMacOSSDK() (string, error) {
	if runtime.GOOS != "darwin" {
		return "", fmt.Errorf("not on macOS")
	}
	cmd := exec.Command("xcrun", "--show-sdk-path")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// DetectToolchain checks whether the required external tools are available
// for the given target and returns a list of missing tools.
func DetectToolchain(target *Target) []string {
	return DetectToolchainWithPaths(target, "", "")
}

// DetectToolchainWithPaths checks for tools using custom paths for NASM/GoLink.
func DetectToolchainWithPaths(target *Target, nasmPath, golinkPath string) []string {
	var missing []string

	if nasmPath != "" {
		if _, err := os.Stat(nasmPath); err != nil {
			missing = append(missing, "nasm")
		}
	} else if _, err := exec.LookPath("nasm"); err != nil {
		missing = append(missing, "nasm")
	}

	switch target.OS {
	case OS_Darwin, OS_Linux:
		if _, err := exec.LookPath("ld"); err != nil {
			missing = append(missing, "ld (linker)")
		}
	case OS_Windows:
		hasLinker := false
		if golinkPath != "" {
			if _, err := os.Stat(golinkPath); err == nil {
				hasLinker = true
			}
		}
		if !hasLinker {
			for _, l := range []string{"golink", "link"} {
				if _, err := exec.LookPath(l); err == nil {
					hasLinker = true
					break
				}
			}
		}
		if !hasLinker {
			missing = append(missing, "golink or link.exe (linker)")
		}
	}

	return missing
}
