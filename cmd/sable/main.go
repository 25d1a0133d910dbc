package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sable/internal/codegen"
	"sable/internal/config"
	"sable/internal/ir"
	"sable/internal/irtext"
)

const version = "0.2.0"

var (
	targetFlag   string
	outputFlag   string
	buildDirFlag string
	asmOnlyFlag  bool
	skipLinkFlag bool
	keepFlag     bool
	debugFlag    bool
	jsonFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "sable",
	Short: "Sable IR compiler back-end",
	Long:  "Sable lowers typed register IR to x86-64 NASM assembly and drives the platform assembler and linker.",
}

var buildCmd = &cobra.Command{
	Use:   "build [file.sir...]",
	Short: "Build IR sources into an executable",
	Long:  "Compile one or more .sir files to an executable. With no arguments, inputs come from the nearest sable.toml.",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		files := args
		targetName := targetFlag
		output := outputFlag
		buildDir := buildDirFlag
		asmOnly := asmOnlyFlag
		keep := keepFlag

		if len(files) == 0 {
			cfgPath := config.Find(".")
			if cfgPath == "" {
				return fmt.Errorf("no input files and no %s found", config.FileName)
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			root := filepath.Dir(cfgPath)
			names := cfg.Inputs.Files
			if len(names) == 0 && cfg.Package.Entry != "" {
				names = []string{cfg.Package.Entry}
			}
			if len(names) == 0 {
				return fmt.Errorf("%s lists no input files", cfgPath)
			}
			for _, n := range names {
				files = append(files, filepath.Join(root, n))
			}
			if targetName == "" {
				targetName = cfg.Build.Target
			}
			if output == "" {
				output = cfg.Build.Output
			}
			if output == "" {
				output = cfg.Package.Name
			}
			if buildDir == "" {
				buildDir = cfg.Build.BuildDir
			}
			asmOnly = asmOnly || cfg.Build.AsmOnly
			keep = keep || cfg.Build.KeepAsm
		}

		unit, err := irtext.ParseFiles(files...)
		if err != nil {
			return err
		}

		target, err := resolveTarget(targetName)
		if err != nil {
			return err
		}

		result, err := codegen.Generate(unit, &codegen.Options{
			Target:     target,
			BuildDir:   buildDir,
			OutputName: output,
			AsmOnly:    asmOnly,
			SkipLink:   skipLinkFlag,
			Keep:       keep,
			Logger:     newLogger(),
		})
		if err != nil {
			return err
		}

		switch {
		case result.ExeFile != "":
			fmt.Println(result.ExeFile)
		case result.ObjFile != "":
			fmt.Println(result.ObjFile)
		default:
			fmt.Println(result.AsmFile)
		}
		return nil
	},
}

var emitCmd = &cobra.Command{
	Use:   "emit <file.sir>...",
	Short: "Emit NASM assembly to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		unit, err := irtext.ParseFiles(args...)
		if err != nil {
			return err
		}

		diags, err := ir.Validate(unit)
		for _, d := range diags {
			fmt.Fprintln(os.Stderr, d.Error())
		}
		if err != nil {
			return err
		}

		target, err := resolveTarget(targetFlag)
		if err != nil {
			return err
		}

		asm, err := codegen.EmitX86_64(unit, target)
		if err != nil {
			return err
		}
		fmt.Print(asm)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.sir>...",
	Short: "Print the parsed unit",
	Long:  "Parse IR sources and print the merged unit, either as a readable dump or as JSON.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		unit, err := irtext.ParseFiles(args...)
		if err != nil {
			return err
		}

		if jsonFlag {
			data, err := json.MarshalIndent(unit, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Print(unit.DebugDump())
		return nil
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List supported targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := codegen.HostTarget()
		for _, t := range codegen.SupportedTargets() {
			marker := ""
			if host != nil && t == host.OSName()+"/"+host.ArchName() {
				marker = " (host)"
			}
			fmt.Printf("%s%s\n", t, marker)
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a sable.toml and a starter source file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		if _, err := os.Stat(config.FileName); err == nil {
			return fmt.Errorf("%s already exists", config.FileName)
		}

		name := ""
		if len(args) == 1 {
			name = args[0]
		} else if wd, err := os.Getwd(); err == nil {
			name = filepath.Base(wd)
		}

		cfg := config.Default(name)
		if err := cfg.Save(config.FileName); err != nil {
			return err
		}
		fmt.Printf("created %s\n", config.FileName)

		if _, err := os.Stat(cfg.Package.Entry); os.IsNotExist(err) {
			if err := os.WriteFile(cfg.Package.Entry, []byte(starterSource), 0644); err != nil {
				return err
			}
			fmt.Printf("created %s\n", cfg.Package.Entry)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sable version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sable %s\n", version)
	},
}

// starterSource exits with status 0 via the exit syscall.
const starterSource = `; starter program: call exit(0)
fn main link=_start
const $0 s64 60
const $1 s64 0
syscall _ $0 $1
ret
end
`

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	buildCmd.Flags().StringVarP(&targetFlag, "target", "t", "", "target os/arch (default: host)")
	buildCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "output base name")
	buildCmd.Flags().StringVar(&buildDirFlag, "build-dir", "", "build artifact directory")
	buildCmd.Flags().BoolVar(&asmOnlyFlag, "asm-only", false, "stop after writing the .asm file")
	buildCmd.Flags().BoolVar(&skipLinkFlag, "skip-link", false, "stop after assembling")
	buildCmd.Flags().BoolVarP(&keepFlag, "keep", "k", false, "keep intermediate files (.asm, .o)")

	emitCmd.Flags().StringVarP(&targetFlag, "target", "t", "", "target os/arch (default: host)")

	inspectCmd.Flags().BoolVar(&jsonFlag, "json", false, "print the unit as JSON")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if debugFlag {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func resolveTarget(name string) (*codegen.Target, error) {
	if name == "" {
		return codegen.HostTarget()
	}
	osName, archName, ok := strings.Cut(name, "/")
	if !ok {
		return nil, fmt.Errorf("target must be os/arch, e.g. linux/amd64 (got %q)", name)
	}
	return codegen.ResolveTarget(osName, archName)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
