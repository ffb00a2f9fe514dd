// Package cli wires the whlpatch subcommands to the core packages and maps
// core errors to stable exit codes.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/mcdonaldj/whlpatch/internal/jobfile"
	"github.com/mcdonaldj/whlpatch/internal/paths"
	"github.com/mcdonaldj/whlpatch/internal/patcher"
	"github.com/mcdonaldj/whlpatch/internal/record"
)

// Exit codes, one per core error kind. Scripts key off these; keep stable.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitSourceMissing = 2
	ExitNotWheel      = 3
	ExitNoRecord      = 4
	ExitBadRecord     = 5
	ExitUnsafePath    = 6
	ExitDistInfo      = 7
	ExitDuplicate     = 8
	ExitBadJobFile    = 9
)

// ExitCode maps a core error to its exit code.
func ExitCode(err error) int {
	switch {
	case errors.Is(err, patcher.ErrSourceNotFound):
		return ExitSourceMissing
	case errors.Is(err, patcher.ErrNotWheel):
		return ExitNotWheel
	case errors.Is(err, patcher.ErrManifestNotFound):
		return ExitNoRecord
	case errors.Is(err, record.ErrParse), errors.Is(err, record.ErrIntegrity):
		return ExitBadRecord
	case errors.Is(err, paths.ErrTraversal):
		return ExitUnsafePath
	case errors.Is(err, paths.ErrDistInfo):
		return ExitDistInfo
	case errors.Is(err, patcher.ErrDuplicateEntry), errors.Is(err, record.ErrDuplicatePath):
		return ExitDuplicate
	case errors.Is(err, jobfile.ErrInvalid):
		return ExitBadJobFile
	default:
		return ExitFailure
	}
}

// CLI carries injectable writers and color functions so commands can be
// exercised in tests with captured output.
type CLI struct {
	Out io.Writer
	Err io.Writer

	version string

	green  func(a ...interface{}) string
	yellow func(a ...interface{}) string
	cyan   func(a ...interface{}) string
	gray   func(a ...interface{}) string
	red    func(a ...interface{}) string
}

// New creates a CLI writing to stdout/stderr with colors enabled.
func New(version string) *CLI {
	return &CLI{
		Out:     os.Stdout,
		Err:     os.Stderr,
		version: version,
		green:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow:  color.New(color.FgYellow).SprintFunc(),
		cyan:    color.New(color.FgCyan).SprintFunc(),
		gray:    color.New(color.FgHiBlack).SprintFunc(),
		red:     color.New(color.FgRed).SprintFunc(),
	}
}

// NewForTesting creates a CLI with plain output captured by the given
// writers.
func NewForTesting(out, errOut io.Writer) *CLI {
	noColor := func(a ...interface{}) string { return fmt.Sprint(a...) }
	return &CLI{
		Out:     out,
		Err:     errOut,
		version: "test",
		green:   noColor,
		yellow:  noColor,
		cyan:    noColor,
		gray:    noColor,
		red:     noColor,
	}
}

// Run executes args and returns the process exit code.
func (c *CLI) Run(args []string) int {
	if err := c.App().Run(args); err != nil {
		fmt.Fprintf(c.Err, "%s %v\n", c.red("error:"), err)
		return ExitCode(err)
	}
	return ExitOK
}

// App builds the command tree.
func (c *CLI) App() *cli.App {
	return &cli.App{
		Name:      "whlpatch",
		Usage:     "patch files into Python wheel archives",
		Version:   c.version,
		Writer:    c.Out,
		ErrWriter: c.Err,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "verbose output",
			},
		},
		Before: func(ctx *cli.Context) error {
			configureLogging(ctx.Bool("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			c.addCmd(),
			c.applyCmd(),
			c.listCmd(),
			c.extractCmd(),
		},
	}
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	))
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output path for the patched wheel (default: -patched suffix)",
		},
		&cli.BoolFlag{
			Name:  "in-place",
			Usage: "replace the wheel in place",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite existing files in the wheel",
		},
	}
}

func optionsFrom(ctx *cli.Context) patcher.Options {
	return patcher.Options{
		Force:   ctx.Bool("force"),
		InPlace: ctx.Bool("in-place"),
		Output:  ctx.String("output"),
	}
}

// checkWheel gates every subcommand: a missing archive and an archive that
// is not a valid wheel are distinct error kinds with distinct exit codes.
func checkWheel(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", patcher.ErrSourceNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !patcher.IsValidWheel(path) {
		return fmt.Errorf("%w: %s", patcher.ErrNotWheel, path)
	}
	return nil
}

func (c *CLI) addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "add a single file to a wheel",
		ArgsUsage: "<wheel> <file>",
		Flags: append(outputFlags(),
			&cli.StringFlag{
				Name:    "dest",
				Aliases: []string{"d"},
				Usage:   "destination path inside the wheel; a .dist-info/ prefix resolves to the real dist-info directory",
			},
		),
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return fmt.Errorf("usage: whlpatch add [options] <wheel> <file>")
			}
			wheel := ctx.Args().Get(0)
			source := ctx.Args().Get(1)
			dest := ctx.String("dest")

			if err := checkWheel(wheel); err != nil {
				return err
			}

			slog.Debug("adding file", "wheel", wheel, "source", source, "dest", dest)

			out, err := patcher.Apply(wheel,
				[]patcher.Addition{{Source: source, Dest: dest}},
				optionsFrom(ctx))
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Out, "%s Patched wheel: %s\n", c.green("*"), out)
			if dest != "" {
				fmt.Fprintf(c.Out, "  Added: %s -> %s\n", filepath.Base(source), dest)
			} else {
				fmt.Fprintf(c.Out, "  Added: %s\n", filepath.Base(source))
			}
			return nil
		},
	}
}

func (c *CLI) applyCmd() *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "apply a batch of additions from a job file",
		ArgsUsage: "<wheel>",
		Flags: append(outputFlags(),
			&cli.StringFlag{
				Name:     "manifest",
				Aliases:  []string{"m"},
				Usage:    "job file listing source/dest pairs (YAML or JSON)",
				Required: true,
			},
		),
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("usage: whlpatch apply --manifest <file> [options] <wheel>")
			}
			wheel := ctx.Args().Get(0)

			if err := checkWheel(wheel); err != nil {
				return err
			}

			additions, err := jobfile.Load(ctx.String("manifest"))
			if err != nil {
				return err
			}

			adds := make([]patcher.Addition, 0, len(additions))
			for _, a := range additions {
				slog.Debug("queueing addition", "source", a.Source, "dest", a.Dest)
				fmt.Fprintf(c.Out, "  %s %s -> %s\n", c.gray("+"), filepath.Base(a.Source), a.Dest)
				adds = append(adds, patcher.Addition{Source: a.Source, Dest: a.Dest})
			}

			out, err := patcher.Apply(wheel, adds, optionsFrom(ctx))
			if err != nil {
				return err
			}

			fmt.Fprintln(c.Out)
			fmt.Fprintf(c.Out, "%s Patched wheel: %s\n", c.green("*"), out)
			fmt.Fprintf(c.Out, "  Added %s file(s)\n", c.yellow(fmt.Sprintf("%d", len(adds))))
			return nil
		},
	}
}

func (c *CLI) listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list the contents of a wheel",
		ArgsUsage: "<wheel>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("usage: whlpatch list <wheel>")
			}
			wheel := ctx.Args().Get(0)

			if err := checkWheel(wheel); err != nil {
				return err
			}

			entries, err := patcher.List(wheel)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Out, "Contents of %s:\n\n", c.cyan(filepath.Base(wheel)))
			fmt.Fprintf(c.Out, "  %10s %10s  %s\n", "SIZE", "PACKED", "PATH")
			for _, e := range entries {
				fmt.Fprintf(c.Out, "  %10s %10s  %s\n",
					formatSize(int64(e.Size)),
					formatSize(int64(e.CompressedSize)),
					e.Path)
			}
			fmt.Fprintf(c.Out, "\n  %d entries\n", len(entries))
			return nil
		},
	}
}

func (c *CLI) extractCmd() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "extract a wheel to a directory",
		ArgsUsage: "<wheel>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory (default: wheel name without extension)",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("usage: whlpatch extract [options] <wheel>")
			}
			wheel := ctx.Args().Get(0)

			if err := checkWheel(wheel); err != nil {
				return err
			}

			outputDir := ctx.String("output")
			if outputDir == "" {
				base := filepath.Base(wheel)
				outputDir = strings.TrimSuffix(base, filepath.Ext(base))
			}

			if err := patcher.Extract(wheel, outputDir); err != nil {
				return err
			}

			fmt.Fprintf(c.Out, "%s Extracted wheel to: %s\n", c.green("*"), outputDir)
			return nil
		},
	}
}

// formatSize formats bytes as human-readable
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
