package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/simp-lee/epubmodel/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// Exit codes.
const (
	exitOK       = 0
	exitUsage    = 1
	exitFindings = 2
)

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "inspect":
		return runCommand(ctx, "inspect", args[1:], false, stdout, stderr)
	case "toc":
		return runCommand(ctx, "toc", args[1:], true, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

func runCommand(ctx context.Context, name string, args []string, withTOC bool, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfgPath := fs.String("config", os.Getenv("EPUBINSPECT_CONFIG"), "YAML configuration file")
	format := fs.String("format", "", "output format: text or yaml")
	fs.StringVar(format, "f", "", "alias for -format")
	strict := fs.Bool("strict", false, "withhold navigation documents that fail validation")
	jobs := fs.Int("jobs", 0, "publications inspected at once")
	fs.IntVar(jobs, "j", 0, "alias for -jobs")
	failOn := fs.String("fail-on", "", "lowest severity that makes the exit status non-zero")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "format", "f":
			cfg.Format = *format
		case "strict":
			if *strict {
				cfg.TOCMode = "strict"
			}
		case "jobs", "j":
			cfg.Jobs = *jobs
		case "fail-on":
			cfg.FailOn = *failOn
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	files, err := expandArgs(fs.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if len(files) == 0 {
		fmt.Fprintf(stderr, "%s: no EPUB files given\n", name)
		return exitUsage
	}

	log := cfg.Logger(stderr)
	reports := inspectAll(ctx, files, cfg, log, withTOC)

	if err := writeReports(stdout, cfg.Format, reports); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if ctx.Err() != nil {
		return exitUsage
	}
	failSev := cfg.FailSeverity()
	for _, r := range reports {
		if r.fails(failSev) {
			return exitFindings
		}
	}
	return exitOK
}

// inspectAll inspects files with at most cfg.Jobs running at once. Reports
// keep the order of files.
func inspectAll(ctx context.Context, files []string, cfg config.Config, log logrus.FieldLogger, withTOC bool) []report {
	reports := make([]report, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for i, f := range files {
		g.Go(func() error {
			entry := log.WithField("file", f)
			entry.Debug("inspecting")
			reports[i] = inspect(gctx, f, cfg.Options(entry), withTOC)
			entry.WithField("diagnostics", len(reports[i].Diagnostics)).Info("inspected")
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// expandArgs expands doublestar patterns such as library/**/*.epub. Plain
// paths are kept even when they do not exist so that Open reports them.
func expandArgs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, arg := range args {
		if !hasMeta(arg) {
			add(filepath.Clean(arg))
			continue
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(arg)) {
			return nil, fmt.Errorf("invalid pattern %q", arg)
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", arg, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

func hasMeta(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `epubinspect - EPUB document graph inspector

Usage:
  epubinspect inspect [options] <file.epub|dir|pattern> [...]
  epubinspect toc [options] <file.epub|dir|pattern> [...]

Patterns use ** for any number of directories, e.g. 'library/**/*.epub'.

Options:
  -config         YAML configuration file (default $EPUBINSPECT_CONFIG)
  -f, -format     Output format: text or yaml
  -strict         Withhold navigation documents that fail validation
  -j, -jobs       Publications inspected at once
  -fail-on        Lowest severity that makes the exit status `+strconv.Itoa(exitFindings)+`

Settings can also be given as EPUBINSPECT_* environment variables.
`)
}
