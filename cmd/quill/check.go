package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quill/internal/diag"
	"quill/internal/fix"
	"quill/internal/observ"
	"quill/internal/source"
	"quill/internal/trace"
	"quill/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] <file|directory>...",
	Short: "Analyze source files and report diagnostics",
	Long: `Analyze files with every enabled feature module observing the build, and
report the resulting diagnostics. Directories are walked for files with the
configured extension. With --fix, every non-conflicting fix is written back.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("format", "pretty", "output format (pretty|short|json)")
	checkCmd.Flags().Bool("fix", false, "apply all non-conflicting fixes and write the files back")
	checkCmd.Flags().Int("jobs", 0, "max parallel workers (0=auto)")
	checkCmd.Flags().String("ui", "auto", "progress view on stderr (auto|on|off)")
	checkCmd.Flags().String("fail-on", "warning", "lowest severity that makes the command fail (info|warning|error|none)")
	checkCmd.Flags().StringSlice("ext", []string{".ql"}, "file extensions collected from directories")
	checkCmd.Flags().Bool("with-notes", false, "include notes in short output")
	checkCmd.Flags().Bool("timings", false, "print phase timings to stderr")
}

type checkOptions struct {
	format    string
	fix       bool
	jobs      int
	progress  progressMode
	failOn    diag.Severity
	noFail    bool
	exts      []string
	withNotes bool
	timings   bool
}

// fileReport is the outcome for one input file.
type fileReport struct {
	path        string
	diagnostics []diag.Diagnostic
	fixed       int
	err         error
}

func readCheckOptions(cmd *cobra.Command) (checkOptions, error) {
	var opts checkOptions
	var err error
	flags := cmd.Flags()
	if opts.format, err = flags.GetString("format"); err != nil {
		return opts, fmt.Errorf("failed to get format flag: %w", err)
	}
	switch opts.format {
	case "pretty", "short", "json":
	default:
		return opts, fmt.Errorf("unknown format %q (want pretty|short|json)", opts.format)
	}
	if opts.fix, err = flags.GetBool("fix"); err != nil {
		return opts, fmt.Errorf("failed to get fix flag: %w", err)
	}
	if opts.jobs, err = flags.GetInt("jobs"); err != nil {
		return opts, fmt.Errorf("failed to get jobs flag: %w", err)
	}
	if opts.jobs <= 0 {
		opts.jobs = runtime.GOMAXPROCS(0)
	}
	uiValue, err := flags.GetString("ui")
	if err != nil {
		return opts, fmt.Errorf("failed to get ui flag: %w", err)
	}
	if opts.progress, err = parseProgressMode(uiValue); err != nil {
		return opts, err
	}
	failOn, err := flags.GetString("fail-on")
	if err != nil {
		return opts, fmt.Errorf("failed to get fail-on flag: %w", err)
	}
	if strings.EqualFold(failOn, "none") {
		opts.noFail = true
	} else if opts.failOn, err = diag.ParseSeverity(failOn); err != nil {
		return opts, fmt.Errorf("invalid --fail-on: %w", err)
	}
	if opts.exts, err = flags.GetStringSlice("ext"); err != nil {
		return opts, fmt.Errorf("failed to get ext flag: %w", err)
	}
	if opts.withNotes, err = flags.GetBool("with-notes"); err != nil {
		return opts, fmt.Errorf("failed to get with-notes flag: %w", err)
	}
	if opts.timings, err = flags.GetBool("timings"); err != nil {
		return opts, fmt.Errorf("failed to get timings flag: %w", err)
	}
	return opts, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	opts, err := readCheckOptions(cmd)
	if err != nil {
		return err
	}
	timer := observ.NewTimer()
	if opts.timings {
		defer func() { fmt.Fprint(cmd.ErrOrStderr(), timer.Summary()) }()
	}

	endCollect := timer.Begin("collect")
	paths, err := collectFiles(args, opts.exts)
	endCollect(fmt.Sprintf("%d files", len(paths)))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		if !a.quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), "no files to check")
		}
		return nil
	}

	ctx, span := trace.Start(cmd.Context(), trace.ScopeServer, "check")
	defer span.End(fmt.Sprintf("files=%d", len(paths)))

	events := make(chan ui.Event, len(paths)*3)
	var uiDone chan error
	if !a.quiet && opts.format != "json" && opts.progress.drawsProgress() {
		uiDone = make(chan error, 1)
		go func() { uiDone <- ui.Run(os.Stderr, "quill check", paths, events) }()
	}
	emit := func(ev ui.Event) {
		if uiDone != nil {
			events <- ev
		}
	}

	endAnalyze := timer.Begin("analyze")
	fset := source.NewFileSet()
	reports := make([]fileReport, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs)
	for i, path := range paths {
		g.Go(func() error {
			reports[i] = checkFile(gctx, a, fset, path, opts, emit)
			return gctx.Err()
		})
	}
	runErr := g.Wait()
	endAnalyze(fmt.Sprintf("jobs=%d", opts.jobs))
	close(events)
	if uiDone != nil {
		if err := <-uiDone; err != nil {
			a.log.Debug().Err(err).Msg("progress view failed")
		}
	}
	if runErr != nil {
		return runErr
	}

	endRender := timer.Begin("render")
	err = renderReports(cmd.OutOrStdout(), fset, reports, opts)
	endRender(opts.format)
	if err != nil {
		return err
	}
	return checkOutcome(reports, opts)
}

func checkFile(ctx context.Context, a *app, fset *source.FileSet, path string, opts checkOptions, emit func(ui.Event)) fileReport {
	report := fileReport{path: path}
	emit(ui.Event{File: path, Status: ui.StatusAnalyzing})
	defer func() {
		if report.err != nil {
			emit(ui.Event{File: path, Status: ui.StatusError})
			return
		}
		emit(ui.Event{File: path, Status: ui.StatusDone, Findings: len(report.diagnostics)})
	}()

	id, err := fset.Load(path)
	if err != nil {
		report.err = fmt.Errorf("read %s: %w", path, err)
		return report
	}
	file := fset.Get(id)
	model, err := a.engine.Analyze(ctx, file, a.registry.Observers())
	if err != nil {
		report.err = fmt.Errorf("analyze %s: %w", path, err)
		return report
	}
	report.diagnostics = model.AllDiagnostics()
	if !opts.fix {
		return report
	}

	if file.Flags&normalizedFlags != 0 {
		a.log.Warn().Str("file", path).Msg("skipping fixes for a file with CRLF line endings or a BOM")
		return report
	}
	emit(ui.Event{File: path, Status: ui.StatusFixing})
	res, err := fix.ApplyFixes(file, report.diagnostics, fix.ApplyOptions{Mode: fix.ApplyModeAll})
	if errors.Is(err, fix.ErrNoFixes) {
		return report
	}
	if err != nil {
		report.err = fmt.Errorf("fix %s: %w", path, err)
		return report
	}
	for _, s := range res.Skipped {
		a.log.Debug().Str("file", path).Str("fix", s.Title).Str("reason", s.Reason).Msg("fix skipped")
	}
	if err := fix.WriteFile(path, res.Content); err != nil {
		report.err = err
		return report
	}
	report.fixed = len(res.Applied)

	// Report what is left after the fixes.
	fixed := fset.Get(fset.Add(path, file.Version+1, res.Content, 0))
	model, err = a.engine.Analyze(ctx, fixed, a.registry.Observers())
	if err != nil {
		report.err = fmt.Errorf("analyze %s after fixing: %w", path, err)
		return report
	}
	report.diagnostics = model.AllDiagnostics()
	return report
}

func renderReports(w io.Writer, fset *source.FileSet, reports []fileReport, opts checkOptions) error {
	if opts.format == "json" {
		out := checkOutputJSON{Files: make([]fileResultJSON, 0, len(reports))}
		for _, r := range reports {
			item := fileResultJSON{Path: filepath.ToSlash(r.path), Fixed: r.fixed, Diagnostics: diagnosticsJSON(fset, r.diagnostics)}
			if r.err != nil {
				item.Error = r.err.Error()
			}
			out.Findings += len(r.diagnostics)
			out.Files = append(out.Files, item)
		}
		return writeJSON(w, out)
	}

	var all []diag.Diagnostic
	for _, r := range reports {
		if r.err != nil {
			fmt.Fprintf(w, "%s %v\n", errorColor.Sprint("error:"), r.err)
			continue
		}
		if r.fixed > 0 {
			fmt.Fprintf(w, "%s: applied %d fix(es)\n", displayPath(r.path), r.fixed)
		}
		all = append(all, r.diagnostics...)
	}
	if opts.format == "short" {
		if text := diag.FormatShort(all, fset, opts.withNotes); text != "" {
			fmt.Fprintln(w, text)
		}
		return nil
	}
	renderPretty(w, fset, all)
	return nil
}

// checkOutcome fails the command when a file could not be checked or a
// finding reaches the --fail-on threshold.
func checkOutcome(reports []fileReport, opts checkOptions) error {
	for _, r := range reports {
		if r.err != nil {
			return errFindings
		}
		if opts.noFail {
			continue
		}
		if slices.ContainsFunc(r.diagnostics, func(d diag.Diagnostic) bool { return d.Severity >= opts.failOn }) {
			return errFindings
		}
	}
	return nil
}

// collectFiles expands directories into the files below them whose extension
// is in exts. Hidden directories are skipped. Explicit file arguments are
// kept regardless of their extension.
func collectFiles(args []string, exts []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		clean := filepath.Clean(p)
		if _, ok := seen[clean]; ok {
			return
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("check: %w", err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		var found []string
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if slices.Contains(exts, filepath.Ext(p)) {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("check: walk %s: %w", arg, err)
		}
		slices.Sort(found)
		for _, p := range found {
			add(p)
		}
	}
	return out, nil
}
