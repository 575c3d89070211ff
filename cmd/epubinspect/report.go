package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/simp-lee/epubmodel"
	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/internal/config"
)

// report is the outcome of inspecting one publication.
type report struct {
	File    string `yaml:"file"`
	OK      bool   `yaml:"ok"`
	Error   string `yaml:"error,omitempty"`
	Version string `yaml:"version,omitempty"`
	Title   string `yaml:"title,omitempty"`

	Authors   []string `yaml:"authors,omitempty"`
	Languages []string `yaml:"languages,omitempty"`

	Package   string `yaml:"package,omitempty"`
	Manifest  int    `yaml:"manifest_items"`
	Spine     int    `yaml:"spine_items"`
	SpineText int    `yaml:"spine_text_bytes,omitempty"`

	TOCSource string     `yaml:"toc_source,omitempty"`
	TOCPath   string     `yaml:"toc_path,omitempty"`
	TOCItems  int        `yaml:"toc_items"`
	TOC       []tocEntry `yaml:"toc,omitempty"`

	Cover           string `yaml:"cover,omitempty"`
	DRM             bool   `yaml:"drm,omitempty"`
	FontObfuscation bool   `yaml:"font_obfuscation,omitempty"`

	Diagnostics []diagEntry `yaml:"diagnostics,omitempty"`
}

type tocEntry struct {
	Label string `yaml:"label"`
	Href  string `yaml:"href"`
	Level int    `yaml:"level"`
}

type diagEntry struct {
	Severity diag.Severity `yaml:"severity"`
	Scope    string        `yaml:"scope"`
	Message  string        `yaml:"message"`
	Data     any           `yaml:"data,omitempty"`
}

// inspect opens the publication at path. The toc command asks for the
// entries themselves; inspect instead loads every spine item to check it
// can be read.
func inspect(ctx context.Context, path string, opts []epub.Option, withTOC bool) report {
	r := report{File: path}
	res, err := epub.Open(ctx, path, opts...)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.OK = res.OK
	r.addDiagnostics(res.Diagnostics)
	if !res.OK {
		return r
	}
	pub := res.Value
	defer pub.Close()

	md := pub.Package.Metadata
	r.Version = pub.Package.Version
	if len(md.Titles) > 0 {
		r.Title = md.Titles[0]
	}
	for _, a := range md.Authors {
		r.Authors = append(r.Authors, a.Name)
	}
	r.Languages = md.Language
	r.Package = pub.PackagePath
	r.Manifest = len(pub.Package.Manifest)
	r.Spine = len(pub.Spine)
	r.TOCSource = string(pub.TOCSource.Kind)
	r.TOCPath = pub.TOCSource.Path
	r.TOCItems = len(pub.TOC.Items)
	if item, ok := pub.Cover(); ok {
		r.Cover = pub.ResolvePath(item.Href)
	}
	r.DRM = pub.Encryption.DRM
	r.FontObfuscation = pub.Encryption.FontObfuscation

	if withTOC {
		for _, it := range pub.TOC.Items {
			r.TOC = append(r.TOC, tocEntry{Label: it.Label, Href: it.Href, Level: it.Level})
		}
		return r
	}

	items := pub.LoadSpine(ctx)
	for _, it := range items.Value {
		r.SpineText += len(it.Text)
	}
	r.addDiagnostics(items.Diagnostics)
	return r
}

func (r *report) addDiagnostics(ds []diag.Diagnostic) {
	for _, d := range ds {
		r.Diagnostics = append(r.Diagnostics, diagEntry{
			Severity: d.Severity,
			Scope:    strings.Join(d.Scope, "/"),
			Message:  d.Message,
			Data:     d.Data,
		})
	}
}

// rank orders severities from least to most serious.
func rank(s diag.Severity) int {
	switch s {
	case diag.Info:
		return 0
	case diag.Warning:
		return 1
	case diag.Error:
		return 2
	default:
		return 3
	}
}

// fails reports whether r carries an error or a diagnostic at least as
// serious as threshold.
func (r report) fails(threshold diag.Severity) bool {
	if r.Error != "" {
		return true
	}
	for _, d := range r.Diagnostics {
		if rank(d.Severity) >= rank(threshold) {
			return true
		}
	}
	return false
}

func writeReports(w io.Writer, format string, reports []report) error {
	if format == config.FormatYAML {
		out, err := yaml.Marshal(reports)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		_, err = w.Write(out)
		return err
	}
	for _, r := range reports {
		if err := writeText(w, r); err != nil {
			return err
		}
	}
	return nil
}

func writeText(w io.Writer, r report) error {
	var b strings.Builder
	switch {
	case r.Error != "":
		fmt.Fprintf(&b, "%s: %s\n", r.File, r.Error)
	case !r.OK:
		fmt.Fprintf(&b, "%s: unusable\n", r.File)
	default:
		fmt.Fprintf(&b, "%s: ePub %s %q", r.File, r.Version, r.Title)
		if len(r.Authors) > 0 {
			fmt.Fprintf(&b, " by %s", strings.Join(r.Authors, ", "))
		}
		b.WriteByte('\n')
		fmt.Fprintf(&b, "  package: %s, %d manifest items, %d spine items\n", r.Package, r.Manifest, r.Spine)
		if r.TOCSource != "" {
			fmt.Fprintf(&b, "  toc: %s (%s), %d entries\n", r.TOCSource, r.TOCPath, r.TOCItems)
		} else {
			b.WriteString("  toc: none\n")
		}
		if r.Cover != "" {
			fmt.Fprintf(&b, "  cover: %s\n", r.Cover)
		}
		if r.DRM {
			b.WriteString("  drm: yes\n")
		}
		for _, e := range r.TOC {
			fmt.Fprintf(&b, "  %s%s -> %s\n", strings.Repeat("  ", e.Level), e.Label, e.Href)
		}
	}
	for _, d := range r.Diagnostics {
		fmt.Fprintf(&b, "  [%s] %s: %s\n", d.Severity, d.Scope, d.Message)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
