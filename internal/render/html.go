package render

import (
	"fmt"
	"io"

	"bintail/internal/output"
)

// Link is an extra artifact referenced from the page, such as a DOT or SVG
// graph written next to it.
type Link struct {
	Href  string
	Label string
}

// WriteReportHTML writes a single-page summary of a session report.
func WriteReportHTML(w io.Writer, r *output.Report, title string, links []Link) {
	t := NASA
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; font-size: 14px; color: %s; background: %s; margin: 2em; max-width: 1000px; }
h1 { font-size: 18px; font-weight: 600; margin-bottom: 0.5em; }
h2 { font-size: 14px; font-weight: 600; margin-top: 1.5em; border-bottom: 1px solid #ddd; padding-bottom: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { text-align: left; padding: 3px 12px 3px 0; font-size: 13px; }
th { font-weight: 600; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
.mono { font-family: "Courier New", monospace; font-size: 12px; }
.bar { height: 8px; border-radius: 2px; display: inline-block; vertical-align: middle; background: %s; }
.active { color: %s; font-weight: 600; }
.frozen { color: %s; }
.retired { color: %s; text-decoration: line-through; }
.warn { color: %s; }
a { color: %s; }
</style>
</head>
<body>
`, htmlEscape(title), t.TextColor, t.Background, t.Bar, t.Active, t.Frozen, t.Retired, t.Warning, t.Link)

	fmt.Fprintf(w, "<h1>%s</h1>\n", htmlEscape(title))
	fmt.Fprintf(w, "<p class=\"mono\">%s (%d bytes)<br>blake3 %s</p>\n", htmlEscape(r.Input), r.Size, htmlEscape(r.Digest))

	writeSummary(w, r)
	writeRegions(w, r)

	if len(links) > 0 {
		fmt.Fprintln(w, "<h2>Graphs</h2>")
		fmt.Fprint(w, "<p>")
		for i, l := range links {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprintf(w, `<a href="%s">%s</a>`, htmlEscape(l.Href), htmlEscape(l.Label))
		}
		fmt.Fprintln(w, "</p>")
	}

	writeVariables(w, r)
	writeFunctions(w, r)

	if len(r.Diagnostics) > 0 {
		fmt.Fprintln(w, "<h2>Diagnostics</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Address</th><th>Kind</th><th>Message</th></tr>")
		for _, d := range r.Diagnostics {
			fmt.Fprintf(w, "<tr class=\"warn\"><td class=\"mono\">0x%x</td><td>%s</td><td>%s</td></tr>\n",
				d.Addr, htmlEscape(string(d.Kind)), htmlEscape(d.Msg))
		}
		fmt.Fprintln(w, "</table>")
	}

	fmt.Fprintln(w, "</body></html>")
}

func writeSummary(w io.Writer, r *output.Report) {
	frozen, fixed, variants, sites := 0, 0, 0, 0
	for _, v := range r.Variables {
		if v.Frozen {
			frozen++
		}
	}
	for _, fn := range r.Functions {
		if fn.Fixed {
			fixed++
		}
		variants += len(fn.Variants)
		for _, pp := range fn.Patchpoints {
			if !pp.Synthetic {
				sites++
			}
		}
	}

	fmt.Fprintln(w, "<h2>Summary</h2>")
	fmt.Fprintln(w, "<table>")
	row := func(label string, n int) {
		fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td></tr>\n", label, n)
	}
	row("Variables", len(r.Variables))
	row("Frozen", frozen)
	row("Functions", len(r.Functions))
	row("Fixed", fixed)
	row("Variants", variants)
	row("Call sites", sites)
	row("Relocations", r.Relocations.Total)
	row("Relative", r.Relocations.Relative)
	row("Symbols", r.Relocations.Symbols)
	row("Diagnostics", len(r.Diagnostics))
	fmt.Fprintln(w, "</table>")
}

func writeRegions(w io.Writer, r *output.Report) {
	if len(r.Segments) > 0 {
		fmt.Fprintln(w, "<h2>Segments</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Address</th><th>Offset</th><th>File size</th><th>Mem size</th><th>Flags</th></tr>")
		for _, seg := range r.Segments {
			fmt.Fprintf(w, "<tr><td class=\"mono\">0x%08x</td><td class=\"mono\">0x%x</td><td class=\"num\">%d</td><td class=\"num\">%d</td><td class=\"mono\">%s</td></tr>\n",
				seg.Vaddr, seg.Offset, seg.Filesz, seg.Memsz, htmlEscape(seg.Flags))
		}
		fmt.Fprintln(w, "</table>")
	}

	fmt.Fprintln(w, "<h2>Regions</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th>Section</th><th>Address</th><th>Size</th><th>Capacity</th><th></th><th>Relocs</th><th>Syms</th></tr>")
	for _, reg := range r.Regions {
		name := htmlEscape(reg.Name)
		if reg.Dirty {
			name += " *"
		}
		fmt.Fprintf(w, "<tr><td class=\"mono\">%s</td><td class=\"mono\">0x%08x</td><td class=\"num\">%d</td><td class=\"num\">%d</td><td><span class=\"bar\" style=\"width:%dpx\"></span></td><td class=\"num\">%d</td><td class=\"num\">%d</td></tr>\n",
			name, reg.Vaddr, reg.Size, reg.Cap, barWidth(reg.Size, reg.Cap, 120), reg.Relocs, reg.Syms)
	}
	fmt.Fprintln(w, "</table>")
}

func writeVariables(w io.Writer, r *output.Report) {
	fmt.Fprintln(w, "<h2>Variables</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th>Name</th><th>Location</th><th>Width</th><th>Value</th><th>Functions</th></tr>")
	for _, v := range r.Variables {
		class := ""
		if v.Frozen {
			class = ` class="frozen"`
		}
		fmt.Fprintf(w, "<tr%s><td>%s</td><td class=\"mono\">0x%08x</td><td class=\"num\">%d</td><td class=\"num\">%d</td><td class=\"num\">%d</td></tr>\n",
			class, htmlEscape(truncLabel(v.Name, 60)), v.Location, v.Width, v.Value, len(v.Functions))
	}
	fmt.Fprintln(w, "</table>")
}

func writeFunctions(w io.Writer, r *output.Report) {
	fmt.Fprintln(w, "<h2>Functions</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th>Function</th><th>Variant</th><th>Kind</th><th>Guards</th></tr>")
	for _, fn := range r.Functions {
		name := htmlEscape(truncLabel(fn.Name, 60))
		if fn.Fixed {
			name = `<span class="frozen">` + name + "</span>"
		}
		fmt.Fprintf(w, "<tr><td>%s</td><td class=\"mono\">0x%08x</td><td>generic</td><td></td></tr>\n", name, fn.Body)
		for _, va := range fn.Variants {
			class := ""
			switch {
			case va.Retired:
				class = ` class="retired"`
			case va.Active:
				class = ` class="active"`
			}
			mark := ""
			if fn.Fixed && fn.Active == va.Body {
				mark = "&rarr; "
			}
			kind := va.Kind
			if kind == "constant" {
				kind = fmt.Sprintf("constant %d", va.Constant)
			}
			fmt.Fprintf(w, "<tr%s><td></td><td class=\"mono\">%s0x%08x</td><td>%s</td><td>%s</td></tr>\n",
				class, mark, va.Body, htmlEscape(kind), guards(va.Assignments))
		}
	}
	fmt.Fprintln(w, "</table>")
}

func guards(as []output.Assignment) string {
	var s string
	for i, a := range as {
		if i > 0 {
			s += ", "
		}
		if a.Variable == "" {
			s += fmt.Sprintf(`<span class="warn">%d &le; ?0x%x &le; %d</span>`, a.Lower, a.Location, a.Upper)
			continue
		}
		s += fmt.Sprintf("%d &le; %s(%d) &le; %d", a.Lower, htmlEscape(a.Variable), a.Value, a.Upper)
	}
	return s
}
