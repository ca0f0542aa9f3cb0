package bench

import (
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/strom-lab/stromup/pkg/sysinfo"
)

// MarkdownReport renders results as a markdown document with per-query CPU
// and GPU timings and the overall speedup.
func MarkdownReport(results []Result, env sysinfo.Env) string {
	var b strings.Builder

	b.WriteString("# PG-Strom benchmark\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	if env.Pretty != "" {
		fmt.Fprintf(&b, "Platform: %s (%s)\n\n", env.Pretty, env.Arch)
	}
	for _, g := range env.GPUs {
		fmt.Fprintf(&b, "GPU %d: %s, %d MiB, driver %s\n\n", g.Index, g.Name, g.MemoryMiB, g.Driver)
	}

	b.WriteString("| Query | CPU (ms) | GPU (ms) | Speedup |\n")
	b.WriteString("|---|---:|---:|---:|\n")
	var cpuTotal, gpuTotal time.Duration
	for _, r := range results {
		fmt.Fprintf(&b, "| %s | %.1f | %.1f | %.2fx |\n", r.Query, ms(r.CPU), ms(r.GPU), r.Speedup())
		cpuTotal += r.CPU
		gpuTotal += r.GPU
	}
	total := Result{Query: "total", CPU: cpuTotal, GPU: gpuTotal}
	fmt.Fprintf(&b, "| **total** | %.1f | %.1f | %.2fx |\n", ms(cpuTotal), ms(gpuTotal), total.Speedup())

	return b.String()
}

// RenderTerminal renders the markdown report for terminal display. With
// noColor the markdown is returned unchanged.
func RenderTerminal(markdown string, noColor bool) (string, error) {
	if noColor {
		return markdown, nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}

	result, err := renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return result, nil
}

// htmlReport is the mechanical HTML rendering of the same table.
var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>PG-Strom benchmark</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: right; }
th:first-child, td:first-child { text-align: left; }
</style>
</head>
<body>
<h1>PG-Strom benchmark</h1>
<p>Generated: {{.Generated}}</p>
{{if .Platform}}<p>Platform: {{.Platform}}</p>{{end}}
{{range .GPUs}}<p>GPU {{.Index}}: {{.Name}}, {{.MemoryMiB}} MiB, driver {{.Driver}}</p>{{end}}
<table>
<tr><th>Query</th><th>CPU (ms)</th><th>GPU (ms)</th><th>Speedup</th></tr>
{{range .Rows}}<tr><td>{{.Query}}</td><td>{{.CPU}}</td><td>{{.GPU}}</td><td>{{.Speedup}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type htmlRow struct {
	Query, CPU, GPU, Speedup string
}

// WriteHTMLReport writes the HTML rendering of the results to path.
func WriteHTMLReport(path string, results []Result, env sysinfo.Env) error {
	rows := make([]htmlRow, 0, len(results)+1)
	var cpuTotal, gpuTotal time.Duration
	for _, r := range results {
		rows = append(rows, htmlRow{
			Query:   r.Query,
			CPU:     fmt.Sprintf("%.1f", ms(r.CPU)),
			GPU:     fmt.Sprintf("%.1f", ms(r.GPU)),
			Speedup: fmt.Sprintf("%.2fx", r.Speedup()),
		})
		cpuTotal += r.CPU
		gpuTotal += r.GPU
	}
	total := Result{CPU: cpuTotal, GPU: gpuTotal}
	rows = append(rows, htmlRow{
		Query:   "total",
		CPU:     fmt.Sprintf("%.1f", ms(cpuTotal)),
		GPU:     fmt.Sprintf("%.1f", ms(gpuTotal)),
		Speedup: fmt.Sprintf("%.2fx", total.Speedup()),
	})

	f, err := os.Create(path) //nolint:gosec // report path from config
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}

	data := struct {
		Generated string
		Platform  string
		GPUs      []sysinfo.GPU
		Rows      []htmlRow
	}{
		Generated: time.Now().Format("2006-01-02 15:04:05"),
		Platform:  env.Pretty,
		GPUs:      env.GPUs,
		Rows:      rows,
	}

	if err := htmlReport.Execute(f, data); err != nil {
		f.Close()
		return fmt.Errorf("render html report: %w", err)
	}
	return f.Close()
}
