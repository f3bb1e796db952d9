package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\x1b[0m"
	ansiGreen = "\x1b[32m"
)

func renderSummary(job domain.Job, report domain.StatusReport, dir string, colorize bool) string {
	lines := []string{fmt.Sprintf("%s: %s", job.Name, report.Status)}
	if report.BPM != nil {
		lines = append(lines, fmt.Sprintf("  BPM: %.1f", *report.BPM))
	}
	if report.Key != nil {
		lines = append(lines, fmt.Sprintf("  Key: %s", *report.Key))
	}
	if dir != "" {
		lines = append(lines, fmt.Sprintf("  Dir: %s", dir))
	}
	if colorize {
		lines[0] = ansiGreen + lines[0] + ansiReset
	}
	return strings.Join(lines, "\n")
}

func renderArtifacts(artifacts []domain.Artifact) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"File", "Size"})

	var total int64
	for _, a := range artifacts {
		tw.AppendRow(table.Row{a.Name, humanize.Bytes(uint64(a.Size))})
		total += a.Size
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d files", len(artifacts)), humanize.Bytes(uint64(total))})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft, AlignFooter: text.AlignRight},
	})
	return tw.Render()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
