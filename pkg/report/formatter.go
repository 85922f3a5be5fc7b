package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	jsoniter "github.com/json-iterator/go"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatTSV   Format = "tsv"
)

// sparkWidth is the number of cells of a memory trend.
const sparkWidth = 30

var (
	sumTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1)
	sumHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	sumCell   = lipgloss.NewStyle().Padding(0, 1)
	sumDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	sumBold   = lipgloss.NewStyle().Bold(true)
)

// Render writes the summary in the given format.
func Render(w io.Writer, s Summary, format Format) error {
	switch format {
	case FormatJSON:
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatTSV:
		return renderTSV(w, s)
	case FormatTable, "":
		return renderTable(w, s)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func renderTable(w io.Writer, s Summary) error {
	fmt.Fprintln(w, sumTitle.Render("Profiling Session Summary"))
	fmt.Fprintln(w, sumDim.Render(strings.Repeat("═", 60)))
	if s.Records == 0 {
		fmt.Fprintln(w, "No records.")
		return nil
	}
	fmt.Fprintf(w, "Started %s, %s across %s records\n\n",
		sumBold.Render(s.Start.Format("2006-01-02 15:04:05")),
		sumBold.Render(fmt.Sprintf("%.1fs", s.Duration)),
		sumBold.Render(fmt.Sprintf("%d", s.Records)))

	rows := make([][]string, 0, len(s.Identities))
	for _, is := range s.Identities {
		rows = append(rows, []string{
			is.Identity,
			fmt.Sprintf("%d", is.Records),
			fmt.Sprintf("%.1fs", is.Duration),
			fmt.Sprintf("%d", is.Threads),
			formatBytes(is.PeakMemory),
			fmt.Sprintf("%.1f%%", is.MeanCPU),
			fmt.Sprintf("%.1f%%", is.MaxCPU),
			formatBytes(is.DiskBytes),
			renderSparkline(downsample(is.Memory, sparkWidth)),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return sumHeader
			}
			return sumCell
		}).
		Headers("IDENTITY", "RECORDS", "SPAN", "THREADS", "PEAK MEM", "MEAN CPU", "MAX CPU", "DISK I/O", "MEMORY").
		Rows(rows...)

	fmt.Fprintln(w, t)
	return nil
}

func renderTSV(w io.Writer, s Summary) error {
	fmt.Fprintln(w, "IDENTITY\tRECORDS\tDURATION_S\tTHREADS\tPEAK_MEMORY\tMEAN_CPU\tMAX_CPU\tDISK_BYTES")
	for _, is := range s.Identities {
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%d\t%d\t%.2f\t%.2f\t%d\n",
			is.Identity, is.Records, is.Duration, is.Threads,
			is.PeakMemory, is.MeanCPU, is.MaxCPU, is.DiskBytes)
	}
	return nil
}

// sparkline block characters from lowest to highest
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func renderSparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	var b strings.Builder
	rng := hi - lo
	for _, v := range values {
		idx := 0
		if rng > 0 {
			idx = int((v - lo) / rng * float64(len(sparkBlocks)-1))
		}
		idx = max(0, min(idx, len(sparkBlocks)-1))
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

// downsample reduces values to at most n buckets by averaging.
func downsample(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	out := make([]float64, n)
	for i := range out {
		lo := i * len(values) / n
		hi := (i + 1) * len(values) / n
		var sum float64
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
