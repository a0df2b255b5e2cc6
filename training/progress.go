package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/samuelsimko/scaling-mlps/layers"
)

// ProgressBar provides tqdm-style pass progress visualization
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out (stderr when nil)
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	if out == nil {
		out = os.Stderr
	}
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		current:     0,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64

	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	for _, key := range sortedKeys(pb.metrics) {
		line += fmt.Sprintf(", %s=%.3f", key, pb.metrics[key])
	}

	line += "]"
	fmt.Fprint(pb.out, line)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints PyTorch-style model architecture
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
	}
}

// PrintArchitecture writes the model architecture in PyTorch style
func (p *ModelArchitecturePrinter) PrintArchitecture(w io.Writer, modelSpec *layers.ModelSpec) {
	fmt.Fprintf(w, "Model Architecture:\n")
	fmt.Fprintf(w, "%s(\n", p.modelName)
	p.writeLayers(w, modelSpec.Layers, "  ")
	fmt.Fprintf(w, ")\n\n")

	fmt.Fprintf(w, "Total parameters: %s\n", humanize.Comma(modelSpec.TotalParameters))
	fmt.Fprintf(w, "Params size: %s\n", humanize.IBytes(uint64(modelSpec.TotalParameters*4))) // 4 bytes per float32
	fmt.Fprintf(w, "Forward FLOPs per sample: %s\n\n", humanize.SIWithDigits(float64(modelSpec.FLOPsPerSample), 2, "FLOP"))
}

func (p *ModelArchitecturePrinter) writeLayers(w io.Writer, specs []layers.LayerSpec, indent string) {
	for _, layer := range specs {
		if layer.Type == layers.Residual {
			fmt.Fprintf(w, "%s(%s): Residual(\n", indent, layer.Name)
			p.writeLayers(w, layer.Children, indent+"  ")
			fmt.Fprintf(w, "%s)\n", indent)
			continue
		}
		fmt.Fprintf(w, "%s%s\n", indent, p.formatLayer(layer))
	}
}

// formatLayer formats a single layer for display
func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec) string {
	switch layer.Type {
	case layers.Dense:
		return p.formatDense(layer)
	case layers.LayerNorm:
		features := 0
		if len(layer.InputShape) > 1 {
			features = layer.InputShape[1]
		}
		return fmt.Sprintf("(%s): LayerNorm((%d,), eps=%g)", layer.Name, features, layer.Parameters["eps"])
	case layers.GELU:
		return fmt.Sprintf("(%s): GELU()", layer.Name)
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", layer.Name)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
}

// formatDense formats a Dense/Linear layer
func (p *ModelArchitecturePrinter) formatDense(layer layers.LayerSpec) string {
	inFeatures, _ := layer.Parameters["input_size"].(int)
	outFeatures, _ := layer.Parameters["output_size"].(int)
	useBias, _ := layer.Parameters["use_bias"].(bool)

	return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
		layer.Name, inFeatures, outFeatures, useBias)
}

// EpochSummary is what the summary printer shows after a stats epoch.
type EpochSummary struct {
	Epoch        int
	Elapsed      time.Duration
	Train        EpochResult
	Test         EpochResult
	Best         float64
	Compute      float64
	ImprovedBest bool
}

// SummaryPrinter renders the human-readable per-epoch report. Styling is
// applied only when the destination is a terminal.
type SummaryPrinter struct {
	out    io.Writer
	styled bool

	header lipgloss.Style
	label  lipgloss.Style
	best   lipgloss.Style
}

// NewSummaryPrinter creates a printer writing to out (stdout when nil)
func NewSummaryPrinter(out io.Writer) *SummaryPrinter {
	if out == nil {
		out = os.Stdout
	}
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &SummaryPrinter{
		out:    out,
		styled: styled,
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		best:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	}
}

func (p *SummaryPrinter) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Print writes one epoch report
func (p *SummaryPrinter) Print(s EpochSummary) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(p.header, fmt.Sprintf("Epoch %d Time:", s.Epoch)), s.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(p.out, p.render(p.header, "---- Training ----"))
	fmt.Fprintf(p.out, "%s %.6f\n", p.render(p.label, "Average Training Loss:"), s.Train.Loss)
	fmt.Fprintf(p.out, "%s %.4f\n", p.render(p.label, "Average Training Accuracy:"), s.Train.Accuracy)
	fmt.Fprintf(p.out, "%s %.4f\n", p.render(p.label, "Top 5 Training Accuracy:"), s.Train.TopK)
	fmt.Fprintln(p.out, p.render(p.header, "---- Test ----"))

	best := fmt.Sprintf("%.4f", s.Best)
	if s.ImprovedBest {
		best = p.render(p.best, best+" (new best)")
	}
	fmt.Fprintf(p.out, "%s %s\n", p.render(p.label, "Current Optimal Accuracy:"), best)
	fmt.Fprintf(p.out, "%s %.4f\n", p.render(p.label, "Test Accuracy:"), s.Test.Accuracy)
	fmt.Fprintf(p.out, "%s %.4f\n", p.render(p.label, "Top 5 Test Accuracy:"), s.Test.TopK)
	fmt.Fprintf(p.out, "%s %s\n", p.render(p.label, "Compute:"), humanize.SIWithDigits(s.Compute, 3, "FLOP"))
}
