package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders a single-line progress display for a bounded loop
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out. A nil writer
// means standard output.
func NewProgressBar(description string, total int, out io.Writer) *ProgressBar {
	if out == nil {
		out = os.Stdout
	}
	if total <= 0 {
		total = 1
	}
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
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
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := float64(pb.current) / float64(pb.total)
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s",
		pb.description, percentage*100, bar, pb.current, pb.total, formatDuration(elapsed))

	if pb.current > 0 && elapsed > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", float64(pb.current)/elapsed.Seconds())
	}

	keys := make([]string, 0, len(pb.metrics))
	for key := range pb.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line += fmt.Sprintf(", %s=%.3f", key, pb.metrics[key])
	}

	fmt.Fprint(pb.out, line+"]")
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// StepReporter prints one line per training event
type StepReporter struct {
	out   io.Writer
	total uint64
}

// NewStepReporter creates a reporter for a run of total steps
func NewStepReporter(out io.Writer, total uint64) *StepReporter {
	if out == nil {
		out = os.Stdout
	}
	return &StepReporter{out: out, total: total}
}

// Writer returns the destination of the report
func (r *StepReporter) Writer() io.Writer {
	return r.out
}

// Step reports an applied training step
func (r *StepReporter) Step(step uint64, loss, learningRate float64, elapsed time.Duration) {
	fmt.Fprintf(r.out, "step %d/%d loss: %f, learning rate: %f, time elapsed: %f sec\n",
		step, r.total, loss, learningRate, elapsed.Seconds())
}

// Stale reports a gradient that was dropped because its step had already been applied
func (r *StepReporter) Stale(step uint64) {
	fmt.Fprintf(r.out, "dropped stale gradient for step %d\n", step)
}

// Validation reports a validation result
func (r *StepReporter) Validation(result ValidationResult) {
	fmt.Fprintf(r.out, "validation loss at step %d: %f\n", result.Step, result.Score)
	if result.Halved {
		fmt.Fprintf(r.out, "validation loss increased, halving learning rate factor to %f\n", result.LearningRateFactor)
	}
}

// Saved reports the final checkpoint
func (r *StepReporter) Saved(path string) {
	fmt.Fprintf(r.out, "saved final model to %s\n", path)
}
