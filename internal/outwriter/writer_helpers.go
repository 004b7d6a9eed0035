package outwriter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// renderer writes one value in each supported output mode.
type renderer struct {
	data any // JSON payload
	csv  func(io.Writer) error
	text func(io.Writer) error
}

// emit writes r in the configured output mode to the output file, or to
// stdout when no file is configured.
func emit(cfg *contract.Config, r renderer) error {
	write := r.text
	switch cfg.Output {
	case schema.JSONOut:
		write = func(w io.Writer) error { return writeJSON(w, r.data) }
	case schema.CSVOut:
		write = r.csv
	}

	out, err := contract.SelectOutputFile(cfg.OutputFile)
	if err != nil {
		return err
	}
	if out == os.Stdout {
		return write(out)
	}
	defer func() { _ = out.Close() }()

	if err := write(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", cfg.OutputFile, err)
	}
	fmt.Fprintf(os.Stderr, "💾 Wrote %s output to %s\n", cfg.Output, cfg.OutputFile)
	return nil
}

func writeJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// writeCSV writes the header and rows, surfacing buffered write errors.
func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}

// floatFormatter renders scores and percentages with a fixed precision.
func floatFormatter(precision int) func(float64) string {
	return func(v float64) string {
		return strconv.FormatFloat(v, 'f', precision, 64)
	}
}
