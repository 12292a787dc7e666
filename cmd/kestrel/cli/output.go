package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"table", "json", "yaml"}

// printer renders command results as a table or key-value view, or as
// JSON or YAML for scripts.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(cmd *cobra.Command, w io.Writer) *printer {
	f, _ := cmd.Flags().GetString("output")
	return &printer{format: f, w: w}
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "output format: "+strings.Join(outputFormats, ", "))
	prev := cmd.PreRunE
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		f, _ := cmd.Flags().GetString("output")
		switch f {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (want one of %s)", f, strings.Join(outputFormats, ", "))
		}
		if prev != nil {
			return prev(cmd, args)
		}
		return nil
	}
}

// structured reports whether results should be encoded rather than laid
// out for reading.
func (p *printer) structured() bool { return p.format == "json" || p.format == "yaml" }

// encode writes v as indented JSON or YAML.
func (p *printer) encode(v any) error {
	if p.format == "yaml" {
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes header then rows, column-aligned.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, cols := range append([][]string{header}, rows...) {
		_, _ = fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	_ = tw.Flush()
}

// kv prints a key-value detail view.
func (p *printer) kv(pairs [][2]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, pair := range pairs {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", pair[0], pair[1])
	}
	_ = tw.Flush()
}
