// pkg/cli/output.go

package cli

import (
	"encoding/json"
	"io"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/spf13/cobra"
)

const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

var Formats = []string{FormatTable, FormatYAML, FormatJSON}

// OutputFormat returns the -o value, rejecting unknown formats.
func OutputFormat(cmd *cobra.Command) (string, error) {
	f, _ := cmd.Flags().GetString(FlagOutput)
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", eos_err.NewValidationError("unknown output format "+f, "use one of table, yaml, json")
}

// Encode writes v as YAML or JSON. Table output is left to the caller.
func Encode(w io.Writer, format string, v any) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return eos_io.EncodeYAML(w, v)
}
