package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/upb/llm-governance-gateway/services/breaker"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	goodColor = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed)
)

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (want table, json or yaml)", format)
	}
}

// render writes v in the requested format; table output is delegated
func render(out io.Writer, format string, v any, table func() error) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// go through JSON so keys match the API field names
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		data, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	default:
		return table()
	}
}

func colorState(state breaker.State) string {
	switch state {
	case breaker.StateClosed:
		return goodColor.Sprint(state)
	case breaker.StateHalfOpen:
		return warnColor.Sprint(state)
	default:
		return badColor.Sprint(state)
	}
}
