package main

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/stardustai/webdav-viewer/internal/config"
)

// render writes v in the configured output format. table fills the table
// used for the default format.
func (a *app) render(v any, table func(t *tablewriter.Table)) error {
	switch a.cfg.Output {
	case config.OutputJSON:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputYAML:
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		t := tablewriter.NewWriter(a.out)
		t.SetAutoWrapText(false)
		table(t)
		t.Render()
		return nil
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}
