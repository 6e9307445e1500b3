package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// render writes v to w as indented JSON or as YAML.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "render yaml")
		}
		return eris.Wrap(enc.Close(), "render yaml")
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "render json")
	}
	return eris.Errorf("unknown output format %q", format)
}
