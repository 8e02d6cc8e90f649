package deps

import (
	"bufio"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// WriteRequirements writes one specifier per line.
func WriteRequirements(w io.Writer, specs []string) error {
	bw := bufio.NewWriter(w)
	for _, s := range specs {
		if _, err := fmt.Fprintln(bw, s); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WritePackageJSON writes a private package.json whose dependencies are
// the parseable specs. Unconstrained specs depend on "*".
func WritePackageJSON(w io.Writer, name string, specs []string) error {
	doc := `{}`
	var err error
	if doc, err = sjson.Set(doc, "name", name); err != nil {
		return fmt.Errorf("set name: %w", err)
	}
	if doc, err = sjson.Set(doc, "version", "1.0.0"); err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	if doc, err = sjson.Set(doc, "private", true); err != nil {
		return fmt.Errorf("set private: %w", err)
	}
	if doc, err = sjson.SetRaw(doc, "dependencies", `{}`); err != nil {
		return fmt.Errorf("set dependencies: %w", err)
	}
	for _, raw := range specs {
		spec, err := ParseSpec(raw)
		if err != nil {
			return err
		}
		rng := spec.Range()
		if rng == "" {
			rng = "*"
		}
		if doc, err = sjson.Set(doc, "dependencies."+gjson.Escape(spec.Name), rng); err != nil {
			return fmt.Errorf("set dependency %s: %w", spec.Name, err)
		}
	}
	_, err = io.WriteString(w, doc+"\n")
	return err
}
