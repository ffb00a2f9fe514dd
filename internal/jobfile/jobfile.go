// Package jobfile loads the ordered addition list consumed by the apply
// command.
package jobfile

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid indicates a job file that decodes but does not describe a
// usable batch: no files listed, or an entry missing source or dest.
var ErrInvalid = errors.New("invalid job file")

// Addition pairs a file on disk with its destination path inside the wheel.
type Addition struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

type jobFile struct {
	Files []Addition `yaml:"files"`
}

// Load reads and validates a job file. Files are YAML; plain JSON decodes
// too since YAML is a superset. Order is preserved: additions are applied
// in file order, which matters for duplicate and force semantics.
func Load(path string) ([]Addition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}

	var jf jobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if len(jf.Files) == 0 {
		return nil, fmt.Errorf("%w: no files listed", ErrInvalid)
	}
	for i, a := range jf.Files {
		if a.Source == "" || a.Dest == "" {
			return nil, fmt.Errorf("%w: entry %d must have source and dest", ErrInvalid, i)
		}
	}

	return jf.Files, nil
}
