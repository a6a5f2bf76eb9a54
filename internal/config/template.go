package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders Default as a TOML document.
func Template() ([]byte, error) {
	out, err := toml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("config: render template: %w", err)
	}
	return out, nil
}

func WriteTemplate(path string, overwrite bool) error {
	data, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: already exists: %s", path)
		}
	}
	return os.WriteFile(path, data, 0o600)
}
