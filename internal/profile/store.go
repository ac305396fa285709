// Package profile persists named connection profiles so a host can be
// reconnected by name across runs. Secrets (passwords, key passphrases) are
// never written to disk; only the key file path is stored.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/model"
	"gopkg.in/yaml.v3"
)

type fileModel struct {
	Profiles map[string]model.ConnectionSpec `yaml:"profiles"`
}

// LoadAll returns all saved profiles sorted by name.
func LoadAll() ([]model.ConnectionSpec, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]model.ConnectionSpec, 0, len(fm.Profiles))
	for _, p := range fm.Profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one profile by name.
func Get(name string) (model.ConnectionSpec, error) {
	fm, err := loadFile()
	if err != nil {
		return model.ConnectionSpec{}, err
	}
	p, ok := fm.Profiles[name]
	if !ok {
		return model.ConnectionSpec{}, fmt.Errorf("profile not found: %s", name)
	}
	return p, nil
}

// Save adds or replaces a profile. Password and key passphrase fields are
// stripped before writing.
func Save(spec model.ConnectionSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if strings.TrimSpace(spec.Host) == "" {
		return fmt.Errorf("profile %s missing host", spec.Name)
	}
	spec.Password = ""
	spec.KeyPassphrase = ""

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Profiles[spec.Name] = spec
	return saveFile(fm)
}

// Delete removes a profile by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Profiles[name]; !ok {
		return fmt.Errorf("profile not found: %s", name)
	}
	delete(fm.Profiles, name)
	return saveFile(fm)
}

func loadFile() (fileModel, error) {
	path, err := appconfig.ProfilesFilePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Profiles: map[string]model.ConnectionSpec{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse profiles: %w", err)
	}
	if fm.Profiles == nil {
		fm.Profiles = map[string]model.ConnectionSpec{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := appconfig.ProfilesFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
