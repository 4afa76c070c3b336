package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Save writes cfg as YAML to path, replacing the file atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// SaveCustomChecks writes the custom checks document to path.
func SaveCustomChecks(path string, file *CustomChecksFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode custom checks: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// ReadCustomChecksFile returns the raw custom checks document at path.
func ReadCustomChecksFile(path string) (*CustomChecksFile, error) {
	file := &CustomChecksFile{Checks: map[string]CustomCheck{}}
	if path == "" {
		return file, nil
	}
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return file, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read custom checks: %w", err)
	}
	if err := yaml.Unmarshal(content, file); err != nil {
		return nil, fmt.Errorf("parse custom checks: %w", err)
	}
	return file, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place. Missing parent directories are created.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Documents bundles both configuration documents as exchanged over the
// agent's /config endpoint.
type Documents struct {
	Config       Config           `json:"config"`
	CustomChecks CustomChecksFile `json:"customchecks"`
}

// ReadDocuments returns the documents behind cfg as they are on disk.
func ReadDocuments(cfg *Config) (*Documents, error) {
	custom, err := ReadCustomChecksFile(cfg.Default.CustomChecks)
	if err != nil {
		return nil, err
	}
	return &Documents{Config: *cfg, CustomChecks: *custom}, nil
}

// WriteDocuments validates d and writes the agent configuration to path and
// the custom checks to the path named in d.
func WriteDocuments(path string, d *Documents) error {
	if path == "" {
		return fmt.Errorf("%w: agent was started without a config file", ErrInvalid)
	}
	if err := d.Config.Validate(); err != nil {
		return err
	}
	if _, err := d.CustomChecks.Normalize(); err != nil {
		return err
	}

	customPath := d.Config.Default.CustomChecks
	if customPath == "" && len(d.CustomChecks.Checks) > 0 {
		return fmt.Errorf("%w: custom checks given but default.customchecks is empty", ErrInvalid)
	}

	if err := Save(path, &d.Config); err != nil {
		return err
	}
	if customPath != "" {
		return SaveCustomChecks(customPath, &d.CustomChecks)
	}
	return nil
}

// DocumentFiles reads and writes the documents of one loaded configuration.
type DocumentFiles struct {
	cfg *Config
}

// NewDocumentFiles binds the documents to cfg and the file it came from.
func NewDocumentFiles(cfg *Config) *DocumentFiles {
	return &DocumentFiles{cfg: cfg}
}

// Read returns the documents as they are on disk.
func (f *DocumentFiles) Read() (*Documents, error) {
	return ReadDocuments(f.cfg)
}

// Write validates and persists d. The running configuration is unchanged
// until the next reload.
func (f *DocumentFiles) Write(d *Documents) error {
	return WriteDocuments(f.cfg.Path, d)
}
