package schema

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileStore loads definitions from a directory tree of .json/.yaml/.yml
// files. A file holds either one registry definition (top-level
// registry_code) or a set of entity definitions (top-level entities list).
type FileStore struct {
	dir string
	log *zap.Logger
}

// NewFileStore builds a store over a definition directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, log: zap.L().Named("schema.file")}
}

// Load parses every definition file under the directory. A malformed file
// fails the load as a whole; a partially loaded rule set would silently
// misroute documents.
func (s *FileStore) Load(ctx context.Context) (*Bundle, error) {
	bundle := &Bundle{}
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isDefinitionFile(path) {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "schema: read %s", path)
		}
		if err := parseDefinitionFile(path, raw, bundle); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "schema: load directory %s", s.dir)
	}
	s.log.Debug("loaded definition files",
		zap.String("dir", s.dir),
		zap.Int("registries", len(bundle.Registries)),
		zap.Int("entities", len(bundle.Entities)))
	return bundle, nil
}

// Close implements Store; a file store holds no resources.
func (s *FileStore) Close() error { return nil }

// Dir exposes the definition directory for cache watching.
func (s *FileStore) Dir() string { return s.dir }

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

type entityFile struct {
	Entities []*EntityDefinition `json:"entities" yaml:"entities"`
}

func parseDefinitionFile(path string, raw []byte, bundle *Bundle) error {
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")

	var reg RegistryDefinition
	if err := unmarshalDef(isJSON, raw, &reg); err == nil && reg.RegistryCode != "" {
		bundle.Registries = append(bundle.Registries, &reg)
		return nil
	}

	var ents entityFile
	if err := unmarshalDef(isJSON, raw, &ents); err != nil {
		return eris.Wrapf(err, "schema: parse %s", path)
	}
	if len(ents.Entities) == 0 {
		return eris.Errorf("schema: %s is neither a registry nor an entity definition", path)
	}
	bundle.Entities = append(bundle.Entities, ents.Entities...)
	return nil
}

func unmarshalDef(isJSON bool, raw []byte, out any) error {
	if isJSON {
		return json.Unmarshal(raw, out)
	}
	return yaml.Unmarshal(raw, out)
}
