// Package setup is the driver's persisted key/value configuration store
// (setup.json).
package setup

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
)

var ErrKeyNotFound = errors.New("setup key not found")

//go:embed setup.schema.json
var schemaJSON string

// Store reads and writes setup.json. Keys are case-insensitive and are
// written back lower-cased. Every Set is persisted immediately.
type Store struct {
	path   string
	log    *slog.Logger
	schema *jsonschema.Schema

	mu sync.Mutex
	v  *viper.Viper
}

// Open loads path, creating it from the defaults when it does not exist.
func Open(path string) (*Store, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile setup schema: %w", err)
	}
	s := &Store{
		path:   path,
		log:    logging.Named("setup"),
		schema: schema,
		v:      newViper(path),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.seed(); err != nil {
			return nil, err
		}
		s.log.Info("created setup file from defaults", "path", path)
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := s.validateFile(); err != nil {
		return nil, err
	}
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read setup %s: %w", path, err)
	}
	s.log.Debug("setup loaded", "path", path, "keys", len(s.v.AllKeys()))
	return s, nil
}

func newViper(path string) *viper.Viper {
	// "::" keeps dotted command ids from being read as nested paths.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("json")
	for k, val := range optionDefaults {
		v.SetDefault(k, val)
	}
	return v
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("setup.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("setup.schema.json")
}

func (s *Store) validateFile() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read setup %s: %w", s.path, err)
	}
	if err := validate(s.schema, b); err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	return nil
}

func validate(schema *jsonschema.Schema, b []byte) error {
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode setup: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid setup: %w", err)
	}
	return nil
}

func (s *Store) seed() error {
	cmds := make([]string, 0, len(defaultCommands))
	for _, c := range defaultCommands {
		cmds = append(cmds, c.cmd)
		s.v.Set(IDKey(c.cmd), c.id)
		s.v.Set(NameKey(c.cmd), c.name)
	}
	s.v.Set(KeyCommands, cmds)
	return persist(s.v, s.path)
}

func persist(v *viper.Viper, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create setup dir: %w", err)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write setup %s: %w", path, err)
	}
	return nil
}

func (s *Store) Path() string { return s.path }

// Get returns the raw value for key or ErrKeyNotFound.
func (s *Store) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return s.v.Get(key), nil
}

func (s *Store) GetString(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return s.v.GetString(key), nil
}

func (s *Store) GetBool(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return false, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return s.v.GetBool(key), nil
}

func (s *Store) GetFloat(key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return s.v.GetFloat64(key), nil
}

// Commands returns the configured command identifiers in file order.
func (s *Store) Commands() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(KeyCommands) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, KeyCommands)
	}
	return s.v.GetStringSlice(KeyCommands), nil
}

// Set stores value under key and writes the file. The in-memory settings
// only change once the file was written.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := newViper(s.path)
	if err := next.MergeConfigMap(s.v.AllSettings()); err != nil {
		return fmt.Errorf("copy setup: %w", err)
	}
	next.Set(key, value)
	if err := persist(next, s.path); err != nil {
		return err
	}
	s.v = next
	s.log.Debug("setup value stored", "key", key, "value", value)
	return nil
}
