package blueprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"gopkg.in/yaml.v3"
)

// ErrInvalidTemplate is returned when a template cannot be used to build a
// deployment spec. It is never retried.
var ErrInvalidTemplate = errors.New("invalid template")

// TemplateStore supplies the deployment template for a provisioning run
type TemplateStore interface {
	Load(ctx context.Context) (*model.DeploymentTemplate, error)
}

// FileStore reads the template from a YAML file on every Load, so an edited
// file is picked up by the next job without a restart.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore for path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and parses the template file
func (s *FileStore) Load(ctx context.Context) (*model.DeploymentTemplate, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidTemplate, s.path, err)
	}
	defer f.Close()
	return Parse(f)
}

// StaticStore always returns the same template. Useful in tests.
type StaticStore struct {
	Template *model.DeploymentTemplate
}

// Load returns the static template
func (s StaticStore) Load(ctx context.Context) (*model.DeploymentTemplate, error) {
	if s.Template == nil {
		return nil, fmt.Errorf("%w: no template configured", ErrInvalidTemplate)
	}
	return s.Template, nil
}

// document mirrors the blueprint file layout. Databases are declared in a
// separate list in blueprint files and are folded into the service list.
type document struct {
	Services  []model.ServiceDescriptor `yaml:"services"`
	Databases []struct {
		Name string            `yaml:"name"`
		Env  map[string]string `yaml:"env"`
	} `yaml:"databases"`
}

// Parse decodes a YAML template and validates it
func Parse(r io.Reader) (*model.DeploymentTemplate, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidTemplate)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	tmpl := &model.DeploymentTemplate{Services: doc.Services}
	for _, db := range doc.Databases {
		tmpl.Services = append(tmpl.Services, model.ServiceDescriptor{
			Name: db.Name,
			Kind: model.KindDatabase,
			Env:  db.Env,
		})
	}

	if err := Validate(tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Validate checks that a template has at least one service, that names are
// unique and non-empty, and that every kind is known.
func Validate(tmpl *model.DeploymentTemplate) error {
	if tmpl == nil || len(tmpl.Services) == 0 {
		return fmt.Errorf("%w: no services defined", ErrInvalidTemplate)
	}
	seen := make(map[string]struct{}, len(tmpl.Services))
	for i, svc := range tmpl.Services {
		if svc.Name == "" {
			return fmt.Errorf("%w: service %d has no name", ErrInvalidTemplate, i)
		}
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("%w: duplicate service name %q", ErrInvalidTemplate, svc.Name)
		}
		seen[svc.Name] = struct{}{}
		if !svc.Kind.Valid() {
			return fmt.Errorf("%w: service %q has unknown kind %q", ErrInvalidTemplate, svc.Name, svc.Kind)
		}
	}
	return nil
}
