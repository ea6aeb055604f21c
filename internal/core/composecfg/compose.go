package composecfg

import (
	"context"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// ConsolidatedServiceName is the single application service in the
// consolidated compose layout.
const ConsolidatedServiceName = "ddalab"

// legacyServiceMarkers are the per-component service names of the old
// multi-service layout. Their presence marks a definition as legacy; the
// consolidated layout has a single application service, so the rewrite is
// safe to invoke repeatedly.
var legacyServiceMarkers = []string{"web", "api"}

// =============================================================================
// Parsing
// =============================================================================

// loadProject parses compose YAML through compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, &ParseError{Message: "invalid YAML syntax", Err: ErrInvalidYAML}
	}
	if dict == nil {
		return nil, &ParseError{Message: "invalid YAML syntax", Err: ErrInvalidYAML}
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
		// Interpolate against an empty environment: ${VAR:-default} falls
		// back to its default, which is enough for structural inspection
		// without dragging the deployment's env file in here.
		Environment: types.Mapping{},
	}, func(opts *loader.Options) {
		opts.SetProjectName("ddalab-temp", false)
		opts.SkipValidation = false
		opts.SkipNormalization = true
		opts.SkipExtends = true
		// This package never touches the filesystem: env_file references
		// must stay unresolved instead of being read relative to the
		// process working directory.
		opts.SkipResolveEnvironment = true
	})
	if err != nil {
		return nil, &ParseError{Message: err.Error(), Err: ErrInvalidYAML}
	}

	return project, nil
}

// ServiceNames returns the sorted service names declared in the definition.
func ServiceNames(yamlContent string) ([]string, error) {
	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Validate checks that the definition parses and declares at least one service.
func Validate(yamlContent string) error {
	project, err := loadProject(yamlContent)
	if err != nil {
		return err
	}
	if len(project.Services) == 0 {
		return ErrNoServices
	}
	return nil
}

// =============================================================================
// Legacy Layout Detection
// =============================================================================

// IsLegacyLayout reports whether the definition still uses the old
// multi-service layout (separate web/api services). Already-consolidated
// definitions return false, which makes the consolidation rewrite idempotent.
func IsLegacyLayout(yamlContent string) (bool, error) {
	project, err := loadProject(yamlContent)
	if err != nil {
		return false, err
	}

	for _, marker := range legacyServiceMarkers {
		if _, ok := project.Services[marker]; ok {
			return true, nil
		}
	}
	return false, nil
}
