package extract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nz-health/extract-loader/internal/validation"
)

// ErrRegistryPathRequired is returned when LoadRegistryFile is called with
// an empty path. Unlike the teacher's optional aliasing config, handler
// definitions are not optional once a deployment configures a path: if the
// caller wants graceful skip-when-absent behavior, it should not call this
// function at all when no path is configured.
var ErrRegistryPathRequired = errors.New("extract registry path is required")

type yamlDoc struct {
	ExtractType     string               `yaml:"extractType"`
	TableName       string               `yaml:"tableName"`
	StagingTable    string               `yaml:"stagingTable"`
	Columns         []string             `yaml:"columns"`
	NaturalKeys     []string             `yaml:"naturalKeys"`
	Transformations []yamlTransformation `yaml:"transformations"`
}

type yamlTransformation struct {
	SourceColumn string           `yaml:"sourceColumn"`
	TargetColumn string           `yaml:"targetColumn"`
	TargetType   string           `yaml:"targetType"`
	Required     bool             `yaml:"required"`
	Default      *string          `yaml:"default"`
	Validations  []yamlValidation `yaml:"validations"`
}

type yamlValidation struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	Domain       string   `yaml:"domain"`
	Pattern      string   `yaml:"pattern"`
	Min          *float64 `yaml:"min"`
	Max          *float64 `yaml:"max"`
	Enum         []string `yaml:"enum"`
	MinLength    int      `yaml:"minLength"`
	MaxLength    int      `yaml:"maxLength"`
	ErrorMessage string   `yaml:"errorMessage"`
	Severity     string   `yaml:"severity"`
}

// LoadRegistryFile reads one or more YAML documents from path, each
// describing one extract, and builds a Registry. An empty path is a hard
// error: handler definitions are required configuration, never optional.
func LoadRegistryFile(path string) (*Registry, error) {
	if path == "" {
		return nil, ErrRegistryPathRequired
	}

	f, err := os.Open(path) //nolint:gosec // path is operator-supplied deployment config
	if err != nil {
		return nil, fmt.Errorf("extract: open registry file: %w", err)
	}
	defer f.Close()

	var handlers []Handler

	dec := yaml.NewDecoder(f)

	for {
		var doc yamlDoc

		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, fmt.Errorf("extract: parse registry file %s: %w", path, err)
		}

		handler, err := doc.toHandler()
		if err != nil {
			return nil, fmt.Errorf("extract: %s: %w", doc.ExtractType, err)
		}

		handlers = append(handlers, handler)
	}

	return NewRegistry(handlers...)
}

func (d yamlDoc) toHandler() (Handler, error) {
	transformations := make([]ColumnTransformation, 0, len(d.Transformations))

	for _, t := range d.Transformations {
		rules, err := buildRules(t.Validations)
		if err != nil {
			return Handler{}, err
		}

		transformations = append(transformations, ColumnTransformation{
			SourceColumn:    t.SourceColumn,
			TargetColumn:    t.TargetColumn,
			TargetType:      TargetType(t.TargetType),
			Required:        t.Required,
			DefaultValue:    t.Default,
			ValidationRules: rules,
		})
	}

	stagingTable := d.StagingTable
	if stagingTable == "" {
		stagingTable = defaultStagingTable(d.TableName)
	}

	return Handler{
		ExtractType:     d.ExtractType,
		TableName:       d.TableName,
		StagingTable:    stagingTable,
		ColumnMapping:   d.Columns,
		NaturalKeys:     d.NaturalKeys,
		Transformations: transformations,
	}, nil
}

// defaultStagingTable derives staging.<name> from a raw.<name> table name
// when a registry entry leaves stagingTable unset, matching the naming
// convention every shipped extract follows.
func defaultStagingTable(rawTable string) string {
	if idx := strings.Index(rawTable, "."); idx >= 0 {
		return "staging." + rawTable[idx+1:]
	}

	return "staging." + rawTable
}

func buildRules(defs []yamlValidation) ([]validation.Rule, error) {
	rules := make([]validation.Rule, 0, len(defs))

	for _, v := range defs {
		severity := validation.SeverityError
		if v.Severity == string(validation.SeverityWarning) {
			severity = validation.SeverityWarning
		}

		rule, err := buildRule(v, severity)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func buildRule(v yamlValidation, severity validation.Severity) (validation.Rule, error) {
	switch v.Kind {
	case string(validation.KindRequired):
		return validation.Required(v.Name), nil
	case string(validation.KindFormat):
		return buildFormatRule(v)
	case string(validation.KindRange):
		return buildRangeRule(v)
	case string(validation.KindEnum):
		return validation.Enum(v.Name, v.Enum), nil
	case string(validation.KindLength):
		return validation.Length(v.Name, v.MinLength, v.MaxLength), nil
	default:
		return validation.Rule{}, fmt.Errorf("unsupported validation kind in yaml registry: %s", v.Kind)
	}
}

func buildFormatRule(v yamlValidation) (validation.Rule, error) {
	switch v.Domain {
	case "nhi":
		return withSeverity(validation.NHIFormat(v.Name), v), nil
	case "email":
		return withSeverity(validation.Email(v.Name), v), nil
	default:
		if v.Pattern == "" {
			return validation.Rule{}, fmt.Errorf("format rule %q has no pattern or domain", v.Name)
		}

		return withSeverity(validation.Pattern(v.Name, v.Pattern), v), nil
	}
}

func buildRangeRule(v yamlValidation) (validation.Rule, error) {
	if v.Min == nil || v.Max == nil {
		return validation.Rule{}, fmt.Errorf("range rule %q requires min and max", v.Name)
	}

	return withSeverity(validation.Range(v.Name, *v.Min, *v.Max), v), nil
}

func withSeverity(rule validation.Rule, v yamlValidation) validation.Rule {
	if v.Severity == string(validation.SeverityWarning) {
		rule.Severity = validation.SeverityWarning
	}

	if v.ErrorMessage != "" {
		rule.ErrorMessage = v.ErrorMessage
	}

	return rule
}
