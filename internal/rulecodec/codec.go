// Package rulecodec reads and writes rule set documents in JSON or YAML.
// Decoding validates every rule and fails without a partial result.
package rulecodec

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"repartition/internal/domain"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported rule document format")
	ErrEmptyDocument     = errors.New("rule document is empty")
	ErrDuplicateKey      = errors.New("duplicate rule key in document")
	ErrMalformed         = errors.New("malformed rule document")
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// ContentType is the media type a document of this format is served with.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

type document struct {
	Version int       `json:"version" yaml:"version"`
	Rules   []ruleDoc `json:"rules" yaml:"rules"`
}

type ruleDoc struct {
	Key            string         `json:"key" yaml:"key"`
	Label          string         `json:"label,omitempty" yaml:"label,omitempty"`
	BasePercentage percent        `json:"base_percentage" yaml:"base_percentage"`
	MaxPercentage  percent        `json:"max_percentage,omitempty" yaml:"max_percentage,omitempty"`
	Conditions     *conditionsDoc `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

type conditionsDoc struct {
	MinimumAmount *int64 `json:"minimum_amount,omitempty" yaml:"minimum_amount,omitempty"`
	MaximumAmount *int64 `json:"maximum_amount,omitempty" yaml:"maximum_amount,omitempty"`
	PersonCount   *int   `json:"person_count,omitempty" yaml:"person_count,omitempty"`
}

// percent holds a decimal literal. Documents may write it as a number or a
// string; it is always written back as a number.
type percent string

func (p *percent) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*p = ""
		return nil
	}
	*p = percent(s)
	return nil
}

func (p percent) MarshalJSON() ([]byte, error) {
	if p == "" {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

func (p percent) MarshalYAML() (interface{}, error) {
	tag := "!!int"
	if strings.ContainsAny(string(p), ".eE") {
		tag = "!!float"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: string(p)}, nil
}

func (p percent) IsZero() bool {
	return p == ""
}

func (p percent) decimal(field, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(string(p))
	if err != nil {
		return decimal.Decimal{}, &domain.ValidationError{
			Field:  field,
			Err:    domain.ErrInvalidPercentageRange,
			Detail: fmt.Sprintf("%s: %q is not a number", key, string(p)),
		}
	}
	return d, nil
}

// Decode parses and validates a rule set document. A missing max_percentage
// defaults to the base percentage.
func Decode(data []byte, format Format) (*domain.RuleSet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	var doc document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: json: %w", ErrMalformed, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: yaml: %w", ErrMalformed, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	rs := &domain.RuleSet{Version: doc.Version}
	for i, rd := range doc.Rules {
		rule, err := rd.toRule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		if _, exists := rs.Get(rule.Key); exists {
			return nil, fmt.Errorf("rules[%d]: %w: %s", i, ErrDuplicateKey, rule.Key)
		}
		if err := rs.Upsert(rule); err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return rs, nil
}

func (rd ruleDoc) toRule() (domain.DistributionRule, error) {
	key, err := domain.ParseCategory(rd.Key)
	if err != nil {
		return domain.DistributionRule{}, err
	}
	if rd.BasePercentage == "" {
		return domain.DistributionRule{}, &domain.ValidationError{
			Field: "base_percentage", Err: domain.ErrInvalidPercentageRange, Detail: string(key) + ": missing",
		}
	}
	base, err := rd.BasePercentage.decimal("base_percentage", string(key))
	if err != nil {
		return domain.DistributionRule{}, err
	}
	ceiling := base
	if rd.MaxPercentage != "" {
		if ceiling, err = rd.MaxPercentage.decimal("max_percentage", string(key)); err != nil {
			return domain.DistributionRule{}, err
		}
	}

	rule := domain.DistributionRule{
		Key:            key,
		Label:          rd.Label,
		BasePercentage: base,
		MaxPercentage:  ceiling,
	}
	if c := rd.Conditions; c != nil {
		rule.Conditions = domain.Conditions{
			MinimumAmount: c.MinimumAmount,
			MaximumAmount: c.MaximumAmount,
			PersonCount:   c.PersonCount,
		}
	}
	return rule, nil
}

// Encode writes rs in the given format, rules in canonical key order.
func Encode(rs *domain.RuleSet, format Format) ([]byte, error) {
	doc := document{Version: rs.Version, Rules: make([]ruleDoc, 0, rs.Len())}
	for _, rule := range rs.Rules() {
		rd := ruleDoc{
			Key:            string(rule.Key),
			Label:          rule.Label,
			BasePercentage: percent(rule.BasePercentage.String()),
			MaxPercentage:  percent(rule.MaxPercentage.String()),
		}
		if !rule.Conditions.IsZero() {
			rd.Conditions = &conditionsDoc{
				MinimumAmount: rule.Conditions.MinimumAmount,
				MaximumAmount: rule.Conditions.MaximumAmount,
				PersonCount:   rule.Conditions.PersonCount,
			}
		}
		doc.Rules = append(doc.Rules, rd)
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// FormatFromPath picks the format from a file extension, JSON by default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads and decodes a rule document from disk.
func LoadFile(path string) (*domain.RuleSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rulecodec: read %s: %w", path, err)
	}
	rs, err := Decode(content, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("rulecodec: %s: %w", path, err)
	}
	return rs, nil
}
