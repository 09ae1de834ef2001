package domain

// Mapping directions. Request mappings shape the working payload before a
// rating-engine call; response mappings shape the downstream response after.
const (
	DirectionRequest  = "request"
	DirectionResponse = "response"
)

// Mapping definition statuses eligible for resolution.
const (
	MappingActive = "active"
	MappingDraft  = "draft"
)

// FieldMapping transforms one field from a source object into a target
// object. Both paths are dot-paths; a leading "$." prefix is tolerated and
// stripped before traversal.
type FieldMapping struct {
	SourcePath         string         `yaml:"source_path"`
	TargetPath         string         `yaml:"target_path"`
	TransformationType string         `yaml:"transformation_type"`
	TransformConfig    map[string]any `yaml:"transform_config"`
	IsRequired         bool           `yaml:"is_required"`
	DefaultValue       any            `yaml:"default_value"`
	Skip               bool           `yaml:"skip"`
}

// MappingDefinition is an ordered set of field mappings for one product line
// and direction.
type MappingDefinition struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	ProductLineCode string         `yaml:"product_line_code"`
	Direction       string         `yaml:"direction"`
	Status          string         `yaml:"status"`
	Fields          []FieldMapping `yaml:"fields"`
}
