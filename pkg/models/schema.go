package models

// FieldType enumerates the column types sinks know how to store.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
)

// Field describes a single column of an entity table.
type Field struct {
	Name       string    `json:"name" yaml:"name"`
	Type       FieldType `json:"type" yaml:"type"`
	PrimaryKey bool      `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// Schema describes the table a connector emits for one entity type.
// Fields is advisory; sinks accept rows with additional scalar columns.
type Schema struct {
	Entity EntityType `json:"entity" yaml:"entity"`
	Fields []Field    `json:"fields" yaml:"fields"`
}

// PrimaryKey returns the names of the primary key columns, defaulting
// to "id" when the schema declares none.
func (s Schema) PrimaryKey() []string {
	var keys []string
	for _, f := range s.Fields {
		if f.PrimaryKey {
			keys = append(keys, f.Name)
		}
	}
	if len(keys) == 0 {
		keys = []string{"id"}
	}
	return keys
}
