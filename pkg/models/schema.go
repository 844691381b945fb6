package models

// Field types understood by the storage backends.
const (
	FieldTypeInteger   = "INTEGER"
	FieldTypeString    = "STRING"
	FieldTypeTimestamp = "TIMESTAMP"
	FieldTypeJSON      = "JSON"
)

// Schema defines the structure of a sink table.
type Schema struct {
	// Name identifies the table
	Name string `json:"name"`

	// Fields in column order
	Fields []Field `json:"fields"`
}

// Field represents a single column.
type Field struct {
	Name string `json:"name"`

	// Type is one of the FieldType constants
	Type string `json:"type"`

	Description string `json:"description,omitempty"`

	// Required columns are NOT NULL
	Required bool `json:"required"`

	// Repeated columns hold a list of Type
	Repeated bool `json:"repeated,omitempty"`
}

// Column names of the raw tickets table.
const (
	ColumnTicketID       = "ticket_id"
	ColumnSubject        = "subject"
	ColumnDescription    = "description"
	ColumnCommentsJSON   = "comments_json"
	ColumnCreatedAt      = "created_at"
	ColumnUpdatedAt      = "updated_at"
	ColumnTags           = "tags"
	ColumnChannel        = "channel"
	ColumnAssigneeID     = "assignee_id"
	ColumnStatus         = "status"
	ColumnPriority       = "priority"
	ColumnRequesterEmail = "requester_email"
	ColumnIngestedAt     = "ingested_at"
)

// TicketSchema is the raw tickets table. Downstream stages read it as one
// logical row per ticket_id.
var TicketSchema = Schema{
	Name: "tickets",
	Fields: []Field{
		{Name: ColumnTicketID, Type: FieldTypeInteger, Required: true, Description: "upstream ticket id"},
		{Name: ColumnSubject, Type: FieldTypeString},
		{Name: ColumnDescription, Type: FieldTypeString},
		{Name: ColumnCommentsJSON, Type: FieldTypeJSON, Description: "ordered comment thread"},
		{Name: ColumnCreatedAt, Type: FieldTypeTimestamp, Required: true},
		{Name: ColumnUpdatedAt, Type: FieldTypeTimestamp, Required: true},
		{Name: ColumnTags, Type: FieldTypeString, Repeated: true},
		{Name: ColumnChannel, Type: FieldTypeString},
		{Name: ColumnAssigneeID, Type: FieldTypeInteger},
		{Name: ColumnStatus, Type: FieldTypeString},
		{Name: ColumnPriority, Type: FieldTypeString},
		{Name: ColumnRequesterEmail, Type: FieldTypeString},
		{Name: ColumnIngestedAt, Type: FieldTypeTimestamp, Required: true},
	},
}

// ColumnNames returns the field names in order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// MutableColumns are the columns rewritten when a newer version of a ticket
// arrives. ticket_id and created_at never change.
func (s Schema) MutableColumns() []string {
	cols := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == ColumnTicketID || f.Name == ColumnCreatedAt {
			continue
		}
		cols = append(cols, f.Name)
	}
	return cols
}
