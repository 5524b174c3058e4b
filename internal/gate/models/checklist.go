package models

// Checklist is a versioned tagged record: a schema ID plus the answered items
// for that schema version. Older records keep their schema ID forever, so
// evolving checklist templates never silently corrupts history.
type Checklist struct {
	SchemaID string            `json:"schema_id"`
	Items    map[string]string `json:"items"`
}

// DefaultSchemaID is assigned when a device begins a gate without naming one.
const DefaultSchemaID = "daily-safety/v1"

// checklistSchemas maps each schema version to its required item keys. Adding
// a schema version is append-only; existing versions are never edited.
var checklistSchemas = map[string][]string{
	"daily-safety/v1": {
		"ppe_inspected",
		"hazards_reviewed",
		"equipment_checked",
		"crew_briefed",
		"permits_current",
	},
	"daily-safety/v2": {
		"ppe_inspected",
		"hazards_reviewed",
		"equipment_checked",
		"crew_briefed",
		"permits_current",
		"weather_reviewed",
	},
}

// RequiredItems returns the required item keys for a schema version and
// whether the version is known.
func RequiredItems(schemaID string) ([]string, bool) {
	items, ok := checklistSchemas[schemaID]
	return items, ok
}

// MissingItems returns the required items with no non-empty answer. An unknown
// schema returns ok=false; the caller must fail verification rather than
// guessing at requirements.
func (c Checklist) MissingItems() (missing []string, ok bool) {
	required, known := RequiredItems(c.SchemaID)
	if !known {
		return nil, false
	}
	for _, item := range required {
		if c.Items[item] == "" {
			missing = append(missing, item)
		}
	}
	return missing, true
}
