package llm

// Schema is a structural JSON Schema fragment, represented as data so the
// output contract is explicit and versionable rather than buried in provider
// SDK types.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AnyOf                []*Schema          `json:"anyOf,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
	Description          string             `json:"description,omitempty"`
}

// turnSchemaName identifies the contract to the provider; the version suffix
// is bumped whenever the shape changes.
const turnSchemaName = "interview_turn_v1"

// turnOutputSchema declares the shape every turn response must conform to:
// up to a handful of free-text messages, a finished flag, and a result object
// that is null until the interview concludes.
func turnOutputSchema() *Schema {
	noExtra := false
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"messages": {
				Type:        "array",
				Items:       &Schema{Type: "string"},
				Description: "Messages to show the respondent, in order.",
			},
			"finished": {
				Type:        "boolean",
				Description: "True when the interview is over and result is populated.",
			},
			"result": {
				AnyOf: []*Schema{
					{
						Type: "object",
						Properties: map[string]*Schema{
							"summary": {Type: "string"},
							"topic_notes": {
								Type: "array",
								Items: &Schema{
									Type: "object",
									Properties: map[string]*Schema{
										"key":   {Type: "string"},
										"notes": {Type: "array", Items: &Schema{Type: "string"}},
									},
									Required:             []string{"key", "notes"},
									AdditionalProperties: &noExtra,
								},
							},
						},
						Required:             []string{"summary", "topic_notes"},
						AdditionalProperties: &noExtra,
					},
					{Type: "null"},
				},
				Description: "Null unless finished is true.",
			},
		},
		Required:             []string{"messages", "finished", "result"},
		AdditionalProperties: &noExtra,
	}
}
