package core

// Audit is a named data-quality query attached to models.
type Audit struct {
	Name     string            `json:"name"`
	Dialect  string            `json:"dialect"`
	Query    string            `json:"query"`
	Blocking bool              `json:"blocking"`
	Skip     bool              `json:"skip"`
	Defaults map[string]string `json:"defaults,omitempty"`

	// Path is the definition file path
	Path string `json:"-"`
}

// Metric is a named aggregate expression.
type Metric struct {
	Name        string `json:"name"`
	Expression  string `json:"expression"`
	Owner       string `json:"owner,omitempty"`
	Description string `json:"description,omitempty"`
	Dialect     string `json:"dialect,omitempty"`

	// Expanded is the expression with metric references substituted
	Expanded string `json:"-"`
	// Path is the definition file path
	Path string `json:"-"`
}
