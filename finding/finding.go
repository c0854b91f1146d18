package finding

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Finding is an atomic piece of vulnerability evidence reported by detection
// logic. A Finding must not be modified once it has been reported.
type Finding struct {
	// UniqueID is the content-derived identifier of this finding.
	UniqueID string `json:"unique_id"`

	// Name is the vulnerability name shown to users (e.g., "Cross-domain javascript").
	Name string `json:"name"`

	// Description is the plain description of this single piece of evidence.
	Description string `json:"description"`

	// Severity indicates the severity level of the finding.
	Severity Severity `json:"severity"`

	// Producer identifies the plugin that produced the finding.
	Producer string `json:"producer"`

	// Class is the finding-class name that selects the grouping key and template.
	Class string `json:"class"`

	// Location is the URI and HTTP method where the evidence was observed.
	Location Location `json:"location"`

	// IDs are the request/response identifiers needed to reproduce the finding.
	IDs []int `json:"ids,omitempty"`

	// Attributes carries grouping keys and template context.
	Attributes Attributes `json:"attributes"`

	// CreatedAt is the timestamp when the finding was created.
	CreatedAt time.Time `json:"created_at"`
}

// Option customizes a Finding built by NewFinding.
type Option func(*Finding)

// WithIDs sets the request/response identifiers.
func WithIDs(ids ...int) Option {
	return func(f *Finding) {
		f.IDs = append(f.IDs, ids...)
	}
}

// WithAttribute sets a single attribute.
func WithAttribute(name string, value Value) Option {
	return func(f *Finding) {
		f.Attributes.Set(name, value)
	}
}

// WithUniqueID uses id instead of the computed fingerprint.
func WithUniqueID(id string) Option {
	return func(f *Finding) {
		f.UniqueID = id
	}
}

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(t time.Time) Option {
	return func(f *Finding) {
		f.CreatedAt = t
	}
}

// NewFinding creates a Finding. Unless WithUniqueID is given, the unique
// identifier is computed with Fingerprint after all options are applied.
func NewFinding(producer, class, name, description string, severity Severity, location Location, opts ...Option) *Finding {
	f := &Finding{
		Name:        name,
		Description: description,
		Severity:    severity,
		Producer:    producer,
		Class:       class,
		Location:    location,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.UniqueID == "" {
		f.UniqueID = Fingerprint(f)
	}
	return f
}

// Validate checks if the finding has all required fields and valid values.
func (f *Finding) Validate() error {
	if f.UniqueID == "" {
		return fmt.Errorf("unique ID is required")
	}
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if f.Producer == "" {
		return fmt.Errorf("producer is required")
	}
	if f.Class == "" {
		return fmt.Errorf("class is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	for _, name := range f.Attributes.Keys() {
		v, _ := f.Attributes.Get(name)
		if !v.IsValid() {
			return fmt.Errorf("attribute %q has invalid %s value %q", name, v.Kind, v.String())
		}
	}
	return nil
}

// Attribute returns the value of the named attribute.
func (f *Finding) Attribute(name string) (Value, bool) {
	return f.Attributes.Get(name)
}

// Describe returns the description, optionally followed by a sentence naming
// the request ids where the evidence was found.
func (f *Finding) Describe(withIDs bool) string {
	if !withIDs || len(f.IDs) == 0 {
		return f.Description
	}
	return strings.TrimRight(f.Description, " ") + " " + idSentence(f.IDs)
}

func idSentence(ids []int) string {
	if len(ids) == 1 {
		return fmt.Sprintf("This information was found in the request with id %d.", ids[0])
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	head := strings.Join(parts[:len(parts)-1], ", ")
	return fmt.Sprintf("This information was found in the requests with ids %s and %s.", head, parts[len(parts)-1])
}
