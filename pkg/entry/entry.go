package entry

import (
	"time"

	json "github.com/goccy/go-json"
)

// Severity classifies the importance of an entry.
type Severity string

const (
	SeverityVerbose     Severity = "Verbose"
	SeverityInformation Severity = "Information"
	SeverityWarning     Severity = "Warning"
	SeverityError       Severity = "Error"
	SeverityCritical    Severity = "Critical"
)

// Entry is a single structured telemetry record handed to the sink.
// Once posted, the entry is owned by the delivery pipeline and must not be
// mutated by the producer.
type Entry struct {
	// Time is when the entry was produced. Defaults to the ingest time when
	// left zero.
	Time time.Time `json:"time"`

	// Severity defaults to Information when left empty.
	Severity Severity `json:"severity,omitempty"`

	// Source names the producer of the entry (logger name, service, device).
	Source string `json:"source,omitempty"`

	// Message is the human-readable payload.
	Message string `json:"message"`

	// Fields carries structured payload data.
	Fields map[string]interface{} `json:"fields,omitempty"`

	// Provider is optional upstream metadata.
	Provider string `json:"provider,omitempty"`

	// Sequence is an optional producer-assigned ordering hint.
	Sequence uint64 `json:"sequence,omitempty"`
}

// ApplyDefaults fills the fields the producer is allowed to omit.
func (e *Entry) ApplyDefaults() {
	if e.Severity == "" {
		e.Severity = SeverityInformation
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
}

// Encode serializes a single entry to its JSON wire form.
func Encode(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

// EncodeBatch serializes entries as the JSON array body of one hub request.
// The result is byte-for-byte the concatenation of the individually encoded
// entries, comma separated and wrapped in brackets, which is what the batch
// size arithmetic relies on.
func EncodeBatch(entries []Entry) ([]byte, error) {
	return json.Marshal(entries)
}
