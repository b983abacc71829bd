package oracle

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Verdict is the structured triage output of the classification oracle.
type Verdict struct {
	Summary       string                `json:"summary"`
	Priority      domain.TicketPriority `json:"priority"`
	HelpfulNotes  string                `json:"helpfulNotes"`
	RelatedSkills []string              `json:"relatedSkills"`
}

// ParseVerdict decodes raw oracle output into a Verdict. Parsing is strict:
// the input is trimmed of surrounding whitespace and nothing else — no
// markdown-fence stripping, no partial salvage. Any deviation from the
// expected shape returns (nil, false) and the verdict is discarded wholesale.
func ParseVerdict(raw string) (*Verdict, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	decoder.DisallowUnknownFields()

	var verdict Verdict
	if err := decoder.Decode(&verdict); err != nil {
		return nil, false
	}
	// Trailing content after the object means the payload was not the bare
	// JSON document the contract demands.
	if decoder.More() {
		return nil, false
	}
	return &verdict, true
}
