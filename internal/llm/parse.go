package llm

import (
	"encoding/json"
	"strings"

	"github.com/stellarlinkco/hearth/internal/logging"
)

var log = logging.Component("llm")

// Delimiter separates the free-form reply text from the machine-readable
// update segment in a generated response.
const Delimiter = "===JSON==="

// ParticipantUpdate is one instruction attached to a generated reply.
type ParticipantUpdate struct {
	UserID             int64  `json:"user_id"`
	RelationshipChange int    `json:"relationship_change,omitempty"`
	NewMemory          string `json:"new_memory,omitempty"`
	Importance         int    `json:"importance,omitempty"`
}

// NewParticipant is a model-suggested addition for a user the repository
// does not know yet.
type NewParticipant struct {
	UserID              int64  `json:"user_id"`
	SuggestedName       string `json:"suggested_name"`
	SuggestedGender     string `json:"suggested_gender,omitempty"`
	InitialRelationship int    `json:"initial_relationship,omitempty"`
}

// StructuredUpdate is the parsed update segment of a reply.
type StructuredUpdate struct {
	Updates         []ParticipantUpdate `json:"updates"`
	NewParticipants []NewParticipant    `json:"new_participants"`
}

// Reply is a generated response split into its text and its optional
// structured part.
type Reply struct {
	Text    string
	Updates *StructuredUpdate
}

// ParseReply splits a raw generation on the delimiter and best-effort
// decodes the structured segment. A missing or garbled segment is an
// expected outcome, not an error: the reply text always survives and
// Updates stays nil.
func ParseReply(raw string) Reply {
	text := raw
	var updates *StructuredUpdate

	if idx := strings.Index(raw, Delimiter); idx >= 0 {
		text = raw[:idx]
		jsonPart := strings.TrimSpace(raw[idx+len(Delimiter):])
		// Models occasionally fence the segment in markdown.
		jsonPart = strings.TrimPrefix(jsonPart, "```json")
		jsonPart = strings.TrimPrefix(jsonPart, "```")
		jsonPart = strings.TrimSuffix(jsonPart, "```")

		var parsed StructuredUpdate
		if err := json.Unmarshal([]byte(strings.TrimSpace(jsonPart)), &parsed); err != nil {
			log.WithError(err).Warn("reply carried an unparsable update segment, applying none")
		} else {
			updates = &parsed
		}
	} else {
		log.Debug("reply carried no update segment")
	}

	return Reply{
		Text:    strings.TrimSpace(text),
		Updates: updates,
	}
}
