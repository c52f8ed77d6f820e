package prompt

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/hearth/internal/llm"
	"github.com/stellarlinkco/hearth/internal/statestore"
	"github.com/stellarlinkco/hearth/internal/store"
)

// Time-of-day labels the scheduler stamps on every cycle.
const (
	LabelMorning   = "morning"
	LabelAfternoon = "afternoon"
	LabelEvening   = "evening"
	LabelRandom    = "random"
)

// Factory builds the prompts for the four turn kinds. It has no service
// dependencies: it works purely on repository rows and queue payloads.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// SessionStart builds the opening prompt for a cold-start batch turn.
func (f *Factory) SessionStart(
	cfg *store.ConversationConfig,
	participants []store.Participant,
	memories map[int64][]store.MemoryEntry,
	messages []statestore.MessagePayload,
	timeOfDay string,
	primaryActive bool,
) string {
	var sb strings.Builder
	sb.WriteString(f.roleBlock(cfg))
	sb.WriteString("\n\n")
	sb.WriteString(f.contextBlock(timeOfDay))
	sb.WriteString("\n\n")
	sb.WriteString(f.participantsBlock(cfg, participants, memories))
	sb.WriteString("\n\n")
	sb.WriteString(f.messagesBlock(messages))
	sb.WriteString("\n\n")
	sb.WriteString(f.sessionStartTask(timeOfDay, primaryActive))
	sb.WriteString("\n\n")
	sb.WriteString(f.schemaBlock())
	return sb.String()
}

// Online builds the light prompt for a live micro-batch turn. It uses the
// short-term dialog memory rather than the full context.
func (f *Factory) Online(cfg *store.ConversationConfig, dialog []statestore.DialogEntry) string {
	var sb strings.Builder
	sb.WriteString(f.roleBlock(cfg))
	sb.WriteString("\n\nCURRENT DIALOG:\n")
	sb.WriteString(f.dialogBlock(dialog))
	sb.WriteString("\n\nYOUR TASK:\n")
	sb.WriteString("You are in the middle of a live conversation. Keep it going.\n")
	sb.WriteString("1. Read the latest messages.\n")
	sb.WriteString("2. Write a SHORT, lively reply to the most recent remarks, staying in character.\n")
	sb.WriteString("3. After the reply, return the JSON update block ONLY for participants you just interacted with.")
	sb.WriteString("\n\n")
	sb.WriteString(f.schemaBlock())
	return sb.String()
}

// SingleReply builds the stateless prompt for an immediate reply to one
// direct mention.
func (f *Factory) SingleReply(
	cfg *store.ConversationConfig,
	participants []store.Participant,
	msg statestore.MessagePayload,
) string {
	author := fmt.Sprintf("user %d", msg.UserID)
	if msg.Participant != nil && msg.Participant.Name != "" {
		author = msg.Participant.Name
	}

	var sb strings.Builder
	sb.WriteString(f.roleBlock(cfg))
	sb.WriteString("\n\n")
	sb.WriteString(f.participantsBlock(cfg, participants, nil))
	sb.WriteString("\n\nMESSAGE TO ANSWER:\n")
	sb.WriteString(fmt.Sprintf("[%s]: %s", author, msg.Text))
	sb.WriteString("\n\nYOUR TASK:\n")
	sb.WriteString("You were busy with your own things, but a direct mention caught your attention.\n")
	sb.WriteString("1. Read the message above.\n")
	sb.WriteString("2. Write a short, direct, personal reply to this one person, staying in character.\n")
	sb.WriteString("3. After the reply, return the JSON update block ONLY for this participant.")
	sb.WriteString("\n\n")
	sb.WriteString(f.schemaBlock())
	return sb.String()
}

// FinalReply builds the prompt that answers any remaining backlog and says
// goodbye in a single message.
func (f *Factory) FinalReply(cfg *store.ConversationConfig, dialog []statestore.DialogEntry) string {
	var sb strings.Builder
	sb.WriteString(f.roleBlock(cfg))
	sb.WriteString("\n\nCURRENT DIALOG:\n")
	sb.WriteString(f.dialogBlock(dialog))
	sb.WriteString("\n\nYOUR TASK:\n")
	sb.WriteString("You are in the middle of a live conversation but you urgently have to go.\n")
	sb.WriteString("1. Read the last messages in the dialog.\n")
	sb.WriteString("2. Write ONE combined farewell message: first briefly answer the most important recent remarks, then politely say goodbye, mentioning you have things to do and will be back later.\n")
	sb.WriteString("3. After the reply, return the JSON update block for participants you reacted to.")
	sb.WriteString("\n\n")
	sb.WriteString(f.schemaBlock())
	return sb.String()
}

func (f *Factory) roleBlock(cfg *store.ConversationConfig) string {
	personality := cfg.PersonalityPrompt
	if personality == "" {
		personality = "not set"
	}
	return fmt.Sprintf(`You are a companion persona named "%s".

YOUR ROLE:
1. Chat warmly and naturally, staying in character.
2. Your personality and style: %s.
3. Your main goal is building long-term, warm relationships with the chat
   participants. Your tone with each person should follow your relationship
   score with them, listed in the participants block.`, cfg.PersonaName, personality)
}

func (f *Factory) contextBlock(timeOfDay string) string {
	contexts := map[string]string{
		LabelMorning:   "It is morning. You drop into the chat after the night to wish everyone a good morning and check how they are doing.",
		LabelAfternoon: "It is the middle of the day. You found a free minute to look into the chat and join the daytime discussions.",
		LabelEvening:   "It is evening. You came to the chat to unwind after a long day and have a calm talk with everyone.",
		LabelRandom:    "You unexpectedly found some free time. You drop into the chat off-schedule to see how everyone is doing.",
	}
	text, ok := contexts[timeOfDay]
	if !ok {
		text = contexts[LabelRandom]
	}
	return "CONTEXT:\n" + text
}

func (f *Factory) participantsBlock(cfg *store.ConversationConfig, participants []store.Participant, memories map[int64][]store.MemoryEntry) string {
	if len(participants) == 0 {
		return "PARTICIPANTS:\nNobody in the chat is known to you yet."
	}

	var sb strings.Builder
	sb.WriteString("PARTICIPANTS (what you know about them):\n")
	for _, p := range participants {
		role := ""
		if cfg.PrimaryParticipantID != nil && p.ID == *cfg.PrimaryParticipantID {
			role = " (your child)"
		}
		sb.WriteString(fmt.Sprintf("- %s (user_id: %d)%s. Your relationship: %d/100.\n",
			p.Name, p.UserID, role, p.RelationshipScore))
		for _, m := range memories[p.ID] {
			sb.WriteString(fmt.Sprintf("  * %s\n", m.Content))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Factory) messagesBlock(messages []statestore.MessagePayload) string {
	if len(messages) == 0 {
		return "MESSAGE HISTORY:\nThere were no messages in the chat during this time."
	}

	var sb strings.Builder
	sb.WriteString("MESSAGE HISTORY (analyze all of it):\n")
	for _, msg := range messages {
		author := fmt.Sprintf("new user (user_id: %d)", msg.UserID)
		if msg.Participant != nil && msg.Participant.Name != "" {
			author = msg.Participant.Name
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", author, msg.Text))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Factory) dialogBlock(dialog []statestore.DialogEntry) string {
	if len(dialog) == 0 {
		return "(no recent messages)"
	}
	var sb strings.Builder
	for _, e := range dialog {
		author := e.Author
		if e.Role == statestore.RolePersona {
			author = "you"
		} else if author == "" {
			author = fmt.Sprintf("user %d", e.UserID)
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", author, e.Text))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Factory) sessionStartTask(timeOfDay string, primaryActive bool) string {
	base := `YOUR TASK:
1. Read the whole message history carefully.
2. Write ONE combined message to the chat in which you, in character:
   - React to the key topics of the conversation.
   - Address participants by name, especially your child.
   - If there are new users, greet them warmly and try to get to know them
     (ask a couple of questions so you can decide how to relate to them).`

	additions := map[string]string{
		LabelMorning:   "   - Wish everyone a productive day.",
		LabelAfternoon: "   - Wish everyone a good day.",
		LabelEvening:   "   - Wish everyone a nice evening or good night.",
		LabelRandom:    "   - Mention you only dropped in for a moment and will run off again soon.",
	}
	addition := additions[timeOfDay]

	if !primaryActive {
		addition += "\n   - IMPORTANT: your child has not written anything lately. Show concern: ask where they are and how they are doing."
	}

	final := "\n3. After the text reply, analyze the dialog and return the JSON update block for your memory. This is CRITICALLY important."

	if addition != "" {
		return base + "\n" + addition + final
	}
	return base + final
}

func (f *Factory) schemaBlock() string {
	return `RESPONSE FORMAT:
First write your text reply for the chat. After it you MUST put the
delimiter '` + llm.Delimiter + `' and provide a JSON object.

[Your text reply for the chat. It may span multiple lines.]
` + llm.Delimiter + `
{
  "updates": [
    {
      "user_id": 12345,
      "relationship_change": 5,
      "new_memory": "Pete mentioned he is into fishing.",
      "importance": 2
    }
  ],
  "new_participants": [
    {
      "user_id": 67890,
      "suggested_name": "Anna",
      "suggested_gender": "female",
      "initial_relationship": 50
    }
  ]
}`
}
