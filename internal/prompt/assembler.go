package prompt

import (
	"fmt"
	"strings"

	"empathy/internal/domain"
	"empathy/internal/language"
)

const defaultPersona = "You are a warm, attentive companion. You listen carefully, answer in a few sentences, and offer practical, gentle support."

const safetyDirective = "SAFETY FIRST: the user may be at risk of harming themselves. Before anything else, acknowledge their pain, encourage them to reach out to someone they trust or to local emergency services or a crisis line, and ask whether they are safe right now. This overrides every other instruction below."

type Config struct {
	Persona  string
	Pivot    string
	Clusters []Cluster
}

type Assembler struct {
	persona  string
	pivot    string
	clusters []Cluster
}

func NewAssembler(cfg Config) *Assembler {
	if cfg.Persona == "" {
		cfg.Persona = defaultPersona
	}
	if cfg.Pivot == "" {
		cfg.Pivot = "en"
	}
	if len(cfg.Clusters) == 0 {
		cfg.Clusters = DefaultClusters
	}
	return &Assembler{persona: cfg.Persona, pivot: cfg.Pivot, clusters: cfg.Clusters}
}

// Assemble builds the generation request. History and topic come first in
// the instructions; the emotion label is added last as secondary colour.
func (a *Assembler) Assemble(utterance string, emotion domain.FusedEmotion, history []domain.Turn) domain.GenerationRequest {
	topic, topicLabel := InferTopic(a.clusters, utterance, history)

	var sb strings.Builder
	if topic == TopicSelfHarm {
		sb.WriteString(safetyDirective)
		sb.WriteString("\n\n")
	}
	sb.WriteString(a.persona)
	sb.WriteString("\n\n")

	sb.WriteString("1) Conversation history (primary). ")
	if len(history) == 0 {
		sb.WriteString("This is the first message of the conversation.\n")
	} else {
		sb.WriteString("Keep your reply coherent with what the user has already told you:\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Role, strings.TrimSpace(t.Text))
		}
	}

	fmt.Fprintf(&sb, "2) Topic (primary): %s. ", topicLabel)
	if topic == TopicGeneral {
		sb.WriteString("Respond to the substance of the latest message.\n")
	} else {
		sb.WriteString("Address this subject directly and concretely, even if the latest message does not name it.\n")
	}

	fmt.Fprintf(&sb, "3) Emotion (secondary): the latest message reads as %s (confidence %.2f). Let it colour your tone only; never let it override the history or the topic.\n",
		emotion.Label, emotion.Confidence)

	fmt.Fprintf(&sb, "Reply in %s.", language.DisplayName(a.pivot))

	msgs := make([]domain.Message, 0, len(history)+1)
	for _, t := range history {
		if t.Role != domain.RoleUser && t.Role != domain.RoleAssistant {
			continue
		}
		msgs = append(msgs, domain.Message{Role: t.Role, Content: t.Text})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: utterance})

	return domain.GenerationRequest{
		Utterance:  utterance,
		Emotion:    emotion.Label,
		Confidence: emotion.Confidence,
		Topic:      string(topic),
		History:    history,
		System:     sb.String(),
		Messages:   msgs,
	}
}
