package prompt

import (
	"strings"
	"testing"

	"empathy/internal/domain"
)

func user(text string) domain.Turn {
	return domain.Turn{Role: domain.RoleUser, Text: text}
}

func TestInferTopic(t *testing.T) {
	cases := []struct {
		name      string
		utterance string
		history   []domain.Turn
		want      Topic
	}{
		{"plain", "I am very happy today", nil, TopicGeneral},
		{"afford in history", "how to overcome this", []domain.Turn{user("We can't afford to celebrate the festival this year")}, TopicFinancial},
		{"self harm outranks money", "I have so much debt, sometimes I want to die", nil, TopicSelfHarm},
		{"break up is relational", "we broke up last night", nil, TopicRelational},
		{"painting is not pain", "I love painting on weekends", nil, TopicGeneral},
		{"assistant turns ignored", "ok", []domain.Turn{{Role: domain.RoleAssistant, Text: "is money tight?"}}, TopicGeneral},
		{"curly apostrophe", "I can’t pay the rent", nil, TopicFinancial},
		{"workplace", "My boss keeps moving deadlines", nil, TopicWorkplace},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := InferTopic(DefaultClusters, tc.utterance, tc.history)
			if got != tc.want {
				t.Fatalf("InferTopic = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAssembleFestivalHardship(t *testing.T) {
	a := NewAssembler(Config{})
	history := []domain.Turn{
		user("Diwali is next week and I can't afford to celebrate the festival with my family"),
		{Role: domain.RoleAssistant, Text: "That sounds really hard."},
		user("Everyone else is buying gifts"),
		{Role: domain.RoleAssistant, Text: "It is painful to feel left out."},
	}
	emotion := domain.FusedEmotion{Label: domain.EmotionHappy, Confidence: 0.61}

	req := a.Assemble("how to overcome this", emotion, history)
	if req.Topic != string(TopicFinancial) {
		t.Fatalf("topic = %q, want financial_hardship", req.Topic)
	}

	hist := strings.Index(req.System, "Conversation history")
	topic := strings.Index(req.System, "Topic (primary)")
	emo := strings.Index(req.System, "Emotion (secondary)")
	if hist < 0 || topic < 0 || emo < 0 {
		t.Fatalf("missing sections in system prompt:\n%s", req.System)
	}
	if !(hist < topic && topic < emo) {
		t.Fatalf("wrong ordering history=%d topic=%d emotion=%d", hist, topic, emo)
	}
	if !strings.Contains(req.System, "financial hardship") {
		t.Fatalf("topic label not in prompt")
	}

	if len(req.Messages) != 5 {
		t.Fatalf("expected 4 history messages plus the utterance, got %d", len(req.Messages))
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != domain.RoleUser || last.Content != "how to overcome this" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestAssembleSafetyFirst(t *testing.T) {
	a := NewAssembler(Config{Persona: "persona text"})
	req := a.Assemble("I want to die", domain.FusedEmotion{Label: domain.EmotionSad, Confidence: 0.9}, nil)
	if req.Topic != string(TopicSelfHarm) {
		t.Fatalf("topic = %q", req.Topic)
	}
	if !strings.HasPrefix(req.System, "SAFETY FIRST") {
		t.Fatalf("safety directive must lead the prompt:\n%s", req.System)
	}
	if strings.Index(req.System, "SAFETY FIRST") > strings.Index(req.System, "persona text") {
		t.Fatalf("safety directive after persona")
	}
}

func TestAssembleGeneral(t *testing.T) {
	a := NewAssembler(Config{Pivot: "en"})
	req := a.Assemble("I am very happy today", domain.FusedEmotion{Label: domain.EmotionHappy, Confidence: 0.8}, nil)
	if req.Topic != string(TopicGeneral) {
		t.Fatalf("topic = %q", req.Topic)
	}
	if !strings.Contains(req.System, "first message") || !strings.Contains(req.System, "Reply in English") {
		t.Fatalf("unexpected prompt:\n%s", req.System)
	}
	if req.Emotion != domain.EmotionHappy || req.Confidence != 0.8 {
		t.Fatalf("emotion not carried: %+v", req)
	}
}
