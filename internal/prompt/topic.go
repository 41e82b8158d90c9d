// Package prompt turns an utterance, its fused emotion and the session context
// into a generation request.
package prompt

import (
	"strings"
	"unicode"

	"empathy/internal/domain"
)

type Topic string

const (
	TopicSelfHarm   Topic = "self_harm_risk"
	TopicFinancial  Topic = "financial_hardship"
	TopicRelational Topic = "relational_harm"
	TopicWorkplace  Topic = "workplace_stress"
	TopicHealth     Topic = "health_worry"
	TopicGrief      Topic = "grief_loss"
	TopicGeneral    Topic = "general"
)

// Cluster is a keyword set. A keyword ending in "*" matches any word with
// that prefix; otherwise it must match whole words.
type Cluster struct {
	Topic    Topic
	Label    string
	Keywords []string
}

// DefaultClusters is in priority order.
var DefaultClusters = []Cluster{
	{TopicSelfHarm, "risk of self-harm", []string{
		"kill myself", "killing myself", "suicid*", "end my life", "end it all", "want to die",
		"self harm", "self-harm", "hurt myself", "cut myself", "no reason to live", "better off dead",
	}},
	{TopicFinancial, "financial hardship", []string{
		"afford*", "can't pay", "cannot pay", "money", "debt*", "rent", "bills", "i'm broke", "am broke",
		"loan*", "salary", "poverty", "poor", "too expensive", "savings", "mortgage",
	}},
	{TopicRelational, "harm in a relationship", []string{
		"abus*", "hit me", "hits me", "cheat*", "divorc*", "break up", "broke up", "breakup",
		"bully*", "bullied", "toxic", "betray*", "manipulat*", "yells at me",
	}},
	{TopicWorkplace, "workplace stress", []string{
		"boss", "deadline*", "workload", "my job", "office", "coworker*", "colleague*", "fired",
		"laid off", "overtime", "promotion", "manager",
	}},
	{TopicHealth, "health worries", []string{
		"sick", "illness", "diagnos*", "hospital*", "doctor*", "cancer", "symptom*", "surgery",
		"chronic", "pain",
	}},
	{TopicGrief, "grief and loss", []string{
		"passed away", "died", "funeral", "grief", "grieving", "mourn*", "lost my mother",
		"lost my father", "lost my mom", "lost my dad", "lost my wife", "lost my husband", "death",
	}},
}

// InferTopic scans the current utterance and prior user turns and returns the
// highest-priority cluster any of them mentions.
func InferTopic(clusters []Cluster, utterance string, history []domain.Turn) (Topic, string) {
	texts := make([]string, 0, len(history)+1)
	texts = append(texts, normalize(utterance))
	for _, t := range history {
		if t.Role == domain.RoleUser {
			texts = append(texts, normalize(t.Text))
		}
	}

	for _, c := range clusters {
		for _, kw := range c.Keywords {
			for _, text := range texts {
				if matchKeyword(text, kw) {
					return c.Topic, c.Label
				}
			}
		}
	}
	return TopicGeneral, "general conversation"
}

// normalize lowercases, folds typographic apostrophes and pads every word
// with single spaces.
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if r == '’' {
			r = '\''
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func matchKeyword(text, kw string) bool {
	if strings.HasSuffix(kw, "*") {
		return strings.Contains(text, " "+strings.TrimSuffix(kw, "*"))
	}
	return strings.Contains(text, " "+kw+" ")
}
