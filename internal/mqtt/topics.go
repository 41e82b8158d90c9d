package mqtt

import "fmt"

func TopicSessionTurns(prefix string) string {
	return fmt.Sprintf("%s/session/+/turn", prefix)
}

func TopicTurn(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/turn", prefix, sessionID)
}

func TopicEmotion(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/emotion", prefix, sessionID)
}

func TopicReply(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/reply", prefix, sessionID)
}

func TopicError(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/error", prefix, sessionID)
}
