package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"empathy/internal/domain"
	"empathy/internal/orchestrator"
)

type HubConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte

	// AcceptTurns subscribes to {prefix}/session/+/turn and runs each
	// request through the turn handler.
	AcceptTurns bool
}

// TurnHandler runs one conversational turn.
type TurnHandler interface {
	ProcessTurn(ctx context.Context, req domain.TurnRequest) (domain.TurnResult, error)
}

type EmotionEvent struct {
	TurnID     string                     `json:"turn_id"`
	SessionID  string                     `json:"session_id"`
	Label      domain.Emotion             `json:"label"`
	Confidence float64                    `json:"confidence"`
	Scores     map[domain.Emotion]float64 `json:"scores"`
	Topic      string                     `json:"topic"`
	Degraded   bool                       `json:"degraded,omitempty"`
	At         time.Time                  `json:"at"`
}

type ReplyEvent struct {
	TurnID    string             `json:"turn_id"`
	SessionID string             `json:"session_id"`
	Reply     string             `json:"reply"`
	Language  string             `json:"language"`
	Voice     string             `json:"voice,omitempty"`
	HasAudio  bool               `json:"has_audio"`
	Degraded  domain.Degradation `json:"degraded"`
	At        time.Time          `json:"at"`
}

type ErrorEvent struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Hub publishes turn events to the broker and optionally accepts turns from it.
type Hub struct {
	cfg     HubConfig
	client  paho.Client
	handler TurnHandler
	logger  *slog.Logger
	now     func() time.Time

	publish func(ctx context.Context, topic string, payload []byte) error
}

func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "empathy"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "empathy-server"
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{cfg: cfg, logger: logger, now: time.Now}
	h.publish = h.publishBroker
	return h
}

func (h *Hub) Start(ctx context.Context, handler TurnHandler) error {
	h.handler = handler

	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", "error", err)
	})
	if h.cfg.AcceptTurns && handler != nil {
		// resubscribe after every reconnect
		opts.SetOnConnectHandler(func(c paho.Client) {
			if token := c.Subscribe(TopicSessionTurns(h.cfg.TopicPrefix), h.cfg.QoS, h.handleTurn); token.Wait() && token.Error() != nil {
				h.logger.Error("mqtt subscribe failed", "error", token.Error())
			}
		})
	}

	h.client = paho.NewClient(opts)
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	go func() {
		<-ctx.Done()
		h.client.Disconnect(100)
	}()

	h.logger.Info("mqtt hub started", "broker", h.cfg.BrokerURL, "prefix", h.cfg.TopicPrefix, "accept_turns", h.cfg.AcceptTurns)
	return nil
}

// PublishTurn sends the emotion and reply events of a completed turn.
func (h *Hub) PublishTurn(ctx context.Context, res domain.TurnResult) error {
	at := h.now().UTC()
	emotionBody, err := json.Marshal(EmotionEvent{
		TurnID:     res.TurnID,
		SessionID:  res.SessionID,
		Label:      res.Emotion.Label,
		Confidence: res.Emotion.Confidence,
		Scores:     res.Emotion.Scores,
		Topic:      res.Topic,
		Degraded:   res.Emotion.Degraded,
		At:         at,
	})
	if err != nil {
		return err
	}
	lang := res.Language.Detected
	if res.Language.TranslationDegraded {
		lang = res.Language.Pivot
	}
	replyBody, err := json.Marshal(ReplyEvent{
		TurnID:    res.TurnID,
		SessionID: res.SessionID,
		Reply:     res.Reply,
		Language:  lang,
		Voice:     res.Language.SpeechUsed,
		HasAudio:  len(res.ReplyAudio) > 0,
		Degraded:  res.Degraded,
		At:        at,
	})
	if err != nil {
		return err
	}

	if err := h.publish(ctx, TopicEmotion(h.cfg.TopicPrefix, res.SessionID), emotionBody); err != nil {
		return fmt.Errorf("publish emotion: %w", err)
	}
	if err := h.publish(ctx, TopicReply(h.cfg.TopicPrefix, res.SessionID), replyBody); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	return nil
}

func (h *Hub) publishBroker(ctx context.Context, topic string, payload []byte) error {
	if h.client == nil {
		return errors.New("mqtt hub not started")
	}
	token := h.client.Publish(topic, h.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleTurn(_ paho.Client, msg paho.Message) {
	// paho delivers callbacks in order; a turn can take seconds
	go h.acceptTurn(msg.Topic(), msg.Payload())
}

func (h *Hub) acceptTurn(topic string, payload []byte) {
	sessionID, err := ParseSessionID(topic, h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid turn topic", "topic", topic, "error", err)
		return
	}

	var req domain.TurnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.logger.Warn("invalid turn payload", "session_id", sessionID, "error", err)
		h.publishError(sessionID, "input", "invalid json")
		return
	}
	if req.SessionID == "" {
		req.SessionID = sessionID
	}
	if req.SessionID != sessionID {
		h.logger.Warn("turn session mismatch", "topic_session", sessionID, "payload_session", req.SessionID)
		return
	}

	if _, err := h.handler.ProcessTurn(context.Background(), req); err != nil {
		var te *orchestrator.TurnError
		if errors.As(err, &te) {
			h.publishError(sessionID, string(te.Stage), te.UserMessage)
		} else {
			h.publishError(sessionID, "", err.Error())
		}
		h.logger.Warn("mqtt turn failed", "session_id", sessionID, "error", err)
	}
}

func (h *Hub) publishError(sessionID, stage, message string) {
	body, err := json.Marshal(ErrorEvent{SessionID: sessionID, Stage: stage, Message: message, At: h.now().UTC()})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.publish(ctx, TopicError(h.cfg.TopicPrefix, sessionID), body); err != nil {
		h.logger.Warn("publish turn error failed", "session_id", sessionID, "error", err)
	}
}
