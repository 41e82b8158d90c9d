package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"empathy/internal/audio"
	"empathy/internal/provider"
)

// piperVoices is the stock voice set of a Piper deployment.
var piperVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"fr": "fr_FR-siwis-medium",
	"es": "es_ES-mls_10246-low",
	"de": "de_DE-thorsten-medium",
	"it": "it_IT-riccardo-x_low",
	"pt": "pt_BR-faber-medium",
	"nl": "nl_NL-mls-medium",
	"pl": "pl_PL-darkman-medium",
	"ru": "ru_RU-ruslan-medium",
	"uk": "uk_UA-lada-x_low",
	"zh": "zh_CN-huayan-medium",
}

type PiperConfig struct {
	Endpoint  string
	Endpoints map[string]string
	Voices    map[string]string
	Fallback  string
}

// Piper talks the Wyoming protocol to a Piper server over TCP:
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>
type Piper struct {
	endpoint  string
	endpoints map[string]string
	voices    VoiceMap
	logger    *slog.Logger
}

func NewPiper(cfg PiperConfig, logger *slog.Logger) *Piper {
	if logger == nil {
		logger = slog.Default()
	}
	fallback := cfg.Fallback
	if fallback == "" {
		fallback = "en"
	}
	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[lang] = cleanEndpoint(ep)
	}
	return &Piper{
		endpoint:  cleanEndpoint(cfg.Endpoint),
		endpoints: endpoints,
		voices:    NewVoiceMap(piperVoices, fallback).Merge(cfg.Voices),
		logger:    logger,
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	return strings.TrimPrefix(ep, "http://")
}

func (p *Piper) Name() string { return "piper" }

func (p *Piper) Voices() VoiceMap { return p.voices }

func (p *Piper) Synthesize(ctx context.Context, text string, opts Options) (Audio, error) {
	if text == "" {
		return Audio{}, errors.New("empty text for synthesis")
	}
	endpoint := p.endpoints[opts.Language]
	if endpoint == "" {
		endpoint = p.endpoint
	}
	if endpoint == "" {
		return Audio{}, &provider.Error{Provider: p.Name(), Class: provider.ClassNotFound, Err: fmt.Errorf("no endpoint for language %q", opts.Language)}
	}

	p.logger.Debug("piper synthesize", "text_length", len(text), "voice", opts.Voice, "language", opts.Language, "endpoint", endpoint)

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return Audio{}, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	synth := wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text":  text,
			"voice": map[string]any{"name": opts.Voice},
		},
	}
	if err := writeEvent(conn, synth, nil); err != nil {
		return Audio{}, fmt.Errorf("sending synthesize event: %w", err)
	}

	var (
		pcm        bytes.Buffer
		sampleRate = 22050
		channels   = 1
		width      = 2
	)
	for {
		evt, payload, err := readEvent(conn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Audio{}, ctxErr
			}
			return Audio{}, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if v, ok := evt.Data["rate"].(float64); ok {
				sampleRate = int(v)
			}
			if v, ok := evt.Data["channels"].(float64); ok {
				channels = int(v)
			}
			if v, ok := evt.Data["width"].(float64); ok {
				width = int(v)
			}
		case "audio-chunk":
			pcm.Write(payload)
		case "audio-stop":
			if pcm.Len() == 0 {
				return Audio{}, provider.Malformed(p.Name(), errors.New("no audio produced"))
			}
			return Audio{
				Data:        audio.PCMToWAV(pcm.Bytes(), sampleRate, channels, width),
				ContentType: "audio/wav",
				SampleRate:  sampleRate,
				Channels:    channels,
			}, nil
		case "error":
			msg := "unknown error"
			if s, ok := evt.Data["text"].(string); ok {
				msg = s
			}
			return Audio{}, &provider.Error{Provider: p.Name(), Class: provider.ClassOther, Err: errors.New(msg)}
		default:
			p.logger.Debug("piper unknown event", "type", evt.Type)
		}
	}
}

type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(body), len(payload))
	buf.Write(body)
	buf.WriteByte('\n')
	buf.Write(payload)
	_, err = w.Write(buf.Bytes())
	return err
}

func readEvent(r io.Reader) (*wyomingEvent, []byte, error) {
	header := make([]byte, 0, 32)
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, nil, fmt.Errorf("reading header: %w", err)
		}
		if one[0] == '\n' {
			break
		}
		if len(header) > 64 {
			return nil, nil, fmt.Errorf("wyoming header too long")
		}
		header = append(header, one[0])
	}

	fields := strings.Fields(string(header))
	if len(fields) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", header)
	}
	jsonLen, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing json length: %w", err)
	}
	payloadLen, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing payload length: %w", err)
	}

	body := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}
	var evt wyomingEvent
	if err := json.Unmarshal(body[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &evt, payload, nil
}
