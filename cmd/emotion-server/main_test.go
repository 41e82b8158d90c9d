package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"empathy/internal/domain"
	"empathy/internal/emotion"
)

func TestAnalyzeServesRemoteWireFormat(t *testing.T) {
	srv := httptest.NewServer(newRouter(emotion.NewAnalyzer(), 65536))
	defer srv.Close()

	// the remote classifier client must be able to read this server
	client := emotion.NewClient(srv.URL, time.Second)
	est, err := client.Classify(context.Background(), "I am very happy today")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if est.Label != domain.EmotionHappy {
		t.Fatalf("label = %s", est.Label)
	}
	if len(est.Scores) != len(domain.CanonicalEmotions) {
		t.Fatalf("scores = %+v", est.Scores)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	srv := httptest.NewServer(newRouter(emotion.NewAnalyzer(), 32))
	defer srv.Close()

	cases := []string{
		`{"text":"   "}`,
		`{"text":"hi","extra":1}`,
		`{"text":"this body is far longer than thirty-two bytes"}`,
	}
	for _, body := range cases {
		resp, err := http.Post(srv.URL+"/v1/emotion/analyze", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, resp.StatusCode)
		}
	}
}
