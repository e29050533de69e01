package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestClientSendMessage(t *testing.T) {
	const expectedURL = "http://tg.test/bot123:abc/sendMessage"

	var capturedURL string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()

		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(bodyBytes, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if payload["chat_id"] != float64(42) {
			t.Fatalf("unexpected chat_id %v", payload["chat_id"])
		}
		if payload["parse_mode"] != "HTML" {
			t.Fatalf("unexpected parse_mode %v", payload["parse_mode"])
		}

		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"ok":true,"result":{"message_id":1}}`)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient("123:abc", WithBaseURL("http://tg.test"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.SendMessage(context.Background(), 42, "Order <b>paid</b>"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
}

func TestClientSendMessageRejected(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"ok":false,"description":"chat not found"}`)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient("123:abc", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = client.SendMessage(context.Background(), 42, "hi")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestClientSendMessageValidation(t *testing.T) {
	client, err := NewClient("123:abc")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.SendMessage(context.Background(), 0, "hi"); err == nil {
		t.Fatalf("expected error for zero chat id")
	}
	if err := client.SendMessage(context.Background(), 42, "  "); err == nil {
		t.Fatalf("expected error for blank text")
	}
}
