// Headless realtime voice client. Connects a conversation over WebRTC (or
// websocket with TRANSPORT=ws), registers the rental-counter tool set
// against a function server, and prints the assistant transcript until
// interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/soracall/voicebridge"
	"github.com/soracall/voicebridge/webrtc"
)

// toolSet names the functions the conversation registers, matching the
// endpoints voicebridge-server exposes.
var toolSet = []struct {
	name        string
	description string
}{
	{"list_locations", "List all rental car locations with name, address and phone number."},
	{"get_availability", "Check vehicle availability at a location for a date range, optionally filtered by vehicle type."},
	{"create_reservation", "Create a rental reservation for a customer at a location."},
	{"get_reservation_status", "Look up existing reservations by customer name."},
	{"change_credit_card_info", "Change the address, phone number or email address registered to a credit card."},
	{"get_credit_card_knowledge", "Retrieve credit card FAQ knowledge to answer customer questions."},
}

func main() {
	_ = godotenv.Load()

	logger := voicebridge.NewLoggerFromEnv()

	cfg := voicebridge.Config{
		Endpoint:         must("AZURE_OPENAI_ENDPOINT"),
		Credential:       voicebridge.APIKey(must("AZURE_OPENAI_API_KEY")),
		Deployment:       env("AZURE_OPENAI_REALTIME_DEPLOYMENT", ""),
		Region:           env("AZURE_OPENAI_REGION", ""),
		APIVersion:       env("AZURE_OPENAI_API_VERSION", ""),
		Language:         env("VOICE_LANGUAGE", ""),
		Instructions:     env("SESSION_INSTRUCTIONS", ""),
		SessionOptions:   os.Getenv("SESSION_OPTIONS"),
		StructuredLogger: logger,
	}

	baseURL := env("FUNCTION_BASE_URL", "http://localhost:8080/api")
	registry := voicebridge.NewRegistry()
	for _, t := range toolSet {
		registry.Register(voicebridge.NewHTTPFunction(t.name, t.description, nil, baseURL, nil))
	}

	var establish voicebridge.Establisher
	if env("TRANSPORT", "webrtc") == "ws" {
		establish = voicebridge.NewWSEstablisher(cfg, registry.Declarations())
	} else {
		var src webrtc.AudioSource
		if path := os.Getenv("AUDIO_FILE"); path != "" {
			src = webrtc.NewFileSource(path)
		} else {
			src = webrtc.NewSilenceSource()
		}
		establish = webrtc.NewEstablisher(webrtc.Options{
			Source:     src,
			Region:     cfg.Region,
			Deployment: cfg.Deployment,
			Logger:     logger.LoggerFunc(),
			OnAudioRTP: func(pkts uint64) {
				logger.Debug("audio_rtp", map[string]any{"packets": pkts})
			},
		})
	}

	conv := voicebridge.NewConversation(cfg, registry, establish)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := conv.Start(ctx); err != nil {
		cancel()
		log.Fatalf("start: %v", err)
	}
	cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	conv.Stop()

	for _, e := range conv.Transcript().Visible() {
		marker := ""
		if e.Partial {
			marker = " …"
		}
		fmt.Printf("[%s] %s%s\n", e.Speaker, e.Text, marker)
	}
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing env %s", k)
	}
	return v
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
