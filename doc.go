// Package voicebridge connects a local audio source to the Azure OpenAI
// Realtime API and turns the resulting event stream into a running
// conversation: transcripts are reconciled as they stream in, and
// function calls issued by the model are dispatched to registered
// handlers with results fed back so the model can resume speaking.
//
// A Conversation ties the pieces together. It acquires a transport
// (WebRTC via the webrtc subpackage, or websocket via DialWS), mints an
// ephemeral session against the resource, negotiates the transport, and
// then routes every inbound event through decode, transcript, and
// dispatch. The event decoder is deliberately total: any frame the
// provider sends, in any of the schema variants observed across API
// versions, decodes to something usable rather than an error.
//
// Minimal usage:
//
//	cfg := voicebridge.Config{
//		Endpoint:   "https://my-resource.openai.azure.com",
//		Credential: voicebridge.APIKey("..."),
//	}
//	reg := voicebridge.NewRegistry()
//	conv := voicebridge.NewConversation(cfg, reg, voicebridge.NewWSEstablisher(cfg, reg.Declarations()))
//	if err := conv.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer conv.Stop()
package voicebridge
