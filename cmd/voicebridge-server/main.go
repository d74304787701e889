// Server hosting the rental-counter function endpoints and the realtime
// session negotiation endpoint for browser WebRTC clients.
// Features: optional OIDC (Entra ID) verification for callers and simple CORS.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/soracall/voicebridge"
	"github.com/soracall/voicebridge/functions"
	"github.com/soracall/voicebridge/knowledge"
	"github.com/soracall/voicebridge/store"
)

type server struct {
	cfg      voicebridge.Config
	registry *voicebridge.Registry
	store    store.Store
	logger   *voicebridge.Logger

	// OIDC config
	tokenType string // "id" (ID token) or "access" (JWT access token)
	issuer    string
	audience  string
	verifier  *oidc.IDTokenVerifier
	jwks      *keyfunc.JWKS

	// CORS
	allowedOrigins []string
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

	ctx := context.Background()
	st := store.Open(ctx, os.Getenv("REDIS_ADDR"), os.Getenv("REDIS_PASSWORD"), logger.LoggerFunc())
	defer st.Close()

	kb := knowledge.New(env("KNOWLEDGE_PATH", "knowledge/credit_card_faq.txt"), logger.LoggerFunc())

	registry := voicebridge.NewRegistry()
	functions.RegisterAll(registry, st, kb)

	s := &server{cfg: cfg, registry: registry, store: st, logger: logger}

	// OIDC setup
	if iss := os.Getenv("OIDC_ISSUER"); iss != "" {
		aud := must("OIDC_AUDIENCE")
		s.issuer = iss
		s.audience = aud
		s.tokenType = env("OIDC_TOKEN_TYPE", "access") // "id" or "access"

		prov, err := oidc.NewProvider(ctx, iss)
		if err != nil {
			log.Fatalf("oidc provider: %v", err)
		}

		if s.tokenType == "id" {
			s.verifier = prov.Verifier(&oidc.Config{ClientID: aud})
			log.Println("OIDC (ID token) enabled", iss, "aud", aud)
		} else {
			// Access token: load JWKS
			var disc struct {
				JWKSURI string `json:"jwks_uri"`
			}
			if err := prov.Claims(&disc); err != nil || disc.JWKSURI == "" {
				log.Fatalf("failed to discover jwks_uri: %v", err)
			}
			jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
				RefreshInterval: time.Hour,
				RefreshTimeout:  10 * time.Second,
			})
			if err != nil {
				log.Fatalf("jwks: %v", err)
			}
			s.jwks = jwks
			log.Println("OIDC (access token) enabled", iss, "aud", aud)
		}
	} else {
		log.Println("OIDC disabled")
	}

	if ao := os.Getenv("CORS_ALLOWED_ORIGINS"); ao != "" {
		s.allowedOrigins = splitCSV(ao)
		log.Println("CORS allowed origins:", s.allowedOrigins)
	}

	mux := http.NewServeMux()
	// Patterns are method-agnostic so CORS preflight reaches the middleware.
	mux.Handle("/api/functions/{name}", s.cors(s.auth(http.HandlerFunc(s.handleFunction))))
	mux.Handle("/api/realtime/session", s.cors(s.auth(http.HandlerFunc(s.handleSession))))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Printf("Failed to write health check response: %v", err)
		}
	})

	addr := env("ADDR", ":8080")
	log.Println("voicebridge-server on", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// handleFunction runs one registered tool operation with the posted JSON
// arguments. Validation problems surface in the body with a 400 so both the
// model (via the client bridge) and plain HTTP callers see them.
func (s *server) handleFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	fn, ok := s.registry.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown function: " + name})
		return
	}

	var args map[string]any
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			args = map[string]any{}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	result, err := fn.Execute(ctx, args)
	if err != nil {
		s.logger.Error("function_failed", map[string]any{"name": name, "err": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if m, ok := result.(map[string]any); ok {
		if _, bad := m["error"]; bad {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, result)
}

// handleSession negotiates an ephemeral realtime session on behalf of a
// browser client and relays the descriptor.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	desc, err := voicebridge.NegotiateSession(ctx, s.cfg, s.registry.Declarations())
	if err != nil {
		s.logger.Error("session_negotiation_failed", map[string]any{"err": err.Error()})
		http.Error(w, "session negotiation failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"raw":           desc.Raw,
		"client_secret": desc.EphemeralKey,
		"realtimeUrl":   desc.RealtimeURL,
	})
}

// Middleware: OIDC auth
func (s *server) auth(next http.Handler) http.Handler {
	if s.issuer == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimSpace(auth[len("Bearer "):])
		if s.tokenType == "id" {
			if s.verifier == nil {
				http.Error(w, "verifier not initialized", http.StatusInternalServerError)
				return
			}
			if _, err := s.verifier.Verify(r.Context(), raw); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		} else {
			if s.jwks == nil {
				http.Error(w, "jwks not initialized", http.StatusInternalServerError)
				return
			}
			tok, err := jwt.Parse(raw, s.jwks.Keyfunc, jwt.WithAudience(s.audience), jwt.WithIssuer(s.issuer))
			if err != nil || !tok.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware: CORS
func (s *server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(s.allowedOrigins) == 0 || contains(s.allowedOrigins, origin) || contains(s.allowedOrigins, "*")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// helpers
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

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func contains(a []string, v string) bool {
	for _, x := range a {
		if x == v {
			return true
		}
	}
	return false
}
