// Package provider implements core.Invoker against the HTTP APIs of the benchmarked
// TTS vendors.
package provider

import (
	"fmt"
	"slices"
	"strings"

	"github.com/book-expert/tts-bench/internal/core"
)

// Endpoint describes one vendor API as used by the invoker.
type Endpoint struct {
	APIKey  string
	BaseURL string
	// PingURL is requested to measure round-trip latency; BaseURL is used when empty.
	PingURL   string
	ModelName string
	Voices    []string
	MaxChars  int
}

// DefaultEndpoints returns the public endpoints of every supported provider without
// API keys.
func DefaultEndpoints() map[core.ProviderID]Endpoint {
	return map[core.ProviderID]Endpoint{
		core.ProviderMurf: {
			BaseURL:   "https://api.murf.ai/v1/speech/generate",
			ModelName: "GEN2",
			Voices:    []string{"en-US-natalie", "en-US-miles", "en-US-amara", "en-US-ken", "en-US-terrell"},
			MaxChars:  3000,
		},
		core.ProviderMurfFalcon: {
			BaseURL:   "https://api.murf.ai/v1/speech/stream",
			ModelName: "FALCON",
			Voices:    []string{"en-US-natalie", "en-US-miles", "en-US-amara", "en-US-ken", "en-US-terrell"},
			MaxChars:  3000,
		},
		core.ProviderDeepgram: {
			BaseURL:  "https://api.deepgram.com/v1/speak",
			Voices:   []string{"aura-asteria-en", "aura-luna-en", "aura-stella-en", "aura-orion-en"},
			MaxChars: 2000,
		},
		core.ProviderDeepgramAura2: {
			BaseURL:  "https://api.deepgram.com/v1/speak",
			Voices:   []string{"aura-2-thalia-en", "aura-2-andromeda-en", "aura-2-apollo-en"},
			MaxChars: 2000,
		},
		core.ProviderElevenLabs: {
			BaseURL:   "https://api.elevenlabs.io/v1/text-to-speech",
			ModelName: "eleven_flash_v2_5",
			Voices:    []string{"21m00Tcm4TlvDq8ikWAM", "AZnzlk1XvdvUeBnXmlld", "EXAVITQu4vr4xnSDxMaL"},
			MaxChars:  5000,
		},
		core.ProviderOpenAI: {
			BaseURL:   "https://api.openai.com/v1/audio/speech",
			ModelName: "gpt-4o-mini-tts",
			Voices:    []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
			MaxChars:  4096,
		},
		core.ProviderCartesiaSonic2: {
			BaseURL:   "https://api.cartesia.ai/tts/bytes",
			ModelName: "sonic-2",
			Voices:    []string{"a0e99841-438c-4a64-b679-ae501e7d6091"},
			MaxChars:  5000,
		},
		core.ProviderCartesiaTurbo: {
			BaseURL:   "https://api.cartesia.ai/tts/bytes",
			ModelName: "sonic-turbo",
			Voices:    []string{"a0e99841-438c-4a64-b679-ae501e7d6091"},
			MaxChars:  5000,
		},
	}
}

// check validates a request against the endpoint limits. The returned message is
// stored as the trial error.
func (e Endpoint) check(text, voice string) string {
	if strings.TrimSpace(text) == "" {
		return "Validation: text cannot be empty"
	}

	if e.MaxChars > 0 && len([]rune(text)) > e.MaxChars {
		return fmt.Sprintf("Validation: text exceeds maximum length of %d characters", e.MaxChars)
	}

	if len(e.Voices) > 0 && !slices.Contains(e.Voices, voice) {
		return fmt.Sprintf("Validation: voice %q not supported, available: %s", voice, strings.Join(e.Voices, ", "))
	}

	return ""
}

// resolveVoice maps the placeholder voice onto the endpoint's first voice.
func (e Endpoint) resolveVoice(voice string) string {
	if (voice == "" || voice == defaultVoice) && len(e.Voices) > 0 {
		return e.Voices[0]
	}

	return voice
}
