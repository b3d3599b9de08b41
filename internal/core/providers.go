package core

import (
	"fmt"
	"slices"
)

// ProviderID names a TTS vendor (and model family) under benchmark.
type ProviderID string

// Supported providers.
const (
	ProviderMurf           ProviderID = "murf"
	ProviderMurfFalcon     ProviderID = "murf_falcon"
	ProviderDeepgram       ProviderID = "deepgram"
	ProviderDeepgramAura2  ProviderID = "deepgram_aura2"
	ProviderElevenLabs     ProviderID = "elevenlabs"
	ProviderOpenAI         ProviderID = "openai"
	ProviderCartesiaSonic2 ProviderID = "cartesia_sonic2"
	ProviderCartesiaTurbo  ProviderID = "cartesia_turbo"
)

var knownProviders = []ProviderID{
	ProviderMurf,
	ProviderMurfFalcon,
	ProviderDeepgram,
	ProviderDeepgramAura2,
	ProviderElevenLabs,
	ProviderOpenAI,
	ProviderCartesiaSonic2,
	ProviderCartesiaTurbo,
}

// KnownProviders returns every supported provider in a stable order.
func KnownProviders() []ProviderID {
	return slices.Clone(knownProviders)
}

// Known reports whether p is one of the supported providers.
func (p ProviderID) Known() bool {
	return slices.Contains(knownProviders, p)
}

// ParseProviderID converts a configuration key into a supported ProviderID.
func ParseProviderID(raw string) (ProviderID, error) {
	id := ProviderID(raw)
	if !id.Known() {
		return "", fmt.Errorf("%w: unknown provider %q", ErrValidation, raw)
	}

	return id, nil
}

func (p ProviderID) String() string {
	return string(p)
}
