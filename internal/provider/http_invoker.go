package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/google/uuid"
)

// HTTP headers.
const (
	headerContentType      = "Content-Type"
	headerAccept           = "Accept"
	headerAuthorization    = "Authorization"
	headerMurfAPIKey       = "api-key"
	headerElevenLabsAPIKey = "xi-api-key"
	headerCartesiaAPIKey   = "X-API-Key"
	headerCartesiaVersion  = "Cartesia-Version"
	contentTypeJSON        = "application/json"
	contentTypeMPEG        = "audio/mpeg"
	cartesiaVersion        = "2024-06-10"
)

// Default values.
const (
	defaultVoice       = "default"
	defaultFormat      = "mp3"
	defaultTimeout     = 30 * time.Second
	defaultPingTimeout = 5 * time.Second
	maxErrorBodyBytes  = 512
	cartesiaSampleRate = 44100
)

// Error messages. The text before the first colon is the trial error type.
const (
	errFmtNotConfigured  = "Configuration: provider %s is not configured"
	errFmtMissingAPIKey  = "Configuration: API key missing for %s"
	errFmtBuildRequest   = "Request: %v"
	errFmtTimeout        = "Timeout: %v"
	errFmtConnection     = "Connection: %v"
	errFmtHTTPStatus     = "HTTP %d: %s"
	errFmtAudioReference = "Response: %v"
	errEmptyAudio        = "Empty: received empty audio data"
)

var errNoAudioInResponse = errors.New("response carries neither audioFile nor encodedAudio")

// HTTPInvoker calls vendor TTS APIs over HTTP. It implements core.Invoker.
type HTTPInvoker struct {
	httpClient  *http.Client
	endpoints   map[core.ProviderID]Endpoint
	pingTimeout time.Duration
}

// Option customizes an HTTPInvoker.
type Option func(*HTTPInvoker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(i *HTTPInvoker) {
		i.httpClient = client
	}
}

// WithPingTimeout bounds the round-trip probe sent before each call. Zero disables it.
func WithPingTimeout(timeout time.Duration) Option {
	return func(i *HTTPInvoker) {
		i.pingTimeout = timeout
	}
}

// NewHTTPInvoker creates an invoker for the given endpoints. The timeout applies to
// every HTTP request made by the invoker.
func NewHTTPInvoker(endpoints map[core.ProviderID]Endpoint, timeout time.Duration, opts ...Option) *HTTPInvoker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	invoker := &HTTPInvoker{
		httpClient:  &http.Client{Timeout: timeout},
		endpoints:   endpoints,
		pingTimeout: defaultPingTimeout,
	}

	for _, opt := range opts {
		opt(invoker)
	}

	return invoker
}

// Invoke synthesizes text with one vendor. Latency covers sending the request
// through reading the complete audio payload. Failures are returned as a trial with
// Success=false and a typed error message.
func (i *HTTPInvoker) Invoke(ctx context.Context, provider core.ProviderID, text, voice string) core.TrialResult {
	result := core.TrialResult{
		ID:        uuid.NewString(),
		Provider:  provider,
		Text:      text,
		Voice:     voice,
		Timestamp: time.Now().UTC(),
	}

	endpoint, ok := i.endpoints[provider]
	if !ok {
		result.Error = fmt.Sprintf(errFmtNotConfigured, provider)

		return result
	}

	if endpoint.APIKey == "" {
		result.Error = fmt.Sprintf(errFmtMissingAPIKey, provider)

		return result
	}

	voice = endpoint.resolveVoice(voice)
	result.Voice = voice
	result.Metadata = core.TrialMetadata{ModelName: modelName(provider, endpoint, voice), Format: defaultFormat}

	message := endpoint.check(text, voice)
	if message != "" {
		result.Error = message

		return result
	}

	result.PingLatencyMs = i.Ping(ctx, provider)

	req, err := buildRequest(ctx, provider, endpoint, text, voice)
	if err != nil {
		result.Error = fmt.Sprintf(errFmtBuildRequest, err)

		return result
	}

	start := time.Now()

	audio, message := i.fetch(ctx, req)
	if message != "" {
		result.Error = message

		return result
	}

	result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	result.Success = true
	result.Audio = audio
	result.SizeBytes = int64(len(audio))

	return result
}

// Ping measures the round-trip time of a bare GET against the provider's endpoint in
// milliseconds. Any failure yields 0.
func (i *HTTPInvoker) Ping(ctx context.Context, provider core.ProviderID) float64 {
	endpoint, ok := i.endpoints[provider]
	if !ok || i.pingTimeout <= 0 {
		return 0
	}

	target := endpoint.PingURL
	if target == "" {
		target = endpoint.BaseURL
	}

	pingCtx, cancel := context.WithTimeout(ctx, i.pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return 0
	}

	start := time.Now()

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return 0
	}

	elapsed := time.Since(start)

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return float64(elapsed.Microseconds()) / 1000
}

// fetch sends req and returns the audio payload or an error message. JSON responses
// are treated as references to the audio, either a download URL or base64 data.
func (i *HTTPInvoker) fetch(ctx context.Context, req *http.Request) ([]byte, string) {
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, describeTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, describeTransportError(err)
	}

	if strings.HasPrefix(resp.Header.Get(headerContentType), contentTypeJSON) {
		return i.resolveAudioReference(ctx, body)
	}

	if len(body) == 0 {
		return nil, errEmptyAudio
	}

	return body, ""
}

type audioReference struct {
	AudioFile    string `json:"audioFile"`
	EncodedAudio string `json:"encodedAudio"`
}

func (i *HTTPInvoker) resolveAudioReference(ctx context.Context, body []byte) ([]byte, string) {
	var ref audioReference

	err := json.Unmarshal(body, &ref)
	if err != nil {
		return nil, fmt.Sprintf(errFmtAudioReference, err)
	}

	switch {
	case ref.EncodedAudio != "":
		audio, decodeErr := base64.StdEncoding.DecodeString(ref.EncodedAudio)
		if decodeErr != nil {
			return nil, fmt.Sprintf(errFmtAudioReference, decodeErr)
		}

		if len(audio) == 0 {
			return nil, errEmptyAudio
		}

		return audio, ""
	case ref.AudioFile != "":
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, ref.AudioFile, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Sprintf(errFmtAudioReference, reqErr)
		}

		return i.fetch(ctx, req)
	default:
		return nil, fmt.Sprintf(errFmtAudioReference, errNoAudioInResponse)
	}
}

// parseErrorResponse reads a bounded prefix of the error body so the vendor's
// diagnostics end up in the trial.
func parseErrorResponse(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	return fmt.Sprintf(errFmtHTTPStatus, resp.StatusCode, detail)
}

func describeTransportError(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf(errFmtTimeout, err)
	}

	return fmt.Sprintf(errFmtConnection, err)
}

func modelName(provider core.ProviderID, endpoint Endpoint, voice string) string {
	switch provider {
	case core.ProviderDeepgram, core.ProviderDeepgramAura2:
		return voice
	default:
		return endpoint.ModelName
	}
}

type murfRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voiceId"`
	Format       string `json:"format"`
	ModelVersion string `json:"modelVersion,omitempty"`
	Model        string `json:"model,omitempty"`
}

type deepgramRequest struct {
	Text string `json:"text"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type openAIRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	Language     string               `json:"language"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
}

// buildRequest constructs the vendor-specific synthesis request.
func buildRequest(
	ctx context.Context,
	provider core.ProviderID,
	endpoint Endpoint,
	text, voice string,
) (*http.Request, error) {
	target := endpoint.BaseURL
	headers := http.Header{}
	headers.Set(headerContentType, contentTypeJSON)

	var payload any

	switch provider {
	case core.ProviderMurf, core.ProviderMurfFalcon:
		headers.Set(headerMurfAPIKey, endpoint.APIKey)

		request := murfRequest{Text: text, VoiceID: voice, Format: strings.ToUpper(defaultFormat)}
		if provider == core.ProviderMurfFalcon {
			request.Model = endpoint.ModelName
		} else {
			request.ModelVersion = endpoint.ModelName
		}

		payload = request
	case core.ProviderDeepgram, core.ProviderDeepgramAura2:
		headers.Set(headerAuthorization, "Token "+endpoint.APIKey)

		query := url.Values{}
		query.Set("model", voice)
		query.Set("encoding", defaultFormat)
		target += "?" + query.Encode()
		payload = deepgramRequest{Text: text}
	case core.ProviderElevenLabs:
		headers.Set(headerElevenLabsAPIKey, endpoint.APIKey)
		headers.Set(headerAccept, contentTypeMPEG)

		target = strings.TrimRight(target, "/") + "/" + url.PathEscape(voice)
		payload = elevenLabsRequest{
			Text:          text,
			ModelID:       endpoint.ModelName,
			VoiceSettings: elevenLabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		}
	case core.ProviderOpenAI:
		headers.Set(headerAuthorization, "Bearer "+endpoint.APIKey)

		payload = openAIRequest{
			Model:          endpoint.ModelName,
			Input:          text,
			Voice:          strings.ToLower(voice),
			ResponseFormat: defaultFormat,
			Speed:          1.0,
		}
	case core.ProviderCartesiaSonic2, core.ProviderCartesiaTurbo:
		headers.Set(headerCartesiaAPIKey, endpoint.APIKey)
		headers.Set(headerCartesiaVersion, cartesiaVersion)

		payload = cartesiaRequest{
			ModelID:    endpoint.ModelName,
			Transcript: text,
			Voice:      cartesiaVoice{Mode: "id", ID: voice},
			Language:   "en",
			OutputFormat: cartesiaOutputFormat{
				Container:  defaultFormat,
				Encoding:   defaultFormat,
				SampleRate: cartesiaSampleRate,
			},
		}
	default:
		return nil, fmt.Errorf("%w: no request builder for provider %q", core.ErrValidation, provider)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = headers

	return req, nil
}
