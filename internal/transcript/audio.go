package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/retrieval"
)

// Transcriber converts an audio stream into text. The audio fallback only
// runs when a Transcriber is wired.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// AudioTranscriber speaks to a whisper-compatible HTTP endpoint that
// accepts a JSON body naming the audio URL and returns the recognized text.
type AudioTranscriber struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewAudioTranscriber returns nil when no endpoint is configured, which
// disables the fallback entirely.
func NewAudioTranscriber(endpoint string, timeout time.Duration, logger *zap.Logger) *AudioTranscriber {
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &AudioTranscriber{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      logger,
	}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe submits the audio URL and waits for the text. The endpoint
// does the download itself, so only the result crosses the wire here.
func (a *AudioTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(transcribeRequest{AudioURL: audioURL, Language: "en"})
	if err != nil {
		return "", fmt.Errorf("marshal transcribe request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", retrieval.NewFailure(retrieval.BudgetExceeded, "audio transcription: %v", ctx.Err())
		}
		return "", retrieval.NewFailure(retrieval.ContentAbsent, "audio transcription transport: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", retrieval.StatusFailure(resp.StatusCode, fmt.Sprintf("transcription endpoint: %s", snippet))
	}

	var decoded transcribeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&decoded); err != nil {
		return "", retrieval.NewFailure(retrieval.DecodeFailure, "decode transcription response: %v", err)
	}
	if strings.TrimSpace(decoded.Text) == "" {
		return "", retrieval.NewFailure(retrieval.ContentAbsent, "transcription returned no text")
	}
	a.log.Debug("audio transcription complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(decoded.Text)))
	return decoded.Text, nil
}
