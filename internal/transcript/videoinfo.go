package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/egress"
	"github.com/revradar/retrieval-engine/internal/retrieval"
)

// defaultPlayerEndpoint is the video-info endpoint queried for caption
// listings. Overridable for tests and self-hosted mirrors.
const defaultPlayerEndpoint = "https://www.youtube.com/youtubei/v1/player"

// Persona is one client identity presented to the video-info endpoint.
// The endpoint's bot mitigation treats client types differently, so the
// pipeline tries a small fixed number of distinct personas.
type Persona struct {
	Name          string
	ClientName    string
	ClientVersion string
	UserAgent     string
	ClientHeader  string
	SDKVersion    int
}

// DefaultPersonas returns the two personas the pipeline attempts, in order.
func DefaultPersonas() [2]Persona {
	const androidVersion = "20.10.38"
	return [2]Persona{
		{
			Name:          "android",
			ClientName:    "ANDROID",
			ClientVersion: androidVersion,
			UserAgent:     "com.google.android.youtube/" + androidVersion + " (Linux; U; Android 11) gzip",
			ClientHeader:  "3",
			SDKVersion:    30,
		},
		{
			Name:          "web",
			ClientName:    "WEB",
			ClientVersion: "2.20250222.10.00",
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			ClientHeader:  "1",
		},
	}
}

// CaptionTrack is one timed-text resource attached to a video. Kind "asr"
// marks auto-generated captions.
type CaptionTrack struct {
	BaseURL      string
	LanguageCode string
	Kind         string
}

// Auto reports whether the track is machine-generated.
func (t CaptionTrack) Auto() bool {
	return t.Kind == "asr"
}

// VideoInfo is the caption-relevant slice of a video-info response.
type VideoInfo struct {
	DurationSec int
	Tracks      []CaptionTrack
	AudioURL    string
}

// InfoClient fetches video info through a given egress session and persona.
type InfoClient struct {
	endpoint string
	timeout  time.Duration
	log      *zap.Logger
}

// NewInfoClient builds an InfoClient. An empty endpoint selects the default.
func NewInfoClient(endpoint string, timeout time.Duration, logger *zap.Logger) *InfoClient {
	if endpoint == "" {
		endpoint = defaultPlayerEndpoint
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &InfoClient{endpoint: endpoint, timeout: timeout, log: logger}
}

type playerRequest struct {
	VideoID        string        `json:"videoId"`
	Context        playerContext `json:"context"`
	RacyCheckOk    bool          `json:"racyCheckOk"`
	ContentCheckOk bool          `json:"contentCheckOk"`
}

type playerContext struct {
	Client playerClient `json:"client"`
}

type playerClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	VisitorData       string `json:"visitorData,omitempty"`
	Hl                string `json:"hl,omitempty"`
	Gl                string `json:"gl,omitempty"`
}

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []struct {
				BaseURL      string `json:"baseUrl"`
				LanguageCode string `json:"languageCode"`
				Kind         string `json:"kind"`
			} `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails *struct {
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	StreamingData *struct {
		AdaptiveFormats []struct {
			MimeType string `json:"mimeType"`
			URL      string `json:"url"`
			Bitrate  int    `json:"bitrate"`
		} `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

// Fetch retrieves video info with the given persona through the session's
// proxy. Failures come back classed: throttling and auth rejections are
// identity-specific and warrant rotation upstream.
func (c *InfoClient) Fetch(ctx context.Context, videoID string, persona Persona, session egress.Session) (*VideoInfo, error) {
	body, err := json.Marshal(playerRequest{
		VideoID: videoID,
		Context: playerContext{
			Client: playerClient{
				ClientName:        persona.ClientName,
				ClientVersion:     persona.ClientVersion,
				AndroidSdkVersion: persona.SDKVersion,
				VisitorData:       visitorData(),
				Hl:                "en",
				Gl:                "US",
			},
		},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal player request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?prettyPrint=false", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build player request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", persona.UserAgent)
	req.Header.Set("X-Youtube-Client-Name", persona.ClientHeader)
	req.Header.Set("X-Youtube-Client-Version", persona.ClientVersion)

	client := &http.Client{Timeout: c.timeout, Transport: sessionTransport(session)}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retrieval.NewFailure(retrieval.BudgetExceeded, "video info: %v", ctx.Err())
		}
		if !session.None() {
			return nil, retrieval.NewFailure(retrieval.EgressFailure, "video info egress: %v", err)
		}
		return nil, retrieval.NewFailure(retrieval.ContentAbsent, "video info transport: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, retrieval.StatusFailure(resp.StatusCode,
			fmt.Sprintf("video info persona=%s: %s", persona.Name, snippet))
	}

	var decoded playerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&decoded); err != nil {
		return nil, retrieval.NewFailure(retrieval.DecodeFailure, "decode player response: %v", err)
	}

	if ps := decoded.PlayabilityStatus; ps != nil && ps.Status != "" && ps.Status != "OK" {
		// LOGIN_REQUIRED is the endpoint's bot-mitigation verdict on this
		// identity, not a statement about the video.
		if ps.Status == "LOGIN_REQUIRED" {
			return nil, retrieval.NewFailure(retrieval.BlockedByOrigin,
				"persona %s rejected: %s", persona.Name, ps.Reason)
		}
		return nil, retrieval.NewFailure(retrieval.ContentAbsent,
			"video unplayable (%s): %s", ps.Status, ps.Reason)
	}

	info := &VideoInfo{}
	if decoded.VideoDetails != nil {
		if secs, err := strconv.Atoi(decoded.VideoDetails.LengthSeconds); err == nil {
			info.DurationSec = secs
		}
	}
	if decoded.Captions != nil {
		for _, t := range decoded.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks {
			info.Tracks = append(info.Tracks, CaptionTrack{
				BaseURL:      t.BaseURL,
				LanguageCode: t.LanguageCode,
				Kind:         t.Kind,
			})
		}
	}
	if decoded.StreamingData != nil {
		info.AudioURL = smallestAudioFormat(decoded)
	}
	return info, nil
}

// smallestAudioFormat picks the lowest-bitrate audio-only stream for the
// transcription fallback.
func smallestAudioFormat(decoded playerResponse) string {
	best := ""
	bestRate := 0
	for _, f := range decoded.StreamingData.AdaptiveFormats {
		if !strings.HasPrefix(f.MimeType, "audio/") || f.URL == "" {
			continue
		}
		if best == "" || f.Bitrate < bestRate {
			best = f.URL
			bestRate = f.Bitrate
		}
	}
	return best
}

// SelectTrack picks a caption track: manual track in language preference
// order, then auto-generated in preference order when allowed, then any
// manual track, then any track when allowed.
func SelectTrack(tracks []CaptionTrack, languages []string, allowAuto bool) (CaptionTrack, bool) {
	for _, lang := range languages {
		for _, t := range tracks {
			if t.LanguageCode == lang && !t.Auto() {
				return t, true
			}
		}
	}
	if allowAuto {
		for _, lang := range languages {
			for _, t := range tracks {
				if t.LanguageCode == lang {
					return t, true
				}
			}
		}
	}
	for _, t := range tracks {
		if !t.Auto() {
			return t, true
		}
	}
	if allowAuto && len(tracks) > 0 {
		return tracks[0], true
	}
	return CaptionTrack{}, false
}

func sessionTransport(session egress.Session) *http.Transport {
	t := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if session.ProxyURL != nil {
		t.Proxy = http.ProxyURL(session.ProxyURL)
	}
	return t
}

const visitorAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// visitorData creates a random visitor token for the client context.
func visitorData() string {
	b := make([]byte, 11)
	for i := range b {
		b[i] = visitorAlphabet[rand.Intn(len(visitorAlphabet))] //nolint:gosec // non-cryptographic use
	}
	return string(b)
}

// EndpointHost returns the hostname cooldowns are keyed by.
func (c *InfoClient) EndpointHost() string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "video-info"
	}
	return strings.ToLower(u.Hostname())
}
