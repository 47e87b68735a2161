// Package delivery sends agent replies back through the WhatsApp gateway.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agent_server/core/port/out"
	"agent_server/pkg/apperr"
	"agent_server/pkg/httputil"
	"agent_server/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Keys read from DeliveryTarget.InstanceData.
const (
	instanceKey  = "instance"
	serverURLKey = "server_url"
	apiKeyKey    = "apikey"
)

var errNoInstance = errors.New("delivery target has no instance")

type EvolutionConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// EvolutionSender posts text messages to an Evolution API gateway.
type EvolutionSender struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

var _ out.MessageSender = (*EvolutionSender)(nil)

func NewEvolutionSender(cfg EvolutionConfig) *EvolutionSender {
	client := cfg.HTTPClient
	if client == nil {
		client = httputil.NewOptimizedClient(httputil.DeliveryClientConfig(cfg.Timeout))
	}
	return &EvolutionSender{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		cb:      resilience.NewBreaker(resilience.DefaultBreakerConfig("delivery"), cfg.Logger),
		log:     cfg.Logger.With().Str("component", "delivery").Logger(),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// Send delivers text to the target's remote JID. The instance, and optionally
// the gateway URL and key, come from the target's instance data.
func (s *EvolutionSender) Send(ctx context.Context, target *out.DeliveryTarget, text string) error {
	if target == nil || target.RemoteJID == "" {
		return apperr.MissingField("remote_jid")
	}

	instance := stringField(target.InstanceData, instanceKey)
	if instance == "" {
		return apperr.ValidationFailed("cannot deliver message").WithError(errNoInstance)
	}
	baseURL := s.baseURL
	if v := stringField(target.InstanceData, serverURLKey); v != "" {
		baseURL = strings.TrimRight(v, "/")
	}
	if baseURL == "" {
		return apperr.NotConfigured("delivery base url")
	}
	apiKey := s.apiKey
	if v := stringField(target.InstanceData, apiKeyKey); v != "" {
		apiKey = v
	}

	body, err := json.Marshal(sendTextRequest{Number: Number(target.RemoteJID), Text: text})
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}
	endpoint := baseURL + "/message/sendText/" + url.PathEscape(instance)

	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.post(ctx, endpoint, apiKey, body)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("instance", instance).Msg("delivery failed")
		return apperr.ExternalError("delivery", err)
	}
	return nil
}

func (s *EvolutionSender) post(ctx context.Context, endpoint, apiKey string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("apikey", apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Number strips the WhatsApp JID domain, leaving the digits the gateway expects.
func Number(remoteJID string) string {
	if i := strings.IndexByte(remoteJID, '@'); i >= 0 {
		return remoteJID[:i]
	}
	return remoteJID
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return strings.TrimSpace(v)
}
