package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leadflow/config"
	"leadflow/models"
)

// WhatsAppSender is the transport capability the dispatcher consumes. A send
// either succeeds or returns an error carrying the provider's reason; there
// is no partial success.
type WhatsAppSender interface {
	Send(ctx context.Context, provider, recipientPhone, text, dedupeKey string) error
}

// HTTPWhatsAppSender sends through HTTP providers: a self-hosted Baileys
// bridge or the Meta WhatsApp Cloud API, selected per message by the rule's
// provider tag.
type HTTPWhatsAppSender struct {
	Client  *http.Client
	Baileys config.ProviderConfig
	Meta    config.ProviderConfig
}

// NewWhatsAppSender builds a sender from the loaded application config.
func NewWhatsAppSender() *HTTPWhatsAppSender {
	return &HTTPWhatsAppSender{
		Client:  &http.Client{Timeout: 60 * time.Second},
		Baileys: config.AppConfig.Baileys,
		Meta:    config.AppConfig.Meta,
	}
}

func (s *HTTPWhatsAppSender) Send(ctx context.Context, provider, recipientPhone, text, dedupeKey string) error {
	switch provider {
	case models.ProviderBaileys:
		return s.sendBaileys(ctx, recipientPhone, text, dedupeKey)
	case models.ProviderMeta:
		return s.sendMeta(ctx, recipientPhone, text)
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
}

func (s *HTTPWhatsAppSender) sendBaileys(ctx context.Context, phone, text, dedupeKey string) error {
	payload := map[string]string{
		"phone":      phone,
		"message":    text,
		"dedupe_key": dedupeKey,
	}

	req, err := s.newJSONRequest(ctx, s.Baileys.BaseURL+"/send", payload)
	if err != nil {
		return err
	}
	if s.Baileys.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Baileys.Token)
	}

	return s.do(req, "baileys")
}

func (s *HTTPWhatsAppSender) sendMeta(ctx context.Context, phone, text string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "text",
		"text": map[string]string{
			"body": text,
		},
	}

	url := fmt.Sprintf("%s/%s/messages", s.Meta.BaseURL, s.Meta.PhoneNumberID)
	req, err := s.newJSONRequest(ctx, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.Meta.Token)

	return s.do(req, "meta")
}

func (s *HTTPWhatsAppSender) newJSONRequest(ctx context.Context, url string, payload interface{}) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (s *HTTPWhatsAppSender) do(req *http.Request, provider string) error {
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Surface the provider's response body as the failure reason.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, string(body))
}
