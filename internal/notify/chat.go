package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// WhatsAppSender posts chat messages through Twilio's WhatsApp API.
type WhatsAppSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

type WhatsAppConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// BaseURL overrides the Twilio API root. Used by tests.
	BaseURL string
}

// NewWhatsAppSender returns nil when credentials are missing so callers can
// treat the channel as unconfigured.
func NewWhatsAppSender(cfg WhatsAppConfig, logger *logging.Logger) *WhatsAppSender {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPIBase
	}
	return &WhatsAppSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       whatsappAddress(cfg.From),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func whatsappAddress(addr string) string {
	if strings.HasPrefix(addr, "whatsapp:") {
		return addr
	}
	return "whatsapp:" + addr
}

func (s *WhatsAppSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("notify: chat recipient required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("notify: chat body required")
	}

	payload := url.Values{}
	payload.Set("To", whatsappAddress(msg.To))
	payload.Set("From", s.from)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return fmt.Errorf("notify: build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("twilio whatsapp send failed", "status", resp.StatusCode, "to", msg.To)
		return fmt.Errorf("notify: twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(body, &parsed)
	s.logger.Info("whatsapp message sent", "to", msg.To, "sid", parsed.SID)
	return nil
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
