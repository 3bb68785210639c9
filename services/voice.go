package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wattwatch/models"

	"go.uber.org/zap"
)

// VoiceService announces device events on a smart speaker through an HTTP speak endpoint
type VoiceService struct {
	logger      *zap.Logger
	apiURL      string
	startedTpl  string
	finishedTpl string
	httpClient  *http.Client
}

// VoicePayload represents the payload sent to the speak endpoint
type VoicePayload struct {
	Device string `json:"device"`
	Text   string `json:"text"`
	Event  string `json:"event"`
}

// NewVoiceService creates a new voice announcement service
func NewVoiceService(logger *zap.Logger, apiURL, startedTpl, finishedTpl string) *VoiceService {
	return &VoiceService{
		logger:      logger,
		apiURL:      strings.TrimRight(apiURL, "/"),
		startedTpl:  startedTpl,
		finishedTpl: finishedTpl,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify speaks the rendered template on the device's speaker. Devices without a speaker are skipped.
func (v *VoiceService) Notify(ctx context.Context, event models.DeviceEvent) error {
	if event.Device.AlexaDeviceID == "" {
		return nil
	}

	tpl := templateFor(event.Kind, v.startedTpl, v.finishedTpl)
	if tpl == "" {
		return nil
	}

	payload := VoicePayload{
		Device: event.Device.AlexaDeviceID,
		Text:   RenderTemplate(tpl, event.Device.Name),
		Event:  string(event.Kind),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/speak", v.apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WattWatch/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Error("Failed to send voice announcement",
			zap.Error(err),
			zap.String("device_id", event.Device.ID),
			zap.String("url", endpoint),
		)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		v.logger.Info("Voice announcement sent",
			zap.String("device_id", event.Device.ID),
			zap.String("kind", string(event.Kind)),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil
	}

	v.logger.Error("Voice API returned error",
		zap.String("device_id", event.Device.ID),
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", resp.Status),
	)
	return fmt.Errorf("voice API error: %s", resp.Status)
}
