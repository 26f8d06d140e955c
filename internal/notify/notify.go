package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rowjay/supa-backup/internal/config"
)

// Event describes one finished operation. Resources maps each resource to
// its outcome status.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Project   string            `json:"project"`
	Bundle    string            `json:"bundle,omitempty"`
	Mode      string            `json:"mode,omitempty"`
	Resources map[string]string `json:"resources,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	Duration  string            `json:"duration"`
	Key       string            `json:"key,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Text is the one-line chat rendering of an event.
func (e Event) Text() string {
	text := fmt.Sprintf("[%s] %s", e.Status, e.Message)
	if e.Error != "" {
		text += ": " + e.Error
	}
	if len(e.Resources) == 0 {
		return text
	}
	names := make([]string, 0, len(e.Resources))
	for name := range e.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+e.Resources[name])
	}
	return text + " (" + strings.Join(parts, " ") + ")"
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

// Notify delivers to every target and joins their failures.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Empty() bool {
	return len(m.Targets) == 0
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(event)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %s", w.Name, resp.Status)
	}
	return nil
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{"text": event.Text()}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mattermost %s returned %s", m.Name, resp.Status)
	}
	return nil
}

type Matrix struct {
	Name        string
	ServerURL   string
	AccessToken string
	RoomID      string
}

func (m Matrix) Notify(ctx context.Context, event Event) error {
	txn := event.ID
	if txn == "" {
		txn = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s", strings.TrimRight(m.ServerURL, "/"), url.PathEscape(m.RoomID), url.PathEscape(txn))
	payload := map[string]any{
		"msgtype": "m.text",
		"body":    event.Text(),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.AccessToken)
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("matrix %s returned %s", m.Name, resp.Status)
	}
	return nil
}

func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
