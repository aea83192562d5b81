package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"civicflow/internal/config"
	"civicflow/internal/domain"
	"civicflow/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// Dispatcher tails the committed audit log and posts entries to the
// configured webhooks. Each hook keeps its own persisted cursor, so a hook
// that fails is retried from the same entry on the next pass.
type Dispatcher struct {
	Repo         repo.Repo
	Webhooks     []config.WebhookConfig
	Municipality string
	Interval     time.Duration
	Batch        int
	Client       *http.Client
	Logger       *slog.Logger
	Now          func() time.Time
}

func New(r repo.Repo, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		Repo:     r,
		Interval: defaultInterval,
		Batch:    defaultBatch,
		Client:   &http.Client{Timeout: defaultTimeout},
		Logger:   logger,
		Now:      time.Now,
	}
	if cfg != nil {
		d.Webhooks = cfg.Webhooks
		d.Municipality = cfg.Municipality.ID
	}
	return d
}

// Enabled reports whether any hook would receive deliveries.
func (d *Dispatcher) Enabled() bool {
	for _, hook := range d.Webhooks {
		if hook.Active() {
			return true
		}
	}
	return false
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs one delivery pass over every active hook and returns the
// number of entries delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	var delivered int
	for i, hook := range d.Webhooks {
		if !hook.Active() {
			continue
		}
		n, err := d.dispatch(ctx, hook.Key(i), hook)
		delivered += n
		if err != nil {
			d.log().WarnContext(ctx, "webhook delivery failed", "webhook", hook.Key(i), "url", hook.URL, "err", err)
		}
	}
	return delivered
}

func (d *Dispatcher) dispatch(ctx context.Context, key string, hook config.WebhookConfig) (int, error) {
	cursor, err := d.cursor(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	entries, err := d.Repo.AuditAfter(ctx, cursor, d.Batch)
	if err != nil {
		return 0, fmt.Errorf("fetch audit: %w", err)
	}
	filter := newEventFilter(hook.Events)
	var delivered int
	for _, entry := range entries {
		if filter.match(entry.Action) {
			if err := d.post(ctx, hook, entry); err != nil {
				return delivered, err
			}
			delivered++
		}
		if err := d.Repo.SetDeliveryCursor(ctx, key, entry.ID, d.stamp()); err != nil {
			return delivered, fmt.Errorf("save cursor: %w", err)
		}
	}
	return delivered, nil
}

// cursor returns the persisted position of a hook. A hook seen for the first
// time starts at the current end of the log.
func (d *Dispatcher) cursor(ctx context.Context, key string) (int64, error) {
	cur, err := d.Repo.GetDeliveryCursor(ctx, key)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return 0, err
	}
	cur, err = d.Repo.LatestAuditID(ctx)
	if err != nil {
		return 0, err
	}
	return cur, d.Repo.SetDeliveryCursor(ctx, key, cur, d.stamp())
}

// Delivery is the JSON body posted to a webhook.
type Delivery struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	Municipality string         `json:"municipality_id"`
	ActorID      string         `json:"actor_id"`
	ActorRole    domain.Role    `json:"actor_role"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ReportID     *int64         `json:"report_id,omitempty"`
	TS           string         `json:"ts"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, entry domain.AuditEntry) error {
	data, err := json.Marshal(Delivery{
		ID:           entry.ID,
		Action:       entry.Action,
		Municipality: d.Municipality,
		ActorID:      entry.ActorID,
		ActorRole:    entry.ActorRole,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		ReportID:     entry.ReportID,
		TS:           entry.TS,
		Metadata:     entry.Metadata,
	})
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Civicflow-Event", entry.Action)
	req.Header.Set("X-Civicflow-Delivery", uuid.NewString())
	req.Header.Set("X-Civicflow-Entry", strconv.FormatInt(entry.ID, 10))
	if d.Municipality != "" {
		req.Header.Set("X-Civicflow-Municipality", d.Municipality)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Civicflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	d.log().DebugContext(ctx, "webhook delivered", "url", hook.URL, "action", entry.Action, "audit_id", entry.ID)
	return nil
}

func (d *Dispatcher) stamp() string {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return domain.FormatTime(now())
}

func (d *Dispatcher) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// eventFilter matches action names exactly or by "prefix.*".
type eventFilter struct {
	all      bool
	set      map[string]struct{}
	prefixes []string
}

func newEventFilter(events []string) eventFilter {
	f := eventFilter{set: map[string]struct{}{}}
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		switch {
		case key == "":
		case key == "*":
			return eventFilter{all: true}
		case strings.HasSuffix(key, ".*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(key, "*"))
		default:
			f.set[key] = struct{}{}
		}
	}
	if len(f.set) == 0 && len(f.prefixes) == 0 {
		return eventFilter{all: true}
	}
	return f
}

func (f eventFilter) match(action string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[action]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(action, p) {
			return true
		}
	}
	return false
}
