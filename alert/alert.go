package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalog_etl/config"
)

// Alert describes a failed pipeline run.
type Alert struct {
	ExecutionID string    `json:"execution_id"`
	Time        time.Time `json:"time"`
	Message     string    `json:"message"`
	Source      string    `json:"source"`
}

func (a Alert) Subject() string {
	return "ETL Alert: Pipeline Failed"
}

func (a Alert) Body() string {
	return fmt.Sprintf("ETL Pipeline Failed: %s\nTime: %s\nExecution: %s\nSource: %s\n",
		a.Message, a.Time.Format(time.RFC3339), a.ExecutionID, a.Source)
}

// Alerter delivers failure alerts.
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

type NoOp struct{}

func (NoOp) Send(ctx context.Context, a Alert) error {
	return nil
}

// Multi sends to every alerter, even when an earlier one fails.
type Multi []Alerter

func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig returns the alerters cfg enables, or NoOp when none is.
func FromConfig(cfg config.AlertConfig, client *http.Client) Alerter {
	var alerters Multi
	if cfg.WebhookURL != "" {
		alerters = append(alerters, NewWebhook(cfg.WebhookURL, client))
	}
	if cfg.SMTP.Enabled() {
		alerters = append(alerters, NewSMTP(cfg.SMTP))
	}

	switch len(alerters) {
	case 0:
		return NoOp{}
	case 1:
		return alerters[0]
	}
	return alerters
}
