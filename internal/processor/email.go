package processor

import (
	"context"

	"go.uber.org/zap"

	"github.com/auralane/worker/internal/external"
	"github.com/auralane/worker/internal/jobs"
)

// Email is a thin dispatch to the mail-service collaborator.
type Email struct {
	mail *external.MailClient
	log  *zap.Logger
}

func NewEmail(mail *external.MailClient, log *zap.Logger) *Email {
	return &Email{mail: mail, log: log}
}

func (p *Email) Type() string {
	return jobs.TypeEmail
}

func (p *Email) Process(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	if err := ValidatePayload(job.Payload, "to", "subject"); err != nil {
		return nil, err
	}

	msg := external.Message{
		To:           stringField(job.Payload, "to"),
		Subject:      stringField(job.Payload, "subject"),
		Template:     stringField(job.Payload, "template"),
		TemplateData: mapField(job.Payload, "templateData"),
	}

	err := withCircuitBreaker(ctx, p.log, "mail.send", func(ctx context.Context) error {
		return p.mail.Send(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("email dispatched", zap.String("job_id", job.ID), zap.String("to", msg.To))
	return map[string]any{"sent": true, "to": msg.To}, nil
}

func (p *Email) HealthCheck(ctx context.Context) error {
	return p.mail.Health(ctx)
}
