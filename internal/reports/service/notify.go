package service

import (
	"context"
	"encoding/json"
	"fmt"

	"pharmaudit/internal/platform/kafka"
	"pharmaudit/internal/reports/models"
)

// distribute notifies every recipient and appends the attempts to the
// distribution log. Failed deliveries are logged, not retried. Only the
// log is written back, so a review that lands meanwhile is kept.
func (s *Service) distribute(ctx context.Context, r *models.ComplianceReport) {
	if s.notifier == nil || len(r.DistributionList) == 0 {
		return
	}
	entries := make([]models.DistributionEntry, 0, len(r.DistributionList))
	for _, recipient := range r.DistributionList {
		entry := models.DistributionEntry{
			Recipient: recipient,
			Channel:   s.notifier.Channel(),
			Status:    models.DeliverySent,
			At:        s.now(),
		}
		if err := s.notifier.Notify(ctx, deliveryFor(r, recipient)); err != nil {
			entry.Status = models.DeliveryFailed
			entry.Error = err.Error()
			s.logger.WarnContext(ctx, "report delivery failed",
				"report_id", r.ID,
				"recipient", recipient,
				"error", err,
			)
		}
		s.metrics.IncrementDistribution(entry.Status)
		entries = append(entries, entry)
	}
	if err := s.store.AppendDistribution(ctx, r.ID, entries, s.now()); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist distribution log", "report_id", r.ID, "error", err)
	}
}

func deliveryFor(r *models.ComplianceReport, recipient string) models.Delivery {
	d := models.Delivery{
		ReportID:        r.ID.String(),
		ReportType:      r.ReportType,
		ReportName:      r.ReportName,
		Framework:       r.Framework,
		PeriodStart:     r.PeriodStart,
		PeriodEnd:       r.PeriodEnd,
		ViolationsCount: r.ViolationsCount,
		Format:          string(r.Parameters.Format),
		Recipient:       recipient,
	}
	if r.ComplianceScore != nil {
		d.ComplianceScore = r.ComplianceScore.StringFixed(2)
	}
	if r.File != nil {
		d.FileHash = r.File.Hash
	}
	return d
}

// Publisher is the subset of kafka.Producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes deliveries to the distribution topic, where the
// platform's mailer picks them up.
type KafkaNotifier struct {
	publisher Publisher
}

func NewKafkaNotifier(p Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: p}
}

func (n *KafkaNotifier) Channel() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, d models.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	return n.publisher.Publish(ctx, kafka.Message{
		Key:   []byte(d.ReportID),
		Value: payload,
		Headers: map[string]string{
			"event_type":  "compliance_report_distribution",
			"report_type": d.ReportType,
			"recipient":   d.Recipient,
		},
	})
}
