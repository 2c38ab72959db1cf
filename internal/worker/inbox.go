package worker

import (
	"context"
	"fmt"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/metrics"
	"github.com/Priya8975/federation-engine/internal/monitor"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/translate"
)

// Inbox imports an inbound activity into the ledger. Payloads the
// translator rejects are dropped; storage errors requeue the task.
func (h *Handlers) Inbox(ctx context.Context, env *queue.Envelope) error {
	var task InboxTask
	if err := env.Into(&task); err != nil {
		h.logger.Error("dropping undecodable inbox task", "error", err)
		return nil
	}
	format := task.Format
	if format == 0 {
		format = translate.FormatActivityPub
	}

	var act *domain.Activity
	err := h.ledger.InTx(ctx, func(repo translate.Repository) error {
		var err error
		act, err = h.translator.FromExternal(ctx, repo,
			translate.Payload{Format: format, Body: task.Body},
			translate.Context{Sender: task.Sender, Provenance: translate.ProvenanceRemote},
		)
		return err
	})
	if err != nil {
		if translate.IsClientFault(err) {
			metrics.InboundActivities.WithLabelValues("rejected").Inc()
			h.logger.Warn("inbound activity rejected",
				"sender", task.Sender,
				"fingerprint", domain.Fingerprint(task.Body),
				"error", err,
			)
			return nil
		}
		metrics.InboundActivities.WithLabelValues("error").Inc()
		return fmt.Errorf("importing inbound activity: %w", err)
	}

	metrics.InboundActivities.WithLabelValues("accepted").Inc()
	h.events.Publish(monitor.Event{
		Type:     monitor.EventInbox,
		Site:     queue.SiteFromContext(ctx),
		Handler:  HandlerInbox,
		Activity: act.URI,
	})
	h.logger.Info("inbound activity imported",
		"activity", act.URI,
		"verb", act.Verb,
		"protocol", act.Protocol,
	)
	return nil
}
