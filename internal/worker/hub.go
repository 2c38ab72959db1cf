package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Priya8975/federation-engine/internal/monitor"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/websub"
)

// HubDistrib fans a feed update out as one hubout task per live
// subscriber. A subscriber whose task cannot be enqueued is skipped so the
// others are not pushed twice on redelivery.
func (h *Handlers) HubDistrib(ctx context.Context, env *queue.Envelope) error {
	var task DistribTask
	if err := env.Into(&task); err != nil {
		h.logger.Error("dropping undecodable distribution", "error", err)
		return nil
	}

	subs, err := h.hub.Subscribers(ctx, task.Topic)
	if err != nil {
		return fmt.Errorf("listing subscribers of %s: %w", task.Topic, err)
	}

	site := queue.SiteFromContext(ctx)
	queued := 0
	for _, sub := range subs {
		push := PushTask{
			Topic:    sub.Topic,
			Callback: sub.Callback,
			Atom:     task.Atom,
			Retries:  h.pushRetries,
		}
		if err := h.queue.Enqueue(ctx, push, HandlerHubOut, site); err != nil {
			h.logger.Error("failed to enqueue push",
				"topic", sub.Topic,
				"callback", sub.Callback,
				"error", err,
			)
			continue
		}
		queued++
	}

	h.logger.Info("feed update distributed",
		"topic", task.Topic,
		"subscribers", len(subs),
		"queued", queued,
	)
	return nil
}

// HubOut pushes one feed update. A failed push is re-enqueued with one
// retry fewer until the budget runs out; the subscription's error
// counters are what eventually retire a dead callback.
func (h *Handlers) HubOut(ctx context.Context, env *queue.Envelope) error {
	var task PushTask
	if err := env.Into(&task); err != nil {
		h.logger.Error("dropping undecodable push", "error", err)
		return nil
	}

	sub, err := h.hub.Get(ctx, task.Topic, task.Callback)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		h.logger.Info("subscription gone, dropping push", "topic", task.Topic, "callback", task.Callback)
		return nil
	}

	site := queue.SiteFromContext(ctx)
	err = h.hub.Push(ctx, sub, task.Atom)
	if err == nil {
		h.events.Publish(monitor.Event{
			Type:     monitor.EventPushSucceeded,
			Site:     site,
			Handler:  HandlerHubOut,
			Topic:    task.Topic,
			Callback: task.Callback,
		})
		return nil
	}

	h.events.Publish(monitor.Event{
		Type:     monitor.EventPushFailed,
		Site:     site,
		Handler:  HandlerHubOut,
		Topic:    task.Topic,
		Callback: task.Callback,
		Error:    err.Error(),
	})

	if task.Retries <= 0 {
		h.logger.Error("push retries exhausted",
			"topic", task.Topic,
			"callback", task.Callback,
			"error", err,
		)
		return nil
	}

	task.Retries--
	if qErr := h.queue.Enqueue(ctx, task, HandlerHubOut, site); qErr != nil {
		return fmt.Errorf("re-enqueueing push: %w", qErr)
	}
	h.logger.Warn("push failed, retry queued",
		"topic", task.Topic,
		"callback", task.Callback,
		"retries_left", task.Retries,
		"error", err,
		"rate_limited", errors.Is(err, websub.ErrRateLimited),
	)
	return nil
}

// verificationRejected reports whether err is a final answer from the
// subscriber rather than a transport or local fault worth retrying.
func verificationRejected(err error) bool {
	return errors.Is(err, websub.ErrVerificationFailed) ||
		errors.Is(err, websub.ErrChallengeMismatch) ||
		errors.Is(err, websub.ErrInvalidCallback) ||
		errors.Is(err, websub.ErrInvalidTopic)
}

// HubVerify runs the intent handshake of a queued hub request.
func (h *Handlers) HubVerify(ctx context.Context, env *queue.Envelope) error {
	var task VerifyTask
	if err := env.Into(&task); err != nil {
		h.logger.Error("dropping undecodable verification", "error", err)
		return nil
	}

	if task.VerifyToken != "" {
		ctx = websub.WithVerifyToken(ctx, task.VerifyToken)
	}

	var err error
	switch task.Mode {
	case websub.ModeSubscribe:
		_, err = h.hub.Subscribe(ctx, task.Topic, task.Callback, task.Secret, task.LeaseSeconds)
	case websub.ModeUnsubscribe:
		err = h.hub.Unsubscribe(ctx, task.Topic, task.Callback)
	default:
		h.logger.Error("dropping verification with unknown mode", "mode", task.Mode)
		return nil
	}

	if err != nil {
		if verificationRejected(err) {
			h.logger.Info("hub request not confirmed",
				"mode", task.Mode,
				"topic", task.Topic,
				"callback", task.Callback,
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("%s %s: %w", task.Mode, task.Callback, err)
	}
	return nil
}
