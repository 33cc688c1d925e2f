package alerts

import (
	"context"
	"time"

	"github.com/benefitbuilders/accounting-engine/ledger"
)

// =============================================================================
// ALERT LIFECYCLE - active -> acknowledged -> resolved
// =============================================================================

// Acknowledge marks an alert acknowledged, recording the actor.
func (d *Detector) Acknowledge(ctx context.Context, id ledger.AlertID, actor string, at time.Time) (*ledger.PaymentAlert, error) {
	alert, err := d.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	alert.Status = ledger.AlertAcknowledged
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &at
	if err := d.store.SaveAlert(ctx, *alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Resolve marks an alert resolved, recording the actor and notes.
func (d *Detector) Resolve(ctx context.Context, id ledger.AlertID, actor, notes string, at time.Time) (*ledger.PaymentAlert, error) {
	alert, err := d.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	alert.Status = ledger.AlertResolved
	alert.ResolvedBy = actor
	alert.ResolvedAt = &at
	alert.ResolutionNotes = notes
	if err := d.store.SaveAlert(ctx, *alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Delete removes an alert outright. Administrative override only - the
// design favors resolving over deleting, since deletion loses the audit
// trail.
func (d *Detector) Delete(ctx context.Context, id ledger.AlertID) error {
	return d.store.DeleteAlert(ctx, id)
}

// SendReminder dispatches a reminder for an alert and records that it was
// sent. Unlike alert creation, the dispatch itself must succeed here - the
// caller asked for exactly this.
func (d *Detector) SendReminder(ctx context.Context, id ledger.AlertID, at time.Time) (*ledger.PaymentAlert, error) {
	alert, err := d.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.notifier != nil {
		if err := d.notifier.SendAlertNotice(ctx, *alert); err != nil {
			return nil, err
		}
	}

	alert.ReminderSentAt = &at
	if err := d.store.SaveAlert(ctx, *alert); err != nil {
		return nil, err
	}
	return alert, nil
}
