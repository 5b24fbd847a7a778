package dispatch

import (
	"context"
	"io"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/idgen"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

func registerSubscriptionOps(t map[goipp.Op]handlerFunc) {
	t[goipp.OpCreatePrinterSubscriptions] = handleCreatePrinterSubscriptions
	t[goipp.OpCreateJobSubscriptions] = handleCreateJobSubscriptions
	t[goipp.OpGetSubscriptionAttributes] = handleGetSubscriptionAttributes
	t[goipp.OpGetSubscriptions] = handleGetSubscriptions
	t[goipp.OpRenewSubscription] = handleRenewSubscription
	t[goipp.OpCancelSubscription] = handleCancelSubscription
	t[goipp.OpGetNotifications] = handleGetNotifications
	t[goipp.OpCreateSystemSubscriptions] = handleCreateSystemSubscriptions
}

// notifyEventMasks maps the notify-events keywords spec.md §4.4 lists to
// the bits internal/events matches against.
var notifyEventMasks = map[string]store.EventMask{
	"job-created":                store.EventJobCreated,
	"job-completed":              store.EventJobCompleted,
	"job-state-changed":          store.EventJobStateChanged,
	"job-stopped":                store.EventJobStopped,
	"job-config-changed":         store.EventJobConfigChanged,
	"job-progress":               store.EventJobProgress,
	"printer-state-changed":      store.EventPrinterStateChanged,
	"printer-stopped":            store.EventPrinterStopped,
	"printer-config-changed":     store.EventPrinterConfigChanged,
	"printer-shutdown":           store.EventPrinterShutdown,
	"printer-restarted":          store.EventPrinterRestarted,
	"resource-state-changed":     store.EventResourceStateChanged,
	"resource-changed":           store.EventResourceChanged,
	"document-completed":         store.EventDocumentCompleted,
	"document-state-changed":     store.EventDocumentStateChanged,
	"system-config-changed":      store.EventSystemConfigChanged,
	"system-state-changed":       store.EventSystemStateChanged,
}

func parseNotifyEvents(keywords []string) store.EventMask {
	var mask store.EventMask
	if len(keywords) == 0 {
		return store.EventJobStateChanged | store.EventJobStopped | store.EventPrinterStateChanged
	}
	for _, kw := range keywords {
		if kw == "all" {
			for _, m := range notifyEventMasks {
				mask |= m
			}
			continue
		}
		mask |= notifyEventMasks[kw]
	}
	return mask
}

// createSubscription handles both Create-Printer-Subscriptions and
// Create-Job-Subscriptions. Only the request's single subscription-
// attributes group is honored; a request that batches several
// subscription templates in one call creates only the first.
func createSubscription(d *Dispatcher, req *goipp.Message, tgt target, user string) (*store.Subscription, error) {
	events := ippattr.Strings(req.Subscription, "notify-events")
	mask := parseNotifyEvents(events)

	durationSeconds := ippattr.IntegerWithDefault(req.Subscription, "notify-lease-duration", int(lifecycle.DefaultLeaseDuration/time.Second))
	jobScope := tgt.job != nil

	lease, err := lifecycle.NewLease(time.Now(), durationSeconds, jobScope)
	if err != nil {
		return nil, err
	}

	id := d.Store.Subscriptions.AllocateID()
	sub := store.NewSubscription(id, idgen.New(), mask, user, lease)
	sub.NotifyCharset = ippattr.StringWithDefault(req.Subscription, "notify-charset", "utf-8")
	sub.NotifyNaturalLanguage = ippattr.StringWithDefault(req.Subscription, "notify-natural-language", "en-us")

	if tgt.printer != nil {
		sub.PrinterID = tgt.printer.ID
	}
	if tgt.job != nil {
		sub.JobID = tgt.job.ID
	}

	d.Store.Subscriptions.Add(sub)
	return sub, nil
}

func describeSubscription(s *store.Subscription) goipp.Attributes {
	var attrs goipp.Attributes
	add := ippattr.Adder(&attrs)

	s.RLock()
	defer s.RUnlock()

	add("notify-subscription-id", goipp.TagInteger, goipp.Integer(s.ID))
	add("notify-subscription-uuid", goipp.TagURI, goipp.String(s.UUID))
	remaining := 0
	if expire := s.Lease.Expire(); !expire.IsZero() {
		remaining = int(time.Until(expire).Seconds())
		if remaining < 0 {
			remaining = 0
		}
	}
	add("notify-lease-duration", goipp.TagInteger, goipp.Integer(remaining))
	if s.PrinterID != 0 {
		add("notify-printer-id", goipp.TagInteger, goipp.Integer(s.PrinterID))
	}
	if s.JobID != 0 {
		add("notify-job-id", goipp.TagInteger, goipp.Integer(s.JobID))
	}
	return attrs
}

func handleCreatePrinterSubscriptions(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	sub, err := createSubscription(d, req, tgt, user)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Subscription = describeSubscription(sub)
	return resp
}

func handleCreateJobSubscriptions(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.job.RLock()
	owner := tgt.job.Originator
	tgt.job.RUnlock()
	if !d.Access.Allow(user, access.ScopeOwner, owner) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	sub, err := createSubscription(d, req, tgt, user)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Subscription = describeSubscription(sub)
	return resp
}

// handleCreateSystemSubscriptions creates an unscoped subscription that
// matches events across every printer and job, operator-only since it
// observes the whole system rather than one caller's own objects.
func handleCreateSystemSubscriptions(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	sub, err := createSubscription(d, req, tgt, user)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Subscription = describeSubscription(sub)
	return resp
}

func subscriptionFromRequest(d *Dispatcher, req *goipp.Message) (*store.Subscription, error) {
	id, err := ippattr.Integer(req.Operation, "notify-subscription-id")
	if err != nil {
		return nil, ippattr.ErrBadRequest
	}
	sub, ok := d.Store.Subscriptions.ByID(id)
	if !ok {
		return nil, ippattr.ErrNotFound
	}
	return sub, nil
}

func handleGetSubscriptionAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	sub, err := subscriptionFromRequest(d, req)
	if err != nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	sub.RLock()
	owner := sub.Owner
	sub.RUnlock()
	if !d.Access.Allow(user, access.ScopeOwner, owner) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Subscription = describeSubscription(sub)
	return resp
}

func handleGetSubscriptions(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Groups = goipp.Groups{{Tag: goipp.TagOperationGroup, Attrs: resp.Operation}}

	myOnly, _ := ippattr.Boolean(req.Operation, "my-subscriptions")
	for _, sub := range d.Store.Subscriptions.All() {
		sub.RLock()
		owner := sub.Owner
		printerID := sub.PrinterID
		sub.RUnlock()

		if tgt.printer != nil && printerID != tgt.printer.ID {
			continue
		}
		if myOnly && owner != user {
			continue
		}
		if !d.Access.Allow(user, access.ScopeOwner, owner) {
			continue
		}
		resp.Groups.Add(goipp.Group{Tag: goipp.TagSubscriptionGroup, Attrs: describeSubscription(sub)})
	}
	return resp
}

func handleRenewSubscription(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	sub, err := subscriptionFromRequest(d, req)
	if err != nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	sub.RLock()
	owner := sub.Owner
	sub.RUnlock()
	if !d.Access.Allow(user, access.ScopeOwner, owner) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	durationSeconds := ippattr.IntegerWithDefault(req.Operation, "notify-lease-duration", int(lifecycle.DefaultLeaseDuration/time.Second))

	sub.Lock()
	lease, rerr := sub.Lease.Renew(time.Now(), durationSeconds)
	if rerr == nil {
		sub.Lease = lease
	}
	sub.Unlock()
	if rerr != nil {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Subscription = describeSubscription(sub)
	return resp
}

func handleCancelSubscription(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	sub, err := subscriptionFromRequest(d, req)
	if err != nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	sub.RLock()
	owner := sub.Owner
	sub.RUnlock()
	if !d.Access.Allow(user, access.ScopeOwner, owner) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	d.Store.Subscriptions.Remove(sub.ID)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleGetNotifications(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	subIDs := ippattr.Integers(req.Operation, "notify-subscription-ids")
	seqs := ippattr.Integers(req.Operation, "notify-sequence-numbers")
	wait, _ := ippattr.Boolean(req.Operation, "notify-wait")

	for _, id := range subIDs {
		sub, ok := d.Store.Subscriptions.ByID(id)
		if !ok {
			continue
		}
		sub.RLock()
		owner := sub.Owner
		sub.RUnlock()
		if !d.Access.Allow(user, access.ScopeOwner, owner) {
			return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
		}
	}

	notifications, err := d.Events.GetNotifications(ctx, subIDs, seqs, wait)
	if err != nil {
		return errorResponse(goipp.StatusErrorInternal, req.RequestID)
	}

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	ippattr.Adder(&resp.Operation)("notify-get-interval", goipp.TagInteger, goipp.Integer(events.NotifyGetInterval))
	resp.Groups = goipp.Groups{{Tag: goipp.TagOperationGroup, Attrs: resp.Operation}}
	for _, id := range subIDs {
		for _, evt := range notifications[id] {
			var attrs goipp.Attributes
			add := ippattr.Adder(&attrs)
			add("notify-subscription-id", goipp.TagInteger, goipp.Integer(id))
			add("notify-sequence-number", goipp.TagInteger, goipp.Integer(evt.Sequence))
			for _, a := range evt.Attrs {
				add(a.Name, goipp.TagKeyword, goipp.String(a.Value))
			}
			resp.Groups.Add(goipp.Group{Tag: goipp.TagEventNotificationGroup, Attrs: attrs})
		}
	}
	return resp
}
