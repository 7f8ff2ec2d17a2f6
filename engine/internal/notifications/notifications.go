// Package notifications builds the stable-prefixed plain-text payloads
// of spec §6 and hands them to an injected delivery function. The
// transport itself (a WhatsApp sender) is out of scope; this package
// only ever produces strings and calls Func, fire-and-forget, with
// delivery errors logged rather than propagated to the caller.
package notifications

import (
	"context"
	"strconv"

	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	"github.com/raceops/ingest/engine/models"
)

// Func delivers one notification payload. It is the caller-supplied
// collaborator spec §6 leaves unimplemented; a transport error must
// never affect job state, so Notifier only logs a Func failure.
type Func func(ctx context.Context, payload string) error

// Notifier formats scrape-job lifecycle events into the stable-prefixed
// payloads of spec §6 and fires them through Func. It implements both
// ingestcoord.RetrySuccessNotifier's sibling interfaces (via retryqueue.Notifier)
// and monitor.EdgeNotifier.
type Notifier struct {
	deliver Func
	log     logging.Logger
}

// New builds a Notifier. A nil deliver is valid and turns every call
// into a silent no-op, useful for local runs with no
// transport configured.
func New(deliver Func, log logging.Logger) *Notifier {
	return &Notifier{deliver: deliver, log: log}
}

// NotifyFirstFailure fires "SCRAPE FAILED" on a job's first failure.
func (n *Notifier) NotifyFirstFailure(job models.ScrapeJob) {
	n.send("SCRAPE FAILED", job, job.RetryCount)
}

// NotifyRetrySuccess fires "SCRAPE RETRY SUCCESS" when a job completes
// after at least one prior failure.
func (n *Notifier) NotifyRetrySuccess(job models.ScrapeJob) {
	n.send("SCRAPE RETRY SUCCESS", job, job.RetryCount)
}

// NotifyPermanentFailure fires "SCRAPE PERMANENTLY FAILED" once a job
// exhausts maxRetries.
func (n *Notifier) NotifyPermanentFailure(job models.ScrapeJob) {
	n.send("SCRAPE PERMANENTLY FAILED", job, job.RetryCount)
}

// NotifyScrapeComplete fires "SCRAPE COMPLETE" on a clean first-attempt
// completion (RetryCount == 0 is the caller's responsibility to check;
// NotifyRetrySuccess covers the retried case).
func (n *Notifier) NotifyScrapeComplete(job models.ScrapeJob) {
	n.send("SCRAPE COMPLETE", job, job.ResultsCount)
}

// WentUp implements monitor.EdgeNotifier.
func (n *Notifier) WentUp(endpoint models.MonitoredEndpoint, current models.EndpointStatusCurrent) {
	n.deliverPayload(endpointPayload("ENDPOINT UP", endpoint, current.ConsecutiveFailures))
}

// WentDown implements monitor.EdgeNotifier.
func (n *Notifier) WentDown(endpoint models.MonitoredEndpoint, current models.EndpointStatusCurrent) {
	n.deliverPayload(endpointPayload("ENDPOINT DOWN", endpoint, current.ConsecutiveFailures))
}

func (n *Notifier) send(prefix string, job models.ScrapeJob, counter int) {
	n.deliverPayload(jobPayload(prefix, job, counter))
}

func jobPayload(prefix string, job models.ScrapeJob, counter int) string {
	return prefix + " " + job.ShortID() + " " + job.EventURL + " " + strconv.Itoa(counter)
}

func endpointPayload(prefix string, endpoint models.MonitoredEndpoint, counter int) string {
	return prefix + " " + endpoint.ID.String()[:8] + " " + endpoint.URL + " " + strconv.Itoa(counter)
}

func (n *Notifier) deliverPayload(payload string) {
	if n.deliver == nil {
		return
	}
	go func() {
		ctx := context.Background()
		if err := n.deliver(ctx, payload); err != nil {
			n.log.ErrorCtx(ctx, "notifications: delivery failed", "payload", payload, "error", err)
		}
	}()
}
