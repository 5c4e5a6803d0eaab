// Package delivery sends activities to the inboxes of their recipients.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/resolve"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

const (
	defaultWorkers   = 4
	defaultTimeout   = 10 * time.Second
	defaultPageLimit = 10
	userAgent        = "activitycore/1.0"
)

// Resolver dereferences audience entries and collection items.
type Resolver interface {
	ResolveID(ctx context.Context, id string) (activity.Object, error)
}

// Signer adds signature headers to an outgoing request.
type Signer interface {
	Sign(ctx context.Context, r *http.Request, actor activity.Actor, body []byte) error
}

type Options struct {
	Client  *http.Client
	Workers int           // concurrent POSTs per activity
	Timeout time.Duration // per POST
	// PageLimit bounds how many pages of a paged collection are read.
	PageLimit int
}

// DeliveryError is the failure to deliver an activity to one recipient.
type DeliveryError struct {
	Recipient string
	Inbox     string
	Status    int // non-zero when the inbox answered with a non-2xx status
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Inbox == "" {
		return fmt.Sprintf("delivering to %s: %v", e.Recipient, e.Err)
	}
	return fmt.Sprintf("delivering to %s at %s: %v", e.Recipient, e.Inbox, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Report is the outcome of delivering one activity.
type Report struct {
	Activity  string
	Delivered []string // ids of the recipients that accepted the activity
	Failed    []*DeliveryError
}

// Err combines every failure, or returns nil when there were none.
func (r *Report) Err() error {
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, f)
	}
	return err
}

func (r *Report) fail(e *DeliveryError) {
	r.Failed = append(r.Failed, e)
}

// Engine computes recipients and delivers activities to them.
type Engine struct {
	resolver  Resolver
	signer    Signer
	client    *http.Client
	workers   int
	timeout   time.Duration
	pageLimit int
}

func New(resolver Resolver, signer Signer, opts Options) *Engine {
	e := &Engine{
		resolver:  resolver,
		signer:    signer,
		client:    opts.Client,
		workers:   opts.Workers,
		timeout:   opts.Timeout,
		pageLimit: opts.PageLimit,
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.workers <= 0 {
		e.workers = defaultWorkers
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.pageLimit <= 0 {
		e.pageLimit = defaultPageLimit
	}
	return e
}

// recipientSet collects distinct actors in the order they are found.
type recipientSet struct {
	seen   map[string]bool
	actors []activity.Actor
}

func (s *recipientSet) add(actor activity.Actor) {
	id := activity.ID(actor)
	if id == "" || s.seen[id] {
		return
	}
	s.seen[id] = true
	s.actors = append(s.actors, actor)
}

// Recipients resolves the to and cc audience of act into the distinct actors
// it should be delivered to. Collections are expanded one level. The public
// collection and the sender are never recipients. The result is also kept in
// the activity's ComputedTargets. Entries that fail to resolve are reported
// in the returned error and do not stop the others.
func (e *Engine) Recipients(ctx context.Context, act activity.Activity, sender activity.Actor) ([]activity.Actor, error) {
	set := &recipientSet{seen: map[string]bool{activity.ID(sender): true}}
	base := act.Base()
	audience := append(append(activity.Audience(nil), base.To...), base.CC...)

	var errs error
	visited := make(map[activity.ProxyActor]bool, len(audience))
	for _, entry := range audience {
		if entry.IsPublic() || entry == "" || visited[entry] || set.seen[string(entry)] {
			continue
		}
		visited[entry] = true
		obj, err := e.resolver.ResolveID(ctx, string(entry))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		switch v := obj.(type) {
		case activity.Actor:
			set.add(v)
		case *activity.OrderedCollection:
			errs = multierr.Append(errs, e.expand(ctx, set, v.OrderedItems))
			errs = multierr.Append(errs, e.expandPages(ctx, set, v.First))
		case *activity.Collection:
			errs = multierr.Append(errs, e.expand(ctx, set, v.Items))
		case *activity.OrderedCollectionPage:
			errs = multierr.Append(errs, e.expand(ctx, set, v.OrderedItems))
		default:
			telemetry.Trace("audience entry %s is a %s, not delivering to it", entry, obj.Type())
		}
	}
	base.ComputedTargets = set.actors
	return set.actors, errs
}

// expand adds the actors among a collection's items. Nested collections are not followed.
func (e *Engine) expand(ctx context.Context, set *recipientSet, items activity.References[activity.Object]) error {
	var errs error
	for _, item := range items {
		if link := item.Link(); link == "" || set.seen[link] {
			continue
		}
		obj := item.Object()
		if item.IsLink() {
			var err error
			if obj, err = e.resolver.ResolveID(ctx, item.Link()); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
		}
		if actor, ok := obj.(activity.Actor); ok {
			set.add(actor)
		}
	}
	return errs
}

// expandPages reads the pages of a paged collection, up to the page limit.
func (e *Engine) expandPages(ctx context.Context, set *recipientSet, first activity.Reference[*activity.OrderedCollectionPage]) error {
	var errs error
	next := first
	for i := 0; i < e.pageLimit && !next.IsEmpty(); i++ {
		page := next.Object()
		if next.IsLink() {
			obj, err := e.resolver.ResolveID(ctx, next.Link())
			if err != nil {
				return multierr.Append(errs, err)
			}
			var ok bool
			if page, ok = obj.(*activity.OrderedCollectionPage); !ok {
				return multierr.Append(errs, fmt.Errorf("%s is a %s, not a collection page", next.Link(), obj.Type()))
			}
		}
		errs = multierr.Append(errs, e.expand(ctx, set, page.OrderedItems))
		next = page.Next
	}
	return errs
}

// Deliver sends act from sender to every recipient. Audience entries that
// cannot be resolved are reported as failures alongside failed deliveries.
func (e *Engine) Deliver(ctx context.Context, act activity.Activity, sender activity.Actor) *Report {
	recipients, err := e.Recipients(ctx, act, sender)
	report := e.DeliverTo(ctx, act, sender, recipients)
	for _, resolveErr := range multierr.Errors(err) {
		report.fail(&DeliveryError{Recipient: recipientOf(resolveErr), Err: resolveErr})
	}
	return report
}

// recipientOf returns the audience entry a resolution error is about.
func recipientOf(err error) string {
	var resErr *resolve.ResolutionError
	if errors.As(err, &resErr) {
		return resErr.ID
	}
	return ""
}

// DeliverTo posts act to the inbox of each recipient, running at most the
// configured number of posts at once. Once ctx is done no new posts start;
// posts already running finish within their own timeout.
func (e *Engine) DeliverTo(ctx context.Context, act activity.Activity, sender activity.Actor, recipients []activity.Actor) *Report {
	report := &Report{Activity: activity.ID(act)}
	body, err := activity.Encode(act)
	if err != nil {
		for _, r := range recipients {
			report.fail(&DeliveryError{Recipient: activity.ID(r), Err: err})
		}
		return report
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan activity.Actor)
	workers := e.workers
	if workers > len(recipients) {
		workers = len(recipients)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for recipient := range jobs {
				failure := e.post(ctx, sender, recipient, body)
				mu.Lock()
				if failure != nil {
					report.fail(failure)
				} else {
					report.Delivered = append(report.Delivered, activity.ID(recipient))
				}
				mu.Unlock()
			}
		}()
	}

	for i, recipient := range recipients {
		if ctx.Err() == nil {
			select {
			case jobs <- recipient:
				continue
			case <-ctx.Done():
			}
		}
		mu.Lock()
		for _, skipped := range recipients[i:] {
			report.fail(&DeliveryError{Recipient: activity.ID(skipped), Err: ctx.Err()})
		}
		mu.Unlock()
		break
	}
	close(jobs)
	wg.Wait()

	telemetry.Increment("deliveries", len(report.Delivered))
	telemetry.Increment("delivery_failures", len(report.Failed))
	return report
}

// post makes one signed delivery. It is detached from the cancellation of ctx
// so a post that started is allowed to finish.
func (e *Engine) post(ctx context.Context, sender, recipient activity.Actor, body []byte) *DeliveryError {
	id := activity.ID(recipient)
	inbox := recipient.ActorFields().Inbox
	if inbox == "" {
		return &DeliveryError{Recipient: id, Err: errors.New("recipient has no inbox")}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Recipient: id, Inbox: inbox, Err: err}
	}
	req.Header.Set("Content-Type", activity.ContentType)
	req.Header.Set("User-Agent", userAgent)
	if err := e.signer.Sign(ctx, req, sender, body); err != nil {
		return &DeliveryError{Recipient: id, Inbox: inbox, Err: err}
	}

	telemetry.Trace("posting to %s", inbox)
	resp, err := e.client.Do(req)
	if err != nil {
		return &DeliveryError{Recipient: id, Inbox: inbox, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Recipient: id, Inbox: inbox, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	return nil
}
