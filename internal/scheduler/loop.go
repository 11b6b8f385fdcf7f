package scheduler

import (
	"time"

	"postpilot/internal/eventbus"
	"postpilot/internal/monitor"
	"postpilot/internal/post"
	"postpilot/internal/publish"
	"postpilot/internal/retry"
	logx "postpilot/pkg/logx"
)

// run is the decision loop. It alone pops the queue and applies results, so
// every state transition is serialized here.
func (s *Service) run() {
	defer close(s.stopDone)
	for {
		timer := time.NewTimer(s.cfgNow().DrainInterval)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			s.drain()
		case res := <-s.results:
			timer.Stop()
			s.applyResult(res)
		case <-timer.C:
			s.drain()
		}
	}
}

// drain pops every due item and decides, per due target, whether to dispatch,
// wait out a rate window, or fail it.
func (s *Service) drain() {
	now := s.clock()
	for _, it := range s.queue.PopDue(now) {
		s.handleItem(it.ID, now)
	}
	if s.inst != nil {
		s.inst.SetQueueDepth(s.queue.Len())
	}
}

// itemPlan collects the side effects decided under the queue lock; they are
// executed after the lock is released.
type itemPlan struct {
	dispatches []dispatchJob
	events     []eventbus.Event
	failedJobs []monitor.FailedJob
	itemFailed bool
	resolved   post.State
	reschedule time.Time
}

func (p *itemPlan) event(e eventbus.Event) { p.events = append(p.events, e) }

func (p *itemPlan) rescheduleAt(at time.Time) {
	if p.reschedule.IsZero() || at.Before(p.reschedule) {
		p.reschedule = at
	}
}

func (s *Service) handleItem(id string, now time.Time) {
	cfg := s.cfgNow()
	var plan itemPlan

	err := s.queue.Mutate(id, func(it *post.Item) {
		if it.State.Terminal() {
			return
		}
		for _, target := range it.DueTargets(now) {
			st := it.Status[target]
			b := s.binding(target)
			if b == nil {
				st.State = post.TargetFailed
				st.LastError = "unknown target"
				st.LastErrorKind = string(retry.KindUnknown)
				plan.failedJobs = append(plan.failedJobs, monitor.FailedJob{
					ItemID: id, Target: target, Kind: retry.KindUnknown,
					LastError: st.LastError, Attempts: st.Attempts, FailedAt: now,
				})
				plan.event(eventbus.Event{
					Type: eventbus.TypeFailed, ItemID: id, Target: target,
					Kind: string(retry.KindUnknown), Error: st.LastError,
				})
				continue
			}

			if !b.gate.tryAcquire() {
				// A previous dispatch for this target is still in flight;
				// look again next tick.
				st.NextAttempt = now.Add(cfg.DrainInterval)
				plan.rescheduleAt(st.NextAttempt)
				continue
			}

			if !s.windows.CanDispatch(target, now) {
				b.gate.release()
				wait := s.windows.WaitTime(target, now)
				st.NextAttempt = now.Add(wait)
				_ = it.Advance(post.StateRateLimited)
				plan.rescheduleAt(st.NextAttempt)
				plan.event(eventbus.Event{
					Type: eventbus.TypeRateLimited, ItemID: id, Target: target,
					State: string(it.State), Wait: wait,
				})
				continue
			}

			st.State = post.TargetRunning
			st.NextAttempt = time.Time{}
			_ = it.Advance(post.StateRunning)
			plan.dispatches = append(plan.dispatches, dispatchJob{
				itemID:  id,
				target:  target,
				binding: b,
				req: publish.Request{
					ItemID:    id,
					Target:    target,
					Text:      it.Content.Render(target),
					ImagePath: it.Content.ImagePath,
					VideoPath: it.Content.VideoPath,
				},
			})
		}

		if it.Resolved() {
			plan.resolved = it.Resolve(now)
			plan.itemFailed = plan.resolved == post.StateFailed
		} else {
			// Anything neither dispatched nor terminal waits for its
			// NextAttempt; index the item at the earliest one.
			for _, st := range it.Status {
				if st.State.Terminal() || st.State == post.TargetRunning {
					continue
				}
				if !st.NextAttempt.IsZero() {
					plan.rescheduleAt(st.NextAttempt)
				}
			}
		}
	})
	if err != nil {
		return
	}

	s.executePlan(id, now, &plan)
}

// executePlan performs the side effects of a drain decision: channel sends,
// bus publishes, monitor records, and the reschedule.
func (s *Service) executePlan(id string, now time.Time, plan *itemPlan) {
	cfg := s.cfgNow()

	for _, job := range plan.dispatches {
		select {
		case s.dispatchCh <- job:
			s.dispatched.Add(1)
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeDispatched, ItemID: id, Target: job.target,
			})
		default:
			// Pool backlog full: put the target back and try next tick.
			s.droppedFull.Add(1)
			job := job
			_ = s.queue.Mutate(id, func(it *post.Item) {
				st := it.Status[job.target]
				st.State = post.TargetPending
				st.NextAttempt = now.Add(cfg.DrainInterval)
			})
			job.binding.gate.release()
			plan.rescheduleAt(now.Add(cfg.DrainInterval))
			s.log.Warn("dispatch backlog full",
				logx.String("item", id), logx.String("target", job.target))
		}
	}

	for _, e := range plan.events {
		e.Time = now
		s.bus.Publish(e)
	}
	for _, fj := range plan.failedJobs {
		s.mon.RecordFailedJob(fj)
	}
	if plan.resolved != "" {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeItemDone, Time: now, ItemID: id, State: string(plan.resolved),
		})
		if plan.itemFailed {
			s.mon.RecordItemFailed(id, now)
		}
	}
	if !plan.reschedule.IsZero() {
		_ = s.queue.Reschedule(id, plan.reschedule)
	}
}

// applyResult folds a worker's completion report back into item state: record
// the dispatch on success, classify and retry or fail on error, and resolve
// the item once every target is terminal.
func (s *Service) applyResult(res dispatchResult) {
	defer res.job.binding.gate.release()

	now := res.finished
	dur := res.finished.Sub(res.started)
	id := res.job.itemID
	target := res.job.target
	policy := s.cfgNow().Retry

	var plan itemPlan
	var kind retry.Kind
	succeeded := res.err == nil

	err := s.queue.Mutate(id, func(it *post.Item) {
		st := it.Status[target]
		if st == nil || it.State.Terminal() {
			// Cancelled or swept while in flight; drop the result.
			succeeded = false
			kind = ""
			return
		}

		if res.err == nil {
			s.windows.Record(target, now)
			st.State = post.TargetSucceeded
			st.LastError = ""
			st.LastErrorKind = ""
			plan.event(eventbus.Event{
				Type: eventbus.TypeSucceeded, ItemID: id, Target: target,
				Attempts: st.Attempts,
			})
		} else {
			kind = retry.Classify(res.err)
			st.LastError = res.err.Error()
			st.LastErrorKind = string(kind)

			if kind == retry.KindUnknown {
				st.UnknownCount++
				if st.UnknownCount == policy.UnknownReviewAfter {
					plan.event(eventbus.Event{
						Type: eventbus.TypeNeedsReview, ItemID: id, Target: target,
						Error: st.LastError, Attempts: st.Attempts,
					})
				}
			}

			if kind.Retryable() {
				st.Attempts++
				if policy.Exhausted(st.Attempts) {
					st.State = post.TargetFailed
					plan.failedJobs = append(plan.failedJobs, monitor.FailedJob{
						ItemID: id, Target: target, Kind: kind,
						LastError: st.LastError, Attempts: st.Attempts, FailedAt: now,
					})
					plan.event(eventbus.Event{
						Type: eventbus.TypeFailed, ItemID: id, Target: target,
						Kind: string(kind), Error: st.LastError, Attempts: st.Attempts,
					})
				} else {
					wait := policy.Backoff(st.Attempts - 1)
					st.State = post.TargetRetryScheduled
					st.NextAttempt = now.Add(wait)
					plan.rescheduleAt(st.NextAttempt)
					plan.event(eventbus.Event{
						Type: eventbus.TypeRetry, ItemID: id, Target: target,
						Kind: string(kind), Error: st.LastError,
						Attempts: st.Attempts, Wait: wait,
					})
				}
			} else {
				// Auth and captcha failures need intervention; no retry
				// budget is consumed.
				st.State = post.TargetFailed
				plan.failedJobs = append(plan.failedJobs, monitor.FailedJob{
					ItemID: id, Target: target, Kind: kind,
					LastError: st.LastError, Attempts: st.Attempts, FailedAt: now,
				})
				plan.event(eventbus.Event{
					Type: eventbus.TypeFailed, ItemID: id, Target: target,
					Kind: string(kind), Error: st.LastError, Attempts: st.Attempts,
				})
			}
		}

		if it.Resolved() {
			plan.resolved = it.Resolve(now)
			plan.itemFailed = plan.resolved == post.StateFailed
		} else {
			for _, ts := range it.Status {
				if ts.State.Terminal() || ts.State == post.TargetRunning {
					continue
				}
				if !ts.NextAttempt.IsZero() {
					plan.rescheduleAt(ts.NextAttempt)
				}
			}
		}
	})
	if err != nil {
		return
	}

	switch {
	case succeeded:
		s.mon.RecordSuccess(target, dur, now)
		s.log.Info("publish succeeded",
			logx.String("item", id),
			logx.String("target", target),
			logx.String("ref", res.receipt.Ref),
			logx.Duration("took", dur))
	case kind != "":
		s.mon.RecordFailure(target, kind, dur, now)
		if kind == retry.KindAuthFailure {
			s.sessions.Invalidate(target)
		}
		s.log.Warn("publish failed",
			logx.String("item", id),
			logx.String("target", target),
			logx.String("kind", string(kind)),
			logx.Err(res.err))
	}

	s.executePlan(id, now, &plan)
}
