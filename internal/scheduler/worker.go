package scheduler

import (
	"context"
	"fmt"

	logx "postpilot/pkg/logx"
)

// worker executes publish jobs from the dispatch channel and reports
// completions on the results channel. Workers never touch item state.
func (s *Service) worker() {
	defer s.workerWG.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case job := <-s.dispatchCh:
			res := s.execute(job)
			select {
			case s.results <- res:
			case <-s.stopCh:
				return
			}
		}
	}
}

// execute performs one publish: global smoothing, session lookup or login,
// then the publish call itself. All failures come back classified in the
// result; execute never retries on its own.
func (s *Service) execute(job dispatchJob) dispatchResult {
	cfg := s.cfgNow()
	res := dispatchResult{job: job, started: s.clock()}

	if err := s.limiter.Wait(s.runCtx); err != nil {
		res.err = fmt.Errorf("dispatch limiter: %w", err)
		res.finished = s.clock()
		return res
	}

	handle, err := s.sessionFor(job, cfg)
	if err != nil {
		res.err = err
		res.finished = s.clock()
		return res
	}

	ctx, cancel := context.WithTimeout(s.runCtx, cfg.PublishTimeout)
	receipt, err := job.binding.pub.Publish(ctx, handle, job.req)
	cancel()

	res.receipt = receipt
	res.err = err
	res.finished = s.clock()
	return res
}

// sessionFor returns a cached session handle for the job's target, logging in
// if none is cached or the cached one expired.
func (s *Service) sessionFor(job dispatchJob, cfg Config) (any, error) {
	if sess, ok := s.sessions.Get(job.target, s.clock()); ok {
		return sess.Handle, nil
	}

	ctx, cancel := context.WithTimeout(s.runCtx, cfg.LoginTimeout)
	handle, err := job.binding.pub.Login(ctx, job.binding.creds)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", job.target, err)
	}

	s.sessions.Put(job.target, handle, s.clock())
	s.log.Debug("session established", logx.String("target", job.target))
	return handle, nil
}
