package scheduler

import (
	"context"
	"encoding/json"
	"time"

	logx "postpilot/pkg/logx"
)

// Durable store keys. The store is shared with nothing else, but keep the
// keys namespaced anyway.
const (
	keyQueue   = "queue.items"
	keyWindows = "ratewindow.windows"
)

const persistTimeout = 5 * time.Second

// checkpoint writes queue and rate-window state to the durable store. Runs on
// the housekeeping cron and once more at Stop. Errors are logged, never
// fatal: a missed checkpoint costs at most one interval of state.
func (s *Service) checkpoint() {
	if s.st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	qdata, err := s.queue.MarshalState()
	if err != nil {
		s.log.Error("checkpoint: marshal queue", logx.Err(err))
		return
	}
	if err := s.st.Put(ctx, keyQueue, qdata); err != nil {
		s.log.Error("checkpoint: store queue", logx.Err(err))
		return
	}

	wdata, err := json.Marshal(s.windows.Snapshot())
	if err != nil {
		s.log.Error("checkpoint: marshal windows", logx.Err(err))
		return
	}
	if err := s.st.Put(ctx, keyWindows, wdata); err != nil {
		s.log.Error("checkpoint: store windows", logx.Err(err))
		return
	}

	s.log.Trace("checkpoint written", logx.Int("queue_bytes", len(qdata)))
}

// restore reloads the last checkpoint at Start. Items that were running at
// the crash come back pending; rate-window history survives so caps keep
// counting dispatches from before the restart.
func (s *Service) restore() {
	if s.st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if data, ok, err := s.st.Get(ctx, keyQueue); err != nil {
		s.log.Error("restore: load queue", logx.Err(err))
	} else if ok {
		if err := s.queue.RestoreState(data); err != nil {
			s.log.Error("restore: decode queue", logx.Err(err))
		} else {
			s.log.Info("queue restored", logx.Int("items", s.queue.Len()))
		}
	}

	if data, ok, err := s.st.Get(ctx, keyWindows); err != nil {
		s.log.Error("restore: load windows", logx.Err(err))
	} else if ok {
		var hist map[string][]time.Time
		if err := json.Unmarshal(data, &hist); err != nil {
			s.log.Error("restore: decode windows", logx.Err(err))
		} else {
			s.windows.Restore(hist)
		}
	}
}
