package session

import "feathermail/stage"

// phaseInvoker adapts a phase-specific hook call into the shape dispatch
// needs: it returns the stage's Result together with whether this stage
// even implements the hook for the phase being dispatched.
type phaseInvoker func(a stage.Adapter, meta stage.Meta, state any) (result stage.Result, handled bool)

// dispatch implements the engine's authoritative phase-dispatch algorithm:
// it walks s.stages, invoking the hook on stages that implement it and
// passing every other stage through unchanged. On the first Halt it keeps
// the halting stage's own updated state, leaves every later stage's state
// untouched, and retains the *pre-halt* meta snapshot (the halting stage's
// own meta changes, if any, are not applied — Halt results don't carry a
// meta'). On full completion it commits the accumulated states and the
// final meta and reports success.
func (s *Session) dispatch(invoke phaseInvoker) (ok bool, reason stage.Reason, haltedAt stage.Adapter) {
	acc := make([]stageEntry, 0, len(s.stages))
	currentMeta := s.meta

	for i, entry := range s.stages {
		result, handled := invoke(entry.adapter, currentMeta, entry.state)
		if !handled {
			acc = append(acc, entry)
			continue
		}
		if !result.Halted() {
			acc = append(acc, stageEntry{adapter: entry.adapter, state: result.State()})
			currentMeta = result.Meta()
			continue
		}

		acc = append(acc, stageEntry{adapter: entry.adapter, state: result.State()})
		acc = append(acc, s.stages[i+1:]...)
		s.stages = acc
		s.meta = currentMeta
		return false, result.Reason(), entry.adapter
	}

	s.stages = acc
	s.meta = currentMeta
	return true, nil, nil
}

func (s *Session) dispatchHelo(domain string) (bool, stage.Reason, stage.Adapter) {
	return s.dispatch(func(a stage.Adapter, meta stage.Meta, state any) (stage.Result, bool) {
		h, ok := a.(stage.HelloHook)
		if !ok {
			return stage.Result{}, false
		}
		return h.Helo(domain, meta, state), true
	})
}

func (s *Session) dispatchAuth(username, credential string) (bool, stage.Reason, stage.Adapter) {
	return s.dispatch(func(a stage.Adapter, meta stage.Meta, state any) (stage.Result, bool) {
		h, ok := a.(stage.AuthHook)
		if !ok {
			return stage.Result{}, false
		}
		return h.Auth(username, credential, meta, state), true
	})
}

func (s *Session) dispatchMail(from string) (bool, stage.Reason, stage.Adapter) {
	return s.dispatch(func(a stage.Adapter, meta stage.Meta, state any) (stage.Result, bool) {
		h, ok := a.(stage.MailHook)
		if !ok {
			return stage.Result{}, false
		}
		return h.Mail(from, meta, state), true
	})
}

func (s *Session) dispatchRcpt(to string) (bool, stage.Reason, stage.Adapter) {
	return s.dispatch(func(a stage.Adapter, meta stage.Meta, state any) (stage.Result, bool) {
		h, ok := a.(stage.RcptHook)
		if !ok {
			return stage.Result{}, false
		}
		return h.Rcpt(to, meta, state), true
	})
}

func (s *Session) dispatchData(raw []byte) (bool, stage.Reason, stage.Adapter) {
	return s.dispatch(func(a stage.Adapter, meta stage.Meta, state any) (stage.Result, bool) {
		h, ok := a.(stage.DataHook)
		if !ok {
			return stage.Result{}, false
		}
		return h.Data(raw, meta, state), true
	})
}
