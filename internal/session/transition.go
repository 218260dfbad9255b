package session

func effects(kinds ...EffectKind) []Effect {
	out := make([]Effect, len(kinds))
	for i, k := range kinds {
		out[i] = Effect{Kind: k}
	}
	return out
}

// Transition returns the state after ev and the effects the driver must run,
// in order. Unhandled (state, event) pairs return s unchanged and no effects.
func Transition(s State, ev Event, policy RetryPolicy) (State, []Effect) {
	if s.Phase == PhaseHalted {
		return s, nil
	}

	if ev.Kind == EventShutdown {
		return shutdown(s)
	}

	switch s.Phase {
	case PhaseIdle:
		if ev.Kind == EventStart {
			return State{Phase: PhaseConnecting}, effects(EffectMintToken, EffectConnect)
		}

	case PhaseConnecting:
		switch ev.Kind {
		case EventOpened:
			return opened()
		case EventOpenFailed, EventClosed:
			// A session lost before it opened is a failed open.
			return openFailed(s, policy)
		case EventMintFailed:
			// No token for the first connect: the key or project is wrong.
			return State{Phase: PhaseHalted}, effects(EffectStopLoop)
		}

	case PhaseConnected:
		if ev.Kind == EventClosed {
			if ev.Err == nil {
				return State{Phase: PhaseClosedIntentional}, effects(EffectCancelPublish, EffectStopLoop)
			}
			return State{Phase: PhaseClosedUnexpected},
				effects(EffectCancelPublish, EffectMintToken, EffectConnect)
		}

	case PhaseDisconnecting:
		if ev.Kind == EventClosed {
			if ev.Err == nil {
				return State{Phase: PhaseClosedIntentional}, effects(EffectCancelPublish, EffectStopLoop)
			}
			// Lost while shutting down; nothing left to reconnect for.
			return State{Phase: PhaseHalted}, effects(EffectCancelPublish, EffectStopLoop)
		}

	case PhaseClosedUnexpected:
		switch ev.Kind {
		case EventOpened:
			if !s.Stalled {
				return opened()
			}
		case EventOpenFailed, EventClosed:
			if !s.Stalled {
				return openFailed(s, policy)
			}
		case EventMintFailed:
			return State{Phase: PhaseClosedUnexpected, Attempts: s.Attempts, Stalled: true}, nil
		case EventCredentialsRefreshed:
			if s.Stalled {
				return State{Phase: PhaseClosedUnexpected, Attempts: s.Attempts},
					effects(EffectMintToken, EffectConnect)
			}
		}
	}

	return s, nil
}

func opened() (State, []Effect) {
	return State{Phase: PhaseConnected},
		effects(EffectPublishNow, EffectSchedulePublish, EffectSubscribe)
}

func openFailed(s State, policy RetryPolicy) (State, []Effect) {
	attempts := s.Attempts + 1
	if policy.MaxAttempts > 0 && attempts <= policy.MaxAttempts {
		return State{Phase: PhaseClosedUnexpected, Attempts: attempts}, []Effect{
			{Kind: EffectMintToken},
			{Kind: EffectConnectAfter, Delay: policy.Backoff(attempts)},
		}
	}
	return State{Phase: PhaseHalted, Attempts: attempts}, effects(EffectStopLoop)
}

func shutdown(s State) (State, []Effect) {
	switch s.Phase {
	case PhaseConnected:
		return State{Phase: PhaseDisconnecting}, effects(EffectCancelPublish, EffectDisconnect)
	case PhaseDisconnecting:
		return s, nil
	default:
		// A session may still be opening; Disconnect is a no-op without one.
		return State{Phase: PhaseHalted}, effects(EffectCancelPublish, EffectDisconnect, EffectStopLoop)
	}
}
