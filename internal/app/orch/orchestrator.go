package orch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

// IdentityResolver verifies a handshake credential.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*domain.Identity, error)
}

// Orchestrator ties the gateway, room router, dispatcher and presence cleanup together.
// Business services receive it as a core.Dispatcher.
type Orchestrator struct {
	Registry   *app.Registry
	Rooms      *app.RoomManager
	Policy     app.Policy
	Resolver   IdentityResolver
	Binder     app.RoomBinder
	Authorizer app.Authorizer
	Audit      app.AuditSink
	Hooks      []app.DispatchHook

	HandshakeTimeout time.Duration
	AuditTimeout     time.Duration
}

var _ core.Dispatcher = (*Orchestrator)(nil)

// Dispatch fans env out to its target. Per-recipient failures are reported in the
// result; the error is reserved for malformed envelopes.
func (o *Orchestrator) Dispatch(ctx context.Context, env core.Envelope) (core.DispatchResult, error) {
	res := core.DispatchResult{Target: env.Target}
	if err := env.Validate(); err != nil {
		return res, err
	}
	frame, err := env.Encode()
	if err != nil {
		return res, err
	}

	if env.Target.Connection != "" {
		if err := o.deliver(env.Target.Connection, frame); err != nil {
			res.Failed = append(res.Failed, core.DeliveryFailure{Connection: env.Target.Connection, Err: err})
		} else {
			res.Delivered = 1
		}
	} else {
		res = o.fanOut(env.Target, o.Rooms.MembersOf(env.Target.Room), frame)
	}

	o.applyPolicy(res)
	o.runHooks(ctx, env, res)
	return res, nil
}

// fanOut writes to every member concurrently and returns once every write was attempted.
func (o *Orchestrator) fanOut(target core.Target, members []core.ConnectionID, frame core.Frame) core.DispatchResult {
	res := core.DispatchResult{Target: target}
	if len(members) == 0 {
		return res
	}

	var (
		wg conc.WaitGroup
		mu sync.Mutex
	)
	for _, id := range members {
		wg.Go(func() {
			err := o.deliver(id, frame)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, core.DeliveryFailure{Connection: id, Err: err})
				return
			}
			res.Delivered++
		})
	}
	wg.Wait()

	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].Connection < res.Failed[j].Connection })
	return res
}

func (o *Orchestrator) deliver(id core.ConnectionID, frame core.Frame) error {
	conn, ok := o.Registry.Get(id)
	if !ok || conn.State() == core.StateClosed {
		return domain.ErrConnectionNotFound
	}
	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() { err = conn.Send(frame) })
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

func (o *Orchestrator) applyPolicy(res core.DispatchResult) {
	if o.Policy == nil {
		return
	}
	for _, f := range res.Failed {
		if !errors.Is(f.Err, core.ErrBackpressure) {
			continue
		}
		conn, ok := o.Registry.Get(f.Connection)
		if !ok {
			continue
		}
		switch o.Policy.OnBackPressure(conn) {
		case app.KickMember:
			o.Kick(f.Connection, "slow consumer")
		case app.NoAction:
		}
	}
}

func (o *Orchestrator) runHooks(ctx context.Context, env core.Envelope, res core.DispatchResult) {
	for _, h := range o.Hooks {
		var pc panics.Catcher
		pc.Try(func() { h.AfterDispatch(ctx, env, res) })
		if r := pc.Recovered(); r != nil {
			log.Error().Err(r.AsError()).Str("module", "orch").Str("event", env.Event).Msg("dispatch hook panicked")
		}
	}
}
