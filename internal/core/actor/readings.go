package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/internal/core/domain"
	"github.com/berfenger/battery-regulator/internal/core/service"
	. "github.com/berfenger/battery-regulator/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ReadingsActor keeps the latest sensor samples received over MQTT and serves Readings.
type ReadingsActor struct {
	behavior  actor.Behavior
	assembler *service.ReadingAssembler
	location  *time.Location
	now       func() time.Time
	samples   uint64

	logger *zap.Logger
}

func NewReadingsActor(cfg *config.Config, logger *zap.Logger) *ReadingsActor {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}
	act := &ReadingsActor{
		behavior:  actor.NewBehavior(),
		assembler: service.NewReadingAssembler(cfg.Sensors.MaxAge(), cfg.Sensors.ForecastScale()),
		location:  loc,
		now:       time.Now,
		logger:    ActorLogger(domain.ACTOR_ID_READINGS, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

// WithClock replaces the time source.
func (state *ReadingsActor) WithClock(now func() time.Time) *ReadingsActor {
	state.now = now
	return state
}

func (state *ReadingsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ReadingsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("readings@default started")
	case domain.SensorSampleReceived:
		state.samples++
		state.assembler.Update(msg.Field, msg.Payload, state.now())
	case domain.GetReadingRequest:
		reading, err := state.assembler.Assemble(state.now().In(state.location))
		if err != nil {
			state.logger.Debug("readings@default GetReadingRequest unavailable", zap.Error(err))
		}
		ForRequest(msg).Respond(ctx, domain.GetReadingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Reading: reading,
		})
	case domain.ActorHealthRequest:
		state.logger.Debug("readings@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_READINGS,
			Healthy: true,
			State:   fmt.Sprintf("samples=%d", state.samples),
		})
	default:
		state.logger.Debug("readings@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
