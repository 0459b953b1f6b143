package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/battery-regulator/internal/adapter/actor"
	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/internal/core/domain"
	"github.com/berfenger/battery-regulator/internal/core/service"
	. "github.com/berfenger/battery-regulator/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// ActuatorActorProvider builds the actuator actor. Actuators publishing over MQTT go through mqttActor.
type ActuatorActorProvider func(root *actor.RootContext, mqttActor *actor.PID) *adactor.ActuatorActor

const HEALTH_CHECK_TIMEOUT = 500 * time.Millisecond

var healthCheckedActors = []string{
	domain.ACTOR_ID_MQTT,
	domain.ACTOR_ID_READINGS,
	domain.ACTOR_ID_ACTUATOR,
	domain.ACTOR_ID_REGULATION,
}

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck    healthCheckResult
	eventStream           *eventstream.EventStream
	mqttActor             *actor.PID
	readingsActor         *actor.PID
	actuatorActor         *actor.PID
	regulationActor       *actor.PID
	mqttActorProvider     MQTTActorProvider
	actuatorActorProvider ActuatorActorProvider
	stopping              bool
	logger                *zap.Logger
}

type healthCheckResult struct {
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, eventStream *eventstream.EventStream, mqttActorProvider MQTTActorProvider,
	actuatorActorProvider ActuatorActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	if eventStream == nil {
		eventStream = eventstream.NewEventStream()
	}
	act := &MasterOfPuppetsActor{
		config:                config,
		behavior:              actor.NewBehavior(),
		stash:                 &Stash{},
		logger:                ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:           eventStream,
		mqttActorProvider:     mqttActorProvider,
		actuatorActorProvider: actuatorActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		var err error
		// start MQTT child
		if state.mqttActor, err = state.startMQTTActor(ctx); err != nil {
			panic(err)
		}
		// start Readings child
		if state.readingsActor, err = state.startReadingsActor(ctx); err != nil {
			panic(err)
		}
		// start Actuator child
		if state.actuatorActor, err = state.startActuatorActor(ctx); err != nil {
			panic(err)
		}
		// start Regulation child
		if state.regulationActor, err = state.startRegulationActor(ctx); err != nil {
			panic(err)
		}
		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			if _, err := state.startHADiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		for _, id := range healthCheckedActors {
			id := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.childPID(id), domain.ActorHealthRequest{}, HEALTH_CHECK_TIMEOUT), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsedCommand to actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Error(err))
			} else if cmd != nil {
				switch pcmd := cmd.(type) {
				case domain.SetRegulationEnabledRequest:
					ctx.Request(state.regulationActor, pcmd)
				}
			}
		}
	case domain.SensorSampleReceived:
		ctx.Send(state.readingsActor, msg)
	case domain.GetRegulationStateRequest:
		ctx.RequestWithCustomSender(state.regulationActor, msg, ctx.Sender())
	case domain.SetRegulationEnabledRequest:
		ctx.RequestWithCustomSender(state.regulationActor, msg, ctx.Sender())
	case domain.SetRegulationEnabledResponse:
		// reply to a switch command received over MQTT
	case *actor.Stopping:
		state.stopping = true
	case *actor.Terminated:
		if state.stopping {
			return
		}
		// if some actor fails for good, terminate
		state.logger.Error("master@default child terminated", zap.String("child", msg.Who.Id))
		panic(errors.New(msg.Who.Id + " terminated"))
	default:
		state.logger.Debug("master@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		ctx.CancelReceiveTimeout()
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			ctx.CancelReceiveTimeout()
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) childPID(id string) *actor.PID {
	switch id {
	case domain.ACTOR_ID_MQTT:
		return state.mqttActor
	case domain.ACTOR_ID_READINGS:
		return state.readingsActor
	case domain.ACTOR_ID_ACTUATOR:
		return state.actuatorActor
	case domain.ACTOR_ID_REGULATION:
		return state.regulationActor
	default:
		return nil
	}
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startReadingsActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, restartDecider)

	readingsProps := actor.PropsFromProducer(func() actor.Actor {
		return NewReadingsActor(&state.config, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(readingsProps, domain.ACTOR_ID_READINGS)
}

func (state *MasterOfPuppetsActor) startActuatorActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	root := ctx.ActorSystem().Root
	actuatorProps := actor.PropsFromProducer(func() actor.Actor {
		return state.actuatorActorProvider(root, state.mqttActor)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(actuatorProps, domain.ACTOR_ID_ACTUATOR)
}

func (state *MasterOfPuppetsActor) startRegulationActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, restartDecider)

	engine := service.NewRegulationEngine(state.config.Regulation.Settings())
	regulationProps := actor.PropsFromProducer(func() actor.Actor {
		return NewRegulationActor(&state.config, engine, state.readingsActor, state.actuatorActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(regulationProps, domain.ACTOR_ID_REGULATION)
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, restartDecider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func restartDecider(reason interface{}) actor.Directive {
	log.Printf("handling failure for child. reason: %v", reason)
	return actor.RestartDirective
}

func (state *healthCheckResult) reset() {
	state.healthy = make(map[string]bool, len(healthCheckedActors))
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == len(healthCheckedActors)
}

func (state *healthCheckResult) allHealthy() bool {
	for _, id := range healthCheckedActors {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
