package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/battery-regulator/internal/adapter/actor"
	"github.com/berfenger/battery-regulator/internal/adapter/battery"
	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/internal/core/actor"
	"github.com/berfenger/battery-regulator/internal/metrics"
	"github.com/berfenger/battery-regulator/internal/server"
	"github.com/berfenger/battery-regulator/internal/util/actorutil"
	"github.com/berfenger/battery-regulator/pkg/sunspec_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config, an invalid config never starts the loop
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	config.SafePrint(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	actuatorProv, err := actuatorActorProvider(cfg, logger)
	if err != nil {
		logger.Fatal("actuator setup error", zap.Error(err))
	}

	// metrics follow the regulation events
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eventStream := eventstream.NewEventStream()
	metrics.NewMetrics(registry).Subscribe(eventStream)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, eventStream, mqttActorProvider(cfg, logger), actuatorProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Fatal("could not spawn master actor", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, registry)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func actuatorActorProvider(cfg *config.Config, logger *zap.Logger) (actor.ActuatorActorProvider, error) {
	timeout := cfg.Actuator.Timeout()

	switch cfg.Actuator.Type {
	case config.ACTUATOR_SUNSPEC:
		storage, err := sunspec_modbus.CreateStorageModbusClient(cfg.Actuator.SunSpec.Host, cfg.Actuator.SunSpec.Port,
			uint8(cfg.Actuator.SunSpec.UnitId), timeout, logger, nil)
		if err != nil {
			return nil, err
		}
		return func(_ *pactor.RootContext, _ *pactor.PID) *adactor.ActuatorActor {
			return adactor.NewActuatorActor(battery.NewSunSpecActuator(storage, logger), timeout, logger)
		}, nil
	case config.ACTUATOR_MQTT:
		return func(root *pactor.RootContext, mqttActor *pactor.PID) *adactor.ActuatorActor {
			publisher := adactor.NewActorPublisher(root, mqttActor, timeout)
			return adactor.NewActuatorActor(battery.NewMQTTActuator(cfg.Actuator.MQTT, publisher, logger), timeout, logger)
		}, nil
	case config.ACTUATOR_DRY_RUN:
		return func(_ *pactor.RootContext, _ *pactor.PID) *adactor.ActuatorActor {
			return adactor.NewActuatorActor(battery.NewDryRunActuator(logger), timeout, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown actuator type %q", cfg.Actuator.Type)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

