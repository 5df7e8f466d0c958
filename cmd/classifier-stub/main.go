// Command classifier-stub serves tumor.v1.Classifier with heuristic
// predictions so the API can run against the grpc backend without a model.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/tumor-report/internal/attributes"
	"github.com/example/tumor-report/internal/classifier"
	"github.com/example/tumor-report/internal/logging"
)

type stubConfig struct {
	Addr           string `env:"CLASSIFIER_STUB_ADDR" envDefault:":50051"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

func main() {
	var cfg stubConfig
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Addr), zap.Error(err))
	}

	server := grpc.NewServer()
	classifier.RegisterClassifierServer(server, classifier.NewStubServer(attributes.NewRandomSource(), logger))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		server.GracefulStop()
	}()

	logger.Info("classifier stub listening", zap.String("addr", lis.Addr().String()))
	if err := server.Serve(lis); err != nil {
		logger.Fatal("failed to serve", zap.Error(err))
	}
}
