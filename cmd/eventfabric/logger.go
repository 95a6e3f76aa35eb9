package main

import (
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/pkg/logger"
)

func buildLogger(env, level, serviceName string) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Environment: env,
		LogLevel:    level,
		ServiceName: serviceName,
	})
}
