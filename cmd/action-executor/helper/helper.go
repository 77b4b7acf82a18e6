package helper

import (
	"go.uber.org/zap"
)

// InitLogging installs the global sugared logger. "DEVELOPMENT" selects the
// human-readable console encoder, anything else the production JSON encoder.
func InitLogging(level string) {
	var logger *zap.Logger
	var err error
	if level == "DEVELOPMENT" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

func InitTestLogging() {
	InitLogging("DEVELOPMENT")
}

func IntToPtr(val int) *int {
	return &val
}
