// Package logging builds the process logger: ectologger for the structured
// API the rest of the code uses, zap as the output sink.
package logging

import (
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds an ectologger backed by zap. PrettyLogs switches to the human
// readable development encoder for local work.
func New(level string, pretty bool) (ectologger.Logger, func(), error) {
	zcfg := zap.NewProductionConfig()
	if pretty {
		zcfg = zap.NewDevelopmentConfig()
	}
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	zlog, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	sink := zlog.Sugar()

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			sink.Info(msg)
			return
		}
		sink.Info(string(data))
	})

	flush := func() { _ = zlog.Sync() }
	return logger, flush, nil
}
