package service

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/sirupsen/logrus"

	"vtuber-backend/pkg/logger"
)

// LogCallbackConfig controls how much the graph callbacks log.
type LogCallbackConfig struct {
	Session string
	Detail  bool
}

// LogCallback logs node starts, ends and failures of the reply graph.
func LogCallback(cfg *LogCallbackConfig) callbacks.Handler {
	if cfg == nil {
		cfg = &LogCallbackConfig{}
	}

	fields := func(info *callbacks.RunInfo) logrus.Fields {
		f := logrus.Fields{"session": cfg.Session}
		if info != nil {
			f["node"] = info.Name
			f["component"] = string(info.Component)
		}
		return f
	}

	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			entry := logger.WithFields(fields(info))
			if cfg.Detail {
				entry = entry.WithField("input", input)
			}
			entry.Debug("graph node start")
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			entry := logger.WithFields(fields(info))
			if cfg.Detail {
				entry = entry.WithField("output", output)
			}
			entry.Debug("graph node end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			logger.WithFields(fields(info)).WithError(err).Warn("graph node failed")
			return ctx
		}).
		Build()
}
