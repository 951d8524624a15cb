// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	_mu     sync.Mutex
	_global *zap.SugaredLogger
)

// Default returns the global logger, initializing it to an info-level
// console logger on stderr if it has not been configured yet.
func Default() *zap.SugaredLogger {
	_mu.Lock()
	defer _mu.Unlock()

	if _global == nil {
		zlog, err := defaultConfig().Build()
		if err != nil {
			panic(err)
		}
		_global = zlog.Sugar()
	}
	return _global
}

func defaultConfig() zap.Config {
	return zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding:         "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "ts",
			NameKey:        "logger",
			CallerKey:      "caller",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}
}

// ConfigureLogger builds a logger from config and installs it as the global
// logger. Returns the built logger so callers may defer a Sync.
func ConfigureLogger(config zap.Config) *zap.SugaredLogger {
	if config.Encoding == "" {
		config = defaultConfig()
	}
	zlog, err := config.Build()
	if err != nil {
		panic(err)
	}
	SetGlobalLogger(zlog.Sugar())
	return _global
}

// SetGlobalLogger replaces the global logger.
func SetGlobalLogger(logger *zap.SugaredLogger) {
	_mu.Lock()
	defer _mu.Unlock()

	_global = logger
}

// With returns the global logger decorated with keysAndValues.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return Default().With(keysAndValues...)
}

// Debug logs at debug level.
func Debug(args ...interface{}) { Default().Debug(args...) }

// Debugf logs at debug level with a format string.
func Debugf(format string, args ...interface{}) { Default().Debugf(format, args...) }

// Info logs at info level.
func Info(args ...interface{}) { Default().Info(args...) }

// Infof logs at info level with a format string.
func Infof(format string, args ...interface{}) { Default().Infof(format, args...) }

// Warn logs at warn level.
func Warn(args ...interface{}) { Default().Warn(args...) }

// Warnf logs at warn level with a format string.
func Warnf(format string, args ...interface{}) { Default().Warnf(format, args...) }

// Error logs at error level.
func Error(args ...interface{}) { Default().Error(args...) }

// Errorf logs at error level with a format string.
func Errorf(format string, args ...interface{}) { Default().Errorf(format, args...) }

// Fatal logs at fatal level and exits.
func Fatal(args ...interface{}) { Default().Fatal(args...) }

// Fatalf logs at fatal level with a format string and exits.
func Fatalf(format string, args ...interface{}) { Default().Fatalf(format, args...) }
