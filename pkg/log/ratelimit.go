// Copyright The NRI Plugins Authors. All Rights Reserved.
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
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Rate specifies the maximum rate and burst of messages for a rate-limited Logger.
type Rate struct {
	Limit rate.Limit
	Burst int
}

// Every converts a minimum interval between messages to a rate limit.
func Every(interval time.Duration) rate.Limit {
	return rate.Every(interval)
}

type ratelimited struct {
	Logger
	limiter *rate.Limiter
}

// RateLimit returns a Logger which drops messages exceeding the given rate.
// Fatal and Panic messages are never dropped.
func RateLimit(l Logger, r Rate) Logger {
	if r.Burst < 1 {
		r.Burst = 1
	}
	return &ratelimited{
		Logger:  l,
		limiter: rate.NewLimiter(r.Limit, r.Burst),
	}
}

func (l *ratelimited) Debug(format string, args ...interface{}) {
	if l.DebugEnabled() && l.limiter.Allow() {
		l.Logger.Debug(format, args...)
	}
}

func (l *ratelimited) Info(format string, args ...interface{}) {
	if l.limiter.Allow() {
		l.Logger.Info(format, args...)
	}
}

func (l *ratelimited) Warn(format string, args ...interface{}) {
	if l.limiter.Allow() {
		l.Logger.Warn(format, args...)
	}
}

func (l *ratelimited) Error(format string, args ...interface{}) {
	if l.limiter.Allow() {
		l.Logger.Error(format, args...)
	}
}

func (l *ratelimited) SlogHandler() slog.Handler {
	return &slogger{l: l}
}
