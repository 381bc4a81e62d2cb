// Copyright 2022 The gVisor Authors.
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
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited is a Logger that drops messages exceeding its rate and keeps
// count of what it dropped.
type RateLimited struct {
	logger Logger
	limit  *rate.Limiter

	// suppressed is the number of messages dropped since the last one that
	// got through.
	suppressed atomic.Uint64
}

func (rl *RateLimited) allow() bool {
	if rl.limit.Allow() {
		return true
	}
	rl.suppressed.Add(1)
	return false
}

// emit logs through fn, prefixing the message with the number of messages
// suppressed before it, if any.
func (rl *RateLimited) emit(fn func(string, ...any), format string, v ...any) {
	if n := rl.suppressed.Swap(0); n > 0 {
		fn("(%d similar messages suppressed) "+format, append([]any{n}, v...)...)
		return
	}
	fn(format, v...)
}

// Debugf implements Logger.Debugf.
func (rl *RateLimited) Debugf(format string, v ...any) {
	if rl.allow() {
		rl.emit(rl.logger.Debugf, format, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *RateLimited) Infof(format string, v ...any) {
	if rl.allow() {
		rl.emit(rl.logger.Infof, format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *RateLimited) Warningf(format string, v ...any) {
	if rl.allow() {
		rl.emit(rl.logger.Warningf, format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (rl *RateLimited) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// Suppressed returns the number of messages dropped since the last one
// emitted.
func (rl *RateLimited) Suppressed() uint64 {
	return rl.suppressed.Load()
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) *RateLimited {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) *RateLimited {
	return &RateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
