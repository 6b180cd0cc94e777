// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parallel

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	assert.Zero(t, NewRateLimiter(0).Take(100))
	synctest.Test(t, func(t *testing.T) {
		limiter := NewRateLimiter(2)
		assert.Zero(t, limiter.Take(2))
		assert.Positive(t, limiter.Take(1))
		start := time.Now()
		Wait(limiter, 1)
		assert.Positive(t, time.Since(start))
	})
}
