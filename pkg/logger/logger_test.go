// Copyright 2023 UMH Systems GmbH
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

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getLogLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, getLogLevel(DevelopmentLevel))
	assert.Equal(t, zapcore.InfoLevel, getLogLevel(ProductionLevel))
	assert.Equal(t, zapcore.WarnLevel, getLogLevel("Warn"))
	assert.Equal(t, zapcore.InfoLevel, getLogLevel("nonsense"))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatConsole, ParseFormat("console"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatJSON, ParseFormat("pretty"))
}

func TestInitializeReplacesGlobals(t *testing.T) {
	InitTestLogging()
	assert.True(t, zap.L().Core().Enabled(zapcore.DebugLevel))
}
