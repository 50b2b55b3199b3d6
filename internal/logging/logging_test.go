package logging

import (
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestLoggerReturnsDisabledBeforeInit(t *testing.T) {
	l := Logger(SubsystemSync, btclog.LevelInfo)
	require.Equal(t, btclog.Disabled, l)
}
