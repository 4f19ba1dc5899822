package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetup_ParsesValidLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	Setup("debug", "")
	require.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestSetup_FallsBackToInfoOnInvalidLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	Setup("not-a-level", "")
	require.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestSetup_EmptyLogPathUsesTextFormatter(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	Setup("info", "")
	_, ok := log.StandardLogger().Formatter.(*log.TextFormatter)
	require.True(t, ok)
}
