package ikesa

import (
	"bytes"
	"testing"

	"github.com/behrlich/go-ikesa/internal/interfaces"
	"github.com/behrlich/go-ikesa/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestNoopBusDiscardsEverything(t *testing.T) {
	var bus EventBus = NoopBus{}
	bus.SetCurrentSA(NewMockSAHandle(interfaces.SAID{InitSPI: 1, IsInitiator: true}, 1))
	bus.SetCurrentSA(nil)
}

func TestLoggingBusLogsFocusChanges(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Output: &buf})
	bus := NewLoggingBus(logger)

	sa := NewMockSAHandle(interfaces.SAID{InitSPI: 0xAAAA, IsInitiator: true}, 7)
	sa.SetName("peer-a")
	bus.SetCurrentSA(sa)
	require.Contains(t, buf.String(), "current SA set")
	require.Contains(t, buf.String(), "peer-a")

	buf.Reset()
	bus.SetCurrentSA(nil)
	require.Contains(t, buf.String(), "current SA cleared")
}

func TestNewLoggingBusFallsBackToDefaultLogger(t *testing.T) {
	bus := NewLoggingBus(nil)
	require.NotNil(t, bus.Logger)
}
