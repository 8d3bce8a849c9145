package rig

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestOpen_MockFlagOverridesScheme(t *testing.T) {
	p, err := Open(Config{Mock: true, Endpoint: "rp://10.0.0.5", Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestOpen_SchemeSelectsDriver(t *testing.T) {
	p, err := Open(Config{Endpoint: "mock://rig0", Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(Config{Endpoint: "quantum://rig0"})
	require.ErrorContains(t, err, `unknown rig driver "quantum"`)
}

func TestOpen_MissingScheme(t *testing.T) {
	_, err := Open(Config{Endpoint: "rig0"})
	require.ErrorContains(t, err, "has no scheme")
}

func TestRegister_DuplicatePanics(t *testing.T) {
	require.Panics(t, func() {
		Register(ModeMock, func(Config) (Provider, error) { return nil, nil })
	})
}

func TestRegister_NilFactoryPanics(t *testing.T) {
	require.Panics(t, func() {
		Register("never-registered", nil)
	})
}

func TestDrivers_IncludesMock(t *testing.T) {
	require.Contains(t, Drivers(), ModeMock)
}
