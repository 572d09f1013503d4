package mqtt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygenupdater/ota-agent/pkg/file"
)

func TestClientOptions_Plain(t *testing.T) {
	s := NewMqttService(file.NewFileService(), zerolog.Nop())

	opts, err := s.clientOptions(Options{Broker: "tcp://localhost:1883", ClientID: "agent", Username: "u", Password: "p"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(opts.ClientID, "agent-"))
	assert.Equal(t, "u", opts.Username)
	assert.Nil(t, opts.TLSConfig)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
}

func TestClientOptions_UniqueClientIDs(t *testing.T) {
	s := NewMqttService(file.NewFileService(), zerolog.Nop())

	a, err := s.clientOptions(Options{Broker: "tcp://localhost:1883", ClientID: "agent"})
	require.NoError(t, err)
	b, err := s.clientOptions(Options{Broker: "tcp://localhost:1883", ClientID: "agent"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ClientID, b.ClientID)
}

func TestClientOptions_BadCertificate(t *testing.T) {
	s := NewMqttService(file.NewFileService(), zerolog.Nop())

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0644))

	_, err := s.clientOptions(Options{Broker: "ssl://localhost:8883", ClientID: "agent", CACertificate: path})
	assert.Error(t, err)

	_, err = s.clientOptions(Options{Broker: "ssl://localhost:8883", ClientID: "agent", CACertificate: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)
}
