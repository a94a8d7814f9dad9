package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Cadence/internal/config"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/telemetry"
)

func memoryConfig() *config.Config {
	return &config.Config{
		QueueBackend:            "inproc",
		CounterBackend:          "memory",
		TickSchedule:            "@every 5s",
		TickBatchSize:           10,
		MaxRetries:              3,
		BreakerFailureThreshold: 5,
	}
}

func TestBuild_MemoryStack(t *testing.T) {
	ctx := context.Background()

	s, err := Build(ctx, memoryConfig(), telemetry.DiscardLogger(), Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Nil(t, s.Pool)
	require.NotNil(t, s.Memstore)
	assert.NoError(t, s.Ready(ctx))

	svc := s.Service()
	flows, err := svc.ListFlows(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, flows)

	assert.NotNil(t, s.Worker())
}

func TestBuild_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.CounterBackend = "etcd"

	_, err := Build(context.Background(), cfg, telemetry.DiscardLogger(), Options{Memory: true})
	assert.ErrorContains(t, err, "unknown counter backend")
}

func TestSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(`
contacts:
  - {id: c1, email: ann@example.com, first_name: Ann}
  - {id: c2, phone: "+15550001"}
templates:
  - {ref: welcome, channel: email, subject: "Hi {{ .Contact.FirstName }}", body: "Welcome"}
`))
	require.NoError(t, err)
	require.Len(t, seed.Contacts, 2)

	s, err := Build(context.Background(), memoryConfig(), telemetry.DiscardLogger(), Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	seed.Apply(s.Memstore)

	c, err := s.Store.GetContact(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", c.FirstName)

	tpl, err := s.Store.GetTemplate(context.Background(), "welcome")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, tpl.Channel)
}

func TestSeed_Invalid(t *testing.T) {
	_, err := ParseSeed([]byte("contacts:\n  - {email: x@example.com}\n"))
	assert.ErrorContains(t, err, "has no id")

	_, err = ParseSeed([]byte("users: []\n"))
	assert.Error(t, err, "unknown keys are rejected")
}
