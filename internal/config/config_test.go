package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"
)

func buildTestContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	app := &cli.App{Flags: Flags()}
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags() {
		assert.NoError(t, f.Apply(set))
	}
	assert.NoError(t, set.Parse(args))
	return cli.NewContext(app, set, nil)
}

func TestFromContext_RequiresDatabase(t *testing.T) {
	c := buildTestContext(t, "--stripe-secret-key=sk_test", "--stripe-webhook-secret=whsec_test")
	_, err := FromContext(c)
	assert.ErrorContains(t, err, "database")
}

func TestFromContext_RequiresStripeSecretKey(t *testing.T) {
	c := buildTestContext(t, "--database=postgres://x", "--stripe-webhook-secret=whsec_test")
	_, err := FromContext(c)
	assert.ErrorContains(t, err, "stripe secret key")
}

func TestFromContext_ValidConfig(t *testing.T) {
	c := buildTestContext(t,
		"--database=postgres://x",
		"--stripe-secret-key=sk_test",
		"--stripe-webhook-secret=whsec_test",
		"--host=127.0.0.1",
		"--port=9090",
	)
	cfg, err := FromContext(c)
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.False(t, cfg.Distributed())
}

func TestConfig_Distributed(t *testing.T) {
	c := buildTestContext(t,
		"--database=postgres://x",
		"--stripe-secret-key=sk_test",
		"--stripe-webhook-secret=whsec_test",
		"--etcd-endpoints=http://etcd-1:2379,http://etcd-2:2379",
	)
	cfg, err := FromContext(c)
	assert.NoError(t, err)
	assert.True(t, cfg.Distributed())
	assert.Len(t, cfg.EtcdEndpoints, 2)
}
