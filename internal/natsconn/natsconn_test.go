package natsconn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wehubfusion/Talos/pkg/config"
)

func TestFromConfig(t *testing.T) {
	o := FromConfig(config.NATS{URL: "nats://example:4222", Token: "s3cret"})
	assert.Equal(t, "nats://example:4222", o.URL)
	assert.Equal(t, "talos", o.Name)
	assert.Equal(t, "s3cret", o.Token)
	assert.Equal(t, 10, o.MaxReconnects)

	o = FromConfig(config.NATS{URL: "nats://x", Name: "worker-1"})
	assert.Equal(t, "worker-1", o.Name)
}

func TestConnectErrors(t *testing.T) {
	_, err := Connect(context.Background(), Options{}, nil)
	assert.ErrorContains(t, err, "URL cannot be empty")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := DefaultOptions("nats://127.0.0.1:1")
	o.Timeout = 100 * time.Millisecond
	_, err = Connect(ctx, o, nil)
	assert.Error(t, err)
}

func TestCloseNil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
