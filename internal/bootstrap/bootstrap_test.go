package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

func TestCloseRunsInReverseAndKeepsGoing(t *testing.T) {
	var buf bytes.Buffer
	rt := &Runtime{Kind: "api", Logger: logger.New(logger.Options{ServiceName: "api", Output: &buf})}
	var order []string
	rt.onClose("database", func() error { order = append(order, "database"); return nil })
	rt.onClose("redis", func() error { order = append(order, "redis"); return errors.New("conn reset") })
	rt.OnClose("notifier", func() { order = append(order, "notifier") })

	rt.Close()
	assert.Equal(t, []string{"notifier", "redis", "database"}, order)
	assert.Contains(t, buf.String(), `"resource":"redis"`)

	rt.Close()
	assert.Len(t, order, 3, "second close is a no-op")
}

func TestSignalContextCarriesProcessFields(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "cron-worker", Output: &buf})
	rt := &Runtime{Kind: "cron-worker", Logger: logg, Config: &config.Config{App: config.AppConfig{Env: "dev"}}}

	ctx, stop := rt.SignalContext()
	defer stop()
	logg.Info(ctx, "hello")

	line := buf.String()
	for _, want := range []string{`"serviceKind":"cron-worker"`, `"env":"dev"`, `"instance":`} {
		assert.True(t, strings.Contains(line, want), want)
	}
	assert.NoError(t, ctx.Err())
	stop()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
