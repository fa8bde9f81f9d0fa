package initial

import (
	"context"
	"errors"
	"testing"

	"TradeRAG/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	conf := &config.Config{}
	conf.MilvusConfig.Backend = BackendMemory
	conf.AIConfig.Embedding.Provider = "hash"
	conf.ApplyDefaults()
	return conf
}

func TestNewAppMemoryBackend(t *testing.T) {
	conf := memoryConfig()
	conf.JwtConfig.Key = "secret"

	app, err := NewApp(context.Background(), conf)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, BackendMemory, app.Backend)
	assert.Equal(t, 384, app.VectorDim)
	assert.NotNil(t, app.Ingest)
	assert.NotNil(t, app.Retrieve)
	assert.NotNil(t, app.Scheduler)
	require.NotNil(t, app.Signer)

	got, err := app.Retrieve.Retrieve(context.Background(), "BTCUSDT price", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewAppUnknownBackend(t *testing.T) {
	conf := memoryConfig()
	conf.MilvusConfig.Backend = "sqlite"

	_, err := NewApp(context.Background(), conf)
	assert.Error(t, err)
}

func TestOptionalDependenciesDisabled(t *testing.T) {
	conf := memoryConfig()

	_, err := NewGormDB(conf)
	assert.True(t, errors.Is(err, ErrMysqlDisabled))
	_, err = NewRedisClient(context.Background(), conf)
	assert.True(t, errors.Is(err, ErrRedisDisabled))

	app := &App{Conf: conf}
	assert.Nil(t, app.newFactFeed())
	assert.Nil(t, app.newRunRepository())
	assert.Nil(t, app.newRunLock(context.Background()))
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var order []string
	app := &App{}
	app.addCloser("first", func() error { order = append(order, "first"); return nil })
	app.addCloser("second", func() error { order = append(order, "second"); return errors.New("already closed") })
	app.Close()
	app.Close()

	assert.Equal(t, []string{"second", "first"}, order)
}
