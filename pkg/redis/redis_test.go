package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockerKeyPrefix(t *testing.T) {
	assert.Equal(t, "traderag:lock:market_ingest", NewLocker(nil, "").Key("market_ingest"))
	assert.Equal(t, "app:market_ingest", NewLocker(nil, "app").Key("market_ingest"))
	assert.Equal(t, "app:market_ingest", NewLocker(nil, "app:").Key("market_ingest"))
}

func TestLockerWithoutClient(t *testing.T) {
	l := NewLocker(nil, "")

	_, ok, err := l.TryLock(context.Background(), "market_ingest", time.Minute)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, ok)
	assert.ErrorIs(t, l.Unlock(context.Background(), "market_ingest", "t"), ErrNotConnected)
	assert.NoError(t, l.Close())

	var nilLocker *Locker
	assert.NoError(t, nilLocker.Close())
}
