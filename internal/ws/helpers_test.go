package ws

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruit-chat/internal/apperr"
)

func TestParseRoom(t *testing.T) {
	room, err := parseRoom(json.RawMessage(`"recruitment:42"`))
	require.NoError(t, err)
	assert.Equal(t, "recruitment:42", room)

	room, err = parseRoom(json.RawMessage(`{"room":" conversation:c1 "}`))
	require.NoError(t, err)
	assert.Equal(t, "conversation:c1", room)

	_, err = parseRoom(nil)
	assert.ErrorIs(t, err, apperr.ErrRoomRequired)

	_, err = parseRoom(json.RawMessage(`null`))
	assert.ErrorIs(t, err, apperr.ErrRoomRequired)

	_, err = parseRoom(json.RawMessage(`{"room":5}`))
	assert.ErrorIs(t, err, apperr.ErrInvalidPayload)
}

func TestEncodeFrame(t *testing.T) {
	raw, err := encodeFrame("room:left", map[string]string{"room": "r"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"room:left","data":{"room":"r"}}`, string(raw))
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")

	assert.True(t, checkOrigin(nil)(req))
	assert.True(t, checkOrigin([]string{"*"})(req))
	assert.True(t, checkOrigin([]string{"https://app.example.com/"})(req))
	assert.False(t, checkOrigin([]string{"https://other.example.com"})(req))

	req.Header.Del("Origin")
	assert.True(t, checkOrigin([]string{"https://other.example.com"})(req))
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("c1")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, k.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
	assert.Equal(t, 0, k.size())
}
