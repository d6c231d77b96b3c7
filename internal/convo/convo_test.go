package convo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveMessageDelivers(t *testing.T) {
	var mu sync.Mutex
	var got []message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var msg message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	require.NotNil(t, c)
	c.SaveMessage("u1", "c1", "user", "hello")
	c.SaveMessage("u1", "c1", "assistant", "hi there")
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, message{UserID: "u1", ChatID: "c1", Role: "user", Content: "hello"}, got[0])
	assert.Equal(t, "assistant", got[1].Role)
}

func TestNewWithoutEndpoint(t *testing.T) {
	assert.Nil(t, New("", ""))
}

func TestSendFailureDoesNotBlock(t *testing.T) {
	c := New("http://127.0.0.1:1/unreachable", "")
	require.NotNil(t, c)
	for i := 0; i < 10; i++ {
		c.SaveMessage("u1", "c1", "user", "x")
	}
	c.Close()
}
