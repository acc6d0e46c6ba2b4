package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcher_SignsPayloadWithConfiguredSecret(t *testing.T) {
	var (
		mu      sync.Mutex
		gotBody []byte
		gotSig  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get(signatureHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New(server.URL, "test-secret", zap.NewNop())
	d.Dispatch("message.created", map[string]string{"dialog_id": "d1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotBody) > 0
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(gotBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	require.Equal(t, expected, gotSig)

	var payload Payload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "message.created", payload.Event)
}

func TestDispatcher_NoOpWhenURLUnset(t *testing.T) {
	d := New("", "secret", zap.NewNop())
	d.Dispatch("message.created", nil) // must not panic or block
}

func TestDispatcher_DoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := New(server.URL, "secret", zap.NewNop())
	d.send("message.created", []byte(`{}`))
	require.EqualValues(t, 1, calls)
}
