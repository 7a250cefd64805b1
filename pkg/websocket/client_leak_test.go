package websocket

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"flashgate/pkg/logging"
)

// Stop must take the heartbeat and read goroutines down with it; a leaked
// heartbeat keeps pinging a closed peer forever.
func TestClientStopLeavesNoGoroutines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	// Let the runtime settle before counting.
	time.Sleep(100 * time.Millisecond)
	initial := runtime.NumGoroutine()

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 10 * time.Millisecond
	client := NewClient(cfg, func([]byte) {}, logging.NewNopLogger())

	client.Start()
	time.Sleep(200 * time.Millisecond)
	client.Stop()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= initial+1
	}, 2*time.Second, 20*time.Millisecond, "goroutine count did not return to baseline")
}
