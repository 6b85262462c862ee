package relay_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradscan/scan-relay/internal/protocol"
	"github.com/gradscan/scan-relay/pkg/ws"
)

func readFrame(t *testing.T, conn ws.Conn) []byte {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := conn.ReadMessage()
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// Full path over real websockets: register a desktop and a scanner, publish
// a scan, watch it arrive on the dashboard side.
func TestRelay_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv, _, pool := newTestServer()
	defer pool.Shutdown()

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	dialer := ws.GorillaDialer{}

	desktop, err := dialer.Dial(url)
	require.NoError(t, err)
	defer desktop.Close()

	require.NoError(t, desktop.WriteJSON(protocol.Register{Type: protocol.TypeRegisterDesktop}))
	var ack protocol.Registered
	require.NoError(t, json.Unmarshal(readFrame(t, desktop), &ack))
	assert.Equal(t, protocol.TypeRegistered, ack.Type)
	assert.Equal(t, "main-desktop", ack.ID)

	scanner, err := dialer.Dial(url)
	require.NoError(t, err)
	defer scanner.Close()

	require.NoError(t, scanner.WriteJSON(protocol.Register{Type: protocol.TypeRegisterScanner, ID: "S1"}))
	require.NoError(t, json.Unmarshal(readFrame(t, scanner), &ack))
	assert.Equal(t, "S1", ack.ID)

	var joined protocol.MobileConnected
	require.NoError(t, json.Unmarshal(readFrame(t, desktop), &joined))
	assert.Equal(t, protocol.TypeMobileConnected, joined.Type)
	assert.Equal(t, "S1", joined.ID)

	require.NoError(t, scanner.WriteJSON(protocol.StudentScan{
		Type:      protocol.TypeStudentScan,
		Student:   protocol.Student{ID: "42", Name: "Jane Doe"},
		Timestamp: time.Now(),
	}))

	var confirmed protocol.ScanConfirmed
	require.NoError(t, json.Unmarshal(readFrame(t, scanner), &confirmed))
	assert.Equal(t, "42", confirmed.StudentID)

	var scanned protocol.StudentScanned
	require.NoError(t, json.Unmarshal(readFrame(t, desktop), &scanned))
	assert.Equal(t, "42", scanned.Student.ID)
	assert.Equal(t, "Jane Doe", scanned.Student.Name)
	assert.Equal(t, "S1", scanned.ScannerID)
}
