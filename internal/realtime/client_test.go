package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_SendsAuthHeadersAndModel(t *testing.T) {
	got := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), Config{APIKey: "sk-test", URL: wsURL(srv), Model: "m1"}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	r := <-got
	assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
	assert.Equal(t, "realtime=v1", r.Header.Get("OpenAI-Beta"))
	assert.Equal(t, "m1", r.URL.Query().Get("model"))
}

func TestDial_RequiresKey(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_SendAndReceive(t *testing.T) {
	received := make(chan map[string]any, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			_ = json.Unmarshal(msg, &m)
			received <- m
			if m["type"] == EventSessionUpdate {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.updated","event_id":"ev1"}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio.delta","delta":"AAAA"}`))
			}
		}
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), Config{APIKey: "k", URL: wsURL(srv)}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(NewSessionUpdate(PhoneSession("instr", DefaultSessionOptions()))))

	m := <-received
	assert.Equal(t, EventSessionUpdate, m["type"])
	session := m["session"].(map[string]any)
	assert.Equal(t, AudioFormatG711ULaw, session["input_audio_format"])
	assert.Equal(t, AudioFormatG711ULaw, session["output_audio_format"])
	assert.Equal(t, "alloy", session["voice"])
	td := session["turn_detection"].(map[string]any)
	assert.Equal(t, "server_vad", td["type"])
	assert.Equal(t, 0.5, td["threshold"])
	assert.Equal(t, float64(300), td["prefix_padding_ms"])
	assert.Equal(t, float64(800), td["silence_duration_ms"])

	ev := <-c.Events()
	assert.Equal(t, EventSessionUpdated, ev.Type)
	assert.Equal(t, "ev1", ev.EventID)
	ev = <-c.Events()
	assert.Equal(t, EventResponseAudioDelta, ev.Type)
	assert.Equal(t, "AAAA", ev.Delta)
}

func TestClient_SendFailsWhenPeerStopsReading(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := Dial(context.Background(), Config{APIKey: "k", URL: wsURL(srv), WriteTimeout: 100 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	chunk := NewAudioAppend(strings.Repeat("A", 256<<10))
	start := time.Now()
	var sendErr error
	for i := 0; i < 400 && sendErr == nil; i++ {
		sendErr = c.Send(chunk)
	}
	require.Error(t, sendErr)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_RemoteCloseSetsErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":{"type":"server_error","message":"boom"}}`))
		conn.Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), Config{APIKey: "k", URL: wsURL(srv)}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	ev := <-c.Events()
	require.Equal(t, EventError, ev.Type)
	require.NotNil(t, ev.Error)
	assert.Contains(t, ev.Error.Error(), "boom")

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop after remote close")
	}
	_, open := <-c.Events()
	assert.False(t, open)
	assert.Error(t, c.Err())
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
	defer srv.Close()

	c, err := Dial(context.Background(), Config{APIKey: "k", URL: wsURL(srv)}, zerolog.Nop())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_ = c.Close()
		_ = c.Close()
	})
	assert.NoError(t, c.Err())
	assert.ErrorIs(t, c.Send(NewResponseCreate()), ErrClosed)
	<-c.Done()
}

func TestNewTextItem(t *testing.T) {
	b, err := json.Marshal(NewTextItem("ابدأ المكالمة"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"ابدأ المكالمة"}]}}`, string(b))
}
