package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/pam/internal/backoff"
	"github.com/haasonsaas/pam/pkg/models"
)

type countingObserver struct{ frames atomic.Int32 }

func (c *countingObserver) Frame(string, string, string) { c.frames.Add(1) }

// speechServer rejects the first failures handshakes, then upgrades and
// hands the connection to the test.
func speechServer(t *testing.T, failures int32) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	var seen atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen.Add(1) <= failures {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		t.Cleanup(func() { _ = ws.Close() })
		conns <- ws
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func fastRetry() backoff.Policy {
	return backoff.Policy{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2}
}

func TestWSSpeechLeg_RoundTrip(t *testing.T) {
	url, conns := speechServer(t, 2)
	obs := &countingObserver{}
	leg, err := DialSpeech(context.Background(), SpeechConfig{
		URL:      url,
		Voice:    "alloy",
		Backoff:  fastRetry(),
		Observer: obs,
	})
	if err != nil {
		t.Fatalf("DialSpeech: %v", err)
	}
	defer leg.Close()

	var server *websocket.Conn
	select {
	case server = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}

	// Transcripts and audio from the provider.
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"hel","is_final":false}`))
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","text":"ignored"}`))
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"hello","is_final":true}`))
	_ = server.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})

	for _, want := range []TranscriptEvent{{Text: "hel"}, {Text: "hello", IsFinal: true}} {
		select {
		case ev := <-leg.Events():
			if ev.Text != want.Text || ev.IsFinal != want.IsFinal {
				t.Errorf("event = %+v, want %+v", ev, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no transcript event")
		}
	}
	select {
	case chunk := <-leg.Audio():
		if len(chunk) != 3 {
			t.Errorf("audio chunk = %v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audio")
	}

	// Synthesis and microphone audio to the provider.
	if err := leg.Synthesize(context.Background(), "You spent $45.00."); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if err := leg.SendAudio([]byte{9, 9}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := server.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		t.Fatalf("read synthesize: %v (type %d)", err, mt)
	}
	var synth models.SynthesizeFrame
	if err := json.Unmarshal(data, &synth); err != nil {
		t.Fatal(err)
	}
	if synth.Type != models.FrameSynthesize || synth.Text != "You spent $45.00." || synth.Voice != "alloy" {
		t.Errorf("synthesize frame = %+v", synth)
	}
	mt, data, err = server.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage || len(data) != 2 {
		t.Errorf("audio frame: type %d data %v err %v", mt, data, err)
	}

	if got := obs.frames.Load(); got != 3 {
		t.Errorf("observed %d frames, want 3", got)
	}
}

func TestWSSpeechLeg_ClosesChannelsOnDisconnect(t *testing.T) {
	url, conns := speechServer(t, 0)
	leg, err := DialSpeech(context.Background(), SpeechConfig{URL: url, Backoff: fastRetry()})
	if err != nil {
		t.Fatalf("DialSpeech: %v", err)
	}
	server := <-conns
	_ = server.Close()

	select {
	case _, ok := <-leg.Events():
		if ok {
			t.Error("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events not closed")
	}
	if err := leg.Synthesize(context.Background(), "hi"); err == nil {
		t.Error("Synthesize on a closed leg should fail")
	}
}

func TestDialSpeech_GivesUp(t *testing.T) {
	url, _ := speechServer(t, 100)
	_, err := DialSpeech(context.Background(), SpeechConfig{URL: url, Backoff: fastRetry(), MaxDialAttempts: 3})
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if !strings.Contains(err.Error(), "dial speech provider") {
		t.Errorf("error = %v", err)
	}
}

func TestDialSpeech_RequiresURL(t *testing.T) {
	if _, err := DialSpeech(context.Background(), SpeechConfig{}); err == nil {
		t.Fatal("expected error")
	}
}
