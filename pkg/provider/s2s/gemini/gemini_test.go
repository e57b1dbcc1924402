package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/knearme/livevoice/pkg/audio"
	"github.com/knearme/livevoice/pkg/provider/s2s"
	"github.com/knearme/livevoice/pkg/provider/s2s/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

type realtimeMsg struct {
	RealtimeInput struct {
		MediaChunks []struct {
			MIMEType string `json:"mimeType"`
			Data     string `json:"data"`
		} `json:"mediaChunks"`
		ActivityStart  *struct{} `json:"activityStart"`
		ActivityEnd    *struct{} `json:"activityEnd"`
		AudioStreamEnd bool      `json:"audioStreamEnd"`
	} `json:"realtimeInput"`
}

// ── Option constructor tests ───────────────────────────────────────────────────

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

func TestConnect_APIKeyInURL(t *testing.T) {
	t.Parallel()

	keyCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case key := <-keyCh:
		if key != "test-api-key" {
			t.Errorf("key = %q, want %q", key, "test-api-key")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for connection")
	}
}

func TestConnect_DialError(t *testing.T) {
	t.Parallel()

	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, s2s.SessionConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

// ── TestCapabilities ───────────────────────────────────────────────────────────

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := gemini.New("key").Capabilities()
	if caps.InputSampleRate != audio.InputSampleRate {
		t.Errorf("InputSampleRate = %d, want %d", caps.InputSampleRate, audio.InputSampleRate)
	}
	if caps.OutputSampleRate != audio.OutputSampleRate {
		t.Errorf("OutputSampleRate = %d, want %d", caps.OutputSampleRate, audio.OutputSampleRate)
	}
	if caps.MaxSessionDuration == 0 {
		t.Error("MaxSessionDuration should be non-zero")
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
}

// ── TestConnect_SendsSetup ─────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			RealtimeInputConfig *struct {
				AutomaticActivityDetection struct {
					Disabled bool `json:"disabled"`
				} `json:"automaticActivityDetection"`
			} `json:"realtimeInputConfig"`
			InputAudioTranscription *struct{} `json:"inputAudioTranscription"`
		} `json:"setup"`
	}

	tests := []struct {
		name   string
		cfg    s2s.SessionConfig
		verify func(t *testing.T, m setupMsg)
	}{
		{
			name: "defaults",
			cfg:  s2s.SessionConfig{},
			verify: func(t *testing.T, m setupMsg) {
				if m.Setup.Model != "models/gemini-2.0-flash-live-001" {
					t.Errorf("model = %q", m.Setup.Model)
				}
				if len(m.Setup.GenerationConfig.ResponseModalities) != 1 || m.Setup.GenerationConfig.ResponseModalities[0] != "AUDIO" {
					t.Errorf("responseModalities = %v, want [AUDIO]", m.Setup.GenerationConfig.ResponseModalities)
				}
				if m.Setup.SystemInstruction != nil {
					t.Error("systemInstruction should be omitted")
				}
				if m.Setup.GenerationConfig.SpeechConfig != nil {
					t.Error("speechConfig should be omitted without a voice")
				}
				if m.Setup.RealtimeInputConfig != nil {
					t.Error("realtimeInputConfig should be omitted with automatic activity")
				}
				if m.Setup.InputAudioTranscription == nil {
					t.Error("inputAudioTranscription should be requested")
				}
			},
		},
		{
			name: "voice instructions and manual activity",
			cfg: s2s.SessionConfig{
				Voice:          "Kore",
				Instructions:   "Answer briefly.",
				ManualActivity: true,
			},
			verify: func(t *testing.T, m setupMsg) {
				sc := m.Setup.GenerationConfig.SpeechConfig
				if sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
					t.Errorf("speechConfig = %+v, want voice Kore", sc)
				}
				si := m.Setup.SystemInstruction
				if si == nil || len(si.Parts) != 1 || si.Parts[0].Text != "Answer briefly." {
					t.Errorf("systemInstruction = %+v", si)
				}
				ric := m.Setup.RealtimeInputConfig
				if ric == nil || !ric.AutomaticActivityDetection.Disabled {
					t.Errorf("realtimeInputConfig = %+v, want detection disabled", ric)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			received := make(chan setupMsg, 1)
			srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
				var m setupMsg
				readJSON(t, conn, &m)
				received <- m
				sendSetupComplete(t, conn)
				<-conn.CloseRead(context.Background()).Done()
			})

			handle, err := newProvider(srv).Connect(context.Background(), tc.cfg)
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer handle.Close()

			select {
			case m := <-received:
				tc.verify(t, m)
			case <-time.After(3 * time.Second):
				t.Fatal("timeout waiting for setup message")
			}
		})
	}
}

// ── Outbound audio ─────────────────────────────────────────────────────────────

func TestSendAudio_ForwardsFrame(t *testing.T) {
	t.Parallel()

	got := make(chan realtimeMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		var m realtimeMsg
		readJSON(t, conn, &m)
		got <- m
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	frame := audio.EncodedFrame{
		MIMEType: audio.MIMEType(audio.InputSampleRate),
		Data:     audio.EncodeSamples([]int16{1, -1, 32767}),
	}
	if err := handle.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case m := <-got:
		chunks := m.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("got %d media chunks, want 1", len(chunks))
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q", chunks[0].MIMEType)
		}
		if chunks[0].Data != frame.Data {
			t.Errorf("data = %q, want %q", chunks[0].Data, frame.Data)
		}
		if m.RealtimeInput.ActivityStart != nil {
			t.Error("activityStart sent with automatic activity detection")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio")
	}
}

func TestEndAudio_AutomaticSendsStreamEnd(t *testing.T) {
	t.Parallel()

	got := make(chan realtimeMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		var m realtimeMsg
		readJSON(t, conn, &m)
		got <- m
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.EndAudio(); err != nil {
		t.Fatalf("EndAudio: %v", err)
	}

	select {
	case m := <-got:
		if !m.RealtimeInput.AudioStreamEnd {
			t.Error("audioStreamEnd = false, want true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audioStreamEnd")
	}
}

func TestManualActivity_BracketsUtterance(t *testing.T) {
	t.Parallel()

	msgs := make(chan realtimeMsg, 4)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		for range 4 {
			var m realtimeMsg
			readJSON(t, conn, &m)
			msgs <- m
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{ManualActivity: true})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	frame := audio.EncodedFrame{
		MIMEType: audio.MIMEType(audio.InputSampleRate),
		Data:     audio.EncodeSamples(make([]int16, 4)),
	}
	for range 2 {
		if err := handle.SendAudio(frame); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := handle.EndAudio(); err != nil {
		t.Fatalf("EndAudio: %v", err)
	}

	var seq []string
	for range 4 {
		select {
		case m := <-msgs:
			switch {
			case m.RealtimeInput.ActivityStart != nil:
				seq = append(seq, "start")
			case m.RealtimeInput.ActivityEnd != nil:
				seq = append(seq, "end")
			case len(m.RealtimeInput.MediaChunks) > 0:
				seq = append(seq, "audio")
			default:
				seq = append(seq, "other")
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout; sequence so far %v", seq)
		}
	}

	want := []string{"start", "audio", "audio", "end"}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", seq, want)
		}
	}
}

func TestSendText_SendsClientContent(t *testing.T) {
	t.Parallel()

	type clientMsg struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}

	got := make(chan clientMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		var m clientMsg
		readJSON(t, conn, &m)
		got <- m
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case m := <-got:
		cc := m.ClientContent
		if !cc.TurnComplete {
			t.Error("turnComplete = false")
		}
		if len(cc.Turns) != 1 || cc.Turns[0].Role != "user" || cc.Turns[0].Parts[0].Text != "hello" {
			t.Errorf("turns = %+v", cc.Turns)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for clientContent")
	}
}

// ── Inbound messages ───────────────────────────────────────────────────────────

func TestAudio_EmitsEncodedFrames(t *testing.T) {
	t.Parallel()

	reply := audio.EncodedFrame{
		MIMEType: audio.MIMEType(audio.OutputSampleRate),
		Data:     audio.EncodeSamples([]int16{100, -100}),
	}
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "image/png", "data": "AAAA"}},
						{"inlineData": map[string]any{"mimeType": reply.MIMEType, "data": reply.Data}},
					},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case f := <-handle.Audio():
		if f != reply {
			t.Errorf("frame = %+v, want %+v", f, reply)
		}
		pcm, err := audio.DecodeAudioFrame(f)
		if err != nil {
			t.Fatalf("DecodeAudioFrame: %v", err)
		}
		samples := audio.BytesToInt16(pcm.Data)
		if pcm.SampleRate != audio.OutputSampleRate || len(samples) != 2 || samples[0] != 100 {
			t.Errorf("decoded %v @ %d", samples, pcm.SampleRate)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio")
	}
}

func TestTranscripts(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription":  map[string]any{"text": "what time is it"},
				"outputTranscription": map[string]any{"text": "noon"},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	want := []s2s.Transcript{
		{Role: s2s.RoleUser, Text: "what time is it"},
		{Role: s2s.RoleModel, Text: "noon"},
	}
	for i, w := range want {
		select {
		case tr := <-handle.Transcripts():
			if tr.Role != w.Role || tr.Text != w.Text {
				t.Errorf("transcript %d = %+v, want %+v", i, tr, w)
			}
			if tr.Timestamp.IsZero() {
				t.Errorf("transcript %d has zero timestamp", i)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for transcript %d", i)
		}
	}
}

func TestOnError_ServerError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		// Give the client time to register its handler.
		time.Sleep(50 * time.Millisecond)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 400, "message": "bad audio"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	errCh := make(chan error, 1)
	handle.OnError(func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		if !strings.Contains(err.Error(), "bad audio") {
			t.Errorf("error = %v, want it to mention the server message", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error callback")
	}
}

func TestErr_SetOnAbnormalClose(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		conn.Close(websocket.StatusInternalError, "boom")
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case _, ok := <-handle.Audio():
		if ok {
			t.Fatal("expected closed audio channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio channel to close")
	}
	if handle.Err() == nil {
		t.Error("Err() = nil after abnormal close")
	}
}

// ── Close ──────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := handle.SendAudio(audio.EncodedFrame{}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if err := handle.EndAudio(); err == nil {
		t.Error("EndAudio after Close should fail")
	}
	if err := handle.SendText("x"); err == nil {
		t.Error("SendText after Close should fail")
	}

	select {
	case _, ok := <-handle.Audio():
		if ok {
			t.Error("audio channel should be closed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("audio channel not closed after Close")
	}
	if err := handle.Err(); err != nil && !errors.Is(err, context.Canceled) {
		t.Logf("Err after Close: %v", err)
	}
}
