package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/rpc"
	"github.com/MrWong99/parley/internal/sessionconfig"
	busmock "github.com/MrWong99/parley/pkg/bus/mock"
	"github.com/MrWong99/parley/pkg/egress"
	egressmock "github.com/MrWong99/parley/pkg/egress/mock"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/realtime"
	realtimemock "github.com/MrWong99/parley/pkg/provider/realtime/mock"
	"github.com/MrWong99/parley/pkg/room"
	roommock "github.com/MrWong99/parley/pkg/room/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	room   *roommock.Room
	model  *realtimemock.Provider
	sess   *realtimemock.Session
	egress *egressmock.Client
	llm    *llmmock.Provider
	bus    *busmock.Producer
}

func metadata(modalities, apiKey string) string {
	return `{"openai_api_key":"` + apiKey + `","instructions":"be helpful","voice":"alloy",` +
		`"temperature":"0.8","max_output_tokens":"inf","modalities":"` + modalities + `","turn_detection":"","jwtToken":""}`
}

func newHarness(meta string) (*harness, Config) {
	p := room.Participant{
		Identity: "user-1",
		Metadata: meta,
		Tracks:   []room.Track{{SID: "TR_mic", Source: room.SourceMicrophone}},
	}
	h := &harness{
		room:   roommock.New("room-1", p),
		sess:   realtimemock.NewSession(),
		egress: &egressmock.Client{Handle: egress.Handle{EgressID: "EG_1"}},
		llm:    &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "They said hello."}},
		bus:    &busmock.Producer{},
	}
	h.model = &realtimemock.Provider{Session: h.sess}
	return h, Config{
		Room:        h.room,
		Participant: p,
		Model:       h.model,
		Egress:      h.egress,
		Storage:     egress.S3{Bucket: "recordings", Region: "eu-central-1"},
		Summary:     h.llm,
		Bus:         h.bus,
		InstanceID:  "parley-test",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStart_MissingAPIKey(t *testing.T) {
	h, cfg := newHarness(metadata("text_and_audio", ""))

	_, err := Start(context.Background(), cfg)
	if !errors.Is(err, sessionconfig.ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if n := len(h.model.Calls()); n != 0 {
		t.Errorf("model connected %d times, want 0", n)
	}
}

func TestStart_MalformedMetadata(t *testing.T) {
	_, cfg := newHarness("{")
	if _, err := Start(context.Background(), cfg); !errors.Is(err, sessionconfig.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestStart_ConnectError(t *testing.T) {
	h, cfg := newHarness(metadata("text_and_audio", "sk-test"))
	h.model.ConnectErr = errors.New("401")
	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestStart_Greeting(t *testing.T) {
	tests := []struct {
		modalities string
		want       int
	}{
		{"text_and_audio", 1},
		{"text_only", 0},
	}
	for _, tt := range tests {
		t.Run(tt.modalities, func(t *testing.T) {
			h, cfg := newHarness(metadata(tt.modalities, "sk-test"))
			s, err := Start(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer s.Close(context.Background())

			msgs := h.sess.UserMessageCalls()
			if len(msgs) != tt.want {
				t.Fatalf("got %d greeting messages, want %d", len(msgs), tt.want)
			}
			if tt.want == 1 {
				if msgs[0].Text != GreetingText {
					t.Errorf("greeting = %q", msgs[0].Text)
				}
				if len(msgs[0].ID) != 10 {
					t.Errorf("greeting id %q has length %d, want 10", msgs[0].ID, len(msgs[0].ID))
				}
			}
		})
	}
}

func TestStart_ConnectsWithParticipantConfig(t *testing.T) {
	h, cfg := newHarness(metadata("text_only", "sk-test"))
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close(context.Background())

	calls := h.model.Calls()
	if len(calls) != 1 {
		t.Fatalf("connect calls = %d", len(calls))
	}
	p := calls[0].Params
	if p.Instructions != "be helpful" || p.MaxOutputTokens != realtime.UnboundedTokens {
		t.Errorf("params = %+v", p)
	}
	for _, m := range []string{rpc.MethodUpdateConfig, rpc.MethodGetSummary} {
		if !h.room.Registered(m) {
			t.Errorf("%s not registered", m)
		}
	}
}

func TestStart_RegisterErrorClosesModel(t *testing.T) {
	h, cfg := newHarness(metadata("text_only", "sk-test"))
	h.room.RegisterErr = errors.New("room gone")
	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
	if h.sess.Closes() != 1 {
		t.Errorf("model closed %d times, want 1", h.sess.Closes())
	}
}

func TestRun_DispatchesModelEvents(t *testing.T) {
	h, cfg := newHarness(metadata("text_only", "sk-test"))
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	h.sess.EventsCh <- realtime.Event{Type: realtime.EventSpeechStarted}
	h.sess.EventsCh <- realtime.Event{Type: realtime.EventTranscriptionCompleted, Transcript: "hi"}
	h.sess.EventsCh <- realtime.Event{
		Type:     realtime.EventResponseDone,
		Response: realtime.Response{ID: "resp_1", Status: realtime.StatusFailed, ErrorCode: "rate_limit_exceeded"},
	}
	h.sess.EventsCh <- realtime.Event{
		Type:     realtime.EventResponseDone,
		Response: realtime.Response{ID: "resp_2", Status: realtime.StatusCompleted},
	}

	waitFor(t, "transcriptions", func() bool { return len(h.room.Transcriptions()) == 2 })
	waitFor(t, "toast", func() bool { return len(h.room.RPCCalls()) == 1 })

	ts := h.room.Transcriptions()
	if ts[0].Segments[0].Final || !ts[1].Segments[0].Final {
		t.Errorf("want open then final segment, got %+v", ts)
	}
	if ts[0].TrackSID != "TR_mic" {
		t.Errorf("track = %q", ts[0].TrackSID)
	}

	call := h.room.RPCCalls()[0]
	if call.Method != notify.ToastMethod || call.DestinationIdentity != "user-1" {
		t.Errorf("toast call = %+v", call)
	}
	if !strings.Contains(call.Payload, `"title":"Rate limit exceeded"`) || !strings.Contains(call.Payload, `"variant":"destructive"`) {
		t.Errorf("toast payload = %s", call.Payload)
	}

	h.sess.End()
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRun_ModelError(t *testing.T) {
	h, cfg := newHarness(metadata("text_only", "sk-test"))
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close(context.Background())

	h.sess.SessionErr = errors.New("websocket closed")
	h.sess.End()
	if err := s.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "websocket closed") {
		t.Fatalf("Run err = %v", err)
	}
}

func TestRun_RoomDisconnect(t *testing.T) {
	h, cfg := newHarness(metadata("text_only", "sk-test"))
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close(context.Background())

	h.room.Disconnect()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_ContextDone(t *testing.T) {
	_, cfg := newHarness(metadata("text_only", "sk-test"))
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSession_UpdateThenSummary(t *testing.T) {
	h, cfg := newHarness(metadata("text_only", "sk-test"))
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := h.room.Invoke(context.Background(), rpc.MethodUpdateConfig, "user-1",
		strings.Replace(metadata("text_only", "sk-test"), "be helpful", "be terse", 1))
	if err != nil || got != `{"changed":true}` {
		t.Fatalf("updateConfig = (%q, %v)", got, err)
	}
	if s.Config().Instructions != "be terse" {
		t.Errorf("active instructions = %q", s.Config().Instructions)
	}
	waitFor(t, "recording start", func() bool {
		_, ok := s.Recording()
		return ok
	})
	if rec, _ := s.Recording(); rec.EgressID != "EG_1" {
		t.Errorf("egress id = %q", rec.EgressID)
	}

	text, err := h.room.Invoke(context.Background(), rpc.MethodGetSummary, "user-1",
		`{"summaryInstruction":"Summarize","transcriptionsArray":[{"key":"A","value":{"firstReceivedTime":1,"text":"hello"}}]}`)
	if err != nil {
		t.Fatalf("getSummary: %v", err)
	}
	if text != "They said hello." {
		t.Errorf("summary = %q", text)
	}
	waitFor(t, "recording stop", func() bool { return len(h.egress.Stops()) == 1 })
	if starts := h.egress.Starts(); !starts[0].Storage.ForcePathStyle || starts[0].RoomName != "room-1" {
		t.Errorf("start request = %+v", starts[0])
	}

	recs := h.bus.Produced()
	if len(recs) != 1 {
		t.Fatalf("bus records = %d, want 1", len(recs))
	}
	if !strings.Contains(string(recs[0].Value), `"roomId":"room-1"`) || !strings.Contains(string(recs[0].Value), `"instanceId":"parley-test"`) {
		t.Errorf("record = %s", recs[0].Value)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	h, cfg := newHarness(metadata("text_only", "sk-test"))
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Close(context.Background()); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
	if h.sess.Closes() != 1 {
		t.Errorf("model closed %d times, want 1", h.sess.Closes())
	}
}
