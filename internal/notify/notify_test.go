package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/realtime"
	roommock "github.com/MrWong99/parley/pkg/room/mock"
)

func TestFromResponse(t *testing.T) {
	tests := []struct {
		name      string
		resp      realtime.Response
		wantOK    bool
		wantTitle string
		wantDesc  string // "" means nil
		wantVar   Variant
	}{
		{"incomplete max tokens", realtime.Response{Status: realtime.StatusIncomplete, Reason: "max_output_tokens"},
			true, "Max output tokens reached", "Response may be incomplete", VariantWarning},
		{"incomplete content filter", realtime.Response{Status: realtime.StatusIncomplete, Reason: "content_filter"},
			true, "Content filter applied", "Response may be incomplete", VariantWarning},
		{"incomplete other reason", realtime.Response{Status: realtime.StatusIncomplete, Reason: "turn_detected"},
			true, "Response incomplete", "", VariantWarning},
		{"incomplete no reason", realtime.Response{Status: realtime.StatusIncomplete},
			true, "Response incomplete", "", VariantWarning},
		{"failed server error", realtime.Response{Status: realtime.StatusFailed, ErrorCode: "server_error"},
			true, "Server error", "", VariantDestructive},
		{"failed rate limit", realtime.Response{Status: realtime.StatusFailed, ErrorCode: "rate_limit_exceeded"},
			true, "Rate limit exceeded", "", VariantDestructive},
		{"failed unknown", realtime.Response{Status: realtime.StatusFailed},
			true, "Response failed", "", VariantDestructive},
		{"completed", realtime.Response{Status: realtime.StatusCompleted}, false, "", "", ""},
		{"cancelled", realtime.Response{Status: realtime.ParseResponseStatus("cancelled")}, false, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := FromResponse(tt.resp)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if n.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", n.Title, tt.wantTitle)
			}
			if n.Variant != tt.wantVar {
				t.Errorf("variant = %q, want %q", n.Variant, tt.wantVar)
			}
			switch {
			case tt.wantDesc == "" && n.Description != nil:
				t.Errorf("description = %q, want nil", *n.Description)
			case tt.wantDesc != "" && (n.Description == nil || *n.Description != tt.wantDesc):
				t.Errorf("description = %v, want %q", n.Description, tt.wantDesc)
			}
		})
	}
}

func TestNotification_JSON(t *testing.T) {
	n, _ := FromResponse(realtime.Response{Status: realtime.StatusFailed, ErrorCode: "server_error"})
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"title":"Server error","description":null,"variant":"destructive"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestToaster_Show(t *testing.T) {
	r := roommock.New("room-1")
	toaster := NewToaster(r, "user-1", WithTimeout(time.Second))

	n, _ := FromResponse(realtime.Response{Status: realtime.StatusIncomplete, Reason: "max_output_tokens"})
	if err := toaster.Show(context.Background(), n); err != nil {
		t.Fatalf("Show: %v", err)
	}

	calls := r.RPCCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 rpc call, got %d", len(calls))
	}
	c := calls[0]
	if c.Method != ToastMethod || c.DestinationIdentity != "user-1" {
		t.Errorf("unexpected call %+v", c)
	}
	want := `{"title":"Max output tokens reached","description":"Response may be incomplete","variant":"warning"}`
	if c.Payload != want {
		t.Errorf("payload = %s, want %s", c.Payload, want)
	}
}

func TestToaster_ShowError(t *testing.T) {
	r := roommock.New("room-1")
	r.PerformRPCErr = errors.New("participant gone")
	toaster := NewToaster(r, "user-1")

	err := toaster.Show(context.Background(), Notification{Title: "x", Variant: VariantWarning})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestToaster_UsesInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("room", "room-1", "participant", "user-1")
	toaster := NewToaster(roommock.New("room-1"), "user-1", WithLogger(log))

	if err := toaster.Show(context.Background(), Notification{Title: "Server error", Variant: VariantDestructive}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"toast sent", "room=room-1", "participant=user-1", "variant=destructive"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
