// Package livekit implements room.Room on top of the LiveKit server SDK.
//
// The agent joins as a ParticipantAgent with auto-subscribe enabled. Remote
// participants are tracked in join order so the "first participant" seen by
// callers is stable across calls.
package livekit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/MrWong99/parley/pkg/room"
)

var _ room.Room = (*Room)(nil)

// Config holds the connection settings for a LiveKit room.
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	RoomName  string

	// Identity is the agent's participant identity in the room.
	Identity string

	// Name is the agent's display name. Defaults to Identity.
	Name string
}

// Room is a connected LiveKit room.
type Room struct {
	lk *lksdk.Room

	// ctx is cancelled when the connection ends; inbound RPC handlers run
	// under contexts derived from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	order   []string
	arrived chan struct{}

	disconnectOnce sync.Once
}

// Connect joins the room described by cfg.
func Connect(ctx context.Context, cfg Config) (*Room, error) {
	if cfg.URL == "" || cfg.RoomName == "" {
		return nil, fmt.Errorf("livekit: url and room name are required")
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Identity
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		ctx:     rctx,
		cancel:  cancel,
		arrived: make(chan struct{}, 1),
	}

	cb := &lksdk.RoomCallback{
		OnParticipantConnected:    r.onParticipantConnected,
		OnParticipantDisconnected: r.onParticipantDisconnected,
		OnDisconnected:            cancel,
	}

	type result struct {
		lk  *lksdk.Room
		err error
	}
	done := make(chan result, 1)
	go func() {
		lk, err := lksdk.ConnectToRoom(cfg.URL, lksdk.ConnectInfo{
			APIKey:              cfg.APIKey,
			APISecret:           cfg.APISecret,
			RoomName:            cfg.RoomName,
			ParticipantIdentity: cfg.Identity,
			ParticipantName:     name,
			ParticipantKind:     lksdk.ParticipantAgent,
		}, cb, lksdk.WithAutoSubscribe(true))
		done <- result{lk, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			cancel()
			return nil, fmt.Errorf("livekit: connect to room %q: %w", cfg.RoomName, res.err)
		}
		r.lk = res.lk
	case <-ctx.Done():
		cancel()
		go func() {
			if res := <-done; res.lk != nil {
				res.lk.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	// Participants already present when we joined.
	r.mu.Lock()
	for _, rp := range r.lk.GetRemoteParticipants() {
		r.addLocked(rp.Identity())
	}
	r.mu.Unlock()

	slog.Info("livekit: connected", "room", r.lk.Name(), "identity", cfg.Identity)
	return r, nil
}

func (r *Room) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	r.mu.Lock()
	r.addLocked(rp.Identity())
	r.mu.Unlock()
	slog.Info("livekit: participant connected", "identity", rp.Identity())
}

func (r *Room) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	r.mu.Lock()
	for i, id := range r.order {
		if id == rp.Identity() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	slog.Info("livekit: participant disconnected", "identity", rp.Identity())
}

// addLocked records identity in join order. r.mu must be held.
func (r *Room) addLocked(identity string) {
	for _, id := range r.order {
		if id == identity {
			return
		}
	}
	r.order = append(r.order, identity)
	select {
	case r.arrived <- struct{}{}:
	default:
	}
}

// Name implements room.Room.
func (r *Room) Name() string { return r.lk.Name() }

// RemoteParticipants implements room.Room.
func (r *Room) RemoteParticipants() []room.Participant {
	byID := make(map[string]*lksdk.RemoteParticipant)
	for _, rp := range r.lk.GetRemoteParticipants() {
		byID[rp.Identity()] = rp
	}

	r.mu.Lock()
	order := append([]string(nil), r.order...)
	r.mu.Unlock()

	out := make([]room.Participant, 0, len(byID))
	for _, id := range order {
		if rp, ok := byID[id]; ok {
			out = append(out, toParticipant(rp))
			delete(byID, id)
		}
	}
	// Anything the SDK knows about that we missed a callback for.
	for _, rp := range byID {
		out = append(out, toParticipant(rp))
	}
	return out
}

func toParticipant(rp *lksdk.RemoteParticipant) room.Participant {
	p := room.Participant{
		Identity: rp.Identity(),
		Name:     rp.Name(),
		Metadata: rp.Metadata(),
	}
	for _, pub := range rp.TrackPublications() {
		p.Tracks = append(p.Tracks, room.Track{SID: pub.SID(), Source: toSource(pub.Source())})
	}
	return p
}

func toSource(s livekit.TrackSource) room.TrackSource {
	switch s {
	case livekit.TrackSource_MICROPHONE:
		return room.SourceMicrophone
	case livekit.TrackSource_CAMERA:
		return room.SourceCamera
	case livekit.TrackSource_SCREEN_SHARE:
		return room.SourceScreenShare
	case livekit.TrackSource_SCREEN_SHARE_AUDIO:
		return room.SourceScreenShareAudio
	default:
		return room.SourceUnknown
	}
}

// WaitForParticipant implements room.Room.
func (r *Room) WaitForParticipant(ctx context.Context) (room.Participant, error) {
	for {
		if ps := r.RemoteParticipants(); len(ps) > 0 {
			return ps[0], nil
		}
		select {
		case <-r.arrived:
		case <-ctx.Done():
			return room.Participant{}, ctx.Err()
		case <-r.ctx.Done():
			return room.Participant{}, room.ErrNotConnected
		}
	}
}

// RegisterRPC implements room.Room.
func (r *Room) RegisterRPC(method string, h room.Handler) error {
	r.lk.UnregisterRpcMethod(method)
	err := r.lk.RegisterRpcMethod(method, func(data lksdk.RpcInvocationData) (string, error) {
		ctx := r.ctx
		if data.ResponseTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, data.ResponseTimeout)
			defer cancel()
		}
		return h(ctx, room.Invocation{
			RequestID:       data.RequestID,
			CallerIdentity:  data.CallerIdentity,
			Payload:         data.Payload,
			ResponseTimeout: data.ResponseTimeout,
		})
	})
	if err != nil {
		return fmt.Errorf("livekit: register rpc %q: %w", method, err)
	}
	return nil
}

// PerformRPC implements room.Room. The SDK call is not context-aware; ctx's
// deadline, if any, bounds the response timeout.
func (r *Room) PerformRPC(ctx context.Context, call room.Call) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := lksdk.PerformRpcParams{
		DestinationIdentity: call.DestinationIdentity,
		Method:              call.Method,
		Payload:             call.Payload,
	}
	timeout := call.ResponseTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout > 0 {
		params.ResponseTimeout = &timeout
	}

	resp, err := r.lk.LocalParticipant.PerformRpc(params)
	if err != nil {
		return "", fmt.Errorf("livekit: rpc %q to %q: %w", call.Method, call.DestinationIdentity, err)
	}
	if resp == nil {
		return "", nil
	}
	return *resp, nil
}

// PublishTranscription implements room.Room.
func (r *Room) PublishTranscription(ctx context.Context, t room.Transcription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-r.ctx.Done():
		return room.ErrNotConnected
	default:
	}
	if err := r.lk.LocalParticipant.PublishDataPacket(transcriptionPacket(t)); err != nil {
		return fmt.Errorf("livekit: publish transcription: %w", err)
	}
	return nil
}

// transcriptionPacket adapts a room.Transcription to the SDK's DataPacket.
type transcriptionPacket room.Transcription

func (t transcriptionPacket) ToProto() *livekit.DataPacket {
	segs := make([]*livekit.TranscriptionSegment, 0, len(t.Segments))
	for _, s := range t.Segments {
		segs = append(segs, &livekit.TranscriptionSegment{
			Id:        s.ID,
			Text:      s.Text,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Final:     s.Final,
			Language:  s.Language,
		})
	}
	return &livekit.DataPacket{
		Value: &livekit.DataPacket_Transcription{
			Transcription: &livekit.Transcription{
				TranscribedParticipantIdentity: t.ParticipantIdentity,
				TrackId:                        t.TrackSID,
				Segments:                       segs,
			},
		},
	}
}

// Done implements room.Room.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// Disconnect implements room.Room.
func (r *Room) Disconnect() {
	r.disconnectOnce.Do(func() {
		r.lk.Disconnect()
		r.cancel()
	})
}
