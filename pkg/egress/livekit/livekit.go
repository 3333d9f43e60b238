// Package livekit implements egress.Client with the LiveKit egress service.
package livekit

import (
	"context"
	"fmt"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/MrWong99/parley/pkg/egress"
)

var _ egress.Client = (*Client)(nil)

// Client implements egress.Client.
type Client struct {
	ec *lksdk.EgressClient
}

// New returns a Client for the LiveKit server at url.
func New(url, apiKey, apiSecret string) *Client {
	return &Client{ec: lksdk.NewEgressClient(url, apiKey, apiSecret)}
}

// Start begins an audio-only MP4 room-composite recording uploaded to S3.
func (c *Client) Start(ctx context.Context, req egress.Request) (egress.Handle, error) {
	info, err := c.ec.StartRoomCompositeEgress(ctx, buildRequest(req))
	if err != nil {
		return egress.Handle{}, fmt.Errorf("livekit egress: start: %w", err)
	}
	return egress.Handle{EgressID: info.GetEgressId()}, nil
}

// Stop ends the recording identified by h.
func (c *Client) Stop(ctx context.Context, h egress.Handle) error {
	if _, err := c.ec.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: h.EgressID}); err != nil {
		return fmt.Errorf("livekit egress: stop %s: %w", h.EgressID, err)
	}
	return nil
}

func buildRequest(req egress.Request) *livekit.RoomCompositeEgressRequest {
	return &livekit.RoomCompositeEgressRequest{
		RoomName:  req.RoomName,
		AudioOnly: true,
		FileOutputs: []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_MP4,
			Filepath: req.Filepath,
			Output: &livekit.EncodedFileOutput_S3{
				S3: &livekit.S3Upload{
					AccessKey:      req.Storage.AccessKey,
					Secret:         req.Storage.Secret,
					Region:         req.Storage.Region,
					Bucket:         req.Storage.Bucket,
					Endpoint:       req.Storage.Endpoint,
					ForcePathStyle: req.Storage.ForcePathStyle,
				},
			},
		}},
	}
}
