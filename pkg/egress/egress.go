// Package egress defines server-side room recording.
//
// parley records the room's mixed audio to an MP4 file in S3-compatible object
// storage. A Client starts such a recording and stops it by handle.
package egress

import "context"

// S3 holds object-storage upload settings.
type S3 struct {
	Bucket    string
	Region    string
	AccessKey string
	Secret    string
	Endpoint  string

	// ForcePathStyle selects path-style bucket addressing.
	ForcePathStyle bool
}

// Request describes an audio-only room-composite recording.
type Request struct {
	RoomName string

	// Filepath is the object key of the output file.
	Filepath string

	Storage S3
}

// Handle identifies a started recording.
type Handle struct {
	EgressID string
}

// Client starts and stops recordings. Implementations must be safe for
// concurrent use.
type Client interface {
	Start(ctx context.Context, req Request) (Handle, error)
	Stop(ctx context.Context, h Handle) error
}
