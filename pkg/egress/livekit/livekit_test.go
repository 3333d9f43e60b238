package livekit

import (
	"testing"

	"github.com/livekit/protocol/livekit"

	"github.com/MrWong99/parley/pkg/egress"
)

func TestBuildRequest(t *testing.T) {
	got := buildRequest(egress.Request{
		RoomName: "room-1",
		Filepath: "livekit_room-1_to_room-1_at_1700000000000_audio.mp4",
		Storage: egress.S3{
			Bucket:         "recordings",
			Region:         "eu-central-1",
			AccessKey:      "AK",
			Secret:         "SK",
			ForcePathStyle: true,
		},
	})

	if got.RoomName != "room-1" || !got.AudioOnly {
		t.Fatalf("unexpected request header: room=%q audioOnly=%v", got.RoomName, got.AudioOnly)
	}
	if len(got.FileOutputs) != 1 {
		t.Fatalf("expected 1 file output, got %d", len(got.FileOutputs))
	}
	out := got.FileOutputs[0]
	if out.FileType != livekit.EncodedFileType_MP4 {
		t.Errorf("file type = %v, want MP4", out.FileType)
	}
	if out.Filepath != "livekit_room-1_to_room-1_at_1700000000000_audio.mp4" {
		t.Errorf("filepath = %q", out.Filepath)
	}
	s3 := out.GetS3()
	if s3 == nil {
		t.Fatal("expected S3 output")
	}
	if s3.Bucket != "recordings" || s3.Region != "eu-central-1" || s3.AccessKey != "AK" || s3.Secret != "SK" {
		t.Errorf("unexpected S3 settings: %+v", s3)
	}
	if !s3.ForcePathStyle {
		t.Error("expected ForcePathStyle")
	}
}
