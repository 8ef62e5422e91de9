package pipeline

import (
	"context"
	"io"
	"os/exec"
	"path"
	"strconv"

	"github.com/rs/zerolog"
)

// ConsumerConfig describes the external transcoder invocation. The consumer
// reads one continuous MPEG-TS byte stream on stdin and produces a segmented
// HLS playlist in the session's output directory.
type ConsumerConfig struct {
	Binary      string `mapstructure:"binary"`
	VideoCodec  string `mapstructure:"video-codec"`
	AudioCodec  string `mapstructure:"audio-codec"`
	HLSTime     int    `mapstructure:"hls-time"`
	HLSListSize int    `mapstructure:"hls-list-size"`
	HLSFlags    string `mapstructure:"hls-flags"`
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Binary:      "ffmpeg",
		VideoCodec:  "libx264",
		AudioCodec:  "aac",
		HLSTime:     6,
		HLSListSize: 10,
		HLSFlags:    "delete_segments",
	}
}

const PlaylistName = "playlist.m3u8"

// ConsumerFactory builds the consumer process for one pipeline run, with its
// stdin connected to the producer pipe.
type ConsumerFactory func(ctx context.Context, stdin io.Reader, outputDir string, logger zerolog.Logger) (Process, error)

// FFmpegConsumer returns the default factory invoking ffmpeg.
func FFmpegConsumer(config ConsumerConfig) ConsumerFactory {
	return func(ctx context.Context, stdin io.Reader, outputDir string, logger zerolog.Logger) (Process, error) {
		args := buildConsumerArgs(config, outputDir)
		cmd := exec.CommandContext(ctx, config.Binary, args...)
		return newExecProcess(cmd, stdin, logger), nil
	}
}

func buildConsumerArgs(config ConsumerConfig, outputDir string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "mpegts", // exact container format expected on stdin
		"-i", "pipe:0",
		"-c:v", config.VideoCodec,
		"-c:a", config.AudioCodec,
		"-f", "hls",
		"-hls_time", strconv.Itoa(config.HLSTime),
		"-hls_list_size", strconv.Itoa(config.HLSListSize),
		"-hls_flags", config.HLSFlags,
		"-hls_segment_filename", path.Join(outputDir, "segment_%03d.ts"),
		path.Join(outputDir, PlaylistName),
	}
}
