// Package recording implements the recorded-clip collaborator (spec §6
// "Object-store uploader"): a WAV writer grounded on
// original_source/s3_upload.py's write_wav_header, and an S3 uploader built
// on github.com/aws/aws-sdk-go-v2/service/s3 — found in the pack's voice
// service manifest (other_examples/manifests/xingjian-wati-astra-voice-service)
// as the idiomatic Go client for exactly this job, replacing boto3.
package recording

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"echostream/internal/core"
)

const (
	sampleRate    = core.SampleRate
	bitsPerSample = 16
	channels      = 1
)

// WriteWAV writes a mono 16-bit PCM WAV file to path from float32 samples
// in [-1, 1] (original_source/s3_upload.py's write_wav_header, ported from
// struct.pack to encoding/binary).
func WriteWAV(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recording: create %s: %w", path, err)
	}
	defer f.Close()

	dataBytes := len(samples) * 2
	if err := writeHeader(f, dataBytes); err != nil {
		return err
	}

	buf := make([]byte, 2)
	for _, s := range samples {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("recording: write sample: %w", err)
		}
	}
	return nil
}

func writeHeader(f *os.File, dataBytes int) error {
	var h bytes.Buffer
	h.WriteString("RIFF")
	binary.Write(&h, binary.LittleEndian, uint32(36+dataBytes))
	h.WriteString("WAVE")
	h.WriteString("fmt ")
	binary.Write(&h, binary.LittleEndian, uint32(16))
	binary.Write(&h, binary.LittleEndian, uint16(1))
	binary.Write(&h, binary.LittleEndian, uint16(channels))
	binary.Write(&h, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&h, binary.LittleEndian, uint32(sampleRate*channels*bitsPerSample/8))
	binary.Write(&h, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(&h, binary.LittleEndian, uint16(bitsPerSample))
	h.WriteString("data")
	binary.Write(&h, binary.LittleEndian, uint32(dataBytes))
	_, err := f.Write(h.Bytes())
	return err
}

// Uploader implements core.ClipUploader over an S3 bucket
// (original_source/s3_upload.py's upload_audio_to_s3).
type Uploader struct {
	client *s3.Client
	bucket string
}

// NewUploader wraps an already-configured S3 client.
func NewUploader(client *s3.Client, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket}
}

// Upload reads the WAV file at path and puts it to
// s3://bucket/recordings/{timestamp}-{toneAHz}-{toneBHz}.wav, matching
// original_source/s3_upload.py's key convention.
func (u *Uploader) Upload(path string, toneAHz, toneBHz float64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("recording: read %s: %w", path, err)
	}
	key := fmt.Sprintf("recordings/%d-%g-%g.wav", time.Now().Unix(), toneAHz, toneBHz)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("recording: put object %s: %w", key, err)
	}
	return nil
}

var _ core.ClipUploader = (*Uploader)(nil)
