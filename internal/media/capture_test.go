package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/roomline/internal/session"
)

// writeIVF writes a VP8 IVF file of n tiny frames at one frame per
// millisecond.
func writeIVF(t *testing.T, n int) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 64)
	binary.LittleEndian.PutUint16(header[14:16], 48)
	binary.LittleEndian.PutUint32(header[16:20], 1000)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(n))

	data := header
	for i := 0; i < n; i++ {
		frame := []byte{0x10, 0x02, 0x00, byte(i)}
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		data = append(data, fh...)
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "source.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCapturer_Unavailable(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.ogg")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	camera := writeIVF(t, 2)

	tests := []struct {
		name    string
		devices Devices
	}{
		{"not configured", Devices{Camera: camera}},
		{"missing microphone", Devices{Camera: camera, Microphone: filepath.Join(dir, "nope.ogg")}},
		{"empty microphone", Devices{Camera: camera, Microphone: empty}},
		{"directory", Devices{Camera: dir, Microphone: empty}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCapturer(tt.devices, zerolog.Nop())
			audio, video, err := c.CaptureMicrophoneAndCamera(context.Background())
			require.ErrorIs(t, err, session.ErrMediaUnavailable)
			assert.Nil(t, audio)
			assert.Nil(t, video)
		})
	}

	_, err := NewCapturer(Devices{}, zerolog.Nop()).CaptureDisplay(context.Background())
	require.ErrorIs(t, err, session.ErrMediaUnavailable)
}

func TestStream_DisplayEndsAtEOF(t *testing.T) {
	c := NewCapturer(Devices{Display: writeIVF(t, 3)}, zerolog.Nop())
	display, err := c.CaptureDisplay(context.Background())
	require.NoError(t, err)
	defer display.Close()

	ended := make(chan struct{})
	display.OnEnded(func() { close(ended) })

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("display never ended")
	}
	assert.Equal(t, int64(3), display.(*Stream).Written())

	late := make(chan struct{})
	display.OnEnded(func() { close(late) })
	select {
	case <-late:
	default:
		t.Fatal("OnEnded after the end should run immediately")
	}
}

func TestStream_CameraLoops(t *testing.T) {
	camera, err := newStream(session.KindVideo, writeIVF(t, 2), true, zerolog.Nop())
	require.NoError(t, err)

	ended := make(chan struct{})
	camera.OnEnded(func() { close(ended) })

	assert.Eventually(t, func() bool { return camera.Written() > 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, camera.Close())

	select {
	case <-ended:
		t.Fatal("closing a stream is not an end")
	default:
	}
}
