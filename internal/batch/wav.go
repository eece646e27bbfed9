package batch

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV persists mono 16-bit samples. The file is written to a .part name
// and renamed into place, so a crash mid-write can never leave a file that
// the resume check would mistake for a finished chapter.
func writeWAV(path string, samples []int, sampleRate int) error {
	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", part, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		_ = os.Remove(part)
		return fmt.Errorf("unable to encode %s: %w", part, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(part)
		return fmt.Errorf("unable to finalize %s: %w", part, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("unable to close %s: %w", part, err)
	}

	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("unable to move %s into place: %w", part, err)
	}
	return nil
}
