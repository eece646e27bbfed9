package kokoro

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// loadVoices enumerates the voice identifiers declared in the voices file.
// The file is a JSON object keyed by voice name; the embedding payloads are
// irrelevant here and left unparsed.
func loadVoices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read voices file: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unable to parse voices file %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoVoicesDeclared, path)
	}

	voices := make([]string, 0, len(entries))
	for name := range entries {
		voices = append(voices, name)
	}
	sort.Strings(voices)
	return voices, nil
}
