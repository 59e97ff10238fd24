// Package conversation implements the Conversation agent (§4.5.1):
// format detection, structure validation, and LLM-driven metadata
// extraction for an OpenEphys dataset, followed by a handoff to the
// Conversion agent.
package conversation

import (
	"os"
	"path/filepath"
	"strings"
)

// settingsFileName is the canonical OpenEphys settings-file name
// (§4.5.1 step 1's "recognizable settings file").
const settingsFileName = "settings.xml"

// rawRecordingSuffixes are the OpenEphys raw-recording file suffixes:
// ".continuous" from the legacy per-channel format, ".dat" from the
// newer binary format.
var rawRecordingSuffixes = []string{".continuous", ".dat"}

// docSuffixes are treated as documentation files for metadata
// extraction (§4.5.1 step 3).
var docSuffixes = []string{".txt", ".md", ".rtf"}

// datasetListing is the result of walking a dataset root once, shared
// by format detection and structure validation so neither repeats the
// filesystem walk.
type datasetListing struct {
	hasSettings    bool
	rawFiles       []string
	docFiles       []string
	allFiles       []string
	totalByteSize  int64
}

func listDataset(root string) (datasetListing, error) {
	var out datasetListing

	entries, err := os.ReadDir(root)
	if err != nil {
		return out, err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		out.allFiles = append(out.allFiles, name)

		info, err := e.Info()
		if err == nil {
			out.totalByteSize += info.Size()
		}

		if strings.EqualFold(name, settingsFileName) {
			out.hasSettings = true
			continue
		}
		if hasAnySuffix(name, rawRecordingSuffixes) {
			out.rawFiles = append(out.rawFiles, filepath.Join(root, name))
			continue
		}
		if hasAnySuffix(name, docSuffixes) {
			out.docFiles = append(out.docFiles, filepath.Join(root, name))
		}
	}

	return out, nil
}

func hasAnySuffix(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// detectedFormat is the §4.5.1 step-1 classification.
type detectedFormat string

const (
	formatOpenEphys detectedFormat = "openephys"
	formatUnknown   detectedFormat = "unknown"
)

// detectFormat classifies a dataset as openephys if it contains a
// recognizable settings file OR one or more raw-recording files with
// an OpenEphys suffix; anything else is unknown.
func detectFormat(l datasetListing) detectedFormat {
	if l.hasSettings || len(l.rawFiles) > 0 {
		return formatOpenEphys
	}
	return formatUnknown
}
