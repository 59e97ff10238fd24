// Package conversion implements the Conversion agent (§4.5.2): builds
// NWB metadata substructures from the extracted Metadata, delegates to
// an opaque conversion library interface, and reports results (or an
// LLM-explained failure) back through a handoff to the Evaluation
// agent.
package conversion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SubjectBlock, FileLevelBlock and DeviceBlock are the NWB metadata
// substructures built from the session's extracted Metadata (§4.5.2
// step 2).
type SubjectBlock struct {
	SubjectID   string
	Species     string
	Age         string
	Sex         string
	Description string
}

type FileLevelBlock struct {
	SessionStartTime string
	Experimenter     string
	Description      string
}

type DeviceBlock struct {
	Name         string
	Manufacturer string
	Location     string
}

// NWBInput is what the conversion library needs to produce an NWB
// file: the source dataset plus the metadata substructures, an output
// path, and the compression setting (§4.5.2 step 3: "lossless
// compression enabled").
type NWBInput struct {
	DatasetPath         string
	OutputPath          string
	Subject             SubjectBlock
	FileLevel           FileLevelBlock
	Device              DeviceBlock
	LosslessCompression bool
}

// NWBOutput is the conversion library's report of what happened.
type NWBOutput struct {
	Warnings []string
}

// Converter is the "OpenEphys recording interface -> run conversion"
// boundary (§4.5.2 step 3). Its internals are explicitly out of scope
// (spec's Non-goals: "no conversion... internals"); this package only
// owns the call contract and the surrounding metadata/error handling.
type Converter interface {
	Convert(ctx context.Context, input NWBInput) (NWBOutput, error)
}

// StubConverter is the default Converter: it writes a minimal,
// deterministic placeholder file at OutputPath rather than invoking a
// real NWB-writing library, standing in for the opaque conversion
// library this spec treats as out of scope. A production deployment
// swaps this for a real implementation of the same interface.
type StubConverter struct{}

func (StubConverter) Convert(ctx context.Context, input NWBInput) (NWBOutput, error) {
	if err := ctx.Err(); err != nil {
		return NWBOutput{}, err
	}
	if input.DatasetPath == "" {
		return NWBOutput{}, fmt.Errorf("conversion input missing dataset_path")
	}

	if err := os.MkdirAll(filepath.Dir(input.OutputPath), 0o755); err != nil {
		return NWBOutput{}, fmt.Errorf("could not prepare output directory: %w", err)
	}

	header := fmt.Sprintf("NWB placeholder generated %s from %s (compression=%v)\n",
		time.Now().UTC().Format(time.RFC3339), input.DatasetPath, input.LosslessCompression)
	if err := os.WriteFile(input.OutputPath, []byte(header), 0o644); err != nil {
		return NWBOutput{}, fmt.Errorf("failed writing nwb file: %w", err)
	}

	var warnings []string
	if input.FileLevel.SessionStartTime == "" {
		warnings = append(warnings, "session_start_time was defaulted to the conversion time")
	}
	return NWBOutput{Warnings: warnings}, nil
}
