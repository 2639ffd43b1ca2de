// Schema Generator
//
// Generates JSON Schema files from the job payload types for use by the
// services that enqueue jobs from outside this repository (the notification
// fanout and the web frontend). Go is the source of truth for payload shapes.
//
// Usage:
//
//	go run cmd/schema-gen/main.go
//
// Output:
//
//	../../shared/schemas/jobs.json
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/streamwatch/stream-service/internal/jobs"
)

func main() {
	outputDir := "../../shared/schemas"

	// Ensure output directory exists
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: false,
		ExpandedStruct: false,
	}

	schemas := map[string]any{
		"CollectStreamPayload":    jobs.CollectStreamPayload{},
		"SendNotificationPayload": jobs.SendNotificationPayload{},
		"Job":                     jobs.Job{},
	}

	combined := make(map[string]*jsonschema.Schema, len(schemas))
	for name, typ := range schemas {
		combined[name] = reflector.Reflect(typ)
	}

	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal schemas: %v\n", err)
		os.Exit(1)
	}

	outPath := filepath.Join(outputDir, "jobs.json")
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", outPath, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d schemas to %s\n", len(combined), outPath)
}
