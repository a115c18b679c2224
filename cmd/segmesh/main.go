// Command segmesh serves and runs the segmentation agent.
//
// Usage:
//
//	segmesh serve --config segmesh.yaml
//	segmesh run --image ./street.png --query "the cat on the left"
//	segmesh config schema > segmesh.schema.json
//
// Example requests against a running server:
//
//	curl -F file=@street.png http://localhost:5000/api/upload
//
//	curl -X POST http://localhost:5000/api/agent/stream \
//	  -H "Content-Type: application/json" \
//	  -d '{"image_path": "uploads/street.png", "text_prompt": "the cat on the left"}'
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
