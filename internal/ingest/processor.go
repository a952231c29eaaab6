package ingest

import (
	"context"
	"fmt"

	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/jobs"
)

// Processor starts the first external stage for one content-type family. It
// is resolved once, at submission.
type Processor interface {
	Name() string
	// Supported reports whether this family has a processing pipeline.
	Supported() bool
	// Start dispatches the first job for a freshly created asset.
	Start(ctx context.Context, client jobs.Client, asset *assets.Asset, callbackURL string) (jobs.Ticket, error)
}

// ProcessorFor selects the processor for a probed content type.
func ProcessorFor(contentType string, catalog jobs.Catalog) Processor {
	switch assets.Family(contentType) {
	case "audio":
		return AudioProcessor{jobType: catalog.Transcription}
	case "video":
		return VideoProcessor{}
	case "image":
		return ImageProcessor{}
	default:
		return UnsupportedProcessor{contentType: contentType}
	}
}

// AudioProcessor sends audio to speech transcription.
type AudioProcessor struct {
	jobType jobs.JobType
}

func (AudioProcessor) Name() string    { return "audio" }
func (AudioProcessor) Supported() bool { return true }

func (p AudioProcessor) Start(ctx context.Context, client jobs.Client, asset *assets.Asset, callbackURL string) (jobs.Ticket, error) {
	return client.DispatchAsync(ctx, p.jobType, jobs.TranscriptionInput(asset.URL), callbackURL)
}

// VideoProcessor recognises video. There is no video pipeline yet (frame
// sampling plus audio-track extraction), so submissions are refused.
type VideoProcessor struct{}

func (VideoProcessor) Name() string    { return "video" }
func (VideoProcessor) Supported() bool { return false }

func (VideoProcessor) Start(context.Context, jobs.Client, *assets.Asset, string) (jobs.Ticket, error) {
	return jobs.Ticket{}, fmt.Errorf("%w: video", ErrUnsupportedType)
}

// ImageProcessor recognises images. Like video it has no pipeline.
type ImageProcessor struct{}

func (ImageProcessor) Name() string    { return "image" }
func (ImageProcessor) Supported() bool { return false }

func (ImageProcessor) Start(context.Context, jobs.Client, *assets.Asset, string) (jobs.Ticket, error) {
	return jobs.Ticket{}, fmt.Errorf("%w: image", ErrUnsupportedType)
}

type UnsupportedProcessor struct {
	contentType string
}

func (UnsupportedProcessor) Name() string    { return "unsupported" }
func (UnsupportedProcessor) Supported() bool { return false }

func (p UnsupportedProcessor) Start(context.Context, jobs.Client, *assets.Asset, string) (jobs.Ticket, error) {
	return jobs.Ticket{}, fmt.Errorf("%w: %q", ErrUnsupportedType, p.contentType)
}
