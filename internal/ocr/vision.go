package ocr

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

// VisionDetector is the concrete TextDetector backed by the Cloud Vision API.
type VisionDetector struct {
	svc *vision.Service
}

// NewVisionDetector creates a detector with a shared Vision service client.
// With no options it uses Application Default Credentials.
func NewVisionDetector(ctx context.Context, opts ...option.ClientOption) (*VisionDetector, error) {
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewVisionDetector: creating vision service: %w", err)
	}
	return &VisionDetector{svc: svc}, nil
}

// DetectText runs TEXT_DETECTION on the image behind imageURL. The first
// annotation in the response is the full-page text; the rest are per-word
// boxes we do not need.
func (d *VisionDetector) DetectText(ctx context.Context, imageURL string) (string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Image: &vision.Image{
					Source: &vision.ImageSource{ImageUri: imageURL},
				},
				Features: []*vision.Feature{
					{Type: "TEXT_DETECTION"},
				},
			},
		},
	}

	resp, err := d.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("DetectText: annotate request: %w", err)
	}

	if len(resp.Responses) == 0 {
		return "", ErrNoTextFound
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("DetectText: vision error %d: %s", r.Error.Code, r.Error.Message)
	}
	if len(r.TextAnnotations) == 0 || r.TextAnnotations[0].Description == "" {
		return "", ErrNoTextFound
	}

	return r.TextAnnotations[0].Description, nil
}

var _ TextDetector = (*VisionDetector)(nil)
