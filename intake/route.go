package intake

import (
	"path/filepath"
	"strings"
)

// Modality selects the pipeline a file enters after admission. Text files go
// to the per-tenant parse queue; everything else goes to the shared
// multimodal queue.
type Modality string

// Modalities, routed by filename extension.
const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

var extModalities = map[string]Modality{
	".jpg":  ModalityImage,
	".jpeg": ModalityImage,
	".png":  ModalityImage,
	".tiff": ModalityImage,
	".tif":  ModalityImage,
	".bmp":  ModalityImage,
	".gif":  ModalityImage,

	".mp3":  ModalityAudio,
	".wav":  ModalityAudio,
	".m4a":  ModalityAudio,
	".flac": ModalityAudio,
	".aac":  ModalityAudio,
	".ogg":  ModalityAudio,

	".mp4":  ModalityVideo,
	".avi":  ModalityVideo,
	".mov":  ModalityVideo,
	".mkv":  ModalityVideo,
	".webm": ModalityVideo,
}

// DetectModality routes a filename by extension. Unknown extensions are
// text: the MIME gate decides whether they are admissible.
func DetectModality(filename string) Modality {
	ext := strings.ToLower(filepath.Ext(filename))
	if m, ok := extModalities[ext]; ok {
		return m
	}
	return ModalityText
}
