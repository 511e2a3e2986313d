package deliver

import (
	"path/filepath"
	"strings"
)

// Kind is the Bot API upload method a file goes out with.
type Kind int

const (
	Document Kind = iota
	Photo
	Video
)

func (k Kind) String() string {
	switch k {
	case Photo:
		return "photo"
	case Video:
		return "video"
	default:
		return "document"
	}
}

var kindByExt = map[string]Kind{
	".jpg":  Photo,
	".jpeg": Photo,
	".png":  Photo,
	".gif":  Photo,
	".mp4":  Video,
	".mov":  Video,
	".avi":  Video,
	".mkv":  Video,
}

// Classify routes a file by its extension, case-insensitively. Unknown
// extensions, .webp included, go out as documents.
func Classify(path string) Kind {
	return kindByExt[strings.ToLower(filepath.Ext(path))]
}
