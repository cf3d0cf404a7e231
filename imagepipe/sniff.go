package imagepipe

import (
	"fmt"

	"github.com/liamg/magic"

	"github.com/rexpump/media-upload-server-public/apperr"
)

// Sniff determines the MIME type of data by inspecting its leading bytes,
// the same technique the teacher's blossom server uses in handleUpload
// (magic.Lookup(b)) — any client-declared Content-Type is never consulted.
func Sniff(data []byte) (string, error) {
	ft, err := magic.Lookup(data)
	if err != nil || ft == nil {
		return "", apperr.UnsupportedMedia("could not determine file type from content")
	}
	mimeType := ft.MIME
	if mimeType == "" {
		return "", apperr.UnsupportedMedia(fmt.Sprintf("unrecognized file type (extension %q)", ft.Extension))
	}
	return mimeType, nil
}
