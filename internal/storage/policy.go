package storage

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/models"
)

const rootFolder = "chat-app"

// Policy constrains what one upload kind accepts.
type Policy struct {
	Kind     models.MessageType
	MaxBytes int64
	Folder   string
	mimes    map[string]bool
}

func set(v ...string) map[string]bool {
	m := make(map[string]bool, len(v))
	for _, s := range v {
		m[s] = true
	}
	return m
}

const mib = 1 << 20

var policies = map[models.MessageType]Policy{
	models.TypeImage: {
		Kind: models.TypeImage, MaxBytes: 10 * mib, Folder: rootFolder + "/images",
		mimes: set("image/jpeg", "image/png", "image/gif", "image/webp"),
	},
	models.TypeDocument: {
		Kind: models.TypeDocument, MaxBytes: 50 * mib, Folder: rootFolder + "/documents",
		mimes: set(
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"text/plain",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-powerpoint",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"application/zip",
			"application/x-zip-compressed",
			"application/x-rar-compressed",
			"application/vnd.rar",
		),
	},
	models.TypeAudio: {
		Kind: models.TypeAudio, MaxBytes: 25 * mib, Folder: rootFolder + "/audio",
		mimes: set("audio/mpeg", "audio/wav", "audio/x-wav", "audio/ogg", "audio/mp4", "audio/aac", "audio/webm"),
	},
	models.TypeVideo: {
		Kind: models.TypeVideo, MaxBytes: 100 * mib, Folder: rootFolder + "/videos",
		mimes: set("video/mp4", "video/quicktime", "video/webm", "video/x-msvideo", "video/x-matroska"),
	},
}

// PolicyFor returns the policy of an upload kind such as "image" or "video".
func PolicyFor(kind string) (Policy, error) {
	p, ok := policies[models.MessageType(strings.ToLower(kind))]
	if !ok {
		return Policy{}, apperr.Validation("unsupported upload kind " + kind)
	}
	return p, nil
}

func (p Policy) Allows(mimeType string) bool { return p.mimes[mimeType] }

// Check rejects empty, oversized or unexpected files.
func (p Policy) Check(size int64, mimeType string) error {
	if size <= 0 {
		return apperr.Validation("file is empty")
	}
	if size > p.MaxBytes {
		return apperr.Validation(fmt.Sprintf("%s exceeds %d MB limit", p.Kind, p.MaxBytes/mib))
	}
	if !p.Allows(mimeType) {
		return apperr.Validation(fmt.Sprintf("file type %s is not allowed for %s", mimeType, p.Kind))
	}
	return nil
}

// DetectMIME normalises the declared part type and falls back to sniffing
// when the client sent nothing useful.
func DetectMIME(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
