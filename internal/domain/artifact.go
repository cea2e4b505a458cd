package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

type ArtifactKind string

const (
	ArtifactUpload          ArtifactKind = "upload"
	ArtifactRequirementText ArtifactKind = "requirement_text"
	ArtifactStories         ArtifactKind = "stories"
	ArtifactJiraTicket      ArtifactKind = "jira_ticket"
	ArtifactCode            ArtifactKind = "code"
)

var artifactKinds = []ArtifactKind{
	ArtifactUpload,
	ArtifactRequirementText,
	ArtifactStories,
	ArtifactJiraTicket,
	ArtifactCode,
}

// ParseArtifactKind validates a kind coming from a URL or CLI flag.
func ParseArtifactKind(v string) (ArtifactKind, error) {
	for _, k := range artifactKinds {
		if string(k) == strings.ToLower(v) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown artifact kind %q", ErrNotFound, v)
}

// Extension is used by file-backed stores and downloads.
func (k ArtifactKind) Extension() string {
	switch k {
	case ArtifactRequirementText:
		return ".txt"
	default:
		return ".json"
	}
}

// ArtifactRef is an opaque reference handed out by an ArtifactStore.
type ArtifactRef string

// Artifact is one immutable stored version of a stage output.
type Artifact struct {
	ID        string       `gorm:"type:varchar(64);primary_key;" json:"id"`
	RunID     string       `gorm:"type:varchar(100);not null;uniqueIndex:idx_artifact_version,priority:1" json:"run_id"`
	Kind      ArtifactKind `gorm:"type:varchar(32);not null;uniqueIndex:idx_artifact_version,priority:2" json:"kind"`
	Version   int          `gorm:"not null;uniqueIndex:idx_artifact_version,priority:3" json:"version"`
	Content   []byte       `gorm:"type:bytea" json:"-"`
	Size      int          `json:"size"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Artifact) TableName() string {
	return "artifacts"
}

// Upload is the raw requirements document as submitted by the user.
// Filename is the stored display name; OriginalFilename keeps what the
// client sent.
type Upload struct {
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename,omitempty"`
	DeclaredType     string `json:"declared_type"`
	Content          []byte `json:"content"`
}

const uploadTimeLayout = "20060102_150405"

func uploadName(ext string) string {
	return fmt.Sprintf("upload_%s%s", time.Now().Format(uploadTimeLayout), ext)
}

// TextUpload wraps plain requirement text as an upload.
func TextUpload(text string) Upload {
	return Upload{
		Filename:     uploadName(".txt"),
		DeclaredType: "txt",
		Content:      []byte(text),
	}
}

// FileUpload stores a document under upload_<timestamp>.<ext>, taking the
// extension and declared type from the client's file name.
func FileUpload(original string, content []byte) Upload {
	return Upload{
		Filename:         uploadName(strings.ToLower(filepath.Ext(original))),
		OriginalFilename: filepath.Base(original),
		DeclaredType:     DeclaredTypeFromFilename(original),
		Content:          content,
	}
}

// DeclaredTypeFromFilename derives the declared type from a file extension.
func DeclaredTypeFromFilename(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// Story is one generated user story.
type Story struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	StoryPoints int    `json:"story_points"`
	Type        string `json:"type"`
}

// CodeArtifact is the stored payload of the code stage.
type CodeArtifact struct {
	Filename string `json:"filename"`
	Source   string `json:"source"`
}

// TicketArtifact is the stored payload of the JIRA stage.
type TicketArtifact struct {
	TicketIDs []string `json:"ticket_ids"`
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,99}$`)

// ValidateRunID keeps run ids safe to use as path segments and keys.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid run id %q", ErrInvalidState, id)
	}
	return nil
}
