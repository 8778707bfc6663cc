package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kairon-backend/internal/logger"
	"kairon-backend/internal/models"
)

var truncationNotice = fmt.Sprintf("Text was truncated to %s characters.", formatThousands(MaxIngestedRunes))

// JobSubmitter records a generation job and hands it to the workers.
type JobSubmitter interface {
	Submit(ctx context.Context, job *models.Job) error
}

// VideoSource fetches text or audio for a YouTube video.
type VideoSource interface {
	GetTranscript(ctx context.Context, videoID string) (string, error)
	DownloadAudio(ctx context.Context, videoID string) ([]byte, string, error)
	VideoTitle(ctx context.Context, videoID string) (string, error)
}

type IngestResult struct {
	Project   *models.StudyProject `json:"project"`
	Truncated bool                 `json:"truncated"`
	Notice    string               `json:"notice,omitempty"`
}

type IngestionService struct {
	projects  *ProjectService
	extractor *FileExtractService
	videos    VideoSource
	generator Generator
	jobs      JobSubmitter
	log       *logger.Logger
}

func NewIngestionService(projects *ProjectService, extractor *FileExtractService, videos VideoSource, generator Generator, jobs JobSubmitter, log *logger.Logger) *IngestionService {
	return &IngestionService{
		projects:  projects,
		extractor: extractor,
		videos:    videos,
		generator: generator,
		jobs:      jobs,
		log:       log,
	}
}

// IngestText creates a project from inline text.
func (s *IngestionService) IngestText(ctx context.Context, userID uuid.UUID, name, text string) (*IngestResult, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(text) == "" {
		fields := make(map[string]string)
		if strings.TrimSpace(name) == "" {
			fields["name"] = "Please provide a name for your study."
		}
		if strings.TrimSpace(text) == "" {
			fields["text"] = "Please provide some text for your study."
		}
		return nil, &ValidationError{Message: ingestValidationMessage, Fields: fields}
	}

	truncatedText, truncated := TruncateIngested(text)
	project, err := s.projects.Create(ctx, userID, name, truncatedText)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{Project: project, Truncated: truncated}
	if truncated {
		res.Notice = truncationNotice
	}

	s.startInitialProcessing(ctx, project)
	return res, nil
}

// IngestFile decodes one uploaded file and creates a project from its text.
// The file name without extension is used when name is blank.
func (s *IngestionService) IngestFile(ctx context.Context, userID uuid.UUID, name, filename string, data []byte) (*IngestResult, error) {
	if !s.extractor.Supported(filename) {
		return nil, newValidationError("file", fmt.Sprintf("Unsupported file type. Use one of: %s", strings.Join(SupportedUploadFormats, ", ")))
	}

	text, err := s.extractor.ExtractText(filename, data)
	if err != nil {
		s.log.Warn("file extraction failed", "filename", filename, "error", err)
		return nil, newValidationError("file", "We could not read any text from this file.")
	}

	if strings.TrimSpace(name) == "" {
		base := filepath.Base(filename)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return s.IngestText(ctx, userID, name, text)
}

// IngestYouTube uses the video's captions, falling back to transcribing its
// audio track.
func (s *IngestionService) IngestYouTube(ctx context.Context, userID uuid.UUID, name, videoURL string, opts GenerateOptions) (*IngestResult, error) {
	videoID, err := ExtractVideoID(videoURL)
	if err != nil {
		return nil, newValidationError("url", "Please provide a valid YouTube link.")
	}

	text, err := s.videos.GetTranscript(ctx, videoID)
	if err != nil {
		s.log.Info("captions unavailable, transcribing audio", "video_id", videoID, "error", err)
		text, err = s.transcribeVideo(ctx, videoID, opts)
		if err != nil {
			return nil, &GenerationError{Kind: KindTranscription, Err: err}
		}
	}

	if strings.TrimSpace(name) == "" {
		title, err := s.videos.VideoTitle(ctx, videoID)
		if err != nil || strings.TrimSpace(title) == "" {
			title = "YouTube " + videoID
		}
		name = title
	}
	return s.IngestText(ctx, userID, name, text)
}

func (s *IngestionService) transcribeVideo(ctx context.Context, videoID string, opts GenerateOptions) (string, error) {
	audio, mimeType, err := s.videos.DownloadAudio(ctx, videoID)
	if err != nil {
		return "", err
	}
	return s.generator.Transcribe(ctx, opts, audio, mimeType)
}

// CreateProject creates a project from a plain JSON body and queues its
// initial summary the same way the ingestion endpoints do.
func (s *IngestionService) CreateProject(ctx context.Context, userID uuid.UUID, name, text string) (*models.StudyProject, error) {
	project, err := s.projects.Create(ctx, userID, name, text)
	if err != nil {
		return nil, err
	}
	s.startInitialProcessing(ctx, project)
	return project, nil
}

// startInitialProcessing queues the summary that moves the project out of
// processing. When it cannot be queued the project goes straight to error.
func (s *IngestionService) startInitialProcessing(ctx context.Context, project *models.StudyProject) {
	if s.jobs == nil {
		return
	}
	job := &models.Job{
		UserID:    project.OwnerID,
		ProjectID: project.ID,
		Kinds:     []string{string(KindSummary)},
		Initial:   true,
	}
	if err := s.jobs.Submit(ctx, job); err != nil {
		s.log.Error("failed to queue initial processing", "project_id", project.ID, "error", err)
		status := models.StatusError
		if updated, uerr := s.projects.store.Update(ctx, project.OwnerID, project.ID, models.ProjectPatch{Status: &status}); uerr == nil {
			*project = *updated
		}
	}
}

func formatThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
