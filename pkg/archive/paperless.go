package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

// verifyPollInterval is the fixed delay between task polls.
const verifyPollInterval = 2 * time.Second

// Paperless uploads artifacts to a paperless-ngx style archive. Uploads
// return a task id; verification polls the task until it resolves to a
// concrete archived document.
type Paperless struct {
	baseURL string
	token   string
	client  *http.Client
	pending *pendingMetadata
	logger  *slog.Logger

	// pollInterval is overridable for tests.
	pollInterval time.Duration
}

func NewPaperless(baseURL, token string, timeout time.Duration) *Paperless {
	return &Paperless{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		client:       &http.Client{Timeout: timeout},
		pending:      newPendingMetadata(),
		logger:       log.WithModule("archive"),
		pollInterval: verifyPollInterval,
	}
}

func (p *Paperless) Name() string { return "paperless" }

func (p *Paperless) IsConfigured() bool {
	return p.baseURL != "" && p.token != ""
}

// Archive uploads the file and stashes metadata for post-verification
// custom-field application.
func (p *Paperless) Archive(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
	if !p.IsConfigured() {
		return archiveFailure("paperless archive is not configured", p.Name())
	}
	if _, err := os.Stat(req.Path); err != nil {
		return archiveFailure(fmt.Sprintf("file not found: %s", req.Path), p.Name())
	}

	created := normalizeCreated(req.Created)

	taskID, err := p.upload(ctx, req, created)
	if err != nil {
		return archiveFailure(err.Error(), p.Name())
	}
	if strings.TrimSpace(taskID) == "" {
		return archiveFailure("archive upload returned no task id", p.Name())
	}

	if len(req.Metadata) > 0 {
		p.pending.put(taskID, req.Metadata)
	}

	result, err := domain.NewArchiveSuccess(taskID, p.baseURL+"/api/tasks/?task_id="+url.QueryEscape(taskID), p.Name())
	if err != nil {
		return archiveFailure(err.Error(), p.Name())
	}
	p.logger.Info("archived document", "path", req.Path, "task_id", taskID)
	return result
}

// normalizeCreated turns a trailing Z into +00:00 and validates the value
// as ISO-8601. A malformed date logs a warning and is dropped.
func normalizeCreated(created string) string {
	if created == "" {
		return ""
	}
	normalized := created
	if strings.HasSuffix(normalized, "Z") {
		normalized = strings.TrimSuffix(normalized, "Z") + "+00:00"
	}
	for _, layout := range []string{"2006-01-02T15:04:05-07:00", "2006-01-02"} {
		if _, err := time.Parse(layout, normalized); err == nil {
			return normalized
		}
	}
	log.Warn("unparseable created date, archiving without one", "created", created)
	return ""
}

func (p *Paperless) upload(ctx context.Context, req domain.ArchiveRequest, created string) (string, error) {
	file, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", req.Path, err)
	}
	defer func() { _ = file.Close() }()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("document", filepath.Base(req.Path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read %s: %w", req.Path, err)
	}

	if req.Title != "" {
		_ = writer.WriteField("title", req.Title)
	}
	if created != "" {
		_ = writer.WriteField("created", created)
	}
	if req.Correspondent != "" {
		_ = writer.WriteField("correspondent", req.Correspondent)
	}
	for _, tag := range req.Tags {
		_ = writer.WriteField("tags", tag)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/documents/post_document/", &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Token "+p.token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("archive returned %d: %s", resp.StatusCode, string(body))
	}

	// The endpoint replies with the bare task uuid as a JSON string.
	var taskID string
	if err := json.Unmarshal(body, &taskID); err != nil {
		taskID = strings.Trim(strings.TrimSpace(string(body)), `"`)
	}
	return taskID, nil
}

type taskStatus struct {
	Status         string `json:"status"`
	RelatedDocID   *int   `json:"related_document"`
	Result         string `json:"result"`
}

// Verify polls the task endpoint until a concrete archived-document id
// appears or the timeout expires. The pending metadata entry is always
// cleared; custom fields are applied only on success, and their failures
// never change the verification outcome.
func (p *Paperless) Verify(ctx context.Context, documentID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	var archivedID int
	verified := false

	for {
		id, done := p.pollTask(ctx, documentID)
		if done {
			archivedID = id
			verified = true
			break
		}
		if time.Now().After(deadline) {
			p.logger.Warn("verification timed out", "task_id", documentID, "timeout", timeout)
			break
		}
		select {
		case <-ctx.Done():
			p.logger.Warn("verification cancelled", "task_id", documentID)
			verified = false
		case <-time.After(p.pollInterval):
			continue
		}
		break
	}

	metadata, hadPending := p.pending.take(documentID)
	if verified && hadPending {
		if err := p.applyCustomFields(ctx, archivedID, metadata); err != nil {
			p.logger.Warn("failed to apply custom fields",
				"task_id", documentID, "document", archivedID, "error", err)
		}
	}
	return verified
}

// pollTask returns (archivedDocumentID, true) once the task has resolved.
func (p *Paperless) pollTask(ctx context.Context, taskID string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/api/tasks/?task_id="+url.QueryEscape(taskID), nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Authorization", "Token "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("task poll failed", "task_id", taskID, "error", err)
		return 0, false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false
	}

	var tasks []taskStatus
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return 0, false
	}
	for _, task := range tasks {
		if task.RelatedDocID != nil && *task.RelatedDocID > 0 {
			return *task.RelatedDocID, true
		}
	}
	return 0, false
}

func (p *Paperless) applyCustomFields(ctx context.Context, archivedID int, metadata map[string]any) error {
	payload, err := json.Marshal(map[string]any{"custom_fields": metadata})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/api/documents/%d/", p.baseURL, archivedID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("custom field patch returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

func archiveFailure(message, name string) domain.ArchiveResult {
	result, err := domain.NewArchiveFailure(message, name)
	if err != nil {
		return domain.ArchiveResult{Success: false, Error: "archive failed", ArchiveName: name}
	}
	return result
}
