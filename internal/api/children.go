package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opsboard/internal/models"
	"opsboard/internal/store"
)

type createSubtaskRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSubtask(w http.ResponseWriter, r *http.Request) {
	var req createSubtaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	sub, err := s.store.CreateSubtask(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type subtaskPatchRequest struct {
	Title     *string `json:"title"`
	Position  *int    `json:"position"`
	Completed *bool   `json:"completed"`
}

func (s *Server) handleUpdateSubtask(w http.ResponseWriter, r *http.Request) {
	var req subtaskPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	sub, err := s.store.UpdateSubtask(r.Context(), chi.URLParam(r, "id"), store.SubtaskPatch{
		Title:     req.Title,
		Position:  req.Position,
		Completed: req.Completed,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubtask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSubtask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createCommentRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required", nil)
		return
	}
	c, err := s.store.CreateComment(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()), req.Body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.store.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list comments failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

type createMessageRequest struct {
	Direction string  `json:"direction"`
	Body      string  `json:"body"`
	ContactID *string `json:"contact_id"`
}

// handleCreateMessage records a communication and, for inbound/outbound
// directions, flips the parent item's reply-pending state.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	var problems []string
	if !models.ValidDirection(req.Direction) {
		problems = append(problems, "direction must be INBOUND, OUTBOUND or INTERNAL")
	}
	if req.Body == "" {
		problems = append(problems, "body is required")
	}
	if len(problems) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid message", problems)
		return
	}

	m, err := s.store.CreateMessage(r.Context(), models.Message{
		WorkItemID: chi.URLParam(r, "id"),
		AuthorID:   userFrom(r.Context()),
		Direction:  req.Direction,
		Body:       req.Body,
		ContactID:  req.ContactID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list messages failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type createQCCheckRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateQCCheck(w http.ResponseWriter, r *http.Request) {
	var req createQCCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	c, err := s.store.CreateQCCheck(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type resolveQCCheckRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes"`
}

func (s *Server) handleResolveQCCheck(w http.ResponseWriter, r *http.Request) {
	var req resolveQCCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if !models.ValidQCStatus(req.Status) {
		writeError(w, http.StatusUnprocessableEntity, "invalid qc status",
			[]string{"status must be PENDING, PASSED, FAILED or SKIPPED"})
		return
	}
	c, err := s.store.ResolveQCCheck(r.Context(), chi.URLParam(r, "id"), req.Status, req.Notes, userFrom(r.Context()))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListQCChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := s.store.ListQCChecks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list qc checks failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
}

type templateRequest struct {
	SubtaskTitles []string `json:"subtask_titles"`
	DueDays       int      `json:"due_days"`
}

func (s *Server) handleUpsertTemplate(w http.ResponseWriter, r *http.Request) {
	workItemType := chi.URLParam(r, "type")
	if !models.ValidType(workItemType) {
		writeError(w, http.StatusUnprocessableEntity, "unknown work item type "+workItemType, nil)
		return
	}
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	tmpl, err := s.store.UpsertTemplate(r.Context(), models.TriggerTemplate{
		WorkItemType:  workItemType,
		SubtaskTitles: req.SubtaskTitles,
		DueDays:       req.DueDays,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upsert template failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.store.GetTemplate(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list templates failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetWorkItem(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	if err := r.ParseMultipartForm(s.cfg.AttachmentMaxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.AttachmentMaxBytes+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload failed", nil)
		return
	}
	if int64(len(data)) > s.cfg.AttachmentMaxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "attachment too large", nil)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	saved, err := s.files.Save(r.Context(), id, header.Filename, contentType, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store attachment failed", nil)
		return
	}

	att, err := s.store.CreateAttachment(r.Context(), models.Attachment{
		WorkItemID:  id,
		FileName:    header.Filename,
		ContentType: contentType,
		StorageKey:  saved.StorageKey,
		ThumbKey:    saved.ThumbKey,
		SizeBytes:   saved.SizeBytes,
		UploadedBy:  userFrom(r.Context()),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "record attachment failed", nil)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	atts, err := s.store.ListAttachments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list attachments failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": atts})
}
