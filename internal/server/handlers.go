package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"taskdesk/internal/board"
)

// maxMultipartMemory bounds the in-memory part of multipart parsing; the
// request body itself is already capped by limitBody.
const maxMultipartMemory = 32 << 20

// allowedUploadTypes is the fixed set of raster image formats the upload
// filter accepts.
var allowedUploadTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/webp": true,
}

type handlers struct {
	coord  *board.Coordinator
	signer *signer
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps the coordinator's error taxonomy onto HTTP statuses.
// Internal causes are logged, never exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, board.ErrNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: err.Error()})
	case errors.Is(err, board.ErrConflict):
		writeJSON(w, http.StatusConflict, messageResponse{Message: err.Error()})
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "internal server error"})
	}
}

// parseUpload extracts the optional "file" part from a multipart form. A
// request without a file part yields (nil, nil); a disallowed content type
// yields a conflict.
func parseUpload(r *http.Request) (*board.Upload, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file part: %w", err)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowedUploadTypes[contentType] {
		return nil, fmt.Errorf("file format %q not allowed, use png, jpg, jpeg or webp: %w",
			contentType, board.ErrConflict)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read file content: %w", err)
	}
	return &board.Upload{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var in board.CreateUserInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if in.Name == "" || in.Email == "" {
		http.Error(w, "name and email are required", http.StatusBadRequest)
		return
	}

	u, err := h.coord.CreateUser(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.coord.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handlers) createProject(w http.ResponseWriter, r *http.Request) {
	upload, err := parseUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := board.CreateProjectInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		AuthorID:    callerID(r),
		Upload:      upload,
	}
	if in.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	p, err := h.coord.CreateProject(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	asc := r.URL.Query().Get("sort") != "desc"

	result, err := h.coord.ListProjects(r.Context(), page, limit, asc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) searchProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.coord.SearchProjects(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *handlers) getProject(w http.ResponseWriter, r *http.Request) {
	view, err := h.coord.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) updateProject(w http.ResponseWriter, r *http.Request) {
	upload, err := parseUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := board.UpdateProjectInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Upload:      upload,
	}

	p, err := h.coord.UpdateProject(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Project has been deleted"})
}

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	upload, err := parseUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := board.CreateTaskInput{
		ProjectID:   r.FormValue("project_id"),
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Upload:      upload,
	}
	if in.ProjectID == "" || in.Title == "" {
		http.Error(w, "project_id and title are required", http.StatusBadRequest)
		return
	}

	t, err := h.coord.CreateTask(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	view, err := h.coord.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	upload, err := parseUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := board.UpdateTaskInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Upload:      upload,
	}

	t, err := h.coord.UpdateTask(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Task has been deleted"})
}

func (h *handlers) claimTask(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ClaimTask(r.Context(), r.PathValue("id"), callerID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Task has been claimed"})
}

func (h *handlers) changeTaskStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status board.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := h.coord.ChangeTaskStatus(r.Context(), r.PathValue("id"), callerID(r), body.Status); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Task status updated to %q", body.Status)})
}

func (h *handlers) downloadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.signer.verify(id, r.URL.Query().Get("signature")) {
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	f, content, err := h.coord.OpenFile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, content)
}

func (h *handlers) fileURL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.coord.GetUser(r.Context(), callerID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.signer.url(id)})
}
