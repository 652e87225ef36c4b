package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/board"
)

const hmacKey = "test-key"

func setupTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &Config{
		Addr:          ":0",
		DataDir:       dataDir,
		HmacKey:       hmacKey,
		MaxUploadSize: 1 << 20,
		DBDriver:      "sqlite",
		DBPath:        filepath.Join(t.TempDir(), "test.db"),
	}

	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return ts, dataDir
}

func doJSON(t *testing.T, method, url, userID string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if fileName != "" {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		header.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doMultipart(t *testing.T, method, url, userID string, fields map[string]string, fileName string, fileContent []byte, out any) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, fields, fileName, fileContent)
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(userHeader, userID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func blobCount(t *testing.T, dataDir string) int {
	t.Helper()
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	return len(entries)
}

func TestIntegration(t *testing.T) {
	ts, dataDir := setupTestServer(t)
	cover := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

	var author, performer board.User
	t.Run("Create users", func(t *testing.T) {
		resp := doJSON(t, "POST", ts.URL+"/v1/users", "",
			board.CreateUserInput{Name: "Alex", Email: "alex@example.com"}, &author)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		require.NotEmpty(t, author.ID)

		resp = doJSON(t, "POST", ts.URL+"/v1/users", "",
			board.CreateUserInput{Name: "Sam", Email: "sam@example.com"}, &performer)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	var project board.Project
	t.Run("Create project with cover", func(t *testing.T) {
		resp := doMultipart(t, "POST", ts.URL+"/v1/projects", author.ID,
			map[string]string{"title": "eDocument", "description": "demo"},
			"cover.png", cover, &project)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		require.NotEmpty(t, project.ID)
		assert.NotEmpty(t, project.FileID)
		assert.Equal(t, 1, blobCount(t, dataDir))
	})

	t.Run("Create project requires caller identity", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"title": "x"}, "", nil)
		req, err := http.NewRequest("POST", ts.URL+"/v1/projects", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", contentType)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	var task board.Task
	t.Run("Create task", func(t *testing.T) {
		resp := doMultipart(t, "POST", ts.URL+"/v1/tasks", author.ID,
			map[string]string{"project_id": project.ID, "title": "Design schema"},
			"", nil, &task)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		require.NotEmpty(t, task.ID)
	})

	t.Run("Project view resolves references", func(t *testing.T) {
		var view board.ProjectView
		resp := doJSON(t, "GET", ts.URL+"/v1/projects/"+project.ID, "", nil, &view)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{task.ID}, view.TaskIDs)
		require.NotNil(t, view.Author)
		assert.Equal(t, author.ID, view.Author.ID)
		require.NotNil(t, view.File)
		assert.Equal(t, "cover.png", view.File.OriginalName)
	})

	t.Run("Claim and close task", func(t *testing.T) {
		resp := doJSON(t, "POST", ts.URL+"/v1/tasks/"+task.ID+"/claim", performer.ID, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doJSON(t, "POST", ts.URL+"/v1/tasks/"+task.ID+"/claim", author.ID, nil, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		resp = doJSON(t, "PUT", ts.URL+"/v1/tasks/"+task.ID+"/status", author.ID,
			map[string]string{"status": "closed"}, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "only the performer may change status")

		resp = doJSON(t, "PUT", ts.URL+"/v1/tasks/"+task.ID+"/status", performer.ID,
			map[string]string{"status": "closed"}, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var view board.TaskView
		doJSON(t, "GET", ts.URL+"/v1/tasks/"+task.ID, "", nil, &view)
		assert.Equal(t, board.StatusClosed, view.Status)
		require.NotNil(t, view.Performer)
		assert.Equal(t, performer.ID, view.Performer.ID)
	})

	var downloadURL string
	t.Run("Signed download URL", func(t *testing.T) {
		var result map[string]string
		resp := doJSON(t, "GET", ts.URL+"/v1/files/"+project.FileID+"/url", author.ID, nil, &result)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		downloadURL = result["url"]
		require.NotEmpty(t, downloadURL)
	})

	t.Run("Download with valid signature", func(t *testing.T) {
		resp, err := http.Get(ts.URL + downloadURL)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, cover, data)
	})

	t.Run("Download with forged signature", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/files/" + project.FileID + "?signature=forged")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("Replace project cover", func(t *testing.T) {
		var updated board.Project
		resp := doMultipart(t, "PATCH", ts.URL+"/v1/projects/"+project.ID, author.ID,
			nil, "cover2.png", []byte("new cover"), &updated)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEqual(t, project.FileID, updated.FileID)
		assert.Equal(t, 1, blobCount(t, dataDir), "old blob must be gone after replacement")
		project = updated
	})

	t.Run("Search", func(t *testing.T) {
		var found []*board.Project
		resp := doJSON(t, "GET", ts.URL+"/v1/projects/search?query=edoc", "", nil, &found)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, found, 1)
		assert.Equal(t, project.ID, found[0].ID)
	})

	t.Run("Delete project cascades", func(t *testing.T) {
		resp := doJSON(t, "DELETE", ts.URL+"/v1/projects/"+project.ID, author.ID, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doJSON(t, "GET", ts.URL+"/v1/projects/"+project.ID, "", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = doJSON(t, "GET", ts.URL+"/v1/tasks/"+task.ID, "", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		assert.Equal(t, 0, blobCount(t, dataDir), "cascade delete must remove all blobs")
	})
}

func TestIntegrationUploadRejectsUnknownFormat(t *testing.T) {
	ts, dataDir := setupTestServer(t)

	var author board.User
	doJSON(t, "POST", ts.URL+"/v1/users", "",
		board.CreateUserInput{Name: "Alex", Email: "alex@example.com"}, &author)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("title", "eDocument"))
	part, err := writer.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = io.WriteString(part, "plain text")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest("POST", ts.URL+"/v1/projects", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(userHeader, author.ID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 0, blobCount(t, dataDir), "rejected upload must not leave a blob behind")

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(respBody), "not allowed"))
}
