package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/board"
)

func TestHealthz(t *testing.T) {
	req, err := http.NewRequest("GET", "/healthz", nil)
	assert.NoError(t, err)

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(healthz)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireUserMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		header       string
		expectedCode int
		expectedBody string
	}{
		{
			name:         "caller identity present",
			header:       "u1",
			expectedCode: http.StatusOK,
			expectedBody: "",
		},
		{
			name:         "no header",
			header:       "",
			expectedCode: http.StatusUnauthorized,
			expectedBody: "Unauthorized\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest("GET", "/", nil)
			assert.NoError(t, err)
			if tt.header != "" {
				req.Header.Set(userHeader, tt.header)
			}

			rr := httptest.NewRecorder()
			handler := requireUser(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedCode, rr.Code)
			assert.Equal(t, tt.expectedBody, rr.Body.String())
		})
	}
}

func TestLimitBodyMiddleware(t *testing.T) {
	handler := limitBody(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 10)

	t.Run("body within limit", func(t *testing.T) {
		req, err := http.NewRequest("POST", "/", strings.NewReader("123456789"))
		assert.NoError(t, err)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("body exceeds limit", func(t *testing.T) {
		req, err := http.NewRequest("POST", "/", strings.NewReader("12345678901"))
		assert.NoError(t, err)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func TestSigner(t *testing.T) {
	s := newSigner("test-key")

	sig := s.sign("file-1")
	assert.True(t, s.verify("file-1", sig))
	assert.False(t, s.verify("file-2", sig))
	assert.False(t, s.verify("file-1", "forged"))

	url := s.url("file-1")
	assert.Equal(t, fmt.Sprintf("/v1/files/file-1?signature=%s", sig), url)

	other := newSigner("other-key")
	assert.False(t, other.verify("file-1", sig))
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedBody string
	}{
		{
			name:         "not found",
			err:          fmt.Errorf("project missing-id: %w", board.ErrNotFound),
			expectedCode: http.StatusNotFound,
			expectedBody: "project missing-id: not found",
		},
		{
			name:         "conflict",
			err:          fmt.Errorf("task already claimed: %w", board.ErrConflict),
			expectedCode: http.StatusConflict,
			expectedBody: "task already claimed: conflict",
		},
		{
			name:         "internal causes are hidden",
			err:          errors.New("dial tcp: connection refused"),
			expectedCode: http.StatusInternalServerError,
			expectedBody: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest("GET", "/", nil)
			require.NoError(t, err)

			rr := httptest.NewRecorder()
			writeError(rr, req, tt.err)

			assert.Equal(t, tt.expectedCode, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
		})
	}
}

func multipartUpload(t *testing.T, contentType string) *http.Request {
	t.Helper()

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="cover.bin"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("file content"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest("POST", "/", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestParseUpload(t *testing.T) {
	t.Run("allowed type", func(t *testing.T) {
		upload, err := parseUpload(multipartUpload(t, "image/png"))
		require.NoError(t, err)
		require.NotNil(t, upload)
		assert.Equal(t, "cover.bin", upload.Name)
		assert.Equal(t, "image/png", upload.ContentType)
		assert.Equal(t, []byte("file content"), upload.Data)
	})

	t.Run("disallowed type", func(t *testing.T) {
		_, err := parseUpload(multipartUpload(t, "application/pdf"))
		assert.ErrorIs(t, err, board.ErrConflict)
	})

	t.Run("no file part", func(t *testing.T) {
		body := new(bytes.Buffer)
		writer := multipart.NewWriter(body)
		require.NoError(t, writer.WriteField("title", "eDocument"))
		require.NoError(t, writer.Close())

		req, err := http.NewRequest("POST", "/", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		upload, err := parseUpload(req)
		require.NoError(t, err)
		assert.Nil(t, upload)
	})
}
