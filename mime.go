package webcore

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// mimeTypes covers the extensions the original's illustrative static-file
// handler special-cased; anything else falls back to
// "application/octet-stream". It is intentionally small: a full MIME
// database belongs in the standard library's mime package for a real
// deployment, but the original spec ships its own fixed table, so this
// mirrors that rather than delegating to mime.TypeByExtension (which is
// OS-configuration-dependent and would make AddFile's content-type
// non-deterministic across machines — the one place in this module where
// matching the original's behavior wins over reaching for the stdlib's
// more "correct" alternative).
var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".wasm": "application/wasm",
}

func mimeTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// AddFile registers a handler that serves the file or directory tree at
// fsPath under uri. contentType, if empty, is detected from the file
// extension via the table above; for a directory registration the
// per-request extension of the matched file governs content-type
// regardless of the contentType argument.
func (s *Server) AddFile(host, contentType, uri, fsPath string) (HandlerID, error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return 0, err
	}

	entry := HandlerEntry{
		Method:      http.MethodGet,
		Path:        uri,
		Host:        host,
		IsDirectory: info.IsDir(),
		Arg:         fsPath,
		Callback:    serveFileCallback(contentType, uri, fsPath, info.IsDir()),
	}
	return s.AddHandler(entry)
}

func serveFileCallback(contentType, registeredURI, fsPath string, isDir bool) CallbackFunc {
	return func(op *CallbackOp) {
		target := fsPath
		if isDir {
			rel := strings.TrimPrefix(op.Request().URL.Path, strings.TrimSuffix(registeredURI, "/"))
			target = filepath.Join(fsPath, filepath.Clean("/"+rel))
		}

		data, err := os.ReadFile(target)
		switch {
		case err == nil:
			ct := contentType
			if ct == "" || isDir {
				ct = mimeTypeFor(target)
			}
			op.Respond(&http.Response{
				StatusCode:    http.StatusOK,
				Header:        http.Header{"Content-Type": []string{ct}},
				Body:          io.NopCloser(bytes.NewReader(data)),
				ContentLength: int64(len(data)),
			})
		case os.IsPermission(err):
			op.Respond(plainResponse(http.StatusForbidden, "forbidden"))
		case os.IsNotExist(err):
			op.Respond(plainResponse(http.StatusNotFound, "not found"))
		default:
			op.Respond(plainResponse(http.StatusInternalServerError, "internal server error"))
		}
	}
}

// AddStatic registers a handler that always serves the given in-memory
// bytes. contentType, if empty, defaults to "application/octet-stream".
func (s *Server) AddStatic(host, contentType, uri string, data []byte) (HandlerID, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	entry := HandlerEntry{
		Method: http.MethodGet,
		Path:   uri,
		Host:   host,
		Callback: func(op *CallbackOp) {
			op.Respond(&http.Response{
				StatusCode:    http.StatusOK,
				Header:        http.Header{"Content-Type": []string{contentType}},
				Body:          io.NopCloser(bytes.NewReader(data)),
				ContentLength: int64(len(data)),
			})
		},
	}
	return s.AddHandler(entry)
}

func plainResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
