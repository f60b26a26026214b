package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piaoju/internal/batch"
	"piaoju/internal/service"
	"piaoju/internal/template"
)

type staticSource map[string]json.RawMessage

func (s staticSource) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	return s, nil
}

func testOrchestrator(t *testing.T) *service.Orchestrator {
	t.Helper()
	repo, err := template.Load(context.Background(), staticSource{
		"cn_vat_special_electronic": json.RawMessage(`{
			"issuer": "增值税电子专用发票", "priority": 185,
			"keywords": ["电子专用发票"],
			"options": {"remove_whitespace": true},
			"fields": {
				"invoice_number": {"parser": "regex", "regex": "发票号码[：:]*(\\d{8,20})", "type": "string"}
			}
		}`),
	})
	require.NoError(t, err)
	return service.NewOrchestrator(repo, nil, batch.DefaultPollConfig(), 1, 1)
}

func multipartBody(t *testing.T, field, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func extractRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewExtractHandler(testOrchestrator(t), 1<<20)
	r.POST("/api/v1/extract", h.Extract)
	return r
}

func TestExtract_Success(t *testing.T) {
	body, contentType := multipartBody(t, "file", "invoice.txt", "text/plain",
		[]byte("增值税电子专用发票 发票号码：25339087"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	extractRouter(t).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result struct {
		TemplateID string         `json:"template_id"`
		Status     string         `json:"status"`
		Fields     map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "cn_vat_special_electronic", result.TemplateID)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "25339087", result.Fields["invoice_number"])
}

func TestExtract_MissingFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", nil)
	w := httptest.NewRecorder()
	extractRouter(t).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtract_UnsupportedType(t *testing.T) {
	body, contentType := multipartBody(t, "file", "malware.exe", "application/octet-stream", []byte("MZ"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	extractRouter(t).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNSUPPORTED_FILE_TYPE", resp.Error.Code)
}
