package web

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/workflow"
)

// uploadGuidanceBytes is the size the page suggests; the server accepts up to MaxUploadBytes.
const uploadGuidanceBytes = 5 << 20

var templateFuncs = template.FuncMap{
	"humanBytes": humanBytes,
	"lower":      strings.ToLower,
}

type pageData struct {
	Status       workflow.Status
	FileName     string
	FileSize     int
	PreviewURL   string
	Result       *llm.StockMetadata
	AllKeywords  string
	ErrorMessage string
	Notice       string
	Analyzing    bool
	HasFile      bool
	HasResult    bool
	CanGenerate  bool
	GuidanceSize int
	MaxSize      int64
}

func newPageData(state workflow.State, maxUpload int64) pageData {
	data := pageData{
		Status:       state.Status,
		PreviewURL:   state.Preview.URL,
		ErrorMessage: state.ErrorMessage,
		Analyzing:    state.Status == workflow.StatusAnalyzing,
		HasFile:      state.HasFile(),
		CanGenerate:  state.CanGenerate(),
		GuidanceSize: uploadGuidanceBytes,
		MaxSize:      maxUpload,
	}
	if state.File != nil {
		data.FileName = state.File.Name
		data.FileSize = state.File.Size()
	}
	if state.Status == workflow.StatusSuccess && state.Result != nil {
		data.Result = state.Result
		data.HasResult = true
		data.AllKeywords = state.Result.JoinedKeywords()
	}
	return data
}

func humanBytes(n any) string {
	var v float64
	switch x := n.(type) {
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	default:
		return fmt.Sprint(n)
	}
	switch {
	case v >= 1<<20:
		return fmt.Sprintf("%.1f MB", v/(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.0f KB", v/(1<<10))
	default:
		return fmt.Sprintf("%.0f B", v)
	}
}

// stateResponse is the JSON form of a workflow state.
type stateResponse struct {
	Status      workflow.Status    `json:"status"`
	File        *fileResponse      `json:"file"`
	PreviewURL  string             `json:"previewUrl,omitempty"`
	Result      *llm.StockMetadata `json:"result"`
	AllKeywords string             `json:"allKeywords,omitempty"`
	Error       string             `json:"error,omitempty"`
	Attempt     uint64             `json:"attempt"`
	CanGenerate bool               `json:"canGenerate"`
}

type fileResponse struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int    `json:"size"`
}

func newStateResponse(state workflow.State) stateResponse {
	resp := stateResponse{
		Status:      state.Status,
		PreviewURL:  state.Preview.URL,
		Error:       state.ErrorMessage,
		Attempt:     state.Attempt,
		CanGenerate: state.CanGenerate(),
	}
	if state.File != nil {
		resp.File = &fileResponse{Name: state.File.Name, MIMEType: state.File.MIMEType, Size: state.File.Size()}
	}
	if state.Status == workflow.StatusSuccess && state.Result != nil {
		resp.Result = state.Result
		resp.AllKeywords = state.Result.JoinedKeywords()
	}
	return resp
}
