package controllers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	apperrors "github.com/aihub/multimodal-rag/internal/errors"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/aihub/multimodal-rag/internal/services"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var requestValidator = validator.New()

// QueryRequest 问答/检索请求，支持JSON和表单
type QueryRequest struct {
	Query    string `json:"q" form:"q" validate:"required,max=4000"`
	AllDocs  bool   `json:"all_docs" form:"all_docs"`
	NoAnswer bool   `json:"no_answer" form:"no_answer"`
}

// KnowledgeController 上传、问答、重置与图片访问。
// beego每个请求都会复制一份控制器，只有导出字段会被带过去
type KnowledgeController struct {
	BaseController
	Service *services.KnowledgeService
}

// NewKnowledgeController 创建知识库控制器
func NewKnowledgeController(svc *services.KnowledgeService) *KnowledgeController {
	return &KnowledgeController{Service: svc}
}

// Home GET / 回到首页时清除"已就绪"标记
func (c *KnowledgeController) Home() {
	if err := c.Service.ClearStatus(); err != nil {
		logger.Warn("清除状态标记失败", zap.Error(err))
	}
	c.JSONSuccess(map[string]interface{}{
		"service":   "multimodal-rag",
		"has_index": c.Service.HasIndex(),
	})
}

// Upload POST /api/upload，表单字段 file
func (c *KnowledgeController) Upload() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONAppError(apperrors.NewBusinessError(apperrors.ErrCodeMissingRequired, "No file part in the request."))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSONAppError(apperrors.NewBusinessError(apperrors.ErrCodeBadRequest, "Failed to read uploaded file.").WithCause(err))
		return
	}

	result, err := c.Service.Upload(c.Ctx.Request.Context(), header.Filename, data)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	logger.Info("文件上传完成",
		zap.String("filename", result.Filename),
		zap.String("document_id", result.DocumentID),
		zap.String("ip", c.getClientIP()))
	c.JSONSuccess(result)
}

// Query POST /api/query 检索并生成回答
func (c *KnowledgeController) Query() {
	req, ok := c.parseQueryRequest()
	if !ok {
		return
	}

	var (
		result *services.AskResult
		err    error
	)
	if req.NoAnswer {
		result, err = c.Service.Search(c.Ctx.Request.Context(), req.Query, req.AllDocs)
	} else {
		result, err = c.Service.Ask(c.Ctx.Request.Context(), req.Query, req.AllDocs)
	}
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(result)
}

// Search GET|POST /api/search 只检索
func (c *KnowledgeController) Search() {
	req, ok := c.parseQueryRequest()
	if !ok {
		return
	}

	result, err := c.Service.Search(c.Ctx.Request.Context(), req.Query, req.AllDocs)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(result)
}

// Reset POST /api/reset
func (c *KnowledgeController) Reset() {
	if err := c.Service.Reset(c.Ctx.Request.Context()); err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]string{"message": "Index reset."})
}

// Status GET /api/status
func (c *KnowledgeController) Status() {
	status, err := c.Service.Status(c.Ctx.Request.Context())
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(status)
}

// Image GET /images/:name
func (c *KnowledgeController) Image() {
	name := c.Ctx.Input.Param(":name")
	rc, err := c.Service.OpenImage(c.Ctx.Request.Context(), name)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Ctx.Output.Header("Content-Type", contentType)
	c.Ctx.Output.Header("Cache-Control", "no-cache")
	c.Ctx.ResponseWriter.WriteHeader(http.StatusOK)
	if _, err := io.Copy(c.Ctx.ResponseWriter, rc); err != nil {
		logger.Warn("图片输出中断", zap.String("name", name), zap.Error(err))
	}
}

func (c *KnowledgeController) parseQueryRequest() (*QueryRequest, bool) {
	var req QueryRequest
	if strings.Contains(c.Ctx.Input.Header("Content-Type"), "application/json") {
		if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
			c.JSONAppError(apperrors.NewValidationError("Invalid JSON body."))
			return nil, false
		}
	} else {
		req.Query = c.GetString("q")
		req.AllDocs, _ = c.GetBool("all_docs", false)
		req.NoAnswer, _ = c.GetBool("no_answer", false)
	}
	req.Query = strings.TrimSpace(req.Query)

	if err := requestValidator.Struct(&req); err != nil {
		c.JSONAppError(apperrors.NewErrorTranslator().Translate(err))
		return nil, false
	}
	return &req, true
}
