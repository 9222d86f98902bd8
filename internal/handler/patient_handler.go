package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"medichat-go/internal/service"
	"medichat-go/internal/session"
	"medichat-go/pkg/log"
)

// PatientHandler 负责处理病人档案相关的 API 请求。
type PatientHandler struct {
	sessions    *session.Manager
	attachments service.AttachmentService
}

// NewPatientHandler 创建一个新的 PatientHandler 实例。
func NewPatientHandler(sessions *session.Manager, attachments service.AttachmentService) *PatientHandler {
	return &PatientHandler{sessions: sessions, attachments: attachments}
}

// List 返回当前用户的全部病人档案。
// 每次都先从存储刷新，保证多端修改后的目录一致。
func (h *PatientHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	sess.Patients.Refresh()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": sess.Patients.Catalogue(), "message": "success"})
}

// CreatePatientRequest 定义了创建病人档案 API 的请求体结构。
type CreatePatientRequest struct {
	FullName string `json:"fullName"`
	Age      *int   `json:"age"`
	Sex      string `json:"sex"`
	Note     string `json:"note"`
}

// Create 创建一个新的病人档案。校验失败时返回逐字段错误。
func (h *PatientHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreatePatient: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	sess := h.sessions.Get(user.ID)
	record, validationErrs := sess.Patients.Create(session.CreatePatientInput{
		FullName: req.FullName,
		Age:      req.Age,
		Sex:      req.Sex,
		Note:     req.Note,
	})
	if validationErrs != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    http.StatusUnprocessableEntity,
			"message": "档案校验未通过",
			"data":    gin.H{"errors": validationErrs},
		})
		return
	}

	log.Infof("用户 %d 创建了病人档案 %s", user.ID, record.ID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": record, "message": "档案创建成功"})
}

// Select 将指定病人设为当前查看对象（不影响问答上下文）。
func (h *PatientHandler) Select(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	sess.Patients.Select(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": sess.Patients.Selected(), "message": "success"})
}

// Context 返回当前问答上下文状态：激活病人与待确认的切换。
func (h *PatientHandler) Context(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"active":          sess.Patients.ActivePatient(),
			"contextActive":   sess.Patients.IsContextActive(),
			"pendingSwitch":   sess.Patients.PendingConfirmation(),
			"selectedPatient": sess.Patients.Selected(),
		},
	})
}

// SwitchRequest 定义了请求切换激活病人 API 的请求体结构。
type SwitchRequest struct {
	PatientID    string `json:"patientId" binding:"required"`
	NewlyCreated bool   `json:"newlyCreated"`
}

// RequestSwitch 发起一次激活病人切换，进入待确认状态。
func (h *PatientHandler) RequestSwitch(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：patientId 不能为空",
		})
		return
	}

	sess := h.sessions.Get(user.ID)
	if err := sess.Patients.RequestSwitch(req.PatientID, req.NewlyCreated); err != nil {
		if errors.Is(err, session.ErrPatientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "病人档案不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": sess.Patients.PendingConfirmation(), "message": "等待确认切换"})
}

// ConfirmSwitch 确认切换：激活新病人并开启全新对话。
func (h *PatientHandler) ConfirmSwitch(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	if err := sess.Patients.ConfirmSwitch(); err != nil {
		if errors.Is(err, session.ErrNoPendingSwitch) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "没有待确认的切换"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	log.Infof("用户 %d 确认切换激活病人为 %s", user.ID, sess.Patients.ActivePatientID())
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": sess.Patients.ActivePatient(), "message": "切换成功"})
}

// CancelSwitch 取消待确认的切换，保持原有上下文不变。
func (h *PatientHandler) CancelSwitch(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	sess.Patients.CancelSwitch()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "已取消切换"})
}

// Deactivate 将问答上下文恢复为无病人状态。
func (h *PatientHandler) Deactivate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	sess.Patients.Deactivate()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "已脱离病人上下文"})
}

// AppendNoteRequest 定义了追加备注 API 的请求体结构。
type AppendNoteRequest struct {
	Text string `json:"text" binding:"required"`
}

// AppendNote 为指定病人档案追加一条备注。
func (h *PatientHandler) AppendNote(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req AppendNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：text 不能为空",
		})
		return
	}

	sess := h.sessions.Get(user.ID)
	if err := sess.Patients.AppendNote(c.Param("id"), req.Text); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "病人档案不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "备注已追加"})
}

// Delete 删除一个病人档案。
// 删除的是当前激活病人时，上下文同时被清空。
func (h *PatientHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	if err := sess.Patients.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "病人档案不存在"})
		return
	}
	log.Infof("用户 %d 删除了病人档案 %s", user.ID, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "档案已删除"})
}

// UploadAttachment 上传病历附件，提取正文后挂载到病人档案。
func (h *PatientHandler) UploadAttachment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未找到上传文件"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("打开上传文件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败"})
		return
	}
	defer file.Close()

	sess := h.sessions.Get(user.ID)
	desc, err := h.attachments.Upload(c.Request.Context(), sess.Patients, c.Param("id"),
		fileHeader.Filename, file, fileHeader.Size, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, session.ErrPatientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "病人档案不存在"})
			return
		}
		log.Errorf("上传附件失败: patient=%s, error: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "附件上传失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": desc, "message": "附件上传成功"})
}

// AttachmentURL 为指定附件生成限时下载地址。
func (h *PatientHandler) AttachmentURL(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	sess := h.sessions.Get(user.ID)
	patientID := c.Param("id")
	fileID := c.Param("fileId")

	// 在该用户自己的档案里定位附件，避免越权访问对象存储
	var objectKey string
	for _, record := range sess.Patients.Catalogue() {
		if record.ID != patientID {
			continue
		}
		for _, f := range record.Attachments {
			if f.ID == fileID {
				objectKey = f.ObjectKey
			}
		}
	}
	if objectKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "附件不存在"})
		return
	}

	url, err := h.attachments.DownloadURL(objectKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成下载地址失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": gin.H{"url": url}, "message": "success"})
}
