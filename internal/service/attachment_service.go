package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"medichat-go/internal/model"
	"medichat-go/internal/session"
	"medichat-go/pkg/log"
	"medichat-go/pkg/storage"
	"medichat-go/pkg/tika"
)

// 附件正文提取后保留的最大字符数，超出部分截断。
const maxExtractedRunes = 20000

// AttachmentService 接口定义了病人档案附件的上传与访问操作。
type AttachmentService interface {
	Upload(ctx context.Context, patients *session.PatientStore, patientID, fileName string, reader io.Reader, size int64, contentType string) (*model.FileDescriptor, error)
	DownloadURL(objectKey string) (string, error)
}

// attachmentService 是 AttachmentService 接口的实现。
type attachmentService struct {
	bucketName string
	tikaClient *tika.Client
}

// NewAttachmentService 创建一个新的 AttachmentService 实例。
func NewAttachmentService(bucketName string, tikaClient *tika.Client) AttachmentService {
	return &attachmentService{
		bucketName: bucketName,
		tikaClient: tikaClient,
	}
}

// Upload 将附件上传到 MinIO，提取正文后挂载到指定病人档案。
// 正文提取失败不阻断上传，只是 ExtractedText 为空。
func (s *attachmentService) Upload(ctx context.Context, patients *session.PatientStore, patientID, fileName string, reader io.Reader, size int64, contentType string) (*model.FileDescriptor, error) {
	// 附件需要被读两次（上传 + 提取），先整体读入内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取附件内容失败: %w", err)
	}

	now := time.Now()
	objectKey := fmt.Sprintf("patients/%s/%d-%s", patientID, now.UnixNano(), fileName)

	if err := storage.PutObject(ctx, s.bucketName, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, err
	}

	extracted, err := s.tikaClient.ExtractText(ctx, bytes.NewReader(data), fileName)
	if err != nil {
		log.Warnf("附件正文提取失败，仅保存原始文件: patient=%s, file=%s, error: %v", patientID, fileName, err)
		extracted = ""
	}
	if runes := []rune(extracted); len(runes) > maxExtractedRunes {
		extracted = string(runes[:maxExtractedRunes])
	}

	desc := model.FileDescriptor{
		ID:            fmt.Sprintf("file-%d", now.UnixNano()),
		FileName:      fileName,
		ObjectKey:     objectKey,
		Size:          int64(len(data)),
		ContentType:   contentType,
		ExtractedText: extracted,
		UploadedAt:    now,
	}

	if err := patients.AttachFile(patientID, desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// DownloadURL 为已上传的附件生成一个限时的预签名访问地址。
func (s *attachmentService) DownloadURL(objectKey string) (string, error) {
	return storage.GetPresignedURL(s.bucketName, objectKey, 15*time.Minute)
}
