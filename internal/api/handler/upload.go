package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/service"
)

// maxUploadSize 单个媒体文件上限
const maxUploadSize = 32 << 20

// readUpload 从 multipart 表单读取媒体，调用方负责执行返回的关闭函数
func readUpload(c *gin.Context) (service.MediaUpload, func(), error) {
	header, err := c.FormFile("file")
	if err != nil {
		return service.MediaUpload{}, nil, errors.New("缺少文件")
	}
	if header.Size > maxUploadSize {
		return service.MediaUpload{}, nil, errors.New("文件过大")
	}

	kind := model.MessageKind(c.PostForm("kind"))
	switch kind {
	case model.KindImage, model.KindAudio, model.KindDocument:
	default:
		return service.MediaUpload{}, nil, errors.New("kind 必须是 image、audio 或 document")
	}

	var duration time.Duration
	if raw := c.PostForm("duration"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			return service.MediaUpload{}, nil, errors.New("duration 必须是非负秒数")
		}
		duration = time.Duration(secs * float64(time.Second))
	}

	file, err := header.Open()
	if err != nil {
		return service.MediaUpload{}, nil, err
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return service.MediaUpload{
		Kind:        kind,
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Duration:    duration,
		Caption:     c.PostForm("caption"),
		Reader:      file,
	}, func() { _ = file.Close() }, nil
}
