package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
	"github.com/boostcampwm-2022/web24-Asniti/internal/repository"
)

var (
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadNotImage indicates the sniffed MIME type is not an image.
	ErrUploadNotImage = errors.New("only image uploads are accepted")
)

// FileStorage abstracts the asset store behind image uploads.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// UploadService validates and stores image attachments. The returned URL is
// what clients send as the content of an image chat message.
type UploadService interface {
	Upload(ctx context.Context, file *multipart.FileHeader, userID, channelID string) (dto.AttachmentResponse, error)
	List(ctx context.Context, channelID string, limit int) ([]dto.AttachmentResponse, error)
}

type uploadService struct {
	storage FileStorage
	repo    repository.AttachmentRepository
	logger  zerolog.Logger
	maxSize int64
}

// NewUploadService constructs an upload service.
func NewUploadService(storage FileStorage, repo repository.AttachmentRepository, maxSizeMB int, logger zerolog.Logger) UploadService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &uploadService{
		storage: storage,
		repo:    repo,
		logger:  logger.With().Str("component", "upload_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
	}
}

func (s *uploadService) Upload(ctx context.Context, file *multipart.FileHeader, userID, channelID string) (dto.AttachmentResponse, error) {
	if file == nil {
		return dto.AttachmentResponse{}, errors.New("file is required")
	}
	if file.Size > s.maxSize {
		return dto.AttachmentResponse{}, ErrUploadTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		return dto.AttachmentResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		return dto.AttachmentResponse{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		return dto.AttachmentResponse{}, ErrUploadTooLarge
	}

	mime := mimetype.Detect(buf.Bytes())
	if !strings.HasPrefix(mime.String(), "image/") {
		return dto.AttachmentResponse{}, ErrUploadNotImage
	}

	checksum := sha256.Sum256(buf.Bytes())
	sanitizedName := sanitizeFileName(file.Filename)

	url, err := s.storage.Upload(ctx, sanitizedName, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return dto.AttachmentResponse{}, err
	}

	record := models.Attachment{
		UserID:    userID,
		ChannelID: channelID,
		FileName:  sanitizedName,
		URL:       url,
		MimeType:  mime.String(),
		SizeBytes: int64(buf.Len()),
		Checksum:  hex.EncodeToString(checksum[:]),
	}
	if err := s.repo.Create(ctx, &record); err != nil {
		return dto.AttachmentResponse{}, err
	}

	s.logger.Info().
		Str("channel_id", channelID).
		Str("user_id", userID).
		Str("mime", record.MimeType).
		Msg("image attachment stored")

	return dto.NewAttachmentResponse(record), nil
}

// List returns the most recent attachments stored for a channel.
func (s *uploadService) List(ctx context.Context, channelID string, limit int) ([]dto.AttachmentResponse, error) {
	records, err := s.repo.ListByChannel(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.AttachmentResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, dto.NewAttachmentResponse(record))
	}
	return responses, nil
}

func sanitizeFileName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("upload-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}
