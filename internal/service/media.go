package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"
	"chapterhub/internal/storage"

	_ "golang.org/x/image/webp" // Register WebP decoder
	"gorm.io/gorm"
)

const (
	mediaStaleClaim   = 15 * time.Minute
	mediaIdleSleep    = 750 * time.Millisecond
	mediaMaxAttempts  = 3
	mediaSniffLen     = 512
	mediaRequeueEvery = time.Minute
	mediaErrorBackoff = time.Second
)

// errMediaRejected marks a verification failure that is final for the body.
type errMediaRejected struct{ reason string }

func (e *errMediaRejected) Error() string { return e.reason }

func rejectMedia(format string, args ...any) error {
	return &errMediaRejected{reason: fmt.Sprintf(format, args...)}
}

// MediaVerifier checks that stored upload bodies exist and match their
// declared media kind. Bad bodies move the upload to failed.
type MediaVerifier struct {
	db         *gorm.DB
	blobs      storage.BlobStore
	audit      *AuditService
	outbox     *OutboxService
	workerOnce sync.Once
}

// NewMediaVerifier returns a verifier over db and blobs.
func NewMediaVerifier(db *gorm.DB, blobs storage.BlobStore, audit *AuditService, outbox *OutboxService) *MediaVerifier {
	return &MediaVerifier{db: db, blobs: blobs, audit: audit, outbox: outbox}
}

// StartBackgroundWorker runs the verification loop until ctx is cancelled.
func (v *MediaVerifier) StartBackgroundWorker(ctx context.Context) {
	v.workerOnce.Do(func() {
		go v.workerLoop(ctx)
	})
}

func (v *MediaVerifier) workerLoop(ctx context.Context) {
	repo := repository.NewUploadRepository(v.db)
	_, _ = repo.RequeueStaleProcessing(ctx, mediaStaleClaim)
	lastRequeue := time.Now().UTC()

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(lastRequeue) >= mediaRequeueEvery {
			_, _ = repo.RequeueStaleProcessing(ctx, mediaStaleClaim)
			lastRequeue = time.Now().UTC()
		}

		processed, err := v.ProcessNext(ctx)
		switch {
		case err != nil:
			slog.ErrorContext(ctx, "media verification failed", slog.String("error", err.Error()))
			if !sleepContext(ctx, mediaErrorBackoff) {
				return
			}
		case !processed:
			if !sleepContext(ctx, mediaIdleSleep) {
				return
			}
		}
	}
}

// ProcessNext verifies one claimed upload. It reports false when the queue is empty.
func (v *MediaVerifier) ProcessNext(ctx context.Context) (bool, error) {
	repo := repository.NewUploadRepository(v.db)
	upload, err := repo.ClaimNextUnverified(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	vctx, span := observability.StartOperation(ctx, "media.verify",
		observability.AttrUploadID.Int64(int64(upload.ID)),
		observability.TenantID(upload.TenantID),
	)
	verr := v.verify(vctx, upload)
	observability.EndOperation(span, verr)
	var rejected *errMediaRejected
	switch {
	case verr == nil:
		observability.MediaVerifications.WithLabelValues("verified").Inc()
		return true, repo.MarkVerified(ctx, upload.ID)
	case errors.As(verr, &rejected):
		observability.MediaVerifications.WithLabelValues("rejected").Inc()
		return true, v.fail(ctx, upload, rejected.reason)
	case upload.ProcessingAttempts >= mediaMaxAttempts:
		observability.MediaVerifications.WithLabelValues("exhausted").Inc()
		return true, v.fail(ctx, upload, "verification gave up: "+verr.Error())
	default:
		// Transient; the stale-claim sweep hands it back to the queue.
		observability.MediaVerifications.WithLabelValues("retry").Inc()
		slog.WarnContext(ctx, "media verification deferred",
			slog.Uint64("upload_id", uint64(upload.ID)),
			slog.String("error", verr.Error()),
		)
		return true, nil
	}
}

func (v *MediaVerifier) verify(ctx context.Context, upload *models.Upload) error {
	obj, err := v.blobs.Stat(ctx, upload.BlobHandle)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidHandle) {
			return rejectMedia("blob %q is missing", upload.BlobHandle)
		}
		return err
	}
	if obj.Size != upload.SizeBytes {
		return rejectMedia("stored size %d does not match recorded size %d", obj.Size, upload.SizeBytes)
	}

	rc, err := v.blobs.Open(ctx, upload.BlobHandle)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return rejectMedia("blob %q is missing", upload.BlobHandle)
		}
		return err
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, mediaSniffLen)
	head, err := br.Peek(mediaSniffLen)
	if err != nil && len(head) == 0 {
		return rejectMedia("blob %q is empty", upload.BlobHandle)
	}
	sniffed := normalizeContentType(http.DetectContentType(head))

	switch upload.MediaKind {
	case models.MediaImage:
		if _, format, err := image.DecodeConfig(br); err != nil {
			return rejectMedia("body is not a decodable image (sniffed %s)", sniffed)
		} else if !strings.Contains(upload.MimeType, format) && !(format == "jpeg" && strings.Contains(upload.MimeType, "jpg")) {
			slog.InfoContext(ctx, "image format differs from declared type",
				slog.Uint64("upload_id", uint64(upload.ID)),
				slog.String("declared", upload.MimeType),
				slog.String("decoded", format),
			)
		}
	case models.MediaVideo:
		if !strings.HasPrefix(sniffed, "video/") && sniffed != "application/octet-stream" {
			return rejectMedia("body sniffed as %s, expected video", sniffed)
		}
	}
	return nil
}

func (v *MediaVerifier) fail(ctx context.Context, upload *models.Upload, reason string) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewUploadRepository(tx).MarkFailed(ctx, upload.ID, reason); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				// Reviewed while being verified; the review stands.
				return nil
			}
			return err
		}
		v.audit.LogTx(ctx, tx, AuditRecord{
			Action:     models.AuditContentFailed,
			TargetType: string(models.ContentUpload),
			TargetID:   upload.ID,
			Detail:     reason,
		})
		v.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxUpload,
			EventType: "upload.failed",
			SubjectID: upload.OwnerID,
			Payload: map[string]any{
				"upload_id": upload.ID,
				"reason":    reason,
			},
		})
		return nil
	})
}
