package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/cloudinary"
)

type dataURLRequest struct {
	Data string `json:"data" binding:"required"`
}

// upload stores a proof image, sent either as a multipart "file" field or as
// a JSON data URL, and returns its public URL.
func (h *handler) upload(c *gin.Context) {
	if h.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	ctx := c.Request.Context()
	uid := claimsOf(c).Subject

	var (
		res cloudinary.UploadResult
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			badRequest(c, ferr)
			return
		}
		if fh.Size > cloudinary.MaxProofBytes {
			h.fail(c, apperr.Validation("image must be at most %d MB", cloudinary.MaxProofBytes>>20))
			return
		}
		f, ferr := fh.Open()
		if ferr != nil {
			badRequest(c, ferr)
			return
		}
		defer f.Close()
		res, err = h.Uploader.UploadFile(ctx, uid, fh.Filename, f)
	} else {
		var req dataURLRequest
		if berr := c.ShouldBindJSON(&req); berr != nil {
			badRequest(c, berr)
			return
		}
		res, err = h.Uploader.UploadDataURL(ctx, uid, req.Data)
	}

	if err != nil {
		if errors.Is(err, cloudinary.ErrTooLarge) {
			h.fail(c, apperr.Validation("image must be at most %d MB", cloudinary.MaxProofBytes>>20))
			return
		}
		h.logger.Warn("proof upload failed", zap.String("uid", uid), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": res.SecureURL, "public_id": res.PublicID})
}
