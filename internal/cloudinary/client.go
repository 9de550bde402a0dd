package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"servicehours/internal/config"
)

// MaxProofBytes bounds one proof image.
const MaxProofBytes = 5 << 20

var ErrTooLarge = errors.New("cloudinary: file exceeds the size limit")

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// Client uploads proof images with Cloudinary's signed REST upload API.
type Client struct {
	cloudName string
	apiKey    string
	apiSecret string
	folder    string
	baseURL   string
	http      *http.Client
	now       func() time.Time
}

// New returns nil when the credentials are incomplete.
func New(cfg config.CloudinaryConfig) *Client {
	if !cfg.Enabled() {
		return nil
	}
	return &Client{
		cloudName: cfg.CloudName,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		folder:    cfg.Folder,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// UploadResult is the part of Cloudinary's response the API returns.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// UploadDataURL uploads a "data:image/...;base64," URL. The student id is
// stored as a tag so proofs can be traced to their owner.
func (c *Client) UploadDataURL(ctx context.Context, studentID, dataURL string) (UploadResult, error) {
	if !strings.HasPrefix(dataURL, "data:image/") {
		return UploadResult{}, errors.New("cloudinary: expected an image data URL")
	}
	if len(dataURL) > MaxProofBytes*4/3+64 {
		return UploadResult{}, ErrTooLarge
	}
	return c.upload(ctx, studentID, func(w *multipart.Writer) error {
		return w.WriteField("file", dataURL)
	})
}

// UploadFile uploads raw image bytes read from r.
func (c *Client) UploadFile(ctx context.Context, studentID, filename string, r io.Reader) (UploadResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxProofBytes+1))
	if err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: read file: %w", err)
	}
	if len(data) > MaxProofBytes {
		return UploadResult{}, ErrTooLarge
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return UploadResult{}, fmt.Errorf("cloudinary: %s is not an image", ct)
	}
	return c.upload(ctx, studentID, func(w *multipart.Writer) error {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return err
		}
		_, err = part.Write(data)
		return err
	})
}

func (c *Client) upload(ctx context.Context, studentID string, writeFile func(*multipart.Writer) error) (UploadResult, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"tags":      "proof,student_" + studentID,
	}
	if c.folder != "" {
		params["folder"] = c.folder
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.apiKey

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return UploadResult{}, fmt.Errorf("cloudinary: write field: %w", err)
		}
	}
	if err := writeFile(w); err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: write file: %w", err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, err
	}

	url := fmt.Sprintf("%s/%s/image/upload", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return UploadResult{}, fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}
	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: decode response: %w", err)
	}
	return result, nil
}

// sign computes the API signature. api_key, file and resource_type are not
// signed.
func (c *Client) sign(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		switch k {
		case "api_key", "file", "resource_type":
			continue
		}
		if v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}
