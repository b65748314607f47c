package gcs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const storageHost = "storage.googleapis.com"

// ErrObjectNotFound is returned when the requested object is missing.
var ErrObjectNotFound = errors.New("gcs object not found")

// Object is a downloaded object's content stream plus metadata.
type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Upload writes the payload as a media upload under the given object name.
func (c *Client) Upload(ctx context.Context, object string, contentType string, payload io.Reader) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("gcs client not initialized")
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"https://%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		storageHost,
		url.PathEscape(c.defaultBucket),
		url.QueryEscape(object),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gcs upload failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}

// Download streams the object content. The caller owns closing the body.
func (c *Client) Download(ctx context.Context, object string) (*Object, error) {
	if c == nil || c.tokenSource == nil {
		return nil, errors.New("gcs client not initialized")
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"https://%s/storage/v1/b/%s/o/%s?alt=media",
		storageHost,
		url.PathEscape(c.defaultBucket),
		url.PathEscape(object),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Object{
			Body:          resp.Body,
			ContentType:   resp.Header.Get("Content-Type"),
			ContentLength: resp.ContentLength,
		}, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrObjectNotFound
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("gcs download failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
}

// Delete removes the object. Missing objects are not an error.
func (c *Client) Delete(ctx context.Context, object string) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("gcs client not initialized")
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"https://%s/storage/v1/b/%s/o/%s",
		storageHost,
		url.PathEscape(c.defaultBucket),
		url.PathEscape(object),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gcs delete failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}

// SignedURL mints a V4 signed URL for the given HTTP method and object,
// valid for expiry. Requires service-account credentials; the metadata
// token source cannot sign.
func (c *Client) SignedURL(method, object string, expiry time.Duration, contentType string) (string, error) {
	if c == nil {
		return "", errors.New("gcs client not initialized")
	}
	if c.signerKey == nil || c.signerEmail == "" {
		return "", errors.New("signed urls require service account credentials")
	}
	if expiry <= 0 || expiry > 7*24*time.Hour {
		return "", fmt.Errorf("invalid signed url expiry %v", expiry)
	}

	now := time.Now().UTC()
	timestamp := now.Format("20060102T150405Z")
	datestamp := now.Format("20060102")
	credentialScope := fmt.Sprintf("%s/auto/storage/goog4_request", datestamp)
	credential := fmt.Sprintf("%s/%s", c.signerEmail, credentialScope)

	canonicalURI := fmt.Sprintf("/%s/%s", c.defaultBucket, escapeObjectPath(object))

	headers := map[string]string{"host": storageHost}
	if contentType != "" {
		headers["content-type"] = contentType
	}
	headerNames := make([]string, 0, len(headers))
	for name := range headers {
		headerNames = append(headerNames, name)
	}
	sort.Strings(headerNames)
	signedHeaders := strings.Join(headerNames, ";")

	var canonicalHeaders strings.Builder
	for _, name := range headerNames {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteString(":")
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteString("\n")
	}

	query := url.Values{}
	query.Set("X-Goog-Algorithm", "GOOG4-RSA-SHA256")
	query.Set("X-Goog-Credential", credential)
	query.Set("X-Goog-Date", timestamp)
	query.Set("X-Goog-Expires", fmt.Sprintf("%d", int64(expiry.Seconds())))
	query.Set("X-Goog-SignedHeaders", signedHeaders)
	canonicalQuery := query.Encode()

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders.String(),
		signedHeaders,
		"UNSIGNED-PAYLOAD",
	}, "\n")

	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"GOOG4-RSA-SHA256",
		timestamp,
		credentialScope,
		hex.EncodeToString(requestHash[:]),
	}, "\n")

	signHash := sha256.Sum256([]byte(stringToSign))
	signature, err := rsa.SignPKCS1v15(rand.Reader, c.signerKey, crypto.SHA256, signHash[:])
	if err != nil {
		return "", fmt.Errorf("signing url: %w", err)
	}

	return fmt.Sprintf(
		"https://%s%s?%s&X-Goog-Signature=%s",
		storageHost,
		canonicalURI,
		canonicalQuery,
		hex.EncodeToString(signature),
	), nil
}

// escapeObjectPath escapes each path segment while keeping separators.
func escapeObjectPath(object string) string {
	segments := strings.Split(object, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
